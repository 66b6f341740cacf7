package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/daglabs/ticketwright/internal/models"
)

// ProjectRepo provides database operations for projects.
type ProjectRepo struct {
	db *sql.DB
}

// NewProjectRepo creates a new ProjectRepo.
func NewProjectRepo(db *sql.DB) *ProjectRepo {
	return &ProjectRepo{db: db}
}

// Create creates a new project.
func (r *ProjectRepo) Create(p *models.Project) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid project: %w", err)
	}

	allowedModels, err := p.AllowedModelsJSON()
	if err != nil {
		return err
	}
	if p.BaseBranch == "" {
		p.BaseBranch = "main"
	}
	if p.ValidationLevel == "" {
		p.ValidationLevel = models.ValidationStandard
	}

	query := `
		INSERT INTO projects (key, name, description, repository_url, base_branch,
			allowed_models, claim_ttl_seconds, heartbeat_period_seconds, max_attempts,
			validation_level, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	nowStr := FormatTime(now)
	result, err := r.db.Exec(query, p.Key, p.Name, nullString(p.Description),
		nullString(p.RepositoryURL), p.BaseBranch, nullString(allowedModels),
		p.ClaimTTLSeconds, p.HeartbeatPeriodSeconds, p.MaxAttempts, string(p.ValidationLevel),
		nowStr, nowStr)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get project id: %w", err)
	}

	p.ID = id
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

const projectColumns = `id, key, name, description, repository_url, base_branch,
	allowed_models, claim_ttl_seconds, heartbeat_period_seconds, max_attempts,
	validation_level, created_at, updated_at`

// GetByID retrieves a project by ID.
func (r *ProjectRepo) GetByID(id int64) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = ?`
	return r.scanOne(r.db.QueryRow(query, id))
}

// GetByKey retrieves a project by its key.
func (r *ProjectRepo) GetByKey(key string) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE key = ?`
	return r.scanOne(r.db.QueryRow(query, key))
}

// List retrieves all projects.
func (r *ProjectRepo) List() ([]*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects ORDER BY key`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// Update updates a project's mutable settings.
func (r *ProjectRepo) Update(p *models.Project) error {
	if p.ID <= 0 {
		return fmt.Errorf("project id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("project name cannot be empty")
	}

	allowedModels, err := p.AllowedModelsJSON()
	if err != nil {
		return err
	}

	query := `
		UPDATE projects SET name = ?, description = ?, repository_url = ?, base_branch = ?,
			allowed_models = ?, claim_ttl_seconds = ?, heartbeat_period_seconds = ?,
			max_attempts = ?, validation_level = ?, updated_at = ?
		WHERE id = ?
	`
	now := FormatTime(time.Now())
	result, err := r.db.Exec(query, p.Name, nullString(p.Description), nullString(p.RepositoryURL),
		p.BaseBranch, nullString(allowedModels), p.ClaimTTLSeconds, p.HeartbeatPeriodSeconds,
		p.MaxAttempts, string(p.ValidationLevel), now, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("project not found")
	}

	return nil
}

// Delete deletes a project and everything hanging off its tickets:
// attempt history, activity log entries, claims, dependency edges, and
// the tickets themselves, in one transaction. The schema declares the
// ticket foreign keys without ON DELETE CASCADE, so the cascade is
// explicit here.
func (r *ProjectRepo) Delete(id int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ticketSubquery := `SELECT id FROM tickets WHERE project_id = ?`
	cascades := []string{
		`DELETE FROM attempt_history WHERE ticket_id IN (` + ticketSubquery + `)`,
		`DELETE FROM activity_log WHERE ticket_id IN (` + ticketSubquery + `)`,
		`DELETE FROM claims WHERE ticket_id IN (` + ticketSubquery + `)`,
		`DELETE FROM ticket_dependencies WHERE ticket_id IN (` + ticketSubquery + `) OR depends_on_id IN (` + ticketSubquery + `)`,
	}
	for _, query := range cascades {
		args := []interface{}{id}
		if strings.Count(query, "?") == 2 {
			args = append(args, id)
		}
		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("failed to delete project data: %w", err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM tickets WHERE project_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete project tickets: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("project not found")
	}

	return tx.Commit()
}

// GetStats retrieves ticket-status statistics for a project.
func (r *ProjectRepo) GetStats(projectID int64) (*models.ProjectStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			SUM(CASE WHEN status = 'draft' THEN 1 ELSE 0 END) AS draft,
			SUM(CASE WHEN status = 'ready' THEN 1 ELSE 0 END) AS ready,
			SUM(CASE WHEN status = 'in_progress' THEN 1 ELSE 0 END) AS in_progress,
			SUM(CASE WHEN status = 'verifying' THEN 1 ELSE 0 END) AS verifying,
			SUM(CASE WHEN status = 'in_review' THEN 1 ELSE 0 END) AS in_review,
			SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END) AS done,
			SUM(CASE WHEN status = 'needs_review' THEN 1 ELSE 0 END) AS needs_review,
			SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END) AS cancelled,
			SUM(CASE WHEN status = 'quarantined' THEN 1 ELSE 0 END) AS quarantined
		FROM tickets
		WHERE project_id = ?
	`
	var stats models.ProjectStats
	err := r.db.QueryRow(query, projectID).Scan(
		&stats.TotalTickets,
		&stats.DraftCount,
		&stats.ReadyCount,
		&stats.InProgressCount,
		&stats.VerifyingCount,
		&stats.InReviewCount,
		&stats.DoneCount,
		&stats.NeedsReviewCount,
		&stats.CancelledCount,
		&stats.QuarantinedCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get project stats: %w", err)
	}
	return &stats, nil
}

// Exists checks if a project with the given key exists.
func (r *ProjectRepo) Exists(key string) (bool, error) {
	query := `SELECT 1 FROM projects WHERE key = ? LIMIT 1`
	var exists int
	err := r.db.QueryRow(query, key).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check project existence: %w", err)
	}
	return true, nil
}

func (r *ProjectRepo) scanOne(row *sql.Row) (*models.Project, error) {
	var p models.Project
	var desc, repoURL, allowedModels sql.NullString
	var validationLevel string
	err := row.Scan(&p.ID, &p.Key, &p.Name, &desc, &repoURL, &p.BaseBranch,
		&allowedModels, &p.ClaimTTLSeconds, &p.HeartbeatPeriodSeconds, &p.MaxAttempts,
		&validationLevel, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	p.Description = desc.String
	p.RepositoryURL = repoURL.String
	p.ValidationLevel = models.ValidationLevel(validationLevel)
	if allowedModels.Valid && allowedModels.String != "" {
		if err := json.Unmarshal([]byte(allowedModels.String), &p.AllowedModels); err != nil {
			return nil, fmt.Errorf("failed to parse allowed_models: %w", err)
		}
	}
	return &p, nil
}

func (r *ProjectRepo) scanMany(rows *sql.Rows) ([]*models.Project, error) {
	var projects []*models.Project
	for rows.Next() {
		var p models.Project
		var desc, repoURL, allowedModels sql.NullString
		var validationLevel string
		err := rows.Scan(&p.ID, &p.Key, &p.Name, &desc, &repoURL, &p.BaseBranch,
			&allowedModels, &p.ClaimTTLSeconds, &p.HeartbeatPeriodSeconds, &p.MaxAttempts,
			&validationLevel, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.Description = desc.String
		p.RepositoryURL = repoURL.String
		p.ValidationLevel = models.ValidationLevel(validationLevel)
		if allowedModels.Valid && allowedModels.String != "" {
			if err := json.Unmarshal([]byte(allowedModels.String), &p.AllowedModels); err != nil {
				return nil, fmt.Errorf("failed to parse allowed_models: %w", err)
			}
		}
		projects = append(projects, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}
	return projects, nil
}

package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	tkterrors "github.com/daglabs/ticketwright/internal/errors"
	"github.com/daglabs/ticketwright/internal/models"
)

// TicketRepo provides database operations for tickets.
type TicketRepo struct {
	db *sql.DB
}

// NewTicketRepo creates a new TicketRepo.
func NewTicketRepo(db *sql.DB) *TicketRepo {
	return &TicketRepo{db: db}
}

// TicketFilter defines filters for listing tickets.
type TicketFilter struct {
	ProjectID *int64
	ProjectKey string
	Status    *models.Status
	Scope     *models.Scope
	EpicID    *int64
	Limit     int
	Offset    int
}

const ticketColumns = `t.id, t.project_id, t.key, t.title, t.description, t.status,
	t.estimated_scope, t.branch_name, t.repository_url,
	t.files_to_create, t.files_to_modify, t.acceptance_criteria,
	t.assignee_id, t.claim_token, t.claim_expires_at, t.last_heartbeat_at,
	t.attempts, t.max_attempts, t.last_error_class, t.review_feedback, t.epic_id, t.resolution,
	t.created_at, t.updated_at, t.completed_at,
	p.key AS project_key`

// Create creates a new ticket, generating its opaque key if not already set.
func (r *TicketRepo) Create(t *models.Ticket) error {
	if t.Status == "" {
		t.Status = models.StatusDraft
	}
	if t.EstimatedScope == "" {
		t.EstimatedScope = models.ScopeMedium
	}
	if t.MaxAttempts == 0 {
		t.MaxAttempts = 3
	}
	if t.Key == "" {
		key, err := models.NewTicketKey()
		if err != nil {
			return err
		}
		t.Key = key
	}

	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid ticket: %w", err)
	}

	filesToCreate, err := t.FilesToCreateJSON()
	if err != nil {
		return err
	}
	filesToModify, err := t.FilesToModifyJSON()
	if err != nil {
		return err
	}
	criteria, err := t.AcceptanceCriteriaJSON()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tickets (
			project_id, key, title, description, status, estimated_scope,
			branch_name, repository_url, files_to_create, files_to_modify,
			acceptance_criteria, assignee_id, claim_token, claim_expires_at,
			last_heartbeat_at, attempts, max_attempts, last_error_class, review_feedback,
			epic_id, resolution, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	nowStr := FormatTime(now)

	result, err := r.db.Exec(query,
		t.ProjectID, t.Key, t.Title, nullString(t.Description), t.Status, t.EstimatedScope,
		nullString(t.BranchName), nullString(t.RepositoryURL), nullString(filesToCreate),
		nullString(filesToModify), nullString(criteria), nullString(t.AssigneeID),
		nullString(t.ClaimToken), FormatTimePtr(t.ClaimExpiresAt), FormatTimePtr(t.LastHeartbeatAt),
		t.Attempts, t.MaxAttempts, nullString(t.LastErrorClass), nullString(t.ReviewFeedback),
		nullInt64(t.EpicID), nullResolution(optionalResolution(t.Resolution)), nowStr, nowStr, FormatTimePtr(t.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get ticket id: %w", err)
	}

	t.ID = id
	t.CreatedAt = now
	t.UpdatedAt = now
	return nil
}

func optionalResolution(r models.Resolution) *models.Resolution {
	if r == "" {
		return nil
	}
	return &r
}

// GetByID retrieves a ticket by its internal ID.
func (r *TicketRepo) GetByID(id int64) (*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
		FROM tickets t JOIN projects p ON t.project_id = p.id
		WHERE t.id = ?`
	return r.scanOne(r.db.QueryRow(query, id))
}

// GetByKey retrieves a ticket by its opaque external key (TKT-xxxxxxxx).
func (r *TicketRepo) GetByKey(key string) (*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
		FROM tickets t JOIN projects p ON t.project_id = p.id
		WHERE t.key = ?`
	return r.scanOne(r.db.QueryRow(query, key))
}

// List retrieves tickets matching the given filter, oldest-first.
func (r *TicketRepo) List(filter TicketFilter) ([]*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
		FROM tickets t JOIN projects p ON t.project_id = p.id
		WHERE 1=1`
	args := []interface{}{}

	if filter.ProjectID != nil {
		query += " AND t.project_id = ?"
		args = append(args, *filter.ProjectID)
	}
	if filter.ProjectKey != "" {
		query += " AND p.key = ?"
		args = append(args, filter.ProjectKey)
	}
	if filter.Status != nil {
		query += " AND t.status = ?"
		args = append(args, *filter.Status)
	}
	if filter.Scope != nil {
		query += " AND t.estimated_scope = ?"
		args = append(args, *filter.Scope)
	}
	if filter.EpicID != nil {
		query += " AND t.epic_id = ?"
		args = append(args, *filter.EpicID)
	}

	query += " ORDER BY t.created_at, t.id"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// NextReady returns the oldest ready ticket that is not in excludeIDs,
// has no unresolved dependencies, and still has attempt budget left. A
// non-positive projectID matches every project. It is the pure readiness
// query described for claim acquisition: FIFO by created_at, then id.
func (r *TicketRepo) NextReady(projectID int64, excludeIDs []int64) (*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
		FROM tickets t JOIN projects p ON t.project_id = p.id
		WHERE t.status = 'ready'
		AND t.attempts < t.max_attempts
		AND NOT EXISTS (
			SELECT 1 FROM ticket_dependencies td
			JOIN tickets dep ON td.depends_on_id = dep.id
			WHERE td.ticket_id = t.id AND dep.status != 'done'
		)`
	args := []interface{}{}
	if projectID > 0 {
		query += " AND t.project_id = ?"
		args = append(args, projectID)
	}
	for _, id := range excludeIDs {
		query += " AND t.id != ?"
		args = append(args, id)
	}
	query += " ORDER BY t.created_at, t.id LIMIT 1"

	return r.scanOne(r.db.QueryRow(query, args...))
}

// Transition performs a compare-and-swap status change: the update only
// applies if the ticket's current status still matches fromStatus. If the
// status no longer matches, it returns a StaleState error: the caller
// lost a race with another writer. A real status change (from != to) also
// appends a status_change event inside the same transaction, so every
// transition leaves exactly one such event in the log.
func (r *TicketRepo) Transition(id int64, fromStatus, toStatus models.Status, patch func(*models.Ticket)) error {
	return r.TransitionBy(id, fromStatus, toStatus, models.ActorTypeSystem, "", "", patch)
}

// TransitionBy is Transition with an explicit actor and message on the
// status_change event. An empty message defaults to "<from> -> <to>".
func (r *TicketRepo) TransitionBy(id int64, fromStatus, toStatus models.Status, actorType models.ActorType, actorID, message string, patch func(*models.Ticket)) error {
	return r.withTx(func(tx *sql.Tx) error {
		ticket, err := r.getByIDTx(tx, id)
		if err != nil {
			return err
		}
		if ticket == nil {
			return tkterrors.NotFound("ticket", fmt.Sprintf("%d", id))
		}
		if ticket.Status != fromStatus {
			return tkterrors.StaleState(string(fromStatus), string(ticket.Status))
		}

		ticket.Status = toStatus
		if patch != nil {
			patch(ticket)
		}

		if err := r.updateTx(tx, ticket); err != nil {
			return err
		}

		if fromStatus != toStatus {
			if message == "" {
				message = string(fromStatus) + " -> " + string(toStatus)
			}
			if err := insertEventTx(tx, id, models.CategoryStatusChange, actorType, actorID, message); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update persists the full set of mutable ticket fields, unconditionally.
// Prefer Transition for status changes that must be race-safe.
func (r *TicketRepo) Update(t *models.Ticket) error {
	return r.withTx(func(tx *sql.Tx) error {
		return r.updateTx(tx, t)
	})
}

func (r *TicketRepo) withTx(fn func(*sql.Tx) error) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *TicketRepo) getByIDTx(tx *sql.Tx, id int64) (*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
		FROM tickets t JOIN projects p ON t.project_id = p.id
		WHERE t.id = ?`
	return r.scanOne(tx.QueryRow(query, id))
}

func (r *TicketRepo) updateTx(tx *sql.Tx, t *models.Ticket) error {
	if t.ID <= 0 {
		return fmt.Errorf("ticket id is required")
	}

	filesToCreate, err := t.FilesToCreateJSON()
	if err != nil {
		return err
	}
	filesToModify, err := t.FilesToModifyJSON()
	if err != nil {
		return err
	}
	criteria, err := t.AcceptanceCriteriaJSON()
	if err != nil {
		return err
	}

	query := `
		UPDATE tickets SET
			title = ?, description = ?, status = ?, estimated_scope = ?,
			branch_name = ?, repository_url = ?, files_to_create = ?, files_to_modify = ?,
			acceptance_criteria = ?, assignee_id = ?, claim_token = ?, claim_expires_at = ?,
			last_heartbeat_at = ?, attempts = ?, max_attempts = ?, last_error_class = ?,
			review_feedback = ?, epic_id = ?, resolution = ?, updated_at = ?, completed_at = ?
		WHERE id = ?
	`
	now := FormatTime(time.Now())
	result, err := tx.Exec(query,
		t.Title, nullString(t.Description), t.Status, t.EstimatedScope,
		nullString(t.BranchName), nullString(t.RepositoryURL), nullString(filesToCreate),
		nullString(filesToModify), nullString(criteria), nullString(t.AssigneeID),
		nullString(t.ClaimToken), FormatTimePtr(t.ClaimExpiresAt), FormatTimePtr(t.LastHeartbeatAt),
		t.Attempts, t.MaxAttempts, nullString(t.LastErrorClass), nullString(t.ReviewFeedback),
		nullInt64(t.EpicID), nullResolution(optionalResolution(t.Resolution)), now, FormatTimePtr(t.CompletedAt),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("ticket not found")
	}

	return nil
}

// Delete deletes a ticket by ID.
func (r *TicketRepo) Delete(id int64) error {
	query := `DELETE FROM tickets WHERE id = ?`
	result, err := r.db.Exec(query, id)
	if err != nil {
		return fmt.Errorf("failed to delete ticket: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("ticket not found")
	}

	return nil
}

// GetEpicChildren retrieves all tickets whose epic_id points at parentID.
func (r *TicketRepo) GetEpicChildren(epicID int64) ([]*models.Ticket, error) {
	filter := TicketFilter{EpicID: &epicID}
	return r.List(filter)
}

// CountByStatus counts tickets by status for a project.
func (r *TicketRepo) CountByStatus(projectID int64) (map[models.Status]int, error) {
	query := `SELECT status, COUNT(*) FROM tickets WHERE project_id = ? GROUP BY status`
	rows, err := r.db.Query(query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to count tickets: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var status models.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (r *TicketRepo) scanRow(scan func(...interface{}) error) (*models.Ticket, error) {
	var t models.Ticket
	var desc, branch, repoURL, filesCreate, filesModify, criteria sql.NullString
	var assigneeID, claimToken, lastErrorClass, reviewFeedback, resolution sql.NullString
	var claimExpiresAt, lastHeartbeatAt, completedAt sql.NullString
	var epicID sql.NullInt64

	err := scan(
		&t.ID, &t.ProjectID, &t.Key, &t.Title, &desc, &t.Status,
		&t.EstimatedScope, &branch, &repoURL,
		&filesCreate, &filesModify, &criteria,
		&assigneeID, &claimToken, &claimExpiresAt, &lastHeartbeatAt,
		&t.Attempts, &t.MaxAttempts, &lastErrorClass, &reviewFeedback, &epicID, &resolution,
		&t.CreatedAt, &t.UpdatedAt, &completedAt,
		&t.ProjectKey,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan ticket: %w", err)
	}

	t.Description = desc.String
	t.BranchName = branch.String
	t.RepositoryURL = repoURL.String
	t.AssigneeID = assigneeID.String
	t.ClaimToken = claimToken.String
	t.LastErrorClass = lastErrorClass.String
	t.ReviewFeedback = reviewFeedback.String

	if filesCreate.Valid {
		if t.FilesToCreate, err = unmarshalStringSliceDB(filesCreate.String); err != nil {
			return nil, err
		}
	}
	if filesModify.Valid {
		if t.FilesToModify, err = unmarshalStringSliceDB(filesModify.String); err != nil {
			return nil, err
		}
	}
	if criteria.Valid {
		if t.AcceptanceCriteria, err = unmarshalCriteriaDB(criteria.String); err != nil {
			return nil, err
		}
	}
	if resolution.Valid {
		t.Resolution = models.Resolution(resolution.String)
	}
	if epicID.Valid {
		t.EpicID = &epicID.Int64
	}
	if claimExpiresAt.Valid {
		ts, err := time.Parse(time.RFC3339, claimExpiresAt.String)
		if err == nil {
			t.ClaimExpiresAt = &ts
		}
	}
	if lastHeartbeatAt.Valid {
		ts, err := time.Parse(time.RFC3339, lastHeartbeatAt.String)
		if err == nil {
			t.LastHeartbeatAt = &ts
		}
	}
	if completedAt.Valid {
		ts, err := time.Parse(time.RFC3339, completedAt.String)
		if err == nil {
			t.CompletedAt = &ts
		}
	}
	return &t, nil
}

func (r *TicketRepo) scanOne(row *sql.Row) (*models.Ticket, error) {
	return r.scanRow(row.Scan)
}

func (r *TicketRepo) scanMany(rows *sql.Rows) ([]*models.Ticket, error) {
	var tickets []*models.Ticket
	for rows.Next() {
		t, err := r.scanRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickets: %w", err)
	}
	return tickets, nil
}

func unmarshalStringSliceDB(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal string slice column: %w", err)
	}
	return out, nil
}

func unmarshalCriteriaDB(s string) ([]models.Criterion, error) {
	if s == "" {
		return nil, nil
	}
	var out []models.Criterion
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal acceptance_criteria column: %w", err)
	}
	return out, nil
}

// Helper functions for nullable types
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullResolution(r *models.Resolution) sql.NullString {
	if r == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*r), Valid: true}
}

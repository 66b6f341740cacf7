package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/daglabs/ticketwright/internal/models"
)

// ClaimRepo provides database operations for claims.
type ClaimRepo struct {
	db *sql.DB
}

// NewClaimRepo creates a new ClaimRepo.
func NewClaimRepo(db *sql.DB) *ClaimRepo {
	return &ClaimRepo{db: db}
}

const claimColumns = `c.id, c.token, c.ticket_id, c.assignee_id, c.claimed_at, c.expires_at,
	c.last_heartbeat_at, c.released_at, c.status, t.title AS ticket_title, t.key AS ticket_key`

const claimJoin = `FROM claims c
	JOIN tickets t ON c.ticket_id = t.id`

// Create creates a new claim.
func (r *ClaimRepo) Create(c *models.Claim) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid claim: %w", err)
	}

	query := `
		INSERT INTO claims (token, ticket_id, assignee_id, claimed_at, expires_at, last_heartbeat_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query, c.Token, c.TicketID, c.AssigneeID,
		FormatTime(c.ClaimedAt), FormatTime(c.ExpiresAt), FormatTime(c.LastHeartbeatAt), string(c.Status))
	if err != nil {
		return fmt.Errorf("failed to create claim: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get claim id: %w", err)
	}

	c.ID = id
	return nil
}

// GetByID retrieves a claim by ID.
func (r *ClaimRepo) GetByID(id int64) (*models.Claim, error) {
	query := `SELECT ` + claimColumns + ` ` + claimJoin + ` WHERE c.id = ?`
	return r.scanOne(r.db.QueryRow(query, id))
}

// GetByToken retrieves a claim by its opaque token.
func (r *ClaimRepo) GetByToken(token string) (*models.Claim, error) {
	query := `SELECT ` + claimColumns + ` ` + claimJoin + ` WHERE c.token = ?`
	return r.scanOne(r.db.QueryRow(query, token))
}

// GetActiveByTicketID retrieves the active, non-expired claim for a ticket.
func (r *ClaimRepo) GetActiveByTicketID(ticketID int64) (*models.Claim, error) {
	query := `SELECT ` + claimColumns + ` ` + claimJoin + `
		WHERE c.ticket_id = ? AND c.status = 'active' AND c.expires_at > ?`
	return r.scanOne(r.db.QueryRow(query, ticketID, FormatTime(time.Now())))
}

// GetActiveByAssigneeID retrieves all active claims held by an assignee.
func (r *ClaimRepo) GetActiveByAssigneeID(assigneeID string) ([]*models.Claim, error) {
	query := `SELECT ` + claimColumns + ` ` + claimJoin + `
		WHERE c.assignee_id = ? AND c.status = 'active' AND c.expires_at > ?
		ORDER BY c.claimed_at`
	rows, err := r.db.Query(query, assigneeID, FormatTime(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to get active claims: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// ListActive retrieves all active, non-expired claims.
func (r *ClaimRepo) ListActive() ([]*models.Claim, error) {
	query := `SELECT ` + claimColumns + ` ` + claimJoin + `
		WHERE c.status = 'active' AND c.expires_at > ?
		ORDER BY c.expires_at`
	rows, err := r.db.Query(query, FormatTime(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to list active claims: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// ListExpired retrieves all claims that are still marked active but whose
// expiry has passed: the reclaim sweep's work queue.
func (r *ClaimRepo) ListExpired() ([]*models.Claim, error) {
	query := `SELECT ` + claimColumns + ` ` + claimJoin + `
		WHERE c.status = 'active' AND c.expires_at <= ?
		ORDER BY c.expires_at`
	rows, err := r.db.Query(query, FormatTime(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired claims: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// ListByTicketID retrieves the full claim history for a ticket, newest first.
func (r *ClaimRepo) ListByTicketID(ticketID int64) ([]*models.Claim, error) {
	query := `SELECT ` + claimColumns + ` ` + claimJoin + `
		WHERE c.ticket_id = ?
		ORDER BY c.claimed_at DESC`
	rows, err := r.db.Query(query, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// Heartbeat extends a claim's expiry and records the heartbeat time, but only
// if the token still identifies the active claim. Returns false if the claim
// was not found active under that token (stale or already reclaimed).
func (r *ClaimRepo) Heartbeat(token string, newExpiresAt time.Time) (bool, error) {
	now := time.Now()
	query := `UPDATE claims SET expires_at = ?, last_heartbeat_at = ?
		WHERE token = ? AND status = 'active' AND expires_at > ?`
	result, err := r.db.Exec(query, FormatTime(newExpiresAt), FormatTime(now), token, FormatTime(now))
	if err != nil {
		return false, fmt.Errorf("failed to record heartbeat: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// Release marks a claim with a terminal status (completed, released, or
// expired) and stamps released_at, but only if the token still names an
// active claim.
func (r *ClaimRepo) Release(token string, status models.ClaimStatus) (bool, error) {
	now := time.Now()
	query := `UPDATE claims SET status = ?, released_at = ? WHERE token = ? AND status = 'active'`
	result, err := r.db.Exec(query, string(status), FormatTime(now), token)
	if err != nil {
		return false, fmt.Errorf("failed to release claim: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// HasActiveClaim checks if a ticket currently has a non-expired active claim.
func (r *ClaimRepo) HasActiveClaim(ticketID int64) (bool, error) {
	query := `SELECT 1 FROM claims WHERE ticket_id = ? AND status = 'active' AND expires_at > ? LIMIT 1`
	var exists int
	err := r.db.QueryRow(query, ticketID, FormatTime(time.Now())).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check active claim: %w", err)
	}
	return true, nil
}

func (r *ClaimRepo) scanRow(scan func(...interface{}) error) (*models.Claim, error) {
	var c models.Claim
	var releasedAt sql.NullString
	var ticketTitle, ticketKey sql.NullString
	var status string

	err := scan(
		&c.ID, &c.Token, &c.TicketID, &c.AssigneeID, &c.ClaimedAt, &c.ExpiresAt,
		&c.LastHeartbeatAt, &releasedAt, &status, &ticketTitle, &ticketKey,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan claim: %w", err)
	}

	c.Status = models.ClaimStatus(status)
	if releasedAt.Valid {
		ts, err := time.Parse(time.RFC3339, releasedAt.String)
		if err == nil {
			c.ReleasedAt = &ts
		}
	}
	c.TicketTitle = ticketTitle.String
	c.TicketKey = ticketKey.String
	return &c, nil
}

func (r *ClaimRepo) scanOne(row *sql.Row) (*models.Claim, error) {
	return r.scanRow(row.Scan)
}

func (r *ClaimRepo) scanMany(rows *sql.Rows) ([]*models.Claim, error) {
	var claims []*models.Claim
	for rows.Next() {
		c, err := r.scanRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claims: %w", err)
	}
	return claims, nil
}

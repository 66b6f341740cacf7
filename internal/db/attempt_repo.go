package db

import (
	"database/sql"
	"fmt"

	"github.com/daglabs/ticketwright/internal/models"
)

// AttemptRepo provides database operations for per-attempt worker telemetry.
type AttemptRepo struct {
	db *sql.DB
}

// NewAttemptRepo creates a new AttemptRepo.
func NewAttemptRepo(db *sql.DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

const attemptColumns = `id, ticket_id, attempt_number, started_at, duration_ms,
	error_count, input_tokens, output_tokens, outcome`

// Create records the outcome of one worker attempt against a ticket.
func (r *AttemptRepo) Create(a *models.AttemptHistory) error {
	query := `
		INSERT INTO attempt_history (ticket_id, attempt_number, started_at, duration_ms,
			error_count, input_tokens, output_tokens, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query, a.TicketID, a.AttemptNumber, FormatTime(a.StartedAt),
		a.DurationMS, a.ErrorCount, a.InputTokens, a.OutputTokens, a.Outcome)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get attempt id: %w", err)
	}
	a.ID = id
	return nil
}

// ListByTicket returns every recorded attempt for a ticket, oldest first.
func (r *AttemptRepo) ListByTicket(ticketID int64) ([]*models.AttemptHistory, error) {
	query := `SELECT ` + attemptColumns + ` FROM attempt_history WHERE ticket_id = ? ORDER BY attempt_number ASC`
	rows, err := r.db.Query(query, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.AttemptHistory
	for rows.Next() {
		var a models.AttemptHistory
		if err := rows.Scan(&a.ID, &a.TicketID, &a.AttemptNumber, &a.StartedAt, &a.DurationMS,
			&a.ErrorCount, &a.InputTokens, &a.OutputTokens, &a.Outcome); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}
	return attempts, nil
}

// CountByTicket returns the number of recorded attempts for a ticket.
func (r *AttemptRepo) CountByTicket(ticketID int64) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM attempt_history WHERE ticket_id = ?`, ticketID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return count, nil
}

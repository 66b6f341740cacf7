package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/daglabs/ticketwright/internal/models"
)

// EventRepo provides database operations for the append-only activity log.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo creates a new EventRepo.
func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{db: db}
}

// EventFilter defines filters for listing events.
type EventFilter struct {
	TicketID  *int64
	Category  *models.Category
	ActorType *models.ActorType
	ActorID   string
	Since     *time.Time
	Limit     int
	Offset    int
}

// Create appends a new event to the activity log.
func (r *EventRepo) Create(e *models.Event) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	query := `
		INSERT INTO activity_log (ticket_id, category, actor_type, actor_id, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := r.db.Exec(query,
		e.TicketID, string(e.Category), string(e.ActorType), nullString(e.ActorID),
		nullString(e.Message), nullString(e.Metadata), FormatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event id: %w", err)
	}

	e.ID = id
	e.CreatedAt = now
	return nil
}

// insertEventTx appends an event inside an existing transaction. Used by
// TicketRepo.Transition so a status change and its status_change event
// land in one atomic unit.
func insertEventTx(tx *sql.Tx, ticketID int64, category models.Category, actorType models.ActorType, actorID, message string) error {
	query := `
		INSERT INTO activity_log (ticket_id, category, actor_type, actor_id, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.Exec(query,
		ticketID, string(category), string(actorType), nullString(actorID),
		nullString(message), nullString(""), FormatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

const eventColumns = `a.id, a.ticket_id, a.category, a.actor_type, a.actor_id,
	a.message, a.metadata, a.created_at, t.key AS ticket_key`

const eventJoin = `FROM activity_log a
	JOIN tickets t ON a.ticket_id = t.id`

// GetByID retrieves an event by ID.
func (r *EventRepo) GetByID(id int64) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` ` + eventJoin + ` WHERE a.id = ?`
	return r.scanOne(r.db.QueryRow(query, id))
}

// List retrieves events matching the given filter, newest first.
func (r *EventRepo) List(filter EventFilter) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` ` + eventJoin + ` WHERE 1=1`
	args := []interface{}{}

	if filter.TicketID != nil {
		query += " AND a.ticket_id = ?"
		args = append(args, *filter.TicketID)
	}
	if filter.Category != nil {
		query += " AND a.category = ?"
		args = append(args, string(*filter.Category))
	}
	if filter.ActorType != nil {
		query += " AND a.actor_type = ?"
		args = append(args, string(*filter.ActorType))
	}
	if filter.ActorID != "" {
		query += " AND a.actor_id = ?"
		args = append(args, filter.ActorID)
	}
	if filter.Since != nil {
		query += " AND a.created_at >= ?"
		args = append(args, FormatTime(*filter.Since))
	}

	query += " ORDER BY a.created_at DESC"

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
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// ListByTicket retrieves the most recent events for a ticket.
func (r *EventRepo) ListByTicket(ticketID int64, limit int) ([]*models.Event, error) {
	filter := EventFilter{TicketID: &ticketID, Limit: limit}
	return r.List(filter)
}

// GetLatestByTicket retrieves the most recent event for a ticket.
func (r *EventRepo) GetLatestByTicket(ticketID int64) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` ` + eventJoin + `
		WHERE a.ticket_id = ?
		ORDER BY a.created_at DESC
		LIMIT 1`
	return r.scanOne(r.db.QueryRow(query, ticketID))
}

// CountByTicket counts events recorded for a ticket.
func (r *EventRepo) CountByTicket(ticketID int64) (int, error) {
	query := `SELECT COUNT(*) FROM activity_log WHERE ticket_id = ?`
	var count int
	err := r.db.QueryRow(query, ticketID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// Log is a convenience method to append a plain-message event.
func (r *EventRepo) Log(ticketID int64, category models.Category, actorType models.ActorType, actorID, message string) error {
	e := models.NewEvent(ticketID, category, actorType, actorID, message)
	return r.Create(e)
}

// LogWithMetadata is a convenience method to append an event carrying
// structured metadata (e.g. token counts, validator stage, PR number).
func (r *EventRepo) LogWithMetadata(ticketID int64, category models.Category, actorType models.ActorType, actorID, message string, meta map[string]interface{}) error {
	e, err := models.NewEventWithMetadata(ticketID, category, actorType, actorID, message, meta)
	if err != nil {
		return err
	}
	return r.Create(e)
}

func (r *EventRepo) scanRow(scan func(...interface{}) error) (*models.Event, error) {
	var e models.Event
	var actorID, message, metadata sql.NullString
	var ticketKey sql.NullString
	var category, actorType string

	err := scan(
		&e.ID, &e.TicketID, &category, &actorType, &actorID,
		&message, &metadata, &e.CreatedAt, &ticketKey,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	e.Category = models.Category(category)
	e.ActorType = models.ActorType(actorType)
	e.ActorID = actorID.String
	e.Message = message.String
	e.Metadata = metadata.String
	e.TicketKey = ticketKey.String
	return &e, nil
}

func (r *EventRepo) scanOne(row *sql.Row) (*models.Event, error) {
	return r.scanRow(row.Scan)
}

func (r *EventRepo) scanMany(rows *sql.Rows) ([]*models.Event, error) {
	var events []*models.Event
	for rows.Next() {
		e, err := r.scanRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

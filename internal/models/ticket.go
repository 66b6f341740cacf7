package models

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Ticket represents a unit of coding work dispatched to a worker.
type Ticket struct {
	ID          int64  `json:"id"`
	ProjectID   int64  `json:"project_id"`
	Key         string `json:"key"` // TKT-<8 hex>, generated at creation
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	Status Status `json:"status"`

	EstimatedScope Scope `json:"estimated_scope"`

	// Git integration
	BranchName    string `json:"branch_name,omitempty"`
	RepositoryURL string `json:"repository_url,omitempty"`

	// Generation targets, carried as JSON arrays in storage.
	FilesToCreate  []string `json:"files_to_create,omitempty"`
	FilesToModify  []string `json:"files_to_modify,omitempty"`

	AcceptanceCriteria []Criterion `json:"acceptance_criteria,omitempty"`

	// Claim/heartbeat bookkeeping
	AssigneeID      string     `json:"assignee_id,omitempty"`
	ClaimToken      string     `json:"claim_token,omitempty"`
	ClaimExpiresAt  *time.Time `json:"claim_expires_at,omitempty"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`

	// Retry tracking
	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	LastErrorClass string `json:"last_error_class,omitempty"`

	// ReviewFeedback carries a reviewer's change request attached when a
	// ticket returns from in_review to ready. The next claim's prompt
	// includes it; a successful completion clears it.
	ReviewFeedback string `json:"review_feedback,omitempty"`

	// Hierarchy (epics group tickets; an epic pointer is a soft parent ref)
	EpicID *int64 `json:"epic_id,omitempty"`

	Resolution Resolution `json:"resolution,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Computed fields, not stored directly.
	ProjectKey string `json:"project_key,omitempty"`
}

// Criterion is one line item of a ticket's acceptance criteria.
type Criterion struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Satisfied   bool   `json:"satisfied"`
}

// NewTicketKey generates a new opaque ticket key in the form TKT-<8 hex>.
func NewTicketKey() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate ticket key: %w", err)
	}
	return "TKT-" + hex.EncodeToString(buf), nil
}

// Validate validates the ticket fields.
func (t *Ticket) Validate() error {
	if t.ProjectID <= 0 {
		return fmt.Errorf("project_id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title cannot be empty")
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", t.Status)
	}
	if t.EstimatedScope != "" && !t.EstimatedScope.IsValid() {
		return fmt.Errorf("invalid estimated_scope: %s", t.EstimatedScope)
	}
	if t.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts cannot be negative")
	}
	if t.Attempts < 0 {
		return fmt.Errorf("attempts cannot be negative")
	}
	return nil
}

// IsWellFormed reports whether the ticket carries enough detail to be
// approved for work: at least one target file and at least one
// acceptance criterion.
func (t *Ticket) IsWellFormed() bool {
	return len(t.FilesToCreate)+len(t.FilesToModify) > 0 && len(t.AcceptanceCriteria) > 0
}

// IsWorkable returns true if the ticket can be claimed for work.
func (t *Ticket) IsWorkable() bool {
	return t.Status.IsWorkable()
}

// IsTerminal returns true if the ticket is in a terminal state.
func (t *Ticket) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// HasExceededAttempts returns true if the ticket has exhausted its attempt budget.
func (t *Ticket) HasExceededAttempts() bool {
	return t.MaxAttempts > 0 && t.Attempts >= t.MaxAttempts
}

// HasActiveClaim returns true if the ticket currently carries an unexpired claim.
func (t *Ticket) HasActiveClaim(now time.Time) bool {
	return t.ClaimToken != "" && t.ClaimExpiresAt != nil && t.ClaimExpiresAt.After(now)
}

// FilesToCreateJSON marshals FilesToCreate for storage.
func (t *Ticket) FilesToCreateJSON() (string, error) {
	return marshalStringSlice(t.FilesToCreate)
}

// FilesToModifyJSON marshals FilesToModify for storage.
func (t *Ticket) FilesToModifyJSON() (string, error) {
	return marshalStringSlice(t.FilesToModify)
}

// AcceptanceCriteriaJSON marshals AcceptanceCriteria for storage.
func (t *Ticket) AcceptanceCriteriaJSON() (string, error) {
	if len(t.AcceptanceCriteria) == 0 {
		return "", nil
	}
	data, err := json.Marshal(t.AcceptanceCriteria)
	if err != nil {
		return "", fmt.Errorf("failed to marshal acceptance_criteria: %w", err)
	}
	return string(data), nil
}

func marshalStringSlice(s []string) (string, error) {
	if len(s) == 0 {
		return "", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal string slice: %w", err)
	}
	return string(data), nil
}

func unmarshalStringSlice(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal string slice: %w", err)
	}
	return out, nil
}

func unmarshalCriteria(s string) ([]Criterion, error) {
	if s == "" {
		return nil, nil
	}
	var out []Criterion
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal acceptance_criteria: %w", err)
	}
	return out, nil
}

// TicketDependency represents a directed "depends on" edge between two tickets.
type TicketDependency struct {
	TicketID    int64     `json:"ticket_id"`
	DependsOnID int64     `json:"depends_on_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate validates the dependency edge.
func (td *TicketDependency) Validate() error {
	if td.TicketID <= 0 {
		return fmt.Errorf("ticket_id is required")
	}
	if td.DependsOnID <= 0 {
		return fmt.Errorf("depends_on_id is required")
	}
	if td.TicketID == td.DependsOnID {
		return fmt.Errorf("ticket cannot depend on itself")
	}
	return nil
}

// AttemptHistory records one worker generation attempt against a ticket.
type AttemptHistory struct {
	ID            int64     `json:"id"`
	TicketID      int64     `json:"ticket_id"`
	AttemptNumber int       `json:"attempt_number"`
	StartedAt     time.Time `json:"started_at"`
	DurationMS    int64     `json:"duration_ms"`
	ErrorCount    int       `json:"error_count"`
	InputTokens   int64     `json:"input_tokens"`
	OutputTokens  int64     `json:"output_tokens"`
	Outcome       string    `json:"outcome"` // candidate_produced, validation_failed, blocked, api_error, ...
}

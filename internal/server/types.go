package server

import "github.com/daglabs/ticketwright/internal/models"

// ClaimRequest is the body of POST /claim. ProjectKey is optional: an
// empty value claims the oldest ready ticket across every project.
type ClaimRequest struct {
	AgentID      string             `json:"agent_id" validate:"required"`
	ProjectKey   string             `json:"project_id,omitempty"`
	TicketFilter *ClaimTicketFilter `json:"ticket_filter,omitempty"`
	TTLSeconds   int                `json:"ttl_seconds,omitempty" validate:"omitempty,min=1"`
}

// ClaimTicketFilter narrows what POST /claim may hand out; ExcludeKeys is
// the caller's seen-set of ticket keys it does not want back.
type ClaimTicketFilter struct {
	ExcludeKeys []string `json:"exclude_keys,omitempty"`
}

// ClaimResponse is returned on a successful claim.
type ClaimResponse struct {
	Ticket          *TicketPayload   `json:"ticket"`
	ProjectSettings *ProjectSettings `json:"project_settings"`
}

// TicketPayload is the worker-facing projection of a ticket.
type TicketPayload struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	Status             string   `json:"status"`
	EstimatedScope     string   `json:"estimated_scope"`
	BranchName         string   `json:"branch_name,omitempty"`
	RepositoryURL      string   `json:"repository_url,omitempty"`
	FilesToCreate      []string `json:"files_to_create,omitempty"`
	FilesToModify      []string `json:"files_to_modify,omitempty"`
	AcceptanceCriteria []models.Criterion `json:"acceptance_criteria,omitempty"`
	ReviewFeedback     string   `json:"review_feedback,omitempty"`
	ClaimToken         string   `json:"claim_token"`
	Attempts           int      `json:"attempts"`
	MaxAttempts        int      `json:"max_attempts"`
}

// ProjectSettings carries the project-level knobs a worker needs to run a ticket.
type ProjectSettings struct {
	Key                    string   `json:"key"`
	RepositoryURL          string   `json:"repository_url"`
	BaseBranch             string   `json:"base_branch"`
	AllowedModels          []string `json:"allowed_models,omitempty"`
	ClaimTTLSeconds        int      `json:"claim_ttl_seconds"`
	HeartbeatPeriodSeconds int      `json:"heartbeat_period_seconds"`
	MaxAttempts            int      `json:"max_attempts"`
	ValidationLevel        string   `json:"validation_level"`
}

// HeartbeatRequest is the body of POST /heartbeat.
type HeartbeatRequest struct {
	TicketID   string `json:"ticket_id" validate:"required"`
	AgentID    string `json:"agent_id" validate:"required"`
	ClaimToken string `json:"claim_token" validate:"required"`
}

// StatusRequest is the body of POST /status.
type StatusRequest struct {
	TicketID   string `json:"ticket_id" validate:"required"`
	AgentID    string `json:"agent_id" validate:"required"`
	ClaimToken string `json:"claim_token" validate:"required"`
	State      string `json:"state" validate:"required,oneof=assigned in_progress verifying"`
}

// CriterionStatus reports the verdict for one acceptance criterion at completion time.
type CriterionStatus struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Evidence string `json:"evidence,omitempty"`
}

// CompleteRequest is the body of POST /complete.
type CompleteRequest struct {
	TicketID        string            `json:"ticket_id" validate:"required"`
	AgentID         string            `json:"agent_id" validate:"required"`
	ClaimToken      string            `json:"claim_token" validate:"required"`
	Success         bool              `json:"success"`
	PRUrl           string            `json:"pr_url,omitempty"`
	BranchName      string            `json:"branch_name,omitempty"`
	CommitSHA       string            `json:"commit_sha,omitempty"`
	Error           string            `json:"error,omitempty"`
	CriteriaStatus  []CriterionStatus `json:"criteria_status,omitempty"`
	FilesChanged    []string          `json:"files_changed,omitempty"`
}

// FailRequest is the body of POST /fail.
type FailRequest struct {
	TicketID     string `json:"ticket_id" validate:"required"`
	AgentID      string `json:"agent_id" validate:"required"`
	ClaimToken   string `json:"claim_token" validate:"required"`
	ErrorMessage string `json:"error_message" validate:"required"`
	ShouldRetry  bool   `json:"should_retry"`
}

// ActivityRequest is the body of POST /tickets/:id/activity.
type ActivityRequest struct {
	AgentID  string                 `json:"agent_id" validate:"required"`
	Category string                 `json:"category" validate:"required"`
	Message  string                 `json:"message" validate:"required"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AttemptRequest is the body of POST /tickets/:id/attempts, recording one
// worker generation attempt's telemetry.
type AttemptRequest struct {
	AgentID       string `json:"agent_id" validate:"required"`
	AttemptNumber int    `json:"attempt_number" validate:"required,min=1"`
	DurationMS    int64  `json:"duration_ms"`
	ErrorCount    int    `json:"error_count"`
	InputTokens   int64  `json:"input_tokens"`
	OutputTokens  int64  `json:"output_tokens"`
	Outcome       string `json:"outcome" validate:"required"`
}

// ActivityEvent is one entry in the GET /tickets/:id/activity projection.
type ActivityEvent struct {
	ID        int64                  `json:"id"`
	Category  string                 `json:"category"`
	ActorType string                 `json:"actor_type"`
	ActorID   string                 `json:"actor_id,omitempty"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt string                 `json:"created_at"`
}

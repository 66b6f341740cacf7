package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Project represents a top-level organizational container for tickets,
// plus the settings that govern how its tickets are claimed and worked.
type Project struct {
	ID          int64  `json:"id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	RepositoryURL string `json:"repository_url,omitempty"`
	BaseBranch    string `json:"base_branch"`

	// AllowedModels restricts which worker_model values may claim tickets
	// in this project; empty means no restriction.
	AllowedModels []string `json:"allowed_models,omitempty"`

	ClaimTTLSeconds      int `json:"claim_ttl_seconds"`
	HeartbeatPeriodSeconds int `json:"heartbeat_period_seconds"`
	MaxAttempts          int `json:"max_attempts"`

	ValidationLevel ValidationLevel `json:"validation_level"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProjectStats holds ticket-status counts for a project.
type ProjectStats struct {
	TotalTickets      int `json:"total_tickets"`
	DraftCount        int `json:"draft_count"`
	ReadyCount        int `json:"ready_count"`
	InProgressCount   int `json:"in_progress_count"`
	VerifyingCount    int `json:"verifying_count"`
	InReviewCount     int `json:"in_review_count"`
	DoneCount         int `json:"done_count"`
	NeedsReviewCount  int `json:"needs_review_count"`
	CancelledCount    int `json:"cancelled_count"`
	QuarantinedCount  int `json:"quarantined_count"`
}

// projectKeyRegex validates project keys (uppercase alphanumeric, 2-10 chars).
var projectKeyRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,9}$`)

// ValidateProjectKey validates a project key.
func ValidateProjectKey(key string) error {
	if key == "" {
		return fmt.Errorf("project key cannot be empty")
	}
	if !projectKeyRegex.MatchString(key) {
		return fmt.Errorf("project key must be 2-10 uppercase alphanumeric characters starting with a letter")
	}
	return nil
}

// Validate validates the project fields.
func (p *Project) Validate() error {
	if err := ValidateProjectKey(p.Key); err != nil {
		return err
	}
	if p.Name == "" {
		return fmt.Errorf("project name cannot be empty")
	}
	if p.ValidationLevel != "" && !p.ValidationLevel.IsValid() {
		return fmt.Errorf("invalid validation_level: %s", p.ValidationLevel)
	}
	return nil
}

// AllowedModelsJSON marshals AllowedModels for storage.
func (p *Project) AllowedModelsJSON() (string, error) {
	if len(p.AllowedModels) == 0 {
		return "", nil
	}
	data, err := json.Marshal(p.AllowedModels)
	if err != nil {
		return "", fmt.Errorf("failed to marshal allowed_models: %w", err)
	}
	return string(data), nil
}

// ClaimTTL returns the project's claim TTL as a time.Duration.
func (p *Project) ClaimTTL() time.Duration {
	if p.ClaimTTLSeconds <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(p.ClaimTTLSeconds) * time.Second
}

// HeartbeatPeriod returns the project's heartbeat period as a time.Duration.
func (p *Project) HeartbeatPeriod() time.Duration {
	if p.HeartbeatPeriodSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.HeartbeatPeriodSeconds) * time.Second
}

// AllowsModel returns true if model is permitted to claim tickets in this
// project (an empty allow-list permits every model).
func (p *Project) AllowsModel(model string) bool {
	if len(p.AllowedModels) == 0 {
		return true
	}
	for _, m := range p.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

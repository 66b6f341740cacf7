// Package worker implements the ticket generation loop: it polls the
// orchestrator for claimable work, assembles a prompt, calls the LLM,
// materializes the candidate files, validates them, retries with
// structured feedback, and reports the terminal outcome back to the
// orchestrator.
package worker

// FileEdit is one entry of the model's `files` array.
type FileEdit struct {
	Path    string  `json:"path"`
	Action  string  `json:"action"` // "create" or "modify"
	Content string  `json:"content,omitempty"`
	Patches []Patch `json:"patches,omitempty"`
}

// Patch is a single search/replace edit within a "modify" file edit.
type Patch struct {
	Search  string `json:"search"`
	Replace string `json:"replace"`
}

// TestFile is one entry of the model's `tests` array.
type TestFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// CriterionStatus is one entry of the model's `acceptance_criteria_status`
// array. Status is one of SATISFIED, PARTIALLY_SATISFIED, BLOCKED.
type CriterionStatus struct {
	ID        string `json:"id"`
	Criterion string `json:"criterion"`
	Status    string `json:"status"`
	Evidence  string `json:"evidence,omitempty"`
}

const (
	StatusSatisfied          = "SATISFIED"
	StatusPartiallySatisfied = "PARTIALLY_SATISFIED"
	StatusBlocked            = "BLOCKED"
)

// GenerationOutput is the parsed shape of one LLM generation response.
type GenerationOutput struct {
	Files                    []FileEdit        `json:"files"`
	Tests                    []TestFile        `json:"tests,omitempty"`
	Summary                  string            `json:"summary"`
	AcceptanceCriteriaStatus []CriterionStatus `json:"acceptance_criteria_status,omitempty"`
	RootCauseAnalysis        string            `json:"root_cause_analysis,omitempty"`

	// ExtractedViaFallback is true when the delimiter-based extractor had
	// to be used because the response was not valid JSON. Every file in
	// this case is forced to action=create and there is no criteria
	// status, so BLOCKED detection is skipped.
	ExtractedViaFallback bool `json:"-"`
}

// BlockedCriterion returns the first criterion reporting status BLOCKED,
// if any.
func (g *GenerationOutput) BlockedCriterion() *CriterionStatus {
	for i := range g.AcceptanceCriteriaStatus {
		if g.AcceptanceCriteriaStatus[i].Status == StatusBlocked {
			return &g.AcceptanceCriteriaStatus[i]
		}
	}
	return nil
}

// TicketView is the worker-facing projection of a ticket, decoded from
// the orchestrator's /claim response.
type TicketView struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Status         string          `json:"status"`
	EstimatedScope string          `json:"estimated_scope"`
	BranchName     string          `json:"branch_name,omitempty"`
	RepositoryURL  string          `json:"repository_url,omitempty"`
	FilesToCreate  []string        `json:"files_to_create,omitempty"`
	FilesToModify  []string        `json:"files_to_modify,omitempty"`
	Criteria       []CriterionView `json:"acceptance_criteria,omitempty"`
	ReviewFeedback string          `json:"review_feedback,omitempty"`
	ClaimToken     string          `json:"claim_token"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
}

// CriterionView is one acceptance criterion as seen by the worker.
type CriterionView struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// ProjectSettingsView is the worker-facing projection of project settings.
type ProjectSettingsView struct {
	Key                    string   `json:"key"`
	RepositoryURL          string   `json:"repository_url"`
	BaseBranch             string   `json:"base_branch"`
	AllowedModels          []string `json:"allowed_models,omitempty"`
	ClaimTTLSeconds        int      `json:"claim_ttl_seconds"`
	HeartbeatPeriodSeconds int      `json:"heartbeat_period_seconds"`
	MaxAttempts            int      `json:"max_attempts"`
	ValidationLevel        string   `json:"validation_level"`
}

package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	tkterrors "github.com/daglabs/ticketwright/internal/errors"
	"github.com/daglabs/ticketwright/internal/ghclient"
	"github.com/daglabs/ticketwright/internal/gitops"
	"github.com/daglabs/ticketwright/internal/llm"
	"github.com/daglabs/ticketwright/internal/models"
	"github.com/daglabs/ticketwright/internal/patchengine"
	"github.com/daglabs/ticketwright/internal/validator"
	"go.uber.org/zap"

	tkmetrics "github.com/daglabs/ticketwright/internal/metrics"
)

// Config configures one worker Runtime instance.
type Config struct {
	AgentID    string
	ProjectKey string

	OrchestratorURL string
	AgentKey        string
	GitHubToken     string

	PollInterval        time.Duration
	HeartbeatPeriod     time.Duration
	MaxInternalAttempts int
	MaxFileLines        int
	ValidationTimeout   time.Duration
	DefaultBaseBranch   string
	WorkspaceDir        string
	DefaultModel        string
	ScopeToModelMap     map[string]string

	Logger *zap.Logger
}

// Runtime is the worker's outer polling loop plus per-ticket pipeline.
// One Runtime processes exactly one ticket at a time; its only internal
// concurrency is the heartbeat timer.
type Runtime struct {
	cfg    Config
	client *OrchestratorClient
	llm    *llm.Client
	logger *zap.Logger
}

// New creates a Runtime. llmClient is the shared, process-wide generation
// client; it is not constructed per ticket.
func New(cfg Config, llmClient *llm.Client) *Runtime {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxInternalAttempts <= 0 {
		cfg.MaxInternalAttempts = 3
	}
	if cfg.MaxFileLines <= 0 {
		cfg.MaxFileLines = 400
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = 30 * time.Second
	}
	if cfg.ValidationTimeout <= 0 {
		cfg.ValidationTimeout = 2 * time.Minute
	}
	if cfg.DefaultBaseBranch == "" {
		cfg.DefaultBaseBranch = "main"
	}

	return &Runtime{
		cfg:    cfg,
		client: NewOrchestratorClient(cfg.OrchestratorURL, cfg.AgentKey, 60*time.Second),
		llm:    llmClient,
		logger: cfg.Logger,
	}
}

// Run is the outer loop: claim, execute, sleep on empty, repeat. It
// returns when ctx is cancelled; the current ticket, if any, is always
// finished before the loop exits (ctx is only checked between tickets).
func (r *Runtime) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		ticket, settings, ok, err := r.client.Claim(ctx, r.cfg.AgentID, r.cfg.ProjectKey)
		if err != nil {
			r.logger.Warn("claim failed", zap.Error(err))
			if !r.sleep(ctx, r.cfg.PollInterval) {
				return nil
			}
			continue
		}
		if !ok {
			if !r.sleep(ctx, r.cfg.PollInterval) {
				return nil
			}
			continue
		}

		r.logger.Info("claimed ticket", zap.String("ticket", ticket.ID))
		if err := r.runTicket(context.WithoutCancel(ctx), *ticket, *settings); err != nil {
			r.logger.Warn("ticket run ended with error", zap.String("ticket", ticket.ID), zap.Error(err))
		}
	}
}

func (r *Runtime) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// runTicket executes the full generation-validation-retry pipeline for
// one claimed ticket: checkout, generate, materialize, validate, retry
// with feedback, then commit, open a PR, and report.
func (r *Runtime) runTicket(ctx context.Context, ticket TicketView, settings ProjectSettingsView) error {
	heartbeatPeriod := r.cfg.HeartbeatPeriod
	if settings.HeartbeatPeriodSeconds > 0 {
		heartbeatPeriod = time.Duration(settings.HeartbeatPeriodSeconds) * time.Second
	}
	hb := r.startHeartbeat(ctx, ticket.ID, ticket.ClaimToken, heartbeatPeriod)
	defer hb.Stop()

	// Step 1: setup.
	ws, err := gitops.CloneOrFetch(ctx, r.cfg.WorkspaceDir, ticket.ID, ticket.RepositoryURL, r.cfg.GitHubToken)
	if err != nil {
		return r.reportGitFailure(ctx, ticket, err)
	}
	r.emit(ctx, ticket.ID, "git_operation", "cloned repository")

	baseBranch := settings.BaseBranch
	if baseBranch == "" {
		baseBranch = r.cfg.DefaultBaseBranch
	}
	branch := ticket.BranchName
	if branch == "" {
		branch = "ticketwright/" + strings.ToLower(ticket.ID)
	}
	if err := ws.CheckoutOrCreate(ctx, branch, baseBranch); err != nil {
		return r.reportGitFailure(ctx, ticket, err)
	}

	_ = r.client.Status(ctx, ticket.ID, r.cfg.AgentID, ticket.ClaimToken, string(models.StatusInProgress))

	level := models.ValidationLevel(settings.ValidationLevel)
	if !level.IsValid() {
		level = models.ValidationStandard
	}
	model := r.resolveModel(settings, ticket.EstimatedScope)

	var feedback *Feedback
	if ticket.ReviewFeedback != "" {
		feedback = &Feedback{ReviewNote: ticket.ReviewFeedback}
	}
	maxAttempts := r.cfg.MaxInternalAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if hb.IsStale() {
			return tkterrors.StaleClaim(ticket.ID)
		}

		if attempt >= 2 {
			if err := ws.Reset(ctx); err != nil {
				return r.reportGitFailure(ctx, ticket, err)
			}
		}

		attemptStart := time.Now()

		existing := r.fetchExisting(ws.Dir, ticket.FilesToModify)
		prompt := BuildPrompt(ticket, existing, feedback)

		genResult, err := r.llm.Generate(ctx, llm.GenerateParams{Model: model, System: SystemPersona, Prompt: prompt})
		if err != nil {
			r.recordAttempt(ctx, ticket.ID, attempt, attemptStart, 1, 0, 0, outcomeForGenErr(err))
			return r.reportRetryableFailure(ctx, ticket, err.Error())
		}

		r.emit(ctx, ticket.ID, "code_generation", fmt.Sprintf("attempt %d: generation call returned", attempt))

		out, parseErr := ParseGenerationOutput(genResult.Text)
		if parseErr != nil {
			feedback = &Feedback{ValidationIssues: []validator.Issue{{Message: "response was not parseable: " + parseErr.Error()}}}
			r.recordAttempt(ctx, ticket.ID, attempt, attemptStart, 1, genResult.InputTokens, genResult.OutputTokens, "parse_error")
			if attempt == maxAttempts {
				return r.reportExhausted(ctx, ticket, "validation_exhausted")
			}
			continue
		}

		if hb.IsStale() {
			return tkterrors.StaleClaim(ticket.ID)
		}

		if blocked := out.BlockedCriterion(); blocked != nil {
			r.emit(ctx, ticket.ID, "failure", "criterion "+blocked.ID+" reported BLOCKED: "+blocked.Evidence)
			r.recordAttempt(ctx, ticket.ID, attempt, attemptStart, 0, genResult.InputTokens, genResult.OutputTokens, "blocked")
			return r.client.Fail(ctx, ticket.ID, r.cfg.AgentID, ticket.ClaimToken, "BLOCKED: "+blocked.Evidence, false)
		}

		edits := toPatchEdits(out)
		engine := patchengine.New(ws.Dir)
		result := engine.Apply(edits)

		if len(result.Failed) > 0 {
			feedback = &Feedback{PatchFailures: result.Failed}
			r.recordAttempt(ctx, ticket.ID, attempt, attemptStart, len(result.Failed), genResult.InputTokens, genResult.OutputTokens, "patch_failed")
			if attempt == maxAttempts {
				return r.reportExhausted(ctx, ticket, "patch_exhausted")
			}
			continue
		}

		_ = r.client.Status(ctx, ticket.ID, r.cfg.AgentID, ticket.ClaimToken, string(models.StatusVerifying))

		report := validator.New(ws.Dir, result.Written).Run(ctx, level, r.cfg.ValidationTimeout)
		r.emit(ctx, ticket.ID, "validation", fmt.Sprintf("attempt %d: %d issue(s)", attempt, len(report.Issues)))

		if !report.Passed() {
			feedback = &Feedback{ValidationIssues: report.Issues}
			r.recordAttempt(ctx, ticket.ID, attempt, attemptStart, len(report.Issues), genResult.InputTokens, genResult.OutputTokens, "validation_failed")
			if attempt == maxAttempts {
				return r.reportExhausted(ctx, ticket, "validation_exhausted")
			}
			_ = r.client.Status(ctx, ticket.ID, r.cfg.AgentID, ticket.ClaimToken, string(models.StatusInProgress))
			continue
		}

		r.recordAttempt(ctx, ticket.ID, attempt, attemptStart, 0, genResult.InputTokens, genResult.OutputTokens, "candidate_produced")

		if hb.IsStale() {
			return tkterrors.StaleClaim(ticket.ID)
		}

		return r.finish(ctx, ticket, ws, branch, baseBranch, out, result.Written, hb)
	}

	return r.reportExhausted(ctx, ticket, "validation_exhausted")
}

// finish commits, pushes, opens a PR, and reports success.
func (r *Runtime) finish(ctx context.Context, ticket TicketView, ws *gitops.Workspace, branch, baseBranch string, out *GenerationOutput, filesChanged []string, hb *heartbeater) error {
	message := gitops.CommitMessage(ticket.ID, ticket.Title, out.Summary)
	sha, err := ws.CommitAndPush(ctx, ticket.ID, branch, message)
	if err != nil {
		if tkterrors.Is(err, tkterrors.KindEmptyCommit) {
			return r.client.Fail(ctx, ticket.ID, r.cfg.AgentID, ticket.ClaimToken, "no changes produced", false)
		}
		return r.reportGitFailure(ctx, ticket, err)
	}
	r.emit(ctx, ticket.ID, "git_operation", "committed and pushed "+sha)

	if hb.IsStale() {
		return tkterrors.StaleClaim(ticket.ID)
	}

	owner, repo, err := parseOwnerRepo(ticket.RepositoryURL)
	if err != nil {
		return r.client.Fail(ctx, ticket.ID, r.cfg.AgentID, ticket.ClaimToken, fmt.Sprintf("git_error: %v", err), true)
	}

	gh := ghclient.New(r.cfg.GitHubToken)
	pr, err := gh.CreatePR(ctx, ghclient.CreatePRParams{
		Owner:    owner,
		Repo:     repo,
		Head:     branch,
		Base:     baseBranch,
		Title:    fmt.Sprintf("%s: %s", ticket.ID, ticket.Title),
		Summary:  out.Summary,
		Criteria: toGHCriteria(out.AcceptanceCriteriaStatus),
	})
	if err != nil {
		return r.client.Fail(ctx, ticket.ID, r.cfg.AgentID, ticket.ClaimToken, fmt.Sprintf("pull request creation failed: %v", err), true)
	}

	r.emit(ctx, ticket.ID, "pr_created", pr.GetHTMLURL())

	return r.client.CompleteSuccess(ctx, ticket.ID, r.cfg.AgentID, ticket.ClaimToken,
		pr.GetHTMLURL(), branch, sha, out.AcceptanceCriteriaStatus, filesChanged)
}

func (r *Runtime) reportGitFailure(ctx context.Context, ticket TicketView, err error) error {
	r.emit(ctx, ticket.ID, "failure", "git_error: "+err.Error())
	if ticket.ClaimToken == "" {
		return err
	}
	return r.client.Fail(ctx, ticket.ID, r.cfg.AgentID, ticket.ClaimToken, "git_error: "+err.Error(), true)
}

func (r *Runtime) reportRetryableFailure(ctx context.Context, ticket TicketView, message string) error {
	return r.client.Fail(ctx, ticket.ID, r.cfg.AgentID, ticket.ClaimToken, message, true)
}

func (r *Runtime) reportExhausted(ctx context.Context, ticket TicketView, reason string) error {
	r.emit(ctx, ticket.ID, "failure", reason+": internal attempt budget exhausted")
	return r.client.CompleteFailure(ctx, ticket.ID, r.cfg.AgentID, ticket.ClaimToken, reason)
}

func (r *Runtime) emit(ctx context.Context, ticketID, category, message string) {
	if err := r.client.Activity(ctx, ticketID, r.cfg.AgentID, category, message, nil); err != nil {
		r.logger.Debug("failed to emit activity event", zap.String("ticket", ticketID), zap.Error(err))
	}
}

func (r *Runtime) recordAttempt(ctx context.Context, ticketID string, attempt int, start time.Time, errorCount int, inputTokens, outputTokens int64, outcome string) {
	tkmetrics.WorkerAttempts.WithLabelValues(outcome).Inc()
	if err := r.client.RecordAttempt(ctx, ticketID, r.cfg.AgentID, attempt, time.Since(start), errorCount, inputTokens, outputTokens, outcome); err != nil {
		r.logger.Debug("failed to record attempt", zap.String("ticket", ticketID), zap.Error(err))
	}
}

// fetchExisting reads the current contents of every file_to_modify path,
// truncating large files to bound prompt size. A missing path is logged
// but not fatal; a later "create" action may cover it.
func (r *Runtime) fetchExisting(root string, paths []string) []ExistingFile {
	var out []ExistingFile
	for _, p := range paths {
		data, err := os.ReadFile(filepath.Join(root, p))
		if err != nil {
			r.logger.Debug("existing file not found", zap.String("path", p))
			continue
		}
		out = append(out, ExistingFile{Path: p, Content: TruncateFile(string(data), r.cfg.MaxFileLines)})
	}
	return out
}

// resolveModel picks the LLM model for a ticket: the project's allow-list
// constrains the scope-to-model table's pick, falling back to the first
// allowed model when the table's choice isn't permitted.
func (r *Runtime) resolveModel(settings ProjectSettingsView, scope string) string {
	model := ""
	if m, ok := r.cfg.ScopeToModelMap[scope]; ok && m != "" {
		model = m
	} else {
		model = r.cfg.DefaultModel
	}

	if len(settings.AllowedModels) == 0 {
		return model
	}
	for _, allowed := range settings.AllowedModels {
		if allowed == model {
			return model
		}
	}
	return settings.AllowedModels[0]
}

func outcomeForGenErr(err error) string {
	if tkterrors.Is(err, tkterrors.KindNetworkError) {
		return "network_error"
	}
	return "api_error"
}

// toPatchEdits converts the model's file and test edits into
// patchengine.FileEdit records. Tests are always materialized as
// action=create.
func toPatchEdits(out *GenerationOutput) []patchengine.FileEdit {
	edits := make([]patchengine.FileEdit, 0, len(out.Files)+len(out.Tests))
	for _, f := range out.Files {
		edit := patchengine.FileEdit{Path: f.Path, Action: patchengine.Action(f.Action), Content: f.Content}
		for _, p := range f.Patches {
			edit.Patches = append(edit.Patches, patchengine.Patch{Search: p.Search, Replace: p.Replace})
		}
		edits = append(edits, edit)
	}
	for _, t := range out.Tests {
		edits = append(edits, patchengine.FileEdit{Path: t.Path, Action: patchengine.ActionCreate, Content: t.Content})
	}
	return edits
}

func toGHCriteria(in []CriterionStatus) []ghclient.Criterion {
	out := make([]ghclient.Criterion, 0, len(in))
	for _, c := range in {
		out = append(out, ghclient.Criterion{ID: c.ID, Status: c.Status, Evidence: c.Evidence})
	}
	return out
}

// ownerRepoRegex extracts "owner/repo" from an https GitHub remote URL,
// with or without a trailing ".git".
var ownerRepoRegex = regexp.MustCompile(`github\.com[:/]([^/]+)/([^/.]+)(\.git)?/?$`)

func parseOwnerRepo(repoURL string) (owner, repo string, err error) {
	m := ownerRepoRegex.FindStringSubmatch(repoURL)
	if m == nil {
		return "", "", fmt.Errorf("could not parse owner/repo from %q", repoURL)
	}
	return m[1], m[2], nil
}

package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/daglabs/ticketwright/internal/db"
	"github.com/daglabs/ticketwright/internal/models"
	"github.com/daglabs/ticketwright/internal/state"
	"github.com/daglabs/ticketwright/internal/tasks"
	"github.com/spf13/cobra"
)

var (
	ticketProject       string
	ticketDescription   string
	ticketScope         string
	ticketFilesCreate   []string
	ticketFilesModify   []string
	ticketCriteria      []string
	ticketDependsOn     []string
	ticketEpic          string
	ticketStatusFilter  string
	ticketScopeFilter   string
	ticketCancelReason  string
	ticketReviewFeedback string
)

func init() {
	ticketCreateCmd.Flags().StringVarP(&ticketProject, "project", "p", "", "Project key (default: config default_project)")
	ticketCreateCmd.Flags().StringVarP(&ticketDescription, "description", "d", "", "Ticket description")
	ticketCreateCmd.Flags().StringVar(&ticketScope, "scope", "medium", "Estimated scope: small, medium, large")
	ticketCreateCmd.Flags().StringSliceVar(&ticketFilesCreate, "create", nil, "File path the worker is expected to create (repeatable)")
	ticketCreateCmd.Flags().StringSliceVar(&ticketFilesModify, "modify", nil, "File path the worker is expected to modify (repeatable)")
	ticketCreateCmd.Flags().StringSliceVar(&ticketCriteria, "criteria", nil, "Acceptance criterion (repeatable)")
	ticketCreateCmd.Flags().StringSliceVar(&ticketDependsOn, "depends-on", nil, "Ticket key this ticket depends on (repeatable)")
	ticketCreateCmd.Flags().StringVar(&ticketEpic, "epic", "", "Parent epic ticket key")

	ticketListCmd.Flags().StringVarP(&ticketProject, "project", "p", "", "Filter by project key")
	ticketListCmd.Flags().StringVar(&ticketStatusFilter, "status", "", "Filter by status")
	ticketListCmd.Flags().StringVar(&ticketScopeFilter, "scope", "", "Filter by estimated scope")

	ticketCancelCmd.Flags().StringVar(&ticketCancelReason, "reason", "", "Reason for cancellation")

	ticketDepAddCmd.Flags().StringVar(&ticketEpic, "on", "", "Ticket key this ticket depends on (required)")
	ticketDepAddCmd.MarkFlagRequired("on")
	ticketDepRemoveCmd.Flags().StringVar(&ticketEpic, "on", "", "Dependency ticket key to remove (required)")
	ticketDepRemoveCmd.MarkFlagRequired("on")

	ticketDepCmd.AddCommand(ticketDepAddCmd)
	ticketDepCmd.AddCommand(ticketDepRemoveCmd)

	ticketReviewRejectCmd.Flags().StringVar(&ticketReviewFeedback, "feedback", "", "Reviewer feedback passed to the next generation attempt (required)")
	ticketReviewRejectCmd.MarkFlagRequired("feedback")
	ticketReviewCmd.AddCommand(ticketReviewApproveCmd)
	ticketReviewCmd.AddCommand(ticketReviewRejectCmd)

	ticketCmd.AddCommand(ticketCreateCmd)
	ticketCmd.AddCommand(ticketApproveCmd)
	ticketCmd.AddCommand(ticketReviewCmd)
	ticketCmd.AddCommand(ticketListCmd)
	ticketCmd.AddCommand(ticketShowCmd)
	ticketCmd.AddCommand(ticketCancelCmd)
	ticketCmd.AddCommand(ticketRequeueCmd)
	ticketCmd.AddCommand(ticketQuarantinedCmd)
	ticketCmd.AddCommand(ticketAttemptsCmd)
	ticketCmd.AddCommand(ticketDepCmd)

	rootCmd.AddCommand(ticketCmd)
}

var ticketCmd = &cobra.Command{
	Use:   "ticket",
	Short: "Ticket management commands",
	Long:  `Create, inspect, and manage tickets in the dependency-gated backlog.`,
}

var ticketCreateCmd = &cobra.Command{
	Use:   "create <TITLE>",
	Short: "Create a new ticket",
	Long: `Create a new ticket in draft status.

A well-formed ticket (at least one --create or --modify file and at
least one --criteria) with no dependencies is promoted to ready
immediately; any other ticket stays in draft. A ticket that names
dependencies (--depends-on) stays in draft until every dependency
reaches done.

Examples:
  ticketwright ticket create "Add login page" --project WEBAPP
  ticketwright ticket create "Wire auth to login" --project WEBAPP --depends-on TKT-a1b2c3d4`,
	Args: cobra.ExactArgs(1),
	RunE: runTicketCreate,
}

func runTicketCreate(cmd *cobra.Command, args []string) error {
	database, err := db.Open(GetDBPath())
	if err != nil {
		return ErrDatabaseWithSuggestion(err, SuggestRunInit, "failed to open database")
	}
	defer database.Close()

	project, err := resolveProject(database, GetProjectWithDefault(ticketProject))
	if err != nil {
		return err
	}

	scope := models.Scope(strings.ToLower(ticketScope))
	if !scope.IsValid() {
		return ErrInvalidArgs("invalid scope %q (want small, medium, or large)", ticketScope)
	}

	ticket := &models.Ticket{
		ProjectID:          project.ID,
		Title:              args[0],
		Description:        ticketDescription,
		EstimatedScope:     scope,
		RepositoryURL:      project.RepositoryURL,
		FilesToCreate:      ticketFilesCreate,
		FilesToModify:      ticketFilesModify,
		MaxAttempts:        project.MaxAttempts,
		AcceptanceCriteria: parseCriteria(ticketCriteria),
	}

	ticketRepo := db.NewTicketRepo(database.DB)
	depRepo := db.NewDependencyRepo(database.DB)

	// A well-formed ticket with no dependencies is approved immediately;
	// anything else waits in draft for `ticket approve` or for its
	// dependencies to resolve.
	if len(ticketDependsOn) == 0 && ticket.IsWellFormed() {
		ticket.Status = models.StatusReady
	} else {
		ticket.Status = models.StatusDraft
	}

	if ticketEpic != "" {
		epic, err := resolveTicket(database, ticketEpic)
		if err != nil {
			return err
		}
		ticket.EpicID = &epic.ID
	}

	if err := ticketRepo.Create(ticket); err != nil {
		return ErrDatabase(err, "failed to create ticket")
	}

	for _, depKey := range ticketDependsOn {
		dep, err := resolveTicket(database, depKey)
		if err != nil {
			return err
		}
		if err := depRepo.Add(ticket.ID, dep.ID); err != nil {
			return ErrDatabase(err, "failed to add dependency on %s", depKey)
		}
	}

	if IsJSON() {
		data, _ := json.MarshalIndent(ticket, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	OutputLine("Created ticket: %s", ticket.Key)
	OutputLine("Title: %s", ticket.Title)
	OutputLine("Status: %s", ticket.Status)
	return nil
}

func parseCriteria(descriptions []string) []models.Criterion {
	if len(descriptions) == 0 {
		return nil
	}
	criteria := make([]models.Criterion, len(descriptions))
	for i, d := range descriptions {
		criteria[i] = models.Criterion{ID: fmt.Sprintf("AC-%d", i+1), Description: d}
	}
	return criteria
}

var ticketApproveCmd = &cobra.Command{
	Use:   "approve <KEY>",
	Short: "Approve a draft ticket for work",
	Long: `Promote a draft ticket to ready so workers can claim it.

Approval requires the ticket to be well-formed: at least one target file
(--create or --modify) and at least one acceptance criterion. A ticket
with unresolved dependencies stays draft until they complete.`,
	Args: cobra.ExactArgs(1),
	RunE: runTicketApprove,
}

func runTicketApprove(cmd *cobra.Command, args []string) error {
	database, err := db.Open(GetDBPath())
	if err != nil {
		return ErrDatabaseWithSuggestion(err, SuggestRunInit, "failed to open database")
	}
	defer database.Close()

	ticket, err := resolveTicket(database, args[0])
	if err != nil {
		return err
	}
	if ticket.Status != models.StatusDraft {
		return ErrStateError("ticket %s is not draft (status: %s)", ticket.Key, ticket.Status)
	}
	if !ticket.IsWellFormed() {
		return ErrStateError("ticket %s is not well-formed: it needs at least one target file and one acceptance criterion", ticket.Key)
	}

	depRepo := db.NewDependencyRepo(database.DB)
	hasUnresolved, err := depRepo.HasUnresolvedDependencies(ticket.ID)
	if err != nil {
		return ErrDatabase(err, "failed to check dependencies")
	}
	if hasUnresolved {
		OutputLine("Ticket %s approved but has unresolved dependencies; it stays draft until they complete.", ticket.Key)
		return nil
	}

	ticketRepo := db.NewTicketRepo(database.DB)
	if err := ticketRepo.TransitionBy(ticket.ID, models.StatusDraft, models.StatusReady,
		models.ActorTypeHuman, "", "approved for work", nil); err != nil {
		return ErrConcurrentConflictWithSuggestion(fmt.Sprintf(SuggestCheckStatus, ticket.Key), "failed to approve ticket %s: %v", ticket.Key, err)
	}

	OutputLine("Approved ticket: %s", ticket.Key)
	return nil
}

var ticketReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Record a review verdict for a ticket awaiting review",
}

var ticketReviewApproveCmd = &cobra.Command{
	Use:   "approve <KEY>",
	Short: "Approve a ticket's pull request, marking the ticket done",
	Args:  cobra.ExactArgs(1),
	RunE:  runTicketReviewApprove,
}

func runTicketReviewApprove(cmd *cobra.Command, args []string) error {
	database, err := db.Open(GetDBPath())
	if err != nil {
		return ErrDatabaseWithSuggestion(err, SuggestRunInit, "failed to open database")
	}
	defer database.Close()

	ticket, err := resolveTicket(database, args[0])
	if err != nil {
		return err
	}
	if ticket.Status != models.StatusInReview {
		return ErrStateError("ticket %s is not awaiting review (status: %s)", ticket.Key, ticket.Status)
	}

	ticketRepo := db.NewTicketRepo(database.DB)
	resolution := models.ResolutionCompleted
	now := fromNow()
	if err := ticketRepo.TransitionBy(ticket.ID, models.StatusInReview, models.StatusDone,
		models.ActorTypeHuman, "", "pull request approved", func(t *models.Ticket) {
			t.Resolution = resolution
			t.CompletedAt = &now
		}); err != nil {
		return ErrConcurrentConflictWithSuggestion(fmt.Sprintf(SuggestCheckStatus, ticket.Key), "failed to approve ticket %s: %v", ticket.Key, err)
	}

	eventRepo := db.NewEventRepo(database.DB)
	eventRepo.Log(ticket.ID, models.CategoryCompleted, models.ActorTypeHuman, "", "review approved, ticket done")

	// Dependents blocked only on this ticket become ready now instead of
	// waiting for the next readiness poll.
	resolver := tasks.NewDependencyResolver(database.DB)
	if result, err := resolver.OnTicketDone(ticket.ID); err == nil && result.Unblocked > 0 {
		OutputLine("Unblocked %d dependent ticket(s)", result.Unblocked)
	}

	OutputLine("Done: %s", ticket.Key)
	return nil
}

var ticketReviewRejectCmd = &cobra.Command{
	Use:   "reject <KEY>",
	Short: "Request changes, returning the ticket to the queue",
	Long: `Return an in-review ticket to ready with the reviewer's feedback
attached. The next worker to claim the ticket receives the feedback in
its generation prompt. The attempt count is reset.`,
	Args: cobra.ExactArgs(1),
	RunE: runTicketReviewReject,
}

func runTicketReviewReject(cmd *cobra.Command, args []string) error {
	database, err := db.Open(GetDBPath())
	if err != nil {
		return ErrDatabaseWithSuggestion(err, SuggestRunInit, "failed to open database")
	}
	defer database.Close()

	ticket, err := resolveTicket(database, args[0])
	if err != nil {
		return err
	}
	if ticket.Status != models.StatusInReview {
		return ErrStateError("ticket %s is not awaiting review (status: %s)", ticket.Key, ticket.Status)
	}

	ticketRepo := db.NewTicketRepo(database.DB)
	if err := ticketRepo.TransitionBy(ticket.ID, models.StatusInReview, models.StatusReady,
		models.ActorTypeHuman, "", "reviewer requested changes", func(t *models.Ticket) {
			t.Attempts = 0
			t.ReviewFeedback = ticketReviewFeedback
		}); err != nil {
		return ErrConcurrentConflictWithSuggestion(fmt.Sprintf(SuggestCheckStatus, ticket.Key), "failed to reject ticket %s: %v", ticket.Key, err)
	}

	OutputLine("Returned %s to ready with reviewer feedback", ticket.Key)
	return nil
}

var ticketListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickets",
	Long: `List tickets, optionally filtered by project, status, or scope.

Examples:
  ticketwright ticket list --project WEBAPP
  ticketwright ticket list --status ready`,
	Args: cobra.NoArgs,
	RunE: runTicketList,
}

func runTicketList(cmd *cobra.Command, args []string) error {
	database, err := db.Open(GetDBPath())
	if err != nil {
		return ErrDatabaseWithSuggestion(err, SuggestRunInit, "failed to open database")
	}
	defer database.Close()

	filter := db.TicketFilter{ProjectKey: strings.ToUpper(GetProjectWithDefault(ticketProject)), Limit: 1000}
	if ticketStatusFilter != "" {
		status := models.Status(strings.ToLower(ticketStatusFilter))
		if !status.IsValid() {
			return ErrInvalidArgs("invalid status %q", ticketStatusFilter)
		}
		filter.Status = &status
	}
	if ticketScopeFilter != "" {
		scope := models.Scope(strings.ToLower(ticketScopeFilter))
		if !scope.IsValid() {
			return ErrInvalidArgs("invalid scope %q", ticketScopeFilter)
		}
		filter.Scope = &scope
	}

	ticketRepo := db.NewTicketRepo(database.DB)
	tickets, err := ticketRepo.List(filter)
	if err != nil {
		return ErrDatabase(err, "failed to list tickets")
	}

	if IsJSON() {
		data, _ := json.MarshalIndent(tickets, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	if len(tickets) == 0 {
		OutputLine("No tickets found.")
		return nil
	}

	fmt.Printf("%-14s %-12s %-8s %s\n", "KEY", "STATUS", "SCOPE", "TITLE")
	fmt.Println(strings.Repeat("-", 70))
	for _, t := range tickets {
		fmt.Printf("%-14s %-12s %-8s %s\n", t.Key, t.Status, t.EstimatedScope, truncate(t.Title, 40))
	}
	return nil
}

var ticketShowCmd = &cobra.Command{
	Use:   "show <KEY>",
	Short: "Show ticket details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTicketShow,
}

func runTicketShow(cmd *cobra.Command, args []string) error {
	database, err := db.Open(GetDBPath())
	if err != nil {
		return ErrDatabaseWithSuggestion(err, SuggestRunInit, "failed to open database")
	}
	defer database.Close()

	ticket, err := resolveTicket(database, args[0])
	if err != nil {
		return err
	}

	depRepo := db.NewDependencyRepo(database.DB)
	deps, err := depRepo.GetDependencies(ticket.ID)
	if err != nil {
		return ErrDatabase(err, "failed to get dependencies")
	}

	if IsJSON() {
		type shown struct {
			*models.Ticket
			Dependencies []*models.Ticket `json:"dependencies,omitempty"`
		}
		data, _ := json.MarshalIndent(shown{Ticket: ticket, Dependencies: deps}, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Ticket:      %s\n", ticket.Key)
	fmt.Printf("Title:       %s\n", ticket.Title)
	fmt.Printf("Status:      %s\n", ticket.Status)
	fmt.Printf("Scope:       %s\n", ticket.EstimatedScope)
	fmt.Printf("Attempts:    %d/%d\n", ticket.Attempts, ticket.MaxAttempts)
	if ticket.Description != "" {
		fmt.Printf("Description: %s\n", ticket.Description)
	}
	if ticket.AssigneeID != "" {
		fmt.Printf("Assignee:    %s\n", ticket.AssigneeID)
	}
	if len(deps) > 0 {
		fmt.Println("Depends on:")
		for _, d := range deps {
			fmt.Printf("  - %s [%s] %s\n", d.Key, d.Status, truncate(d.Title, 40))
		}
	}
	return nil
}

var ticketCancelCmd = &cobra.Command{
	Use:   "cancel <KEY>",
	Short: "Cancel a ticket",
	Long:  `Cancel a ticket, marking it terminal with resolution "wont_do".`,
	Args:  cobra.ExactArgs(1),
	RunE:  runTicketCancel,
}

func runTicketCancel(cmd *cobra.Command, args []string) error {
	database, err := db.Open(GetDBPath())
	if err != nil {
		return ErrDatabaseWithSuggestion(err, SuggestRunInit, "failed to open database")
	}
	defer database.Close()

	ticket, err := resolveTicket(database, args[0])
	if err != nil {
		return err
	}
	if !state.CanBeClosed(ticket.Status) {
		return ErrStateError("ticket %s cannot be cancelled from status %s", ticket.Key, ticket.Status)
	}

	msg := "cancelled"
	if ticketCancelReason != "" {
		msg = fmt.Sprintf("cancelled: %s", ticketCancelReason)
	}

	ticketRepo := db.NewTicketRepo(database.DB)
	now := fromNow()
	if err := ticketRepo.TransitionBy(ticket.ID, ticket.Status, models.StatusCancelled,
		models.ActorTypeHuman, "", msg, func(t *models.Ticket) {
			t.Resolution = models.ResolutionWontDo
			t.CompletedAt = &now
			t.AssigneeID = ""
			t.ClaimToken = ""
			t.ClaimExpiresAt = nil
			t.LastHeartbeatAt = nil
		}); err != nil {
		return ErrConcurrentConflictWithSuggestion(fmt.Sprintf(SuggestCheckStatus, ticket.Key), "failed to cancel ticket %s: %v", ticket.Key, err)
	}

	// Any in-flight claim becomes stale so the holding worker aborts on
	// its next heartbeat instead of pushing a result.
	claimRepo := db.NewClaimRepo(database.DB)
	if active, err := claimRepo.GetActiveByTicketID(ticket.ID); err == nil && active != nil {
		claimRepo.Release(active.Token, models.ClaimStatusReleased)
	}

	OutputLine("Cancelled ticket: %s", ticket.Key)
	return nil
}

var ticketRequeueCmd = &cobra.Command{
	Use:   "requeue <KEY>",
	Short: "Return a quarantined ticket to ready",
	Long:  `Reset a quarantined ticket's attempt count and return it to ready.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runTicketRequeue,
}

func runTicketRequeue(cmd *cobra.Command, args []string) error {
	database, err := db.Open(GetDBPath())
	if err != nil {
		return ErrDatabaseWithSuggestion(err, SuggestRunInit, "failed to open database")
	}
	defer database.Close()

	ticket, err := resolveTicket(database, args[0])
	if err != nil {
		return err
	}
	if ticket.Status != models.StatusQuarantined {
		return ErrStateError("ticket %s is not quarantined (status: %s)", ticket.Key, ticket.Status)
	}

	ticketRepo := db.NewTicketRepo(database.DB)
	if err := ticketRepo.TransitionBy(ticket.ID, models.StatusQuarantined, models.StatusReady,
		models.ActorTypeHuman, "", "requeued from quarantine", func(t *models.Ticket) {
			t.Attempts = 0
			t.LastErrorClass = ""
		}); err != nil {
		return ErrConcurrentConflictWithSuggestion(fmt.Sprintf(SuggestCheckStatus, ticket.Key), "failed to requeue ticket %s: %v", ticket.Key, err)
	}

	OutputLine("Requeued ticket: %s", ticket.Key)
	return nil
}

var ticketQuarantinedCmd = &cobra.Command{
	Use:   "quarantined",
	Short: "List quarantined tickets",
	Long:  `List tickets that exhausted their attempt budget and are waiting on human triage.`,
	Args:  cobra.NoArgs,
	RunE:  runTicketQuarantined,
}

func runTicketQuarantined(cmd *cobra.Command, args []string) error {
	database, err := db.Open(GetDBPath())
	if err != nil {
		return ErrDatabaseWithSuggestion(err, SuggestRunInit, "failed to open database")
	}
	defer database.Close()

	status := models.StatusQuarantined
	filter := db.TicketFilter{ProjectKey: strings.ToUpper(GetProjectWithDefault(ticketProject)), Status: &status, Limit: 1000}
	ticketRepo := db.NewTicketRepo(database.DB)
	tickets, err := ticketRepo.List(filter)
	if err != nil {
		return ErrDatabase(err, "failed to list quarantined tickets")
	}

	if IsJSON() {
		data, _ := json.MarshalIndent(tickets, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	if len(tickets) == 0 {
		OutputLine("No quarantined tickets.")
		return nil
	}

	fmt.Printf("%-14s %-10s %s\n", "KEY", "ATTEMPTS", "TITLE")
	fmt.Println(strings.Repeat("-", 60))
	for _, t := range tickets {
		fmt.Printf("%-14s %d/%-8d %s\n", t.Key, t.Attempts, t.MaxAttempts, truncate(t.Title, 40))
	}
	return nil
}

var ticketAttemptsCmd = &cobra.Command{
	Use:   "attempts <KEY>",
	Short: "Show attempt history for a ticket",
	Args:  cobra.ExactArgs(1),
	RunE:  runTicketAttempts,
}

func runTicketAttempts(cmd *cobra.Command, args []string) error {
	database, err := db.Open(GetDBPath())
	if err != nil {
		return ErrDatabaseWithSuggestion(err, SuggestRunInit, "failed to open database")
	}
	defer database.Close()

	ticket, err := resolveTicket(database, args[0])
	if err != nil {
		return err
	}

	attemptRepo := db.NewAttemptRepo(database.DB)
	attempts, err := attemptRepo.ListByTicket(ticket.ID)
	if err != nil {
		return ErrDatabase(err, "failed to list attempts")
	}

	if IsJSON() {
		data, _ := json.MarshalIndent(attempts, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	if len(attempts) == 0 {
		OutputLine("No recorded attempts for %s.", ticket.Key)
		return nil
	}

	fmt.Printf("%-4s %-20s %-10s %-8s %s\n", "#", "STARTED", "DURATION", "ERRORS", "OUTCOME")
	fmt.Println(strings.Repeat("-", 65))
	for _, a := range attempts {
		fmt.Printf("%-4d %-20s %-10s %-8d %s\n",
			a.AttemptNumber,
			a.StartedAt.Local().Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%dms", a.DurationMS),
			a.ErrorCount,
			a.Outcome,
		)
	}
	return nil
}

var ticketDepCmd = &cobra.Command{
	Use:   "dep",
	Short: "Manage ticket dependencies",
}

var ticketDepAddCmd = &cobra.Command{
	Use:   "add <KEY>",
	Short: "Add a dependency to a ticket",
	Long:  `Mark <KEY> as depending on another ticket (--on). Rejects cycles.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runTicketDepAdd,
}

func runTicketDepAdd(cmd *cobra.Command, args []string) error {
	database, err := db.Open(GetDBPath())
	if err != nil {
		return ErrDatabaseWithSuggestion(err, SuggestRunInit, "failed to open database")
	}
	defer database.Close()

	ticket, err := resolveTicket(database, args[0])
	if err != nil {
		return err
	}
	if !state.CanModifyDependencies(ticket.Status) {
		return ErrStateError("cannot modify dependencies of %s in status %s", ticket.Key, ticket.Status)
	}
	dep, err := resolveTicket(database, ticketEpic)
	if err != nil {
		return err
	}

	depRepo := db.NewDependencyRepo(database.DB)
	if err := depRepo.Add(ticket.ID, dep.ID); err != nil {
		return ErrStateError("failed to add dependency: %v", err)
	}

	// A newly-added unresolved dependency can push a ready ticket back to draft.
	if ticket.Status == models.StatusReady && dep.Status != models.StatusDone {
		ticketRepo := db.NewTicketRepo(database.DB)
		ticketRepo.Transition(ticket.ID, models.StatusReady, models.StatusDraft, nil)
	}

	OutputLine("Added dependency: %s depends on %s", ticket.Key, dep.Key)
	return nil
}

var ticketDepRemoveCmd = &cobra.Command{
	Use:   "remove <KEY>",
	Short: "Remove a dependency from a ticket",
	Args:  cobra.ExactArgs(1),
	RunE:  runTicketDepRemove,
}

func runTicketDepRemove(cmd *cobra.Command, args []string) error {
	database, err := db.Open(GetDBPath())
	if err != nil {
		return ErrDatabaseWithSuggestion(err, SuggestRunInit, "failed to open database")
	}
	defer database.Close()

	ticket, err := resolveTicket(database, args[0])
	if err != nil {
		return err
	}
	dep, err := resolveTicket(database, ticketEpic)
	if err != nil {
		return err
	}

	depRepo := db.NewDependencyRepo(database.DB)
	if err := depRepo.Remove(ticket.ID, dep.ID); err != nil {
		return ErrDatabase(err, "failed to remove dependency")
	}

	resolver := tasks.NewDependencyResolver(database.DB)
	if ticket.Status == models.StatusDraft {
		resolver.ResolveAll(ticket.ProjectID)
	}

	OutputLine("Removed dependency: %s no longer depends on %s", ticket.Key, dep.Key)
	return nil
}

package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/daglabs/ticketwright/internal/common"
	"github.com/daglabs/ticketwright/internal/db"
	"github.com/daglabs/ticketwright/internal/models"
	"github.com/spf13/cobra"
)

var statusProject string

func init() {
	statusCmd.Flags().StringVarP(&statusProject, "project", "p", "", "Filter by project key")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a quick status overview",
	Long: `Display ticket and claim counts across the backlog.

Examples:
  ticketwright status
  ticketwright status --project WEBAPP`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

// StatusResult is the status overview payload.
type StatusResult struct {
	Project        string              `json:"project,omitempty"`
	Ready          int                 `json:"ready"`
	InProgress     int                 `json:"in_progress"`
	Draft          int                 `json:"draft_blocked"`
	NeedsReview    int                 `json:"needs_review"`
	Quarantined    int                 `json:"quarantined"`
	ExpiringSoon   []*expiringClaim    `json:"expiring_soon,omitempty"`
	RecentActivity []*activitySummary  `json:"recent_activity,omitempty"`
}

type expiringClaim struct {
	TicketKey   string `json:"ticket_key"`
	AssigneeID  string `json:"assignee_id"`
	MinutesLeft int    `json:"minutes_left"`
}

type activitySummary struct {
	TicketKey string `json:"ticket_key"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	Age       string `json:"age"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	database, err := db.Open(GetDBPath())
	if err != nil {
		return ErrDatabaseWithSuggestion(err, SuggestRunInit, "failed to open database")
	}
	defer database.Close()

	result := StatusResult{Project: strings.ToUpper(GetProjectWithDefault(statusProject))}

	ticketRepo := db.NewTicketRepo(database.DB)
	claimRepo := db.NewClaimRepo(database.DB)
	eventRepo := db.NewEventRepo(database.DB)

	countByStatus := func(status models.Status) int {
		filter := db.TicketFilter{ProjectKey: result.Project, Status: &status, Limit: 10000}
		tickets, err := ticketRepo.List(filter)
		if err != nil {
			return 0
		}
		return len(tickets)
	}

	result.Ready = countByStatus(models.StatusReady)
	result.InProgress = countByStatus(models.StatusInProgress) +
		countByStatus(models.StatusAssigned) +
		countByStatus(models.StatusVerifying) +
		countByStatus(models.StatusInReview)
	result.Draft = countByStatus(models.StatusDraft)
	result.NeedsReview = countByStatus(models.StatusNeedsReview)
	result.Quarantined = countByStatus(models.StatusQuarantined)

	// Ticket keys are opaque (TKT-xxxxxxxx) and carry no project prefix, so
	// claims aren't filtered by --project here; the counts above already are.
	activeClaims, err := claimRepo.ListActive()
	if err == nil {
		for _, c := range activeClaims {
			remaining := c.TimeRemaining()
			if remaining > 0 && remaining.Minutes() <= 30 {
				result.ExpiringSoon = append(result.ExpiringSoon, &expiringClaim{
					TicketKey:   c.TicketKey,
					AssigneeID:  c.AssigneeID,
					MinutesLeft: int(remaining.Minutes()),
				})
			}
		}
	}

	events, err := eventRepo.List(db.EventFilter{Limit: 10})
	if err == nil {
		for _, e := range events {
			result.RecentActivity = append(result.RecentActivity, &activitySummary{
				TicketKey: e.TicketKey,
				Category:  string(e.Category),
				Message:   e.Message,
				Age:       common.FormatAge(e.CreatedAt),
			})
		}
	}

	if IsJSON() {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	title := "ticketwright status"
	if result.Project != "" {
		title = fmt.Sprintf("ticketwright status: %s", result.Project)
	}
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Ready:          %d\n", result.Ready)
	fmt.Printf("In progress:    %d\n", result.InProgress)
	fmt.Printf("Draft (blocked):%d\n", result.Draft)
	fmt.Printf("Needs review:   %d\n", result.NeedsReview)
	fmt.Printf("Quarantined:    %d\n", result.Quarantined)
	fmt.Println()

	if len(result.ExpiringSoon) > 0 {
		fmt.Println("Claims expiring soon:")
		for _, e := range result.ExpiringSoon {
			fmt.Printf("  %s (%s) in %dm\n", e.TicketKey, e.AssigneeID, e.MinutesLeft)
		}
	} else {
		fmt.Println("Claims expiring soon: none")
	}

	if len(result.RecentActivity) > 0 {
		fmt.Println()
		fmt.Println("Recent activity:")
		for _, a := range result.RecentActivity {
			fmt.Printf("  - %s %s (%s)\n", a.TicketKey, a.Message, a.Age)
		}
	}

	return nil
}

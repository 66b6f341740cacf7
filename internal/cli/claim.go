package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/daglabs/ticketwright/internal/claimsvc"
	"github.com/daglabs/ticketwright/internal/db"
	"github.com/daglabs/ticketwright/internal/models"
	"github.com/spf13/cobra"
)

var (
	claimExpiredOnly bool
	claimSweepDaemon bool
	claimSweepInterval time.Duration
)

func init() {
	claimListCmd.Flags().BoolVar(&claimExpiredOnly, "expired", false, "Show only expired claims")
	claimSweepCmd.Flags().BoolVar(&claimSweepDaemon, "daemon", false, "Run the sweep in a loop until interrupted")
	claimSweepCmd.Flags().DurationVar(&claimSweepInterval, "interval", 30*time.Second, "Sweep interval when --daemon is set")

	claimCmd.AddCommand(claimListCmd)
	claimCmd.AddCommand(claimShowCmd)
	claimCmd.AddCommand(claimSweepCmd)

	rootCmd.AddCommand(claimCmd)
}

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Claim inspection and reclaim commands",
	Long:  `Inspect active claims and trigger the reclaim sweep that returns stalled claims to ready.`,
}

var claimListCmd = &cobra.Command{
	Use:   "list",
	Short: "List claims",
	Long: `List active or expired claims.

Examples:
  ticketwright claim list            # List active claims
  ticketwright claim list --expired  # List claims past their TTL, awaiting reclaim`,
	Args: cobra.NoArgs,
	RunE: runClaimList,
}

func runClaimList(cmd *cobra.Command, args []string) error {
	database, err := db.Open(GetDBPath())
	if err != nil {
		return ErrDatabaseWithSuggestion(err, SuggestRunInit, "failed to open database")
	}
	defer database.Close()

	claimRepo := db.NewClaimRepo(database.DB)

	var list []*models.Claim
	if claimExpiredOnly {
		list, err = claimRepo.ListExpired()
		if err != nil {
			return ErrDatabase(err, "failed to list expired claims")
		}
	} else {
		list, err = claimRepo.ListActive()
		if err != nil {
			return ErrDatabase(err, "failed to list active claims")
		}
	}

	if IsJSON() {
		data, _ := json.MarshalIndent(list, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	if len(list) == 0 {
		if claimExpiredOnly {
			OutputLine("No expired claims.")
		} else {
			OutputLine("No active claims.")
		}
		return nil
	}

	fmt.Printf("%-14s %-20s %-20s %s\n", "TICKET", "ASSIGNEE", "EXPIRES", "REMAINING")
	fmt.Println(strings.Repeat("-", 75))
	for _, c := range list {
		remaining := formatDuration(c.TimeRemaining())
		if c.IsExpired() {
			remaining = "EXPIRED"
		}
		fmt.Printf("%-14s %-20s %-20s %s\n",
			c.TicketKey,
			truncate(c.AssigneeID, 20),
			c.ExpiresAt.Local().Format("2006-01-02 15:04:05"),
			remaining,
		)
	}
	return nil
}

var claimSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reclaim expired claims",
	Long: `Run one pass of the reclaim sweep: every active claim whose TTL has
passed is returned to ready (incrementing its attempt count), or to
quarantined if the attempt budget is exhausted.

With --daemon, runs the sweep on a timer until interrupted (Ctrl+C),
firing once immediately and then every --interval.

Examples:
  ticketwright claim sweep
  ticketwright claim sweep --daemon --interval 15s`,
	Args: cobra.NoArgs,
	RunE: runClaimSweep,
}

func runClaimSweep(cmd *cobra.Command, args []string) error {
	database, err := db.Open(GetDBPath())
	if err != nil {
		return ErrDatabaseWithSuggestion(err, SuggestRunInit, "failed to open database")
	}
	defer database.Close()

	svc := claimsvc.New(database.DB)

	if claimSweepDaemon {
		return runClaimSweepDaemon(svc)
	}

	result, err := svc.Sweep()
	if err != nil {
		return ErrDatabase(err, "failed to run reclaim sweep")
	}
	printSweepResult(result)
	return nil
}

// runClaimSweepDaemon runs the reclaim sweep on a ticker until the process
// receives an interrupt or SIGTERM, mirroring the worker/serve commands'
// signal-driven shutdown.
func runClaimSweepDaemon(svc *claimsvc.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	OutputLine("Running reclaim sweep every %s. Press Ctrl+C to stop.", claimSweepInterval)
	err := svc.RunDaemon(ctx, claimSweepInterval, printSweepResult)
	if err != nil && err != context.Canceled {
		return ErrDatabase(err, "reclaim sweep daemon failed")
	}
	OutputLine("Sweep daemon stopped")
	return nil
}

func printSweepResult(result *claimsvc.ReclaimSweepResult) {
	if IsJSON() {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}

	if result.Processed == 0 {
		OutputLine("No expired claims to process.")
		return
	}

	OutputLine("Processed %d expired claim(s):", result.Processed)
	OutputLine("  Reclaimed:   %d", result.Reclaimed)
	OutputLine("  Quarantined: %d", result.Quarantined)
	if result.Errors > 0 {
		OutputLine("  Errors:      %d", result.Errors)
	}

	if IsVerbose() {
		for _, r := range result.Results {
			if r.ErrorMessage != "" {
				OutputLine("  %s: ERROR - %s", r.TicketKey, r.ErrorMessage)
			} else {
				OutputLine("  %s: -> %s (attempt %d/%d)", r.TicketKey, r.NewStatus, r.Attempts, r.MaxAttempts)
			}
		}
	}
}

var claimShowCmd = &cobra.Command{
	Use:   "show <TICKET_KEY>",
	Short: "Show the claim history for a ticket",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaimShow,
}

func runClaimShow(cmd *cobra.Command, args []string) error {
	database, err := db.Open(GetDBPath())
	if err != nil {
		return ErrDatabaseWithSuggestion(err, SuggestRunInit, "failed to open database")
	}
	defer database.Close()

	ticket, err := resolveTicket(database, args[0])
	if err != nil {
		return err
	}

	claimRepo := db.NewClaimRepo(database.DB)
	claims, err := claimRepo.ListByTicketID(ticket.ID)
	if err != nil {
		return ErrDatabase(err, "failed to get claim history")
	}

	if IsJSON() {
		data, _ := json.MarshalIndent(claims, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	if len(claims) == 0 {
		OutputLine("No claims found for %s", ticket.Key)
		return nil
	}

	fmt.Printf("Claim history for %s - %s\n", ticket.Key, ticket.Title)
	fmt.Println(strings.Repeat("-", 65))
	for _, c := range claims {
		fmt.Printf("  %s  %-10s  %s\n",
			c.ClaimedAt.Local().Format("2006-01-02 15:04:05"),
			c.Status,
			c.AssigneeID,
		)
	}
	return nil
}

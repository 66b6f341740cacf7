package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/daglabs/ticketwright/internal/db"
	"github.com/daglabs/ticketwright/internal/models"
)

// resolveProject looks up a project by key, returning a CLI error with a
// helpful suggestion if it isn't found.
func resolveProject(database *db.DB, key string) (*models.Project, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" {
		return nil, ErrInvalidArgsWithSuggestion(SuggestListProjects, "project key is required")
	}

	repo := db.NewProjectRepo(database.DB)
	project, err := repo.GetByKey(key)
	if err != nil {
		return nil, ErrDatabase(err, "failed to get project")
	}
	if project == nil {
		return nil, ErrNotFoundWithSuggestion(SuggestListProjects, "project %s not found", key)
	}
	return project, nil
}

// resolveTicket looks up a ticket by its key (e.g. "TKT-a1b2c3d4").
func resolveTicket(database *db.DB, key string) (*models.Ticket, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrInvalidArgsWithSuggestion(SuggestListTickets, "ticket key is required")
	}

	repo := db.NewTicketRepo(database.DB)
	ticket, err := repo.GetByKey(key)
	if err != nil {
		return nil, ErrDatabase(err, "failed to get ticket")
	}
	if ticket == nil {
		return nil, ErrNotFoundWithSuggestion(SuggestListTickets, "ticket %s not found", key)
	}
	return ticket, nil
}

// formatMinutes formats a count of minutes as a human-readable duration.
func formatMinutes(minutes int) string {
	if minutes <= 0 {
		return "0m"
	}
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	mins := minutes % 60
	if mins == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh%dm", hours, mins)
}

// formatDuration formats a time.Duration as a human-readable duration.
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0m"
	}
	return formatMinutes(int(d.Minutes()))
}

// fromNow returns the current time. Factored out so CLI commands have one
// place to stamp "now" onto a model field.
func fromNow() time.Time {
	return time.Now()
}

package db

import (
	"testing"

	tkterrors "github.com/daglabs/ticketwright/internal/errors"
	"github.com/daglabs/ticketwright/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTicketRepoTestProject(t *testing.T, database *DB) *models.Project {
	t.Helper()
	project := &models.Project{Key: "TEST", Name: "Test"}
	require.NoError(t, NewProjectRepo(database.DB).Create(project))
	return project
}

func newTicketRepoTestTicket(t *testing.T, database *DB, projectID int64, status models.Status) *models.Ticket {
	t.Helper()
	key, err := models.NewTicketKey()
	require.NoError(t, err)
	ticket := &models.Ticket{ProjectID: projectID, Key: key, Title: "t", Status: status}
	require.NoError(t, NewTicketRepo(database.DB).Create(ticket))
	return ticket
}

func TestTicketRepo_Transition_SucceedsOnMatchingFromStatus(t *testing.T) {
	database := NewTestDB(t)
	defer database.Close()

	project := newTicketRepoTestProject(t, database)
	repo := NewTicketRepo(database.DB)
	ticket := newTicketRepoTestTicket(t, database, project.ID, models.StatusReady)

	require.NoError(t, repo.Transition(ticket.ID, models.StatusReady, models.StatusAssigned, func(t *models.Ticket) {
		t.AssigneeID = "worker-1"
	}))

	updated, err := repo.GetByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, updated.Status)
	assert.Equal(t, "worker-1", updated.AssigneeID)
}

func TestTicketRepo_Transition_RejectsStaleFromStatus(t *testing.T) {
	database := NewTestDB(t)
	defer database.Close()

	project := newTicketRepoTestProject(t, database)
	repo := NewTicketRepo(database.DB)
	ticket := newTicketRepoTestTicket(t, database, project.ID, models.StatusReady)

	require.NoError(t, repo.Transition(ticket.ID, models.StatusReady, models.StatusAssigned, nil))

	err := repo.Transition(ticket.ID, models.StatusReady, models.StatusAssigned, nil)
	require.Error(t, err)
	assert.True(t, tkterrors.Is(err, tkterrors.KindStaleState))

	current, err := repo.GetByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, current.Status, "failed CAS must not mutate the row")
}

func TestTicketRepo_Transition_UnknownTicketReturnsNotFound(t *testing.T) {
	database := NewTestDB(t)
	defer database.Close()

	repo := NewTicketRepo(database.DB)
	err := repo.Transition(999, models.StatusReady, models.StatusAssigned, nil)
	require.Error(t, err)
	assert.True(t, tkterrors.Is(err, tkterrors.KindNotFound))
}

func TestTicketRepo_NextReady_ExcludesBlockedAndExcludedIDs(t *testing.T) {
	database := NewTestDB(t)
	defer database.Close()

	project := newTicketRepoTestProject(t, database)
	ticketRepo := NewTicketRepo(database.DB)
	depRepo := NewDependencyRepo(database.DB)

	blocker := newTicketRepoTestTicket(t, database, project.ID, models.StatusInProgress)
	blocked := newTicketRepoTestTicket(t, database, project.ID, models.StatusReady)
	require.NoError(t, depRepo.Add(blocked.ID, blocker.ID))

	claimable := newTicketRepoTestTicket(t, database, project.ID, models.StatusReady)

	next, err := ticketRepo.NextReady(project.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, claimable.ID, next.ID)

	next, err = ticketRepo.NextReady(project.ID, []int64{claimable.ID})
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestTicketRepo_NextReady_SkipsExhaustedAttemptBudget(t *testing.T) {
	database := NewTestDB(t)
	defer database.Close()

	project := newTicketRepoTestProject(t, database)
	ticketRepo := NewTicketRepo(database.DB)

	key, err := models.NewTicketKey()
	require.NoError(t, err)
	exhausted := &models.Ticket{
		ProjectID: project.ID, Key: key, Title: "exhausted",
		Status: models.StatusReady, Attempts: 3, MaxAttempts: 3,
	}
	require.NoError(t, ticketRepo.Create(exhausted))

	next, err := ticketRepo.NextReady(project.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestTicketRepo_Transition_AppendsStatusChangeEvent(t *testing.T) {
	database := NewTestDB(t)
	defer database.Close()

	project := newTicketRepoTestProject(t, database)
	repo := NewTicketRepo(database.DB)
	eventRepo := NewEventRepo(database.DB)
	ticket := newTicketRepoTestTicket(t, database, project.ID, models.StatusReady)

	require.NoError(t, repo.Transition(ticket.ID, models.StatusReady, models.StatusAssigned, nil))

	events, err := eventRepo.ListByTicket(ticket.ID, 10)
	require.NoError(t, err)
	var statusChanges int
	for _, e := range events {
		if e.Category == models.CategoryStatusChange {
			statusChanges++
			assert.Equal(t, "ready -> assigned", e.Message)
		}
	}
	assert.Equal(t, 1, statusChanges, "exactly one status_change event per transition")

	// A same-status CAS (heartbeat expiry bump) must not add an event.
	require.NoError(t, repo.Transition(ticket.ID, models.StatusAssigned, models.StatusAssigned, nil))
	count, err := eventRepo.CountByTicket(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, statusChanges, count)
}

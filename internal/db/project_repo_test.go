package db

import (
	"testing"
	"time"

	"github.com/daglabs/ticketwright/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countRows(t *testing.T, database *DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestProjectRepo_Delete_CascadesTicketData(t *testing.T) {
	database := NewTestDB(t)
	defer database.Close()

	projectRepo := NewProjectRepo(database.DB)
	ticketRepo := NewTicketRepo(database.DB)
	depRepo := NewDependencyRepo(database.DB)
	claimRepo := NewClaimRepo(database.DB)
	eventRepo := NewEventRepo(database.DB)
	attemptRepo := NewAttemptRepo(database.DB)

	doomed := &models.Project{Key: "DOOMED", Name: "Doomed"}
	require.NoError(t, projectRepo.Create(doomed))
	survivor := &models.Project{Key: "KEEP", Name: "Keeper"}
	require.NoError(t, projectRepo.Create(survivor))

	newTicket := func(projectID int64, status models.Status) *models.Ticket {
		key, err := models.NewTicketKey()
		require.NoError(t, err)
		ticket := &models.Ticket{ProjectID: projectID, Key: key, Title: "t", Status: status}
		require.NoError(t, ticketRepo.Create(ticket))
		return ticket
	}

	first := newTicket(doomed.ID, models.StatusReady)
	second := newTicket(doomed.ID, models.StatusDraft)
	kept := newTicket(survivor.ID, models.StatusReady)

	require.NoError(t, depRepo.Add(second.ID, first.ID))

	claim, err := models.NewClaim(first.ID, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, claimRepo.Create(claim))

	require.NoError(t, eventRepo.Log(first.ID, models.CategoryTicketClaimed, models.ActorTypeWorker, "worker-1", "claimed"))
	require.NoError(t, eventRepo.Log(kept.ID, models.CategoryStatusChange, models.ActorTypeSystem, "", "kept"))

	require.NoError(t, attemptRepo.Create(&models.AttemptHistory{
		TicketID: first.ID, AttemptNumber: 1, StartedAt: time.Now(), Outcome: "validation_failed",
	}))

	require.NoError(t, projectRepo.Delete(doomed.ID))

	gone, err := projectRepo.GetByKey("DOOMED")
	require.NoError(t, err)
	assert.Nil(t, gone)

	for _, id := range []int64{first.ID, second.ID} {
		ticket, err := ticketRepo.GetByID(id)
		require.NoError(t, err)
		assert.Nil(t, ticket)
	}

	assert.Equal(t, 0, countRows(t, database, "claims"))
	assert.Equal(t, 0, countRows(t, database, "ticket_dependencies"))
	assert.Equal(t, 0, countRows(t, database, "attempt_history"))

	// The other project and its data are untouched.
	keptTicket, err := ticketRepo.GetByID(kept.ID)
	require.NoError(t, err)
	require.NotNil(t, keptTicket)
	events, err := eventRepo.ListByTicket(kept.ID, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 1, countRows(t, database, "activity_log"))
}

func TestProjectRepo_Delete_UnknownProjectErrors(t *testing.T) {
	database := NewTestDB(t)
	defer database.Close()

	repo := NewProjectRepo(database.DB)
	require.Error(t, repo.Delete(999))
}

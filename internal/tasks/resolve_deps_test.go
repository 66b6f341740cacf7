package tasks

import (
	"testing"

	"github.com/daglabs/ticketwright/internal/db"
	"github.com/daglabs/ticketwright/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTaskProject(t *testing.T, database *db.DB) *models.Project {
	t.Helper()
	project := &models.Project{Key: "TEST", Name: "Test"}
	require.NoError(t, db.NewProjectRepo(database.DB).Create(project))
	return project
}

func seedTaskTicket(t *testing.T, database *db.DB, projectID int64, title string, status models.Status) *models.Ticket {
	t.Helper()
	key, err := models.NewTicketKey()
	require.NoError(t, err)
	ticket := &models.Ticket{
		ProjectID:          projectID,
		Key:                key,
		Title:              title,
		Status:             status,
		FilesToCreate:      []string{"src/main.go"},
		AcceptanceCriteria: []models.Criterion{{ID: "AC-1", Description: "does the thing"}},
	}
	require.NoError(t, db.NewTicketRepo(database.DB).Create(ticket))
	return ticket
}

func TestDependencyResolver_OnTicketDone_PromotesSingleDependent(t *testing.T) {
	database := db.NewTestDB(t)
	defer database.Close()

	project := seedTaskProject(t, database)
	ticketRepo := db.NewTicketRepo(database.DB)
	depRepo := db.NewDependencyRepo(database.DB)

	prerequisite := seedTaskTicket(t, database, project.ID, "prerequisite", models.StatusInProgress)
	dependent := seedTaskTicket(t, database, project.ID, "dependent", models.StatusDraft)

	require.NoError(t, depRepo.Add(dependent.ID, prerequisite.ID))

	require.NoError(t, ticketRepo.Transition(prerequisite.ID, models.StatusInProgress, models.StatusVerifying, nil))
	require.NoError(t, ticketRepo.Transition(prerequisite.ID, models.StatusVerifying, models.StatusInReview, nil))
	require.NoError(t, ticketRepo.Transition(prerequisite.ID, models.StatusInReview, models.StatusDone, nil))

	resolver := NewDependencyResolver(database.DB)
	result, err := resolver.OnTicketDone(prerequisite.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Unblocked)
	assert.Equal(t, 0, result.Errors)

	updated, err := ticketRepo.GetByID(dependent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, updated.Status)
}

func TestDependencyResolver_OnTicketDone_WaitsForAllPrerequisites(t *testing.T) {
	database := db.NewTestDB(t)
	defer database.Close()

	project := seedTaskProject(t, database)
	ticketRepo := db.NewTicketRepo(database.DB)
	depRepo := db.NewDependencyRepo(database.DB)

	prereqA := seedTaskTicket(t, database, project.ID, "prereq A", models.StatusDone)
	prereqB := seedTaskTicket(t, database, project.ID, "prereq B", models.StatusInProgress)
	dependent := seedTaskTicket(t, database, project.ID, "dependent", models.StatusDraft)

	require.NoError(t, depRepo.Add(dependent.ID, prereqA.ID))
	require.NoError(t, depRepo.Add(dependent.ID, prereqB.ID))

	resolver := NewDependencyResolver(database.DB)
	result, err := resolver.OnTicketDone(prereqA.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Unblocked, "dependent must wait for prereq B")

	updated, err := ticketRepo.GetByID(dependent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, updated.Status)

	require.NoError(t, ticketRepo.Transition(prereqB.ID, models.StatusInProgress, models.StatusReady, nil))
	require.NoError(t, ticketRepo.Transition(prereqB.ID, models.StatusReady, models.StatusAssigned, nil))
	require.NoError(t, ticketRepo.Transition(prereqB.ID, models.StatusAssigned, models.StatusInProgress, nil))
	require.NoError(t, ticketRepo.Transition(prereqB.ID, models.StatusInProgress, models.StatusVerifying, nil))
	require.NoError(t, ticketRepo.Transition(prereqB.ID, models.StatusVerifying, models.StatusInReview, nil))
	require.NoError(t, ticketRepo.Transition(prereqB.ID, models.StatusInReview, models.StatusDone, nil))

	result, err = resolver.OnTicketDone(prereqB.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Unblocked)

	updated, err = ticketRepo.GetByID(dependent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, updated.Status)
}

func TestDependencyResolver_OnTicketDone_IgnoresNonDraftDependents(t *testing.T) {
	database := db.NewTestDB(t)
	defer database.Close()

	project := seedTaskProject(t, database)
	ticketRepo := db.NewTicketRepo(database.DB)
	depRepo := db.NewDependencyRepo(database.DB)

	prerequisite := seedTaskTicket(t, database, project.ID, "prerequisite", models.StatusDone)
	dependent := seedTaskTicket(t, database, project.ID, "already ready", models.StatusReady)

	require.NoError(t, depRepo.Add(dependent.ID, prerequisite.ID))

	resolver := NewDependencyResolver(database.DB)
	result, err := resolver.OnTicketDone(prerequisite.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Unblocked)

	updated, err := ticketRepo.GetByID(dependent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, updated.Status)
}

func TestDependencyResolver_OnTicketDone_UnknownTicketErrors(t *testing.T) {
	database := db.NewTestDB(t)
	defer database.Close()

	resolver := NewDependencyResolver(database.DB)
	_, err := resolver.OnTicketDone(999)
	require.Error(t, err)
}

func TestDependencyResolver_ResolveAll_PromotesEveryEligibleDraft(t *testing.T) {
	database := db.NewTestDB(t)
	defer database.Close()

	project := seedTaskProject(t, database)
	ticketRepo := db.NewTicketRepo(database.DB)
	depRepo := db.NewDependencyRepo(database.DB)

	done := seedTaskTicket(t, database, project.ID, "done dep", models.StatusDone)
	eligible1 := seedTaskTicket(t, database, project.ID, "eligible 1", models.StatusDraft)
	eligible2 := seedTaskTicket(t, database, project.ID, "eligible 2", models.StatusDraft)
	stillWaiting := seedTaskTicket(t, database, project.ID, "still waiting", models.StatusDraft)
	unfinished := seedTaskTicket(t, database, project.ID, "unfinished dep", models.StatusInProgress)

	require.NoError(t, depRepo.Add(eligible1.ID, done.ID))
	require.NoError(t, depRepo.Add(eligible2.ID, done.ID))
	require.NoError(t, depRepo.Add(stillWaiting.ID, unfinished.ID))

	resolver := NewDependencyResolver(database.DB)
	result, err := resolver.ResolveAll(project.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Unblocked)
	assert.Equal(t, 0, result.Errors)

	for _, id := range []int64{eligible1.ID, eligible2.ID} {
		updated, err := ticketRepo.GetByID(id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusReady, updated.Status)
	}

	updated, err := ticketRepo.GetByID(stillWaiting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, updated.Status)
}

func TestDependencyResolver_OnTicketDone_SkipsNotWellFormedDraft(t *testing.T) {
	database := db.NewTestDB(t)
	defer database.Close()

	project := seedTaskProject(t, database)
	ticketRepo := db.NewTicketRepo(database.DB)
	depRepo := db.NewDependencyRepo(database.DB)

	prerequisite := seedTaskTicket(t, database, project.ID, "prerequisite", models.StatusDone)

	key, err := models.NewTicketKey()
	require.NoError(t, err)
	bare := &models.Ticket{ProjectID: project.ID, Key: key, Title: "no files, no criteria", Status: models.StatusDraft}
	require.NoError(t, ticketRepo.Create(bare))
	require.NoError(t, depRepo.Add(bare.ID, prerequisite.ID))

	resolver := NewDependencyResolver(database.DB)
	result, err := resolver.OnTicketDone(prerequisite.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Unblocked)

	updated, err := ticketRepo.GetByID(bare.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, updated.Status, "a ticket that fails the well-formedness check must not be promoted")
}

func TestDependencyResolver_ResolveAll_NoDraftTickets(t *testing.T) {
	database := db.NewTestDB(t)
	defer database.Close()

	project := seedTaskProject(t, database)
	seedTaskTicket(t, database, project.ID, "already ready", models.StatusReady)

	resolver := NewDependencyResolver(database.DB)
	result, err := resolver.ResolveAll(project.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Unblocked)
	assert.Equal(t, 0, result.Errors)
}

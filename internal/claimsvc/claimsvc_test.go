package claimsvc

import (
	"testing"
	"time"

	"github.com/daglabs/ticketwright/internal/db"
	"github.com/daglabs/ticketwright/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProject(t *testing.T, database *db.DB) *models.Project {
	t.Helper()
	repo := db.NewProjectRepo(database.DB)
	p := &models.Project{
		Key:             "TESTPROJ",
		Name:            "Test Project",
		MaxAttempts:     3,
		ClaimTTLSeconds: 900,
	}
	require.NoError(t, repo.Create(p))
	return p
}

func newReadyTicket(t *testing.T, database *db.DB, projectID int64, title string) *models.Ticket {
	t.Helper()
	key, err := models.NewTicketKey()
	require.NoError(t, err)
	ticket := &models.Ticket{
		ProjectID:   projectID,
		Key:         key,
		Title:       title,
		Status:      models.StatusReady,
		MaxAttempts: 3,
	}
	require.NoError(t, db.NewTicketRepo(database.DB).Create(ticket))
	return ticket
}

func TestAcquire_ClaimsReadyTicket(t *testing.T) {
	database := db.NewTestDB(t)
	defer database.Close()

	project := newTestProject(t, database)
	ticket := newReadyTicket(t, database, project.ID, "first ticket")

	svc := New(database.DB)
	claimed, claim, err := svc.Acquire(project.ID, "worker-1", 15*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NotNil(t, claim)

	assert.Equal(t, ticket.ID, claimed.ID)
	assert.Equal(t, models.StatusAssigned, claimed.Status)
	assert.Equal(t, "worker-1", claimed.AssigneeID)
	assert.Equal(t, claim.Token, claimed.ClaimToken)

	stored, err := db.NewTicketRepo(database.DB).GetByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, stored.Status)
	assert.Equal(t, "worker-1", stored.AssigneeID)
}

func TestAcquire_NoReadyWork(t *testing.T) {
	database := db.NewTestDB(t)
	defer database.Close()

	project := newTestProject(t, database)

	svc := New(database.DB)
	ticket, claim, err := svc.Acquire(project.ID, "worker-1", 15*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, ticket)
	assert.Nil(t, claim)
}

func TestAcquire_ExcludesAlreadyAssignedTickets(t *testing.T) {
	database := db.NewTestDB(t)
	defer database.Close()

	project := newTestProject(t, database)
	newReadyTicket(t, database, project.ID, "first")
	second := newReadyTicket(t, database, project.ID, "second")

	svc := New(database.DB)
	first, _, err := svc.Acquire(project.ID, "worker-1", 15*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	next, _, err := svc.Acquire(project.ID, "worker-2", 15*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, second.ID, next.ID)

	third, _, err := svc.Acquire(project.ID, "worker-3", 15*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestHeartbeat_ExtendsClaim(t *testing.T) {
	database := db.NewTestDB(t)
	defer database.Close()

	project := newTestProject(t, database)
	newReadyTicket(t, database, project.ID, "heartbeat me")

	svc := New(database.DB)
	ticket, claim, err := svc.Acquire(project.ID, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, ticket)

	err = svc.Heartbeat(claim.Token, 30*time.Minute)
	require.NoError(t, err)

	stored, err := db.NewTicketRepo(database.DB).GetByID(ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ClaimExpiresAt)
	assert.True(t, stored.ClaimExpiresAt.After(time.Now().Add(20*time.Minute)))
}

func TestHeartbeat_StaleTokenFails(t *testing.T) {
	database := db.NewTestDB(t)
	defer database.Close()

	svc := New(database.DB)
	err := svc.Heartbeat("not-a-real-token", 30*time.Minute)
	require.Error(t, err)
}

func TestSweep_ReturnsExpiredClaimToReady(t *testing.T) {
	database := db.NewTestDB(t)
	defer database.Close()

	project := newTestProject(t, database)
	ticket := newReadyTicket(t, database, project.ID, "will expire")

	svc := New(database.DB)
	_, claim, err := svc.Acquire(project.ID, "worker-1", -time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claim)

	result, err := svc.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Reclaimed)

	stored, err := db.NewTicketRepo(database.DB).GetByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, "", stored.AssigneeID)
}

func TestSweep_QuarantinesAfterMaxAttempts(t *testing.T) {
	database := db.NewTestDB(t)
	defer database.Close()

	project := newTestProject(t, database)
	key, err := models.NewTicketKey()
	require.NoError(t, err)
	ticket := &models.Ticket{
		ProjectID:   project.ID,
		Key:         key,
		Title:       "low budget",
		Status:      models.StatusReady,
		Attempts:    2,
		MaxAttempts: 3,
	}
	require.NoError(t, db.NewTicketRepo(database.DB).Create(ticket))

	svc := New(database.DB)
	_, claim, err := svc.Acquire(project.ID, "worker-1", -time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claim)

	result, err := svc.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Quarantined)

	stored, err := db.NewTicketRepo(database.DB).GetByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQuarantined, stored.Status)
	assert.Equal(t, "heartbeat_lost", stored.LastErrorClass)
}

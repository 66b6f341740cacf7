package db

import (
	"testing"

	"github.com/daglabs/ticketwright/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependencyRepo_Add_RejectsSelfDependency(t *testing.T) {
	database := NewTestDB(t)
	defer database.Close()

	project := newTicketRepoTestProject(t, database)
	ticket := newTicketRepoTestTicket(t, database, project.ID, models.StatusDraft)

	err := NewDependencyRepo(database.DB).Add(ticket.ID, ticket.ID)
	require.Error(t, err)
}

func TestDependencyRepo_Add_RejectsCycle(t *testing.T) {
	database := NewTestDB(t)
	defer database.Close()

	project := newTicketRepoTestProject(t, database)
	depRepo := NewDependencyRepo(database.DB)

	a := newTicketRepoTestTicket(t, database, project.ID, models.StatusDraft)
	b := newTicketRepoTestTicket(t, database, project.ID, models.StatusDraft)
	c := newTicketRepoTestTicket(t, database, project.ID, models.StatusDraft)

	require.NoError(t, depRepo.Add(b.ID, a.ID)) // b depends on a
	require.NoError(t, depRepo.Add(c.ID, b.ID)) // c depends on b

	err := depRepo.Add(a.ID, c.ID) // a depends on c would close a->c->b->a
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular")
}

func TestDependencyRepo_GetUnresolvedDependencies(t *testing.T) {
	database := NewTestDB(t)
	defer database.Close()

	project := newTicketRepoTestProject(t, database)
	depRepo := NewDependencyRepo(database.DB)

	done := newTicketRepoTestTicket(t, database, project.ID, models.StatusDone)
	pending := newTicketRepoTestTicket(t, database, project.ID, models.StatusInProgress)
	dependent := newTicketRepoTestTicket(t, database, project.ID, models.StatusDraft)

	require.NoError(t, depRepo.Add(dependent.ID, done.ID))
	require.NoError(t, depRepo.Add(dependent.ID, pending.ID))

	unresolved, err := depRepo.GetUnresolvedDependencies(dependent.ID)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, pending.ID, unresolved[0].ID)

	blocked, err := depRepo.HasUnresolvedDependencies(dependent.ID)
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestDependencyRepo_Remove_UnknownPairErrors(t *testing.T) {
	database := NewTestDB(t)
	defer database.Close()

	project := newTicketRepoTestProject(t, database)
	a := newTicketRepoTestTicket(t, database, project.ID, models.StatusDraft)
	b := newTicketRepoTestTicket(t, database, project.ID, models.StatusDraft)

	err := NewDependencyRepo(database.DB).Remove(a.ID, b.ID)
	require.Error(t, err)
}

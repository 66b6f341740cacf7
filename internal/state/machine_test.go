package state

import (
	"testing"

	"github.com/daglabs/ticketwright/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_CanTransition(t *testing.T) {
	m := NewMachine()

	tests := []struct {
		name       string
		from       models.Status
		to         models.Status
		transType  TransitionType
		reason     string
		resolution *models.Resolution
		wantErr    bool
		errMsg     string
	}{
		{
			name:      "draft to ready (approval)",
			from:      models.StatusDraft,
			to:        models.StatusReady,
			transType: TransitionTypeManual,
			wantErr:   false,
		},
		{
			name:      "ready to assigned (claim)",
			from:      models.StatusReady,
			to:        models.StatusAssigned,
			transType: TransitionTypeManual,
			wantErr:   false,
		},
		{
			name:      "assigned to in_progress (first heartbeat)",
			from:      models.StatusAssigned,
			to:        models.StatusInProgress,
			transType: TransitionTypeManual,
			wantErr:   false,
		},
		{
			name:      "in_progress to verifying (candidate produced)",
			from:      models.StatusInProgress,
			to:        models.StatusVerifying,
			transType: TransitionTypeManual,
			wantErr:   false,
		},
		{
			name:      "verifying to in_progress (validation failed, attempts remain)",
			from:      models.StatusVerifying,
			to:        models.StatusInProgress,
			transType: TransitionTypeManual,
			wantErr:   false,
		},
		{
			name:      "verifying to in_review (validation passed, PR opened)",
			from:      models.StatusVerifying,
			to:        models.StatusInReview,
			transType: TransitionTypeManual,
			wantErr:   false,
		},
		{
			name:      "assigned to ready (claim expired before first heartbeat)",
			from:      models.StatusAssigned,
			to:        models.StatusReady,
			transType: TransitionTypeExpire,
			wantErr:   false,
		},
		{
			name:      "in_progress to ready (retryable failure, auto)",
			from:      models.StatusInProgress,
			to:        models.StatusReady,
			transType: TransitionTypeAuto,
			wantErr:   false,
		},
		{
			name:      "verifying to ready (claim expired, manual release)",
			from:      models.StatusVerifying,
			to:        models.StatusReady,
			transType: TransitionTypeManual,
			wantErr:   false,
		},
		{
			name:          "ready to quarantined (attempt budget exhausted)",
			from:          models.StatusReady,
			to:            models.StatusQuarantined,
			transType:     TransitionTypeAuto,
			reason:        "attempts exhausted",
			wantErr:       false,
		},
		{
			name:      "in_review to done (external approval)",
			from:      models.StatusInReview,
			to:        models.StatusDone,
			transType: TransitionTypeManual,
			wantErr:   false,
		},
		{
			name:      "in_review to ready (reviewer requests changes)",
			from:      models.StatusInReview,
			to:        models.StatusReady,
			transType: TransitionTypeManual,
			reason:    "needs another pass at the tests",
			wantErr:   false,
		},
		{
			name:      "ready to cancelled (withdrawn)",
			from:      models.StatusReady,
			to:        models.StatusCancelled,
			transType: TransitionTypeManual,
			wantErr:   false,
		},
		{
			name:      "in_progress to needs_review (escalated)",
			from:      models.StatusInProgress,
			to:        models.StatusNeedsReview,
			transType: TransitionTypeAuto,
			reason:    "BLOCKED criterion AC-1",
			wantErr:   false,
		},

		// Invalid transitions
		{
			name:      "same state",
			from:      models.StatusReady,
			to:        models.StatusReady,
			transType: TransitionTypeManual,
			wantErr:   true,
			errMsg:    "already in status",
		},
		{
			name:      "ready to verifying (skip assigned/in_progress)",
			from:      models.StatusReady,
			to:        models.StatusVerifying,
			transType: TransitionTypeManual,
			wantErr:   true,
			errMsg:    "not allowed",
		},
		{
			name:      "assigned to verifying (skip in_progress)",
			from:      models.StatusAssigned,
			to:        models.StatusVerifying,
			transType: TransitionTypeManual,
			wantErr:   true,
			errMsg:    "not allowed",
		},
		{
			name:      "done is terminal, cannot move to ready",
			from:      models.StatusDone,
			to:        models.StatusReady,
			transType: TransitionTypeManual,
			wantErr:   true,
			errMsg:    "not allowed",
		},
		{
			name:      "wrong transition type for ready to assigned",
			from:      models.StatusReady,
			to:        models.StatusAssigned,
			transType: TransitionTypeAuto,
			wantErr:   true,
			errMsg:    "not allowed",
		},
		{
			name:      "ready to quarantined without a reason",
			from:      models.StatusReady,
			to:        models.StatusQuarantined,
			transType: TransitionTypeAuto,
			reason:    "",
			wantErr:   true,
			errMsg:    "reason is required",
		},
		{
			name:      "in_review to ready without a reason",
			from:      models.StatusInReview,
			to:        models.StatusReady,
			transType: TransitionTypeManual,
			reason:    "",
			wantErr:   true,
			errMsg:    "reason is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ticket := &models.Ticket{
				ID:        1,
				ProjectID: 1,
				Key:       "TKT-00000001",
				Title:     "Test Ticket",
				Status:    tt.from,
			}

			err := m.CanTransition(ticket, tt.to, tt.transType, tt.reason, tt.resolution)

			if tt.wantErr {
				require.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestMachine_NilTicket(t *testing.T) {
	m := NewMachine()

	err := m.CanTransition(nil, models.StatusReady, TransitionTypeAuto, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil")
}

func TestMachine_ValidateTransition(t *testing.T) {
	m := NewMachine()

	ticket := &models.Ticket{
		ID:        1,
		ProjectID: 1,
		Key:       "TKT-00000001",
		Title:     "Test Ticket",
		Status:    models.StatusReady,
	}

	t.Run("valid transition", func(t *testing.T) {
		trans := NewTransition(models.StatusReady, models.StatusAssigned,
			TransitionTypeManual, models.ActorTypeWorker, "worker-1", "")
		err := m.ValidateTransition(ticket, trans)
		require.NoError(t, err)
	})

	t.Run("nil transition", func(t *testing.T) {
		err := m.ValidateTransition(ticket, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nil")
	})

	t.Run("mismatched from state", func(t *testing.T) {
		trans := NewTransition(models.StatusVerifying, models.StatusInReview,
			TransitionTypeManual, models.ActorTypeWorker, "worker-1", "")
		err := m.ValidateTransition(ticket, trans)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status is ready")
	})
}

func TestMachine_GetValidTransitions(t *testing.T) {
	m := NewMachine()

	t.Run("from ready", func(t *testing.T) {
		transitions := m.GetValidTransitions(models.StatusReady)
		require.NotEmpty(t, transitions)

		toStates := make(map[models.Status]bool)
		for _, tr := range transitions {
			toStates[tr.To] = true
		}

		assert.True(t, toStates[models.StatusAssigned])
		assert.True(t, toStates[models.StatusQuarantined])
		assert.True(t, toStates[models.StatusCancelled])
		assert.True(t, toStates[models.StatusNeedsReview])
	})

	t.Run("from assigned", func(t *testing.T) {
		transitions := m.GetValidTransitions(models.StatusAssigned)
		require.NotEmpty(t, transitions)

		toStates := make(map[models.Status]bool)
		for _, tr := range transitions {
			toStates[tr.To] = true
		}

		assert.True(t, toStates[models.StatusInProgress])
		assert.True(t, toStates[models.StatusReady]) // claim expired before first heartbeat
		assert.False(t, toStates[models.StatusVerifying])
	})

	t.Run("from done has no outgoing transitions", func(t *testing.T) {
		transitions := m.GetValidTransitions(models.StatusDone)
		assert.Empty(t, transitions)
	})

	t.Run("from in_progress", func(t *testing.T) {
		transitions := m.GetValidTransitions(models.StatusInProgress)
		require.NotEmpty(t, transitions)

		toStates := make(map[models.Status]bool)
		for _, tr := range transitions {
			toStates[tr.To] = true
		}

		assert.True(t, toStates[models.StatusVerifying])
		assert.True(t, toStates[models.StatusReady])       // release or claim expiry
		assert.True(t, toStates[models.StatusNeedsReview]) // escalate
		assert.True(t, toStates[models.StatusCancelled])   // cancel
	})
}

func TestMachine_GetTransitionRule(t *testing.T) {
	m := NewMachine()

	t.Run("valid rule", func(t *testing.T) {
		rule := m.GetTransitionRule(models.StatusReady, models.StatusAssigned)
		require.NotNil(t, rule)
		assert.Equal(t, models.StatusReady, rule.From)
		assert.Equal(t, models.StatusAssigned, rule.To)
	})

	t.Run("invalid rule returns nil", func(t *testing.T) {
		rule := m.GetTransitionRule(models.StatusDone, models.StatusReady)
		assert.Nil(t, rule)
	})
}

func TestInitialStatus(t *testing.T) {
	assert.Equal(t, models.StatusDraft, InitialStatus())
}

func TestCategoryForTransition(t *testing.T) {
	assert.Equal(t, models.CategoryTicketClaimed, CategoryForTransition(models.StatusReady, models.StatusAssigned, TransitionTypeManual))
	assert.Equal(t, models.CategoryCompleted, CategoryForTransition(models.StatusInReview, models.StatusDone, TransitionTypeManual))
	assert.Equal(t, models.CategoryFailure, CategoryForTransition(models.StatusReady, models.StatusQuarantined, TransitionTypeAuto))
	assert.Equal(t, models.CategoryFailure, CategoryForTransition(models.StatusInProgress, models.StatusNeedsReview, TransitionTypeAuto))
	assert.Equal(t, models.CategoryStatusChange, CategoryForTransition(models.StatusAssigned, models.StatusInProgress, TransitionTypeManual))
}

func TestCanBeReopened(t *testing.T) {
	assert.True(t, CanBeReopened(models.StatusQuarantined))
	assert.True(t, CanBeReopened(models.StatusNeedsReview))
	assert.True(t, CanBeReopened(models.StatusInReview))
	assert.False(t, CanBeReopened(models.StatusDone))
	assert.False(t, CanBeReopened(models.StatusCancelled))
}

func TestCanBePromoted(t *testing.T) {
	assert.True(t, CanBePromoted(models.StatusDraft))
	assert.False(t, CanBePromoted(models.StatusReady))
}

func TestCanBeEscalatedAndClosed(t *testing.T) {
	for _, s := range []models.Status{models.StatusDraft, models.StatusReady, models.StatusAssigned,
		models.StatusInProgress, models.StatusVerifying, models.StatusInReview} {
		assert.True(t, CanBeEscalated(s), "expected %s to be escalatable", s)
		assert.True(t, CanBeClosed(s), "expected %s to be cancellable", s)
	}
	for _, s := range []models.Status{models.StatusDone, models.StatusCancelled, models.StatusQuarantined, models.StatusNeedsReview} {
		assert.False(t, CanBeEscalated(s), "terminal state %s should not be escalatable", s)
		assert.False(t, CanBeClosed(s), "terminal state %s should not be cancellable", s)
	}
}

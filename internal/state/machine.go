// Package state implements the ticket state machine.
//
// States:
//   - draft: not yet approved, invisible to readiness queries
//   - ready: well-formed, dependencies resolved, claimable
//   - assigned: claimed by a worker, awaiting first heartbeat
//   - in_progress: worker actively generating/patching
//   - verifying: a candidate has been produced, validator ladder running
//   - in_review: a PR has been opened, awaiting external review
//   - done: terminal, merged/accepted
//   - needs_review: terminal-ish escalation, a human must look at the ticket
//   - cancelled: terminal, withdrawn
//   - quarantined: terminal-ish, attempts exhausted, held out of readiness
//
// Transitions:
//
//	draft -> ready            (approved, well-formedness check passes)
//	ready -> assigned         (claim acquired)
//	assigned -> in_progress   (first heartbeat received)
//	in_progress -> verifying  (candidate produced)
//	verifying -> in_progress  (validation failed, attempts remain)
//	verifying -> in_review    (validation passed, PR opened)
//	in_progress -> ready      (claim expired or retryable failure; clears
//	                           claim_token, increments attempts)
//	verifying -> ready        (claim expired or retryable failure; same)
//	assigned -> ready         (claim expired before first heartbeat)
//	ready -> quarantined      (attempts >= max_attempts after a failure)
//	in_review -> done         (external approval)
//	in_review -> ready        (reviewer requests changes; resets attempts
//	                           per project policy)
//	{any non-terminal} -> cancelled
//	{any non-terminal} -> needs_review (manual or automatic escalation)
//
// Constraint: dependencies can only be modified while draft or ready.
package state

import (
	"fmt"
	"time"

	"github.com/daglabs/ticketwright/internal/models"
)

// TransitionType describes the kind of transition being performed.
type TransitionType string

const (
	TransitionTypeAuto   TransitionType = "auto"   // system-triggered (claim expiry, dependency resolution)
	TransitionTypeManual TransitionType = "manual" // human or worker-triggered
	TransitionTypeExpire TransitionType = "expire" // reclaim-sweep triggered
)

// Transition represents a state transition request.
type Transition struct {
	From       models.Status
	To         models.Status
	Type       TransitionType
	Actor      models.ActorType
	ActorID    string
	Reason     string
	Resolution *models.Resolution // required when To is a resolved terminal state
	Timestamp  time.Time
}

// NewTransition creates a new transition request.
func NewTransition(from, to models.Status, transType TransitionType, actor models.ActorType, actorID, reason string) *Transition {
	return &Transition{
		From:      from,
		To:        to,
		Type:      transType,
		Actor:     actor,
		ActorID:   actorID,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// TransitionRule defines a valid state transition and its requirements.
type TransitionRule struct {
	From          models.Status
	To            models.Status
	AllowedTypes  []TransitionType
	RequireReason bool
	Description   string
}

var validTransitions = []TransitionRule{
	{
		From:         models.StatusDraft,
		To:           models.StatusReady,
		AllowedTypes: []TransitionType{TransitionTypeManual},
		Description:  "Ticket approved and passed the well-formedness check",
	},
	{
		From:         models.StatusReady,
		To:           models.StatusAssigned,
		AllowedTypes: []TransitionType{TransitionTypeManual},
		Description:  "Claim acquired by a worker",
	},
	{
		From:         models.StatusAssigned,
		To:           models.StatusInProgress,
		AllowedTypes: []TransitionType{TransitionTypeManual},
		Description:  "First heartbeat received",
	},
	{
		From:         models.StatusInProgress,
		To:           models.StatusVerifying,
		AllowedTypes: []TransitionType{TransitionTypeManual},
		Description:  "Candidate produced, validator ladder running",
	},
	{
		From:         models.StatusVerifying,
		To:           models.StatusInProgress,
		AllowedTypes: []TransitionType{TransitionTypeManual},
		Description:  "Validation failed, attempts remain",
	},
	{
		From:         models.StatusVerifying,
		To:           models.StatusInReview,
		AllowedTypes: []TransitionType{TransitionTypeManual},
		Description:  "Validation passed, pull request opened",
	},
	{
		From:         models.StatusAssigned,
		To:           models.StatusReady,
		AllowedTypes: []TransitionType{TransitionTypeExpire, TransitionTypeManual},
		Description:  "Claim expired before first heartbeat, or released",
	},
	{
		From:         models.StatusInProgress,
		To:           models.StatusReady,
		AllowedTypes: []TransitionType{TransitionTypeExpire, TransitionTypeManual, TransitionTypeAuto},
		Description:  "Claim expired, or retryable failure returned the ticket to the queue",
	},
	{
		From:         models.StatusVerifying,
		To:           models.StatusReady,
		AllowedTypes: []TransitionType{TransitionTypeExpire, TransitionTypeManual, TransitionTypeAuto},
		Description:  "Claim expired, or retryable failure returned the ticket to the queue",
	},
	{
		From:          models.StatusReady,
		To:            models.StatusQuarantined,
		AllowedTypes:  []TransitionType{TransitionTypeAuto},
		RequireReason: true,
		Description:   "Attempt budget exhausted after a non-retryable failure",
	},
	{
		From:         models.StatusInReview,
		To:           models.StatusDone,
		AllowedTypes: []TransitionType{TransitionTypeManual},
		Description:  "Pull request approved and merged",
	},
	{
		From:          models.StatusInReview,
		To:            models.StatusReady,
		AllowedTypes:  []TransitionType{TransitionTypeManual},
		RequireReason: true,
		Description:   "Reviewer requested changes, returned to the queue",
	},
	{
		From:          models.StatusQuarantined,
		To:            models.StatusReady,
		AllowedTypes:  []TransitionType{TransitionTypeManual},
		RequireReason: true,
		Description:   "Requeued by a human after triage, attempt budget reset",
	},
	{
		From:          models.StatusNeedsReview,
		To:            models.StatusReady,
		AllowedTypes:  []TransitionType{TransitionTypeManual},
		RequireReason: true,
		Description:   "Returned to the queue by a human after triage",
	},
}

func init() {
	// Cancel and escalate-to-human are allowed from every non-terminal state.
	for _, from := range []models.Status{
		models.StatusDraft, models.StatusReady, models.StatusAssigned,
		models.StatusInProgress, models.StatusVerifying, models.StatusInReview,
	} {
		validTransitions = append(validTransitions,
			TransitionRule{
				From:         from,
				To:           models.StatusCancelled,
				AllowedTypes: []TransitionType{TransitionTypeManual},
				Description:  "Ticket withdrawn",
			},
			TransitionRule{
				From:          from,
				To:            models.StatusNeedsReview,
				AllowedTypes:  []TransitionType{TransitionTypeManual, TransitionTypeAuto},
				RequireReason: true,
				Description:   "Escalated for human decision",
			},
		)
	}

	transitionRuleMap = make(map[string]*TransitionRule)
	for i := range validTransitions {
		rule := &validTransitions[i]
		key := makeTransitionKey(rule.From, rule.To)
		transitionRuleMap[key] = rule
	}
}

// transitionRuleMap provides fast lookup of transition rules.
var transitionRuleMap map[string]*TransitionRule

func makeTransitionKey(from, to models.Status) string {
	return string(from) + "->" + string(to)
}

// Machine provides state machine operations for tickets.
type Machine struct{}

// NewMachine creates a new state machine instance.
func NewMachine() *Machine {
	return &Machine{}
}

// GetTransitionRule returns the rule for a transition, or nil if invalid.
func (m *Machine) GetTransitionRule(from, to models.Status) *TransitionRule {
	return transitionRuleMap[makeTransitionKey(from, to)]
}

// CanTransition checks if a transition is valid for the given ticket.
func (m *Machine) CanTransition(ticket *models.Ticket, to models.Status, transType TransitionType, reason string, resolution *models.Resolution) error {
	if ticket == nil {
		return fmt.Errorf("ticket is nil")
	}

	from := ticket.Status
	if from == to {
		return fmt.Errorf("ticket is already in status %s", to)
	}

	rule := m.GetTransitionRule(from, to)
	if rule == nil {
		return fmt.Errorf("transition from %s to %s is not allowed", from, to)
	}

	typeAllowed := false
	for _, allowedType := range rule.AllowedTypes {
		if allowedType == transType {
			typeAllowed = true
			break
		}
	}
	if !typeAllowed {
		return fmt.Errorf("transition type %s is not allowed for %s -> %s", transType, from, to)
	}

	if rule.RequireReason && reason == "" {
		return fmt.Errorf("reason is required for transition from %s to %s", from, to)
	}

	if to == models.StatusDone || to == models.StatusCancelled {
		if resolution != nil && !resolution.IsValid() {
			return fmt.Errorf("invalid resolution: %s", *resolution)
		}
	}

	return nil
}

// ValidateTransition validates a full transition request.
func (m *Machine) ValidateTransition(ticket *models.Ticket, t *Transition) error {
	if t == nil {
		return fmt.Errorf("transition is nil")
	}
	if ticket.Status != t.From {
		return fmt.Errorf("ticket status is %s, but transition expects %s", ticket.Status, t.From)
	}
	return m.CanTransition(ticket, t.To, t.Type, t.Reason, t.Resolution)
}

// GetValidTransitions returns all valid transitions from the given status.
func (m *Machine) GetValidTransitions(from models.Status) []TransitionRule {
	var transitions []TransitionRule
	for _, rule := range validTransitions {
		if rule.From == from {
			transitions = append(transitions, rule)
		}
	}
	return transitions
}

// GetAllTransitionRules returns all defined transition rules.
func (m *Machine) GetAllTransitionRules() []TransitionRule {
	result := make([]TransitionRule, len(validTransitions))
	copy(result, validTransitions)
	return result
}

// InitialStatus determines the initial status for a newly-created ticket.
func InitialStatus() models.Status {
	return models.StatusDraft
}

// CategoryForTransition returns the Category to log for a transition.
func CategoryForTransition(from, to models.Status, transType TransitionType) models.Category {
	switch to {
	case models.StatusAssigned:
		return models.CategoryTicketClaimed
	case models.StatusDone:
		return models.CategoryCompleted
	case models.StatusQuarantined, models.StatusNeedsReview:
		return models.CategoryFailure
	default:
		return models.CategoryStatusChange
	}
}

// IsActiveState returns true if a worker currently holds or may hold a
// claim on a ticket in this state.
func IsActiveState(status models.Status) bool {
	return status.IsActive()
}

// CanBeEscalated returns true if tickets in this status can be escalated
// to needs_review.
func CanBeEscalated(status models.Status) bool {
	return !status.IsTerminal()
}

// CanBeClosed returns true if tickets in this status can be cancelled.
func CanBeClosed(status models.Status) bool {
	return !status.IsTerminal()
}

// CanBeReopened returns true if tickets in this status can be returned to ready.
func CanBeReopened(status models.Status) bool {
	switch status {
	case models.StatusQuarantined, models.StatusNeedsReview, models.StatusInReview:
		return true
	}
	return false
}

// CanModifyDependencies returns true if dependencies can be modified in this status.
func CanModifyDependencies(status models.Status) bool {
	return status.CanModifyDependencies()
}

// CanBePromoted returns true if tickets in this status can be promoted to ready.
func CanBePromoted(status models.Status) bool {
	return status == models.StatusDraft
}

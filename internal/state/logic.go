package state

import (
	"time"

	"github.com/daglabs/ticketwright/internal/models"
)

// DependencyChecker provides dependency checking operations.
type DependencyChecker interface {
	HasUnresolvedDependencies(ticketID int64) (bool, error)
	GetUnresolvedDependencies(ticketID int64) ([]*models.Ticket, error)
}

// ClaimChecker provides claim checking operations.
type ClaimChecker interface {
	HasActiveClaim(ticketID int64) (bool, error)
	ListExpired() ([]*models.Claim, error)
}

// Logic provides business logic operations for the state machine, layered
// on top of repositories so it can be unit tested against fakes.
type Logic struct {
	depChecker   DependencyChecker
	claimChecker ClaimChecker
}

// NewLogic creates a new Logic instance with the given dependencies.
func NewLogic(depChecker DependencyChecker, claimChecker ClaimChecker) *Logic {
	return &Logic{
		depChecker:   depChecker,
		claimChecker: claimChecker,
	}
}

// CheckDependencies checks if all dependencies for a ticket are resolved.
func (l *Logic) CheckDependencies(ticket *models.Ticket) (bool, error) {
	if l.depChecker == nil {
		return true, nil
	}
	hasUnresolved, err := l.depChecker.HasUnresolvedDependencies(ticket.ID)
	if err != nil {
		return false, err
	}
	return !hasUnresolved, nil
}

// GetBlockingDependencies returns all unresolved dependencies for a ticket.
func (l *Logic) GetBlockingDependencies(ticket *models.Ticket) ([]*models.Ticket, error) {
	if l.depChecker == nil {
		return nil, nil
	}
	return l.depChecker.GetUnresolvedDependencies(ticket.ID)
}

// CheckClaimExpiration checks if a claim has expired.
func (l *Logic) CheckClaimExpiration(claim *models.Claim) bool {
	if claim == nil {
		return false
	}
	return claim.IsExpired()
}

// IsClaimExpired checks if a claim's expiration time has passed.
func (l *Logic) IsClaimExpired(expiresAt time.Time) bool {
	return time.Now().After(expiresAt)
}

// GetExpiredClaims returns all claims that have expired but are still marked active.
func (l *Logic) GetExpiredClaims() ([]*models.Claim, error) {
	if l.claimChecker == nil {
		return nil, nil
	}
	return l.claimChecker.ListExpired()
}

// HasActiveClaim checks if a ticket has an active (non-expired) claim.
func (l *Logic) HasActiveClaim(ticket *models.Ticket) (bool, error) {
	if l.claimChecker == nil {
		return false, nil
	}
	return l.claimChecker.HasActiveClaim(ticket.ID)
}

// ShouldQuarantine determines if a ticket should be quarantined rather than
// returned to ready, because its attempt budget is exhausted.
func (l *Logic) ShouldQuarantine(ticket *models.Ticket) bool {
	if ticket == nil {
		return false
	}
	return ticket.HasExceededAttempts()
}

// CanClaim checks if a ticket can be claimed by a worker.
func (l *Logic) CanClaim(ticket *models.Ticket) (bool, string) {
	if ticket == nil {
		return false, "ticket is nil"
	}
	if ticket.Status != models.StatusReady {
		return false, "ticket must be in ready status to be claimed"
	}
	hasClaim, err := l.HasActiveClaim(ticket)
	if err != nil {
		return false, "failed to check for existing claim"
	}
	if hasClaim {
		return false, "ticket already has an active claim"
	}
	resolved, err := l.CheckDependencies(ticket)
	if err != nil {
		return false, "failed to check dependencies"
	}
	if !resolved {
		return false, "ticket has unresolved dependencies"
	}
	return true, ""
}

// CanBeginWork checks if a freshly-assigned ticket can move to in_progress.
func (l *Logic) CanBeginWork(ticket *models.Ticket) (bool, string) {
	if ticket == nil {
		return false, "ticket is nil"
	}
	if ticket.Status != models.StatusAssigned {
		return false, "ticket must be assigned to begin work"
	}
	return true, ""
}

// CanSubmitForVerification checks if a ticket's candidate can enter the
// validator ladder.
func (l *Logic) CanSubmitForVerification(ticket *models.Ticket) (bool, string) {
	if ticket == nil {
		return false, "ticket is nil"
	}
	if ticket.Status != models.StatusInProgress {
		return false, "ticket must be in_progress to submit for verification"
	}
	return true, ""
}

// CanOpenReview checks if a verified ticket can move to in_review.
func (l *Logic) CanOpenReview(ticket *models.Ticket) (bool, string) {
	if ticket == nil {
		return false, "ticket is nil"
	}
	if ticket.Status != models.StatusVerifying {
		return false, "ticket must be verifying to open a review"
	}
	return true, ""
}

// CanAccept checks if a ticket can be accepted (moved to done).
func (l *Logic) CanAccept(ticket *models.Ticket) (bool, string) {
	if ticket == nil {
		return false, "ticket is nil"
	}
	if ticket.Status != models.StatusInReview {
		return false, "ticket must be in_review to be accepted"
	}
	return true, ""
}

// CanRequestChanges checks if a ticket in review can be bounced back to ready.
func (l *Logic) CanRequestChanges(ticket *models.Ticket) (bool, string) {
	if ticket == nil {
		return false, "ticket is nil"
	}
	if ticket.Status != models.StatusInReview {
		return false, "ticket must be in_review to request changes"
	}
	return true, ""
}

// CanReopen checks if a ticket can be reopened back to ready.
func (l *Logic) CanReopen(ticket *models.Ticket) (bool, string) {
	if ticket == nil {
		return false, "ticket is nil"
	}
	if !CanBeReopened(ticket.Status) {
		return false, "ticket cannot be reopened from its current status"
	}
	return true, ""
}

// CanClose checks if a ticket can be cancelled.
func (l *Logic) CanClose(ticket *models.Ticket) (bool, string) {
	if ticket == nil {
		return false, "ticket is nil"
	}
	if !CanBeClosed(ticket.Status) {
		return false, "ticket cannot be closed from its current status"
	}
	return true, ""
}

// CanEscalate checks if a ticket can be escalated to needs_review.
func (l *Logic) CanEscalate(ticket *models.Ticket) (bool, string) {
	if ticket == nil {
		return false, "ticket is nil"
	}
	if !CanBeEscalated(ticket.Status) {
		return false, "ticket cannot be escalated from its current status"
	}
	return true, ""
}

// CanPromote checks if a ticket can be promoted from draft to ready.
func (l *Logic) CanPromote(ticket *models.Ticket) (bool, string) {
	if ticket == nil {
		return false, "ticket is nil"
	}
	if !CanBePromoted(ticket.Status) {
		return false, "ticket must be in draft status to be promoted"
	}
	return true, ""
}

// CanAddDependency checks if a dependency can be added to the ticket.
func (l *Logic) CanAddDependency(ticket *models.Ticket) (bool, string) {
	if ticket == nil {
		return false, "ticket is nil"
	}
	if !ticket.Status.CanModifyDependencies() {
		return false, "dependencies can only be modified while draft or ready"
	}
	return true, ""
}

// CanRemoveDependency checks if a dependency can be removed from the ticket.
func (l *Logic) CanRemoveDependency(ticket *models.Ticket) (bool, string) {
	return l.CanAddDependency(ticket)
}

// Package tasks provides background task runners for ticketwright: the
// eager dependency-unblock pass and (via internal/claimsvc) the claim
// reclaim sweep.
package tasks

import (
	"database/sql"
	"fmt"

	"github.com/daglabs/ticketwright/internal/db"
	"github.com/daglabs/ticketwright/internal/models"
)

// UnblockResult describes the outcome of evaluating one dependent ticket
// after a dependency completed.
type UnblockResult struct {
	TicketID       int64  `json:"ticket_id"`
	TicketKey      string `json:"ticket_key"`
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status,omitempty"`
	Reason         string `json:"reason,omitempty"`
	ErrorMessage   string `json:"error,omitempty"`
}

// ResolutionResult aggregates the outcome of a resolution pass.
type ResolutionResult struct {
	Unblocked      int              `json:"unblocked"`
	Errors         int              `json:"errors"`
	UnblockResults []*UnblockResult `json:"unblock_results,omitempty"`
}

// DependencyResolver pushes tickets from draft to ready as soon as every
// dependency they list has reached done. This is an optimization: NextReady
// is the pure source of truth and would eventually surface these tickets on
// its own, but pushing the transition eagerly means a freshly-unblocked
// ticket doesn't wait for the next poll to look ready.
type DependencyResolver struct {
	db         *sql.DB
	ticketRepo *db.TicketRepo
	depRepo    *db.DependencyRepo
}

// NewDependencyResolver creates a new DependencyResolver.
func NewDependencyResolver(database *sql.DB) *DependencyResolver {
	return &DependencyResolver{
		db:         database,
		ticketRepo: db.NewTicketRepo(database),
		depRepo:    db.NewDependencyRepo(database),
	}
}

// OnTicketDone is called after a ticket transitions to done. It walks the
// ticket's direct dependents and promotes any still in draft whose
// dependencies are now all resolved.
func (r *DependencyResolver) OnTicketDone(ticketID int64) (*ResolutionResult, error) {
	result := &ResolutionResult{}

	ticket, err := r.ticketRepo.GetByID(ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get completed ticket: %w", err)
	}
	if ticket == nil {
		return nil, fmt.Errorf("ticket not found")
	}

	dependents, err := r.depRepo.GetDependents(ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get dependents: %w", err)
	}

	for _, dependent := range dependents {
		ur := r.checkAndPromote(dependent, ticket)
		result.UnblockResults = append(result.UnblockResults, ur)
		if ur.ErrorMessage != "" {
			result.Errors++
		} else if ur.NewStatus != "" {
			result.Unblocked++
		}
	}

	return result, nil
}

func (r *DependencyResolver) checkAndPromote(dependent *models.Ticket, completedDep *models.Ticket) *UnblockResult {
	result := &UnblockResult{
		TicketID:       dependent.ID,
		TicketKey:      dependent.Key,
		PreviousStatus: string(dependent.Status),
	}

	if dependent.Status != models.StatusDraft {
		return result
	}
	if !dependent.IsWellFormed() {
		result.Reason = "not well-formed, stays draft"
		return result
	}

	hasUnresolved, err := r.depRepo.HasUnresolvedDependencies(dependent.ID)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("failed to check dependencies: %v", err)
		return result
	}
	if hasUnresolved {
		return result
	}

	err = r.ticketRepo.TransitionBy(dependent.ID, models.StatusDraft, models.StatusReady,
		models.ActorTypeSystem, "", fmt.Sprintf("promoted to ready after %s completed", completedDep.Key), nil)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("failed to promote ticket: %v", err)
		return result
	}

	result.NewStatus = string(models.StatusReady)
	result.Reason = fmt.Sprintf("dependency %s completed", completedDep.Key)

	return result
}

// ResolveAll scans every draft ticket in a project and promotes any whose
// dependencies are already all resolved. Useful after a bulk import or a
// manual dependency edit, rather than waiting for the next OnTicketDone call.
func (r *DependencyResolver) ResolveAll(projectID int64) (*ResolutionResult, error) {
	result := &ResolutionResult{}

	status := models.StatusDraft
	draftTickets, err := r.ticketRepo.List(db.TicketFilter{ProjectID: &projectID, Status: &status})
	if err != nil {
		return nil, fmt.Errorf("failed to list draft tickets: %w", err)
	}

	for _, ticket := range draftTickets {
		if !ticket.IsWellFormed() {
			continue
		}
		hasUnresolved, err := r.depRepo.HasUnresolvedDependencies(ticket.ID)
		if err != nil {
			result.Errors++
			continue
		}
		if hasUnresolved {
			continue
		}

		ur := &UnblockResult{
			TicketID:       ticket.ID,
			TicketKey:      ticket.Key,
			PreviousStatus: string(ticket.Status),
		}

		if err := r.ticketRepo.TransitionBy(ticket.ID, models.StatusDraft, models.StatusReady,
			models.ActorTypeSystem, "", "promoted to ready: all dependencies resolved", nil); err != nil {
			ur.ErrorMessage = fmt.Sprintf("failed to promote ticket: %v", err)
			result.Errors++
		} else {
			ur.NewStatus = string(models.StatusReady)
			ur.Reason = "all dependencies resolved"
			result.Unblocked++
		}

		result.UnblockResults = append(result.UnblockResults, ur)
	}

	return result, nil
}

// Package claimsvc implements the atomic claim/heartbeat/reclaim protocol
// that lets many workers pull tickets off a shared project without a
// coordinator: acquiring a ticket is a single compare-and-swap, a claim
// carries a TTL that the worker must renew with heartbeats, and a reclaim
// sweep returns any claim whose heartbeats stopped back to the ready pool.
package claimsvc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/daglabs/ticketwright/internal/db"
	tkterrors "github.com/daglabs/ticketwright/internal/errors"
	"github.com/daglabs/ticketwright/internal/metrics"
	"github.com/daglabs/ticketwright/internal/models"
)

// Service coordinates ticket claims against the database.
type Service struct {
	ticketRepo  *db.TicketRepo
	claimRepo   *db.ClaimRepo
	eventRepo   *db.EventRepo
	projectRepo *db.ProjectRepo
}

// New creates a new claim Service.
func New(database *sql.DB) *Service {
	return &Service{
		ticketRepo:  db.NewTicketRepo(database),
		claimRepo:   db.NewClaimRepo(database),
		eventRepo:   db.NewEventRepo(database),
		projectRepo: db.NewProjectRepo(database),
	}
}

// maxAcquireAttempts bounds the CAS retry loop against concurrent claimants
// racing for the same ready ticket.
const maxAcquireAttempts = 8

// errNoReadyWork signals Acquire found nothing to claim; it is permanent,
// not retried.
var errNoReadyWork = errors.New("no ready work")

// Acquire finds the oldest ready, unblocked ticket and assigns it to
// assigneeID, racing safely against other workers via Transition's
// compare-and-swap. A losing race (another worker claims the same candidate
// first) is retried with backoff, excluding that candidate, up to
// maxAcquireAttempts times. A non-positive projectID claims from every
// project; a zero ttl falls back to the candidate's project claim TTL.
// seedExclude lets a caller pre-exclude tickets it has already seen.
// Returns (nil, nil, nil) if there is no ready work.
func (s *Service) Acquire(projectID int64, assigneeID string, ttl time.Duration, seedExclude ...int64) (*models.Ticket, *models.Claim, error) {
	excluded := make([]int64, 0, len(seedExclude)+maxAcquireAttempts)
	excluded = append(excluded, seedExclude...)
	var ticket *models.Ticket
	var claim *models.Claim

	operation := func() error {
		candidate, err := s.ticketRepo.NextReady(projectID, excluded)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to find ready ticket: %w", err))
		}
		if candidate == nil {
			return backoff.Permanent(errNoReadyWork)
		}

		claimTTL := ttl
		if claimTTL == 0 {
			project, err := s.projectRepo.GetByID(candidate.ProjectID)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("failed to look up project: %w", err))
			}
			if project == nil {
				return backoff.Permanent(fmt.Errorf("project %d not found", candidate.ProjectID))
			}
			claimTTL = project.ClaimTTL()
		}

		c, err := models.NewClaim(candidate.ID, assigneeID, claimTTL)
		if err != nil {
			return backoff.Permanent(err)
		}

		now := c.ClaimedAt
		err = s.ticketRepo.Transition(candidate.ID, models.StatusReady, models.StatusAssigned, func(t *models.Ticket) {
			t.AssigneeID = assigneeID
			t.ClaimToken = c.Token
			t.ClaimExpiresAt = &c.ExpiresAt
			t.LastHeartbeatAt = &now
		})
		if tkterrors.Is(err, tkterrors.KindStaleState) {
			// Another worker claimed it first; exclude and retry.
			excluded = append(excluded, candidate.ID)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}

		if err := s.claimRepo.Create(c); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to record claim: %w", err))
		}

		s.eventRepo.Log(candidate.ID, models.CategoryTicketClaimed, models.ActorTypeWorker, assigneeID,
			fmt.Sprintf("claimed by %s", assigneeID))

		candidate.Status = models.StatusAssigned
		candidate.AssigneeID = assigneeID
		candidate.ClaimToken = c.Token
		candidate.ClaimExpiresAt = &c.ExpiresAt
		candidate.LastHeartbeatAt = &now
		ticket = candidate
		claim = c
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(10*time.Millisecond),
		backoff.WithMaxInterval(200*time.Millisecond),
	), maxAcquireAttempts)

	err := backoff.Retry(operation, policy)
	if err != nil {
		if errors.Is(err, errNoReadyWork) {
			metrics.ClaimAttempts.WithLabelValues("empty").Inc()
			return nil, nil, nil
		}
		if tkterrors.Is(err, tkterrors.KindStaleState) {
			// Every candidate within the retry budget lost its race; let the
			// caller poll again rather than surfacing contention as a failure.
			metrics.ClaimAttempts.WithLabelValues("stale").Inc()
			return nil, nil, nil
		}
		metrics.ClaimAttempts.WithLabelValues("error").Inc()
		return nil, nil, err
	}

	metrics.ClaimAttempts.WithLabelValues("claimed").Inc()
	return ticket, claim, nil
}

// Heartbeat extends a claim's expiry and mirrors the new expiry onto the
// ticket row. Returns a StaleClaim error if the token no longer names an
// active claim (expired, released, or reclaimed out from under the caller).
func (s *Service) Heartbeat(token string, ttl time.Duration) error {
	claim, err := s.claimRepo.GetByToken(token)
	if err != nil {
		return fmt.Errorf("failed to look up claim: %w", err)
	}
	if claim == nil || claim.Status != models.ClaimStatusActive {
		return tkterrors.StaleClaim(token)
	}

	newExpiry := time.Now().Add(ttl)
	ok, err := s.claimRepo.Heartbeat(token, newExpiry)
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	if !ok {
		return tkterrors.StaleClaim(token)
	}

	ticket, err := s.ticketRepo.GetByID(claim.TicketID)
	if err != nil {
		return fmt.Errorf("failed to load ticket: %w", err)
	}
	if ticket == nil {
		return tkterrors.NotFound("ticket", fmt.Sprintf("%d", claim.TicketID))
	}

	now := time.Now()
	err = s.ticketRepo.Transition(ticket.ID, ticket.Status, ticket.Status, func(t *models.Ticket) {
		t.ClaimExpiresAt = &newExpiry
		t.LastHeartbeatAt = &now
	})
	if tkterrors.Is(err, tkterrors.KindStaleState) {
		// The ticket moved on (e.g. the worker's own prior call already
		// advanced it); the claim heartbeat itself still succeeded.
		return nil
	}
	return err
}

// Release marks a claim terminal with the given status (completed or
// released after a worker's completion/failure handoff; the sweep marks
// its claims expired through the claim repository). It does not
// itself change the ticket's status; the caller applies whatever
// Transition the outcome calls for.
func (s *Service) Release(token string, status models.ClaimStatus) error {
	ok, err := s.claimRepo.Release(token, status)
	if err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	if !ok {
		return tkterrors.StaleClaim(token)
	}
	return nil
}

// ReclaimResult describes the outcome of reclaiming one expired claim.
type ReclaimResult struct {
	TicketID     int64  `json:"ticket_id"`
	TicketKey    string `json:"ticket_key"`
	AssigneeID   string `json:"assignee_id"`
	Attempts     int    `json:"attempts"`
	MaxAttempts  int    `json:"max_attempts"`
	NewStatus    string `json:"new_status"`
	ErrorMessage string `json:"error,omitempty"`
}

// ReclaimSweepResult aggregates one pass of the reclaim sweep.
type ReclaimSweepResult struct {
	Processed int              `json:"processed"`
	Reclaimed int               `json:"reclaimed"`
	Quarantined int             `json:"quarantined"`
	Errors    int              `json:"errors"`
	Results   []*ReclaimResult `json:"results,omitempty"`
}

// Sweep finds every claim flagged active but past its expiry and returns the
// ticket to ready (incrementing its attempt count) or, once the attempt
// budget is exhausted, to quarantined. Idempotent: a claim already reclaimed
// by a previous sweep is not reprocessed.
func (s *Service) Sweep() (*ReclaimSweepResult, error) {
	result := &ReclaimSweepResult{}

	expired, err := s.claimRepo.ListExpired()
	if err != nil {
		return nil, fmt.Errorf("failed to list expired claims: %w", err)
	}
	result.Processed = len(expired)

	for _, claim := range expired {
		rr := s.reclaimOne(claim)
		result.Results = append(result.Results, rr)
		switch {
		case rr.ErrorMessage != "":
			result.Errors++
		case rr.NewStatus == string(models.StatusQuarantined):
			result.Quarantined++
		default:
			result.Reclaimed++
		}
	}

	return result, nil
}

// RunDaemon runs the reclaim sweep in a loop, firing once immediately and
// then every interval until ctx is cancelled. callback, if non-nil, receives
// the result of every pass (including the immediate one) so a caller can
// log or surface it. A sweep error is swallowed and the loop continues; a
// single failed pass must not stop future ones.
func (s *Service) RunDaemon(ctx context.Context, interval time.Duration, callback func(*ReclaimSweepResult)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if result, err := s.Sweep(); err == nil && callback != nil {
		callback(result)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result, err := s.Sweep()
			if err != nil {
				continue
			}
			if callback != nil {
				callback(result)
			}
		}
	}
}

func (s *Service) reclaimOne(claim *models.Claim) *ReclaimResult {
	result := &ReclaimResult{
		TicketID:   claim.TicketID,
		TicketKey:  claim.TicketKey,
		AssigneeID: claim.AssigneeID,
	}

	ticket, err := s.ticketRepo.GetByID(claim.TicketID)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("failed to get ticket: %v", err)
		return result
	}
	if ticket == nil {
		result.ErrorMessage = "ticket not found"
		return result
	}

	if !ticket.Status.IsActive() {
		// Ticket already moved on (done, cancelled, escalated); just mark
		// the stale claim expired so the sweep doesn't see it again.
		s.claimRepo.Release(claim.Token, models.ClaimStatusExpired)
		return result
	}

	newAttempts := ticket.Attempts + 1
	result.Attempts = newAttempts
	result.MaxAttempts = ticket.MaxAttempts

	newStatus := models.StatusReady
	if newAttempts >= ticket.MaxAttempts {
		newStatus = models.StatusQuarantined
	}
	result.NewStatus = string(newStatus)

	fromStatus := ticket.Status
	err = s.ticketRepo.Transition(ticket.ID, fromStatus, newStatus, func(t *models.Ticket) {
		t.Attempts = newAttempts
		t.AssigneeID = ""
		t.ClaimToken = ""
		t.ClaimExpiresAt = nil
		t.LastHeartbeatAt = nil
		if newStatus == models.StatusQuarantined {
			t.LastErrorClass = "heartbeat_lost"
		}
	})
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("failed to transition ticket: %v", err)
		return result
	}

	if _, err := s.claimRepo.Release(claim.Token, models.ClaimStatusExpired); err != nil {
		result.ErrorMessage = fmt.Sprintf("failed to release claim: %v", err)
		return result
	}

	metrics.ReclaimedClaims.Inc()

	message := fmt.Sprintf("heartbeat lost, returned to ready (attempt %d/%d)", newAttempts, ticket.MaxAttempts)
	if newStatus == models.StatusQuarantined {
		message = fmt.Sprintf("heartbeat lost, attempt budget exhausted (%d/%d), quarantined", newAttempts, ticket.MaxAttempts)
	}
	s.eventRepo.LogWithMetadata(ticket.ID, models.CategoryFailure, models.ActorTypeSystem, "", message,
		map[string]interface{}{
			"reason":       "heartbeat_lost",
			"assignee_id":  claim.AssigneeID,
			"attempts":     newAttempts,
			"max_attempts": ticket.MaxAttempts,
		})

	return result
}

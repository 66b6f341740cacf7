package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/daglabs/ticketwright/internal/db"
	tkterrors "github.com/daglabs/ticketwright/internal/errors"
	"github.com/daglabs/ticketwright/internal/models"
	"github.com/daglabs/ticketwright/internal/state"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, err error) {
	if te, ok := err.(*tkterrors.Error); ok {
		writeJSON(w, te.HTTPStatus(), map[string]string{"error": te.Error(), "kind": te.Kind.String()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func decodeAndValidate(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return tkterrors.InvalidArgs("malformed request body: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		return tkterrors.InvalidArgs("validation failed: %v", err)
	}
	return nil
}

func toTicketPayload(t *models.Ticket) *TicketPayload {
	return &TicketPayload{
		ID:             t.Key,
		Title:          t.Title,
		Description:    t.Description,
		Status:         string(t.Status),
		EstimatedScope: string(t.EstimatedScope),
		BranchName:     t.BranchName,
		RepositoryURL:  t.RepositoryURL,
		FilesToCreate:  t.FilesToCreate,
		FilesToModify:  t.FilesToModify,
		AcceptanceCriteria: t.AcceptanceCriteria,
		ReviewFeedback: t.ReviewFeedback,
		ClaimToken:     t.ClaimToken,
		Attempts:       t.Attempts,
		MaxAttempts:    t.MaxAttempts,
	}
}

// applyCriteriaStatus marks each acceptance criterion satisfied when the
// worker reported it SATISFIED.
func applyCriteriaStatus(t *models.Ticket, statuses []CriterionStatus) {
	for _, cs := range statuses {
		for i := range t.AcceptanceCriteria {
			if t.AcceptanceCriteria[i].ID == cs.ID {
				t.AcceptanceCriteria[i].Satisfied = cs.Status == "SATISFIED"
			}
		}
	}
}

func toProjectSettings(p *models.Project) *ProjectSettings {
	return &ProjectSettings{
		Key:                    p.Key,
		RepositoryURL:          p.RepositoryURL,
		BaseBranch:             p.BaseBranch,
		AllowedModels:          p.AllowedModels,
		ClaimTTLSeconds:        p.ClaimTTLSeconds,
		HeartbeatPeriodSeconds: p.HeartbeatPeriodSeconds,
		MaxAttempts:            p.MaxAttempts,
		ValidationLevel:        string(p.ValidationLevel),
	}
}

// handleClaim services POST /claim: finds the oldest ready ticket in the
// named project (or any project, when none is named) and assigns it to
// the requesting agent.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var projectID int64
	var ttl time.Duration
	if req.ProjectKey != "" {
		project, err := s.projectRepo.GetByKey(req.ProjectKey)
		if err != nil {
			writeError(w, tkterrors.Internal("failed to look up project: %v", err))
			return
		}
		if project == nil {
			writeError(w, tkterrors.NotFound("project", req.ProjectKey))
			return
		}
		projectID = project.ID
		ttl = project.ClaimTTL()
	}
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	exclude, err := s.resolveExcludedTickets(req.TicketFilter)
	if err != nil {
		writeError(w, err)
		return
	}

	ticket, _, err := s.claims.Acquire(projectID, req.AgentID, ttl, exclude...)
	if err != nil {
		writeError(w, err)
		return
	}
	if ticket == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	project, err := s.projectRepo.GetByID(ticket.ProjectID)
	if err != nil || project == nil {
		writeError(w, tkterrors.Internal("failed to look up claimed ticket's project"))
		return
	}

	writeJSON(w, http.StatusOK, ClaimResponse{
		Ticket:          toTicketPayload(ticket),
		ProjectSettings: toProjectSettings(project),
	})
}

// resolveExcludedTickets maps the caller's seen-set of ticket keys to the
// internal ids Acquire excludes. Unknown keys are skipped; they cannot
// match a ready ticket anyway.
func (s *Server) resolveExcludedTickets(filter *ClaimTicketFilter) ([]int64, error) {
	if filter == nil || len(filter.ExcludeKeys) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(filter.ExcludeKeys))
	for _, key := range filter.ExcludeKeys {
		ticket, err := s.ticketRepo.GetByKey(key)
		if err != nil {
			return nil, tkterrors.Internal("failed to resolve ticket filter: %v", err)
		}
		if ticket != nil {
			ids = append(ids, ticket.ID)
		}
	}
	return ids, nil
}

func (s *Server) resolveClaimedTicket(ticketKey, agentID, token string) (*models.Ticket, *models.Claim, error) {
	ticket, err := s.ticketRepo.GetByKey(ticketKey)
	if err != nil {
		return nil, nil, tkterrors.Internal("failed to look up ticket: %v", err)
	}
	if ticket == nil {
		return nil, nil, tkterrors.NotFound("ticket", ticketKey)
	}

	claim, err := s.claimRepo.GetByToken(token)
	if err != nil {
		return nil, nil, tkterrors.Internal("failed to look up claim: %v", err)
	}
	if claim == nil || claim.TicketID != ticket.ID || claim.AssigneeID != agentID || claim.Status != models.ClaimStatusActive {
		return nil, nil, tkterrors.StaleClaim(ticketKey)
	}

	// A cancelled (or otherwise no-longer-active) ticket must read as a
	// stale claim: the worker aborts instead of pushing results for work
	// nobody wants anymore.
	if !ticket.Status.IsActive() {
		return nil, nil, tkterrors.StaleClaim(ticketKey)
	}

	return ticket, claim, nil
}

// handleHeartbeat services POST /heartbeat.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ticket, _, err := s.resolveClaimedTicket(req.TicketID, req.AgentID, req.ClaimToken)
	if err != nil {
		writeError(w, err)
		return
	}

	heartbeatTTL := 15 * time.Minute
	if project, _ := s.projectRepo.GetByID(ticket.ProjectID); project != nil {
		heartbeatTTL = project.ClaimTTL()
	}

	if err := s.claims.Heartbeat(req.ClaimToken, heartbeatTTL); err != nil {
		writeError(w, err)
		return
	}

	// The first heartbeat moves an assigned ticket to in_progress; a
	// /status call that already made that move is not an error.
	if ticket.Status == models.StatusAssigned {
		err := s.ticketRepo.TransitionBy(ticket.ID, models.StatusAssigned, models.StatusInProgress, models.ActorTypeWorker, req.AgentID, "first heartbeat received", nil)
		if err != nil && !tkterrors.Is(err, tkterrors.KindStaleState) {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus services POST /status: advances a claimed ticket through
// assigned -> in_progress -> verifying.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ticket, _, err := s.resolveClaimedTicket(req.TicketID, req.AgentID, req.ClaimToken)
	if err != nil {
		writeError(w, err)
		return
	}

	newStatus := models.Status(req.State)
	machine := state.NewMachine()
	if err := machine.CanTransition(ticket, newStatus, state.TransitionTypeManual, "", nil); err != nil {
		writeError(w, tkterrors.StateError("%v", err))
		return
	}

	err = s.ticketRepo.TransitionBy(ticket.ID, ticket.Status, newStatus, models.ActorTypeWorker, req.AgentID, "", nil)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleComplete services POST /complete: success opens a review, failure
// either returns the ticket to ready or escalates it once the attempt
// budget runs out.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ticket, _, err := s.resolveClaimedTicket(req.TicketID, req.AgentID, req.ClaimToken)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.Success {
		err = s.ticketRepo.TransitionBy(ticket.ID, ticket.Status, models.StatusInReview, models.ActorTypeWorker, req.AgentID, "", func(t *models.Ticket) {
			if req.BranchName != "" {
				t.BranchName = req.BranchName
			}
			t.AssigneeID = ""
			t.ClaimToken = ""
			t.ClaimExpiresAt = nil
			t.LastHeartbeatAt = nil
			t.LastErrorClass = ""
			t.ReviewFeedback = ""
			applyCriteriaStatus(t, req.CriteriaStatus)
		})
		if err != nil {
			writeError(w, err)
			return
		}
		s.eventRepo.Log(ticket.ID, models.CategoryCompleted, models.ActorTypeWorker, req.AgentID, "attempt completed")
		s.eventRepo.LogWithMetadata(ticket.ID, models.CategoryPRCreated, models.ActorTypeWorker, req.AgentID,
			"pull request opened", map[string]interface{}{
				"pr_url":     req.PRUrl,
				"commit_sha": req.CommitSHA,
				"files":      req.FilesChanged,
			})
		if err := s.claims.Release(req.ClaimToken, models.ClaimStatusCompleted); err != nil {
			writeError(w, err)
			return
		}
	} else {
		if err := s.claims.Release(req.ClaimToken, models.ClaimStatusReleased); err != nil {
			writeError(w, err)
			return
		}
		newAttempts := ticket.Attempts + 1
		newStatus := models.StatusReady
		if newAttempts >= ticket.MaxAttempts {
			newStatus = models.StatusQuarantined
		}
		err = s.ticketRepo.Transition(ticket.ID, ticket.Status, newStatus, func(t *models.Ticket) {
			t.Attempts = newAttempts
			t.AssigneeID = ""
			t.ClaimToken = ""
			t.ClaimExpiresAt = nil
			t.LastHeartbeatAt = nil
			t.LastErrorClass = req.Error
		})
		if err != nil {
			writeError(w, err)
			return
		}
		s.eventRepo.Log(ticket.ID, models.CategoryFailure, models.ActorTypeWorker, req.AgentID, req.Error)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleFail services POST /fail: an explicit retryable/non-retryable
// failure report distinct from a successful-vs-failed /complete call.
func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	var req FailRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ticket, _, err := s.resolveClaimedTicket(req.TicketID, req.AgentID, req.ClaimToken)
	if err != nil {
		writeError(w, err)
		return
	}

	newAttempts := ticket.Attempts + 1
	newStatus := models.StatusReady
	if !req.ShouldRetry || newAttempts >= ticket.MaxAttempts {
		newStatus = models.StatusNeedsReview
		if newAttempts >= ticket.MaxAttempts {
			newStatus = models.StatusQuarantined
		}
	}

	reason := req.ErrorMessage
	err = s.ticketRepo.Transition(ticket.ID, ticket.Status, newStatus, func(t *models.Ticket) {
		t.Attempts = newAttempts
		t.AssigneeID = ""
		t.ClaimToken = ""
		t.ClaimExpiresAt = nil
		t.LastHeartbeatAt = nil
		t.LastErrorClass = reason
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.claims.Release(req.ClaimToken, models.ClaimStatusReleased); err != nil {
		writeError(w, err)
		return
	}

	s.eventRepo.Log(ticket.ID, models.CategoryFailure, models.ActorTypeWorker, req.AgentID, reason)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePostActivity services POST /tickets/:id/activity.
func (s *Server) handlePostActivity(w http.ResponseWriter, r *http.Request) {
	ticketKey := chi.URLParam(r, "id")
	ticket, err := s.ticketRepo.GetByKey(ticketKey)
	if err != nil {
		writeError(w, tkterrors.Internal("failed to look up ticket: %v", err))
		return
	}
	if ticket == nil {
		writeError(w, tkterrors.NotFound("ticket", ticketKey))
		return
	}

	var req ActivityRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	category := models.Category(req.Category)
	if !category.IsValid() {
		writeError(w, tkterrors.InvalidArgs("invalid category: %s", req.Category))
		return
	}

	if err := s.eventRepo.LogWithMetadata(ticket.ID, category, models.ActorTypeWorker, req.AgentID, req.Message, req.Metadata); err != nil {
		writeError(w, tkterrors.Internal("failed to append event: %v", err))
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// handleGetActivity services GET /tickets/:id/activity.
func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	ticketKey := chi.URLParam(r, "id")
	ticket, err := s.ticketRepo.GetByKey(ticketKey)
	if err != nil {
		writeError(w, tkterrors.Internal("failed to look up ticket: %v", err))
		return
	}
	if ticket == nil {
		writeError(w, tkterrors.NotFound("ticket", ticketKey))
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.eventRepo.ListByTicket(ticket.ID, limit)
	if err != nil {
		writeError(w, tkterrors.Internal("failed to list events: %v", err))
		return
	}

	payload := make([]*ActivityEvent, 0, len(events))
	for _, e := range events {
		meta, _ := e.GetMetadata()
		payload = append(payload, &ActivityEvent{
			ID:        e.ID,
			Category:  string(e.Category),
			ActorType: string(e.ActorType),
			ActorID:   e.ActorID,
			Message:   e.Message,
			Metadata:  meta,
			CreatedAt: db.FormatTime(e.CreatedAt),
		})
	}

	writeJSON(w, http.StatusOK, payload)
}

// handleRecordAttempt services POST /tickets/:id/attempts: persists one
// row of per-attempt worker telemetry (duration, error count, token
// usage).
func (s *Server) handleRecordAttempt(w http.ResponseWriter, r *http.Request) {
	ticketKey := chi.URLParam(r, "id")
	ticket, err := s.ticketRepo.GetByKey(ticketKey)
	if err != nil {
		writeError(w, tkterrors.Internal("failed to look up ticket: %v", err))
		return
	}
	if ticket == nil {
		writeError(w, tkterrors.NotFound("ticket", ticketKey))
		return
	}

	var req AttemptRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	attempt := &models.AttemptHistory{
		TicketID:      ticket.ID,
		AttemptNumber: req.AttemptNumber,
		StartedAt:     time.Now(),
		DurationMS:    req.DurationMS,
		ErrorCount:    req.ErrorCount,
		InputTokens:   req.InputTokens,
		OutputTokens:  req.OutputTokens,
		Outcome:       req.Outcome,
	}
	if err := s.attemptRepo.Create(attempt); err != nil {
		writeError(w, tkterrors.Internal("failed to record attempt: %v", err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

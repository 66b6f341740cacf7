package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/daglabs/ticketwright/internal/db"
	"github.com/daglabs/ticketwright/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, agentKey string) (*Server, *db.DB) {
	t.Helper()
	database := db.NewTestDB(t)
	t.Cleanup(func() { database.Close() })

	srv, err := New(Config{DB: database.DB, AgentKey: agentKey})
	require.NoError(t, err)
	return srv, database
}

func seedProject(t *testing.T, database *db.DB) *models.Project {
	t.Helper()
	p := &models.Project{
		Key:             "TESTPROJ",
		Name:            "Test Project",
		MaxAttempts:     3,
		ClaimTTLSeconds: 900,
		BaseBranch:      "main",
	}
	require.NoError(t, db.NewProjectRepo(database.DB).Create(p))
	return p
}

func seedReadyTicket(t *testing.T, database *db.DB, projectID int64) *models.Ticket {
	t.Helper()
	key, err := models.NewTicketKey()
	require.NoError(t, err)
	ticket := &models.Ticket{
		ProjectID:     projectID,
		Key:           key,
		Title:         "implement foo",
		Status:        models.StatusReady,
		MaxAttempts:   3,
		FilesToCreate: []string{"src/a.js"},
	}
	require.NoError(t, db.NewTicketRepo(database.DB).Create(ticket))
	return ticket
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}, agentKey string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if agentKey != "" {
		req.Header.Set("X-Agent-Key", agentKey)
	}
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth_NoAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	rec := doJSON(t, srv, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAgentKeyMiddleware_RejectsMissingOrWrongKey(t *testing.T) {
	srv, _ := newTestServer(t, "secret")

	rec := doJSON(t, srv, http.MethodPost, "/claim", ClaimRequest{AgentID: "w1", ProjectKey: "TESTPROJ"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/claim", ClaimRequest{AgentID: "w1", ProjectKey: "TESTPROJ"}, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAgentKeyMiddleware_EmptyConfiguredKeyDisablesCheck(t *testing.T) {
	srv, database := newTestServer(t, "")
	project := seedProject(t, database)
	seedReadyTicket(t, database, project.ID)

	rec := doJSON(t, srv, http.MethodPost, "/claim", ClaimRequest{AgentID: "w1", ProjectKey: project.Key}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleClaim_ReturnsTicketAndSettings(t *testing.T) {
	srv, database := newTestServer(t, "secret")
	project := seedProject(t, database)
	ticket := seedReadyTicket(t, database, project.ID)

	rec := doJSON(t, srv, http.MethodPost, "/claim", ClaimRequest{AgentID: "w1", ProjectKey: project.Key}, "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ClaimResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ticket.Key, resp.Ticket.ID)
	assert.NotEmpty(t, resp.Ticket.ClaimToken)
	assert.Equal(t, project.Key, resp.ProjectSettings.Key)

	stored, err := db.NewTicketRepo(database.DB).GetByKey(ticket.Key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, stored.Status)
}

func TestHandleClaim_NoReadyWorkReturns204(t *testing.T) {
	srv, database := newTestServer(t, "secret")
	project := seedProject(t, database)

	rec := doJSON(t, srv, http.MethodPost, "/claim", ClaimRequest{AgentID: "w1", ProjectKey: project.Key}, "secret")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleClaim_UnknownProjectIs404(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	rec := doJSON(t, srv, http.MethodPost, "/claim", ClaimRequest{AgentID: "w1", ProjectKey: "NOPE"}, "secret")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleClaim_EmptyProjectClaimsAcrossProjects(t *testing.T) {
	srv, database := newTestServer(t, "secret")
	project := seedProject(t, database)
	ticket := seedReadyTicket(t, database, project.ID)

	rec := doJSON(t, srv, http.MethodPost, "/claim", ClaimRequest{AgentID: "w1"}, "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ClaimResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ticket.Key, resp.Ticket.ID)
	assert.Equal(t, project.Key, resp.ProjectSettings.Key, "settings must come from the claimed ticket's project")
}

func TestHandleClaim_TicketFilterExcludesSeenTickets(t *testing.T) {
	srv, database := newTestServer(t, "secret")
	project := seedProject(t, database)
	first := seedReadyTicket(t, database, project.ID)
	second := seedReadyTicket(t, database, project.ID)

	rec := doJSON(t, srv, http.MethodPost, "/claim", ClaimRequest{
		AgentID:      "w1",
		ProjectKey:   project.Key,
		TicketFilter: &ClaimTicketFilter{ExcludeKeys: []string{first.Key}},
	}, "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ClaimResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, second.Key, resp.Ticket.ID)
}

func TestHandleClaim_SkipsTicketAtAttemptCap(t *testing.T) {
	srv, database := newTestServer(t, "secret")
	project := seedProject(t, database)

	key, err := models.NewTicketKey()
	require.NoError(t, err)
	exhausted := &models.Ticket{
		ProjectID: project.ID, Key: key, Title: "exhausted", Status: models.StatusReady,
		Attempts: 3, MaxAttempts: 3,
	}
	require.NoError(t, db.NewTicketRepo(database.DB).Create(exhausted))

	rec := doJSON(t, srv, http.MethodPost, "/claim", ClaimRequest{AgentID: "w1", ProjectKey: project.Key}, "secret")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func claimTicket(t *testing.T, srv *Server, projectKey string) ClaimResponse {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/claim", ClaimRequest{AgentID: "w1", ProjectKey: projectKey}, "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ClaimResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandleHeartbeat_ExtendsActiveClaim(t *testing.T) {
	srv, database := newTestServer(t, "secret")
	project := seedProject(t, database)
	seedReadyTicket(t, database, project.ID)
	claimed := claimTicket(t, srv, project.Key)

	rec := doJSON(t, srv, http.MethodPost, "/heartbeat", HeartbeatRequest{
		TicketID: claimed.Ticket.ID, AgentID: "w1", ClaimToken: claimed.Ticket.ClaimToken,
	}, "secret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleHeartbeat_StaleClaimIsRejected(t *testing.T) {
	srv, database := newTestServer(t, "secret")
	project := seedProject(t, database)
	seedReadyTicket(t, database, project.ID)
	claimed := claimTicket(t, srv, project.Key)

	rec := doJSON(t, srv, http.MethodPost, "/heartbeat", HeartbeatRequest{
		TicketID: claimed.Ticket.ID, AgentID: "w1", ClaimToken: "not-the-real-token",
	}, "secret")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleHeartbeat_CancelledTicketReadsAsStaleClaim(t *testing.T) {
	srv, database := newTestServer(t, "secret")
	project := seedProject(t, database)
	seedReadyTicket(t, database, project.ID)
	claimed := claimTicket(t, srv, project.Key)

	ticketRepo := db.NewTicketRepo(database.DB)
	stored, err := ticketRepo.GetByKey(claimed.Ticket.ID)
	require.NoError(t, err)
	require.NoError(t, ticketRepo.Transition(stored.ID, stored.Status, models.StatusCancelled, nil))

	rec := doJSON(t, srv, http.MethodPost, "/heartbeat", HeartbeatRequest{
		TicketID: claimed.Ticket.ID, AgentID: "w1", ClaimToken: claimed.Ticket.ClaimToken,
	}, "secret")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Completion with the same token must be rejected as well; the ticket
	// stays cancelled.
	rec = doJSON(t, srv, http.MethodPost, "/complete", CompleteRequest{
		TicketID: claimed.Ticket.ID, AgentID: "w1", ClaimToken: claimed.Ticket.ClaimToken, Success: true,
	}, "secret")
	assert.Equal(t, http.StatusConflict, rec.Code)

	final, err := ticketRepo.GetByKey(claimed.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, final.Status)
}

func TestHandleStatus_AdvancesWithinNonTerminalStates(t *testing.T) {
	srv, database := newTestServer(t, "secret")
	project := seedProject(t, database)
	seedReadyTicket(t, database, project.ID)
	claimed := claimTicket(t, srv, project.Key)

	rec := doJSON(t, srv, http.MethodPost, "/status", StatusRequest{
		TicketID: claimed.Ticket.ID, AgentID: "w1", ClaimToken: claimed.Ticket.ClaimToken,
		State: "in_progress",
	}, "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := db.NewTicketRepo(database.DB).GetByKey(claimed.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, stored.Status)
}

func TestHandleStatus_InvalidTransitionRejected(t *testing.T) {
	srv, database := newTestServer(t, "secret")
	project := seedProject(t, database)
	seedReadyTicket(t, database, project.ID)
	claimed := claimTicket(t, srv, project.Key)

	// assigned -> verifying skips in_progress and must be rejected.
	rec := doJSON(t, srv, http.MethodPost, "/status", StatusRequest{
		TicketID: claimed.Ticket.ID, AgentID: "w1", ClaimToken: claimed.Ticket.ClaimToken,
		State: "verifying",
	}, "secret")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleComplete_SuccessMovesToInReview(t *testing.T) {
	srv, database := newTestServer(t, "secret")
	project := seedProject(t, database)
	seedReadyTicket(t, database, project.ID)
	claimed := claimTicket(t, srv, project.Key)

	rec := doJSON(t, srv, http.MethodPost, "/complete", CompleteRequest{
		TicketID: claimed.Ticket.ID, AgentID: "w1", ClaimToken: claimed.Ticket.ClaimToken,
		Success: true, PRUrl: "https://github.com/acme/repo/pull/1", BranchName: "ticket-branch",
		CommitSHA: "abc123", FilesChanged: []string{"src/a.js"},
	}, "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := db.NewTicketRepo(database.DB).GetByKey(claimed.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInReview, stored.Status)

	events, err := db.NewEventRepo(database.DB).ListByTicket(stored.ID, 50)
	require.NoError(t, err)
	var sawPR, sawCompleted bool
	for _, e := range events {
		if e.Category == models.CategoryPRCreated {
			sawPR = true
		}
		if e.Category == models.CategoryCompleted {
			sawCompleted = true
		}
	}
	assert.True(t, sawPR)
	assert.True(t, sawCompleted)

	// A completion call replaying the now-stale token must be rejected.
	rec = doJSON(t, srv, http.MethodPost, "/complete", CompleteRequest{
		TicketID: claimed.Ticket.ID, AgentID: "w1", ClaimToken: claimed.Ticket.ClaimToken, Success: true,
	}, "secret")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleComplete_FailureReturnsToReadyAndIncrementsAttempts(t *testing.T) {
	srv, database := newTestServer(t, "secret")
	project := seedProject(t, database)
	ticket := seedReadyTicket(t, database, project.ID)
	claimed := claimTicket(t, srv, project.Key)

	rec := doJSON(t, srv, http.MethodPost, "/complete", CompleteRequest{
		TicketID: claimed.Ticket.ID, AgentID: "w1", ClaimToken: claimed.Ticket.ClaimToken,
		Success: false, Error: "validation_exhausted",
	}, "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := db.NewTicketRepo(database.DB).GetByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Empty(t, stored.ClaimToken)
}

func TestHandleComplete_FailureAtMaxAttemptsQuarantines(t *testing.T) {
	srv, database := newTestServer(t, "secret")
	project := seedProject(t, database)
	key, err := models.NewTicketKey()
	require.NoError(t, err)
	ticket := &models.Ticket{
		ProjectID: project.ID, Key: key, Title: "flaky", Status: models.StatusReady,
		Attempts: 2, MaxAttempts: 3,
	}
	require.NoError(t, db.NewTicketRepo(database.DB).Create(ticket))
	claimed := claimTicket(t, srv, project.Key)

	rec := doJSON(t, srv, http.MethodPost, "/complete", CompleteRequest{
		TicketID: claimed.Ticket.ID, AgentID: "w1", ClaimToken: claimed.Ticket.ClaimToken,
		Success: false, Error: "validation_exhausted",
	}, "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := db.NewTicketRepo(database.DB).GetByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQuarantined, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
}

func TestHandleFail_NonRetryableEscalatesToNeedsReview(t *testing.T) {
	srv, database := newTestServer(t, "secret")
	project := seedProject(t, database)
	ticket := seedReadyTicket(t, database, project.ID)
	claimed := claimTicket(t, srv, project.Key)

	rec := doJSON(t, srv, http.MethodPost, "/fail", FailRequest{
		TicketID: claimed.Ticket.ID, AgentID: "w1", ClaimToken: claimed.Ticket.ClaimToken,
		ErrorMessage: "criterion AC-1 is BLOCKED", ShouldRetry: false,
	}, "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := db.NewTicketRepo(database.DB).GetByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNeedsReview, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func TestHandleFail_RetryableReturnsToReady(t *testing.T) {
	srv, database := newTestServer(t, "secret")
	project := seedProject(t, database)
	ticket := seedReadyTicket(t, database, project.ID)
	claimed := claimTicket(t, srv, project.Key)

	rec := doJSON(t, srv, http.MethodPost, "/fail", FailRequest{
		TicketID: claimed.Ticket.ID, AgentID: "w1", ClaimToken: claimed.Ticket.ClaimToken,
		ErrorMessage: "network timeout calling LLM", ShouldRetry: true,
	}, "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := db.NewTicketRepo(database.DB).GetByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, stored.Status)
}

func TestActivityLog_PostThenGetRoundtrips(t *testing.T) {
	srv, database := newTestServer(t, "secret")
	project := seedProject(t, database)
	ticket := seedReadyTicket(t, database, project.ID)

	rec := doJSON(t, srv, http.MethodPost, "/tickets/"+ticket.Key+"/activity", ActivityRequest{
		AgentID: "w1", Category: "code_generation", Message: "attempt 1 started",
		Metadata: map[string]interface{}{"attempt": float64(1)},
	}, "secret")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/tickets/"+ticket.Key+"/activity", nil, "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	var events []*ActivityEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "code_generation", events[0].Category)
	assert.Equal(t, "attempt 1 started", events[0].Message)
}

func TestActivityLog_RejectsUnknownCategory(t *testing.T) {
	srv, database := newTestServer(t, "secret")
	project := seedProject(t, database)
	ticket := seedReadyTicket(t, database, project.ID)

	rec := doJSON(t, srv, http.MethodPost, "/tickets/"+ticket.Key+"/activity", ActivityRequest{
		AgentID: "w1", Category: "not_a_real_category", Message: "x",
	}, "secret")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRecordAttempt_PersistsTelemetry(t *testing.T) {
	srv, database := newTestServer(t, "secret")
	project := seedProject(t, database)
	ticket := seedReadyTicket(t, database, project.ID)

	rec := doJSON(t, srv, http.MethodPost, "/tickets/"+ticket.Key+"/attempts", AttemptRequest{
		AgentID: "w1", AttemptNumber: 1, DurationMS: 4200, ErrorCount: 2,
		InputTokens: 1000, OutputTokens: 500, Outcome: "validation_failed",
	}, "secret")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

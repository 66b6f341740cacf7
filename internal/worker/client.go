package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	tkterrors "github.com/daglabs/ticketwright/internal/errors"
)

// OrchestratorClient is the worker's HTTP client against the orchestrator
// API. Every call authenticates with a shared X-Agent-Key header; the
// client never logs a claim token.
type OrchestratorClient struct {
	baseURL    string
	agentKey   string
	httpClient *http.Client
}

// NewOrchestratorClient creates a client against baseURL (e.g.
// "http://localhost:18080"), authenticating with agentKey.
func NewOrchestratorClient(baseURL, agentKey string, timeout time.Duration) *OrchestratorClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OrchestratorClient{
		baseURL:    baseURL,
		agentKey:   agentKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type claimRequest struct {
	AgentID    string `json:"agent_id"`
	ProjectKey string `json:"project_id"`
}

type claimResponse struct {
	Ticket          TicketView          `json:"ticket"`
	ProjectSettings ProjectSettingsView `json:"project_settings"`
}

// Claim requests one ready ticket. ok is false when the orchestrator
// returned 204 No Content (no ready work).
func (c *OrchestratorClient) Claim(ctx context.Context, agentID, projectKey string) (*TicketView, *ProjectSettingsView, bool, error) {
	var resp claimResponse
	status, err := c.do(ctx, http.MethodPost, "/claim", claimRequest{AgentID: agentID, ProjectKey: projectKey}, &resp)
	if err != nil {
		return nil, nil, false, err
	}
	if status == http.StatusNoContent {
		return nil, nil, false, nil
	}
	return &resp.Ticket, &resp.ProjectSettings, true, nil
}

// Heartbeat renews a claim. A StaleClaim error means the caller must
// abort its in-flight work immediately.
func (c *OrchestratorClient) Heartbeat(ctx context.Context, ticketID, agentID, claimToken string) error {
	body := map[string]string{"ticket_id": ticketID, "agent_id": agentID, "claim_token": claimToken}
	_, err := c.do(ctx, http.MethodPost, "/heartbeat", body, nil)
	return err
}

// Status advances a claimed ticket through assigned -> in_progress -> verifying.
func (c *OrchestratorClient) Status(ctx context.Context, ticketID, agentID, claimToken, state string) error {
	body := map[string]string{"ticket_id": ticketID, "agent_id": agentID, "claim_token": claimToken, "state": state}
	_, err := c.do(ctx, http.MethodPost, "/status", body, nil)
	return err
}

// CompleteSuccess reports a successful attempt: PR opened, ticket moves
// to in_review.
func (c *OrchestratorClient) CompleteSuccess(ctx context.Context, ticketID, agentID, claimToken string, prURL, branch, commitSHA string, criteria []CriterionStatus, filesChanged []string) error {
	body := map[string]interface{}{
		"ticket_id":       ticketID,
		"agent_id":        agentID,
		"claim_token":     claimToken,
		"success":         true,
		"pr_url":          prURL,
		"branch_name":     branch,
		"commit_sha":      commitSHA,
		"criteria_status": criteria,
		"files_changed":   filesChanged,
	}
	_, err := c.do(ctx, http.MethodPost, "/complete", body, nil)
	return err
}

// CompleteFailure reports a failed attempt via /complete's failure shape.
func (c *OrchestratorClient) CompleteFailure(ctx context.Context, ticketID, agentID, claimToken, errorClass string) error {
	body := map[string]interface{}{
		"ticket_id":   ticketID,
		"agent_id":    agentID,
		"claim_token": claimToken,
		"success":     false,
		"error":       errorClass,
	}
	_, err := c.do(ctx, http.MethodPost, "/complete", body, nil)
	return err
}

// Fail reports an explicit retryable/non-retryable failure via POST
// /fail, distinct from a failed /complete call.
func (c *OrchestratorClient) Fail(ctx context.Context, ticketID, agentID, claimToken, message string, shouldRetry bool) error {
	body := map[string]interface{}{
		"ticket_id":     ticketID,
		"agent_id":      agentID,
		"claim_token":   claimToken,
		"error_message": message,
		"should_retry":  shouldRetry,
	}
	_, err := c.do(ctx, http.MethodPost, "/fail", body, nil)
	return err
}

// Activity appends a worker-emitted event to the ticket's activity log.
func (c *OrchestratorClient) Activity(ctx context.Context, ticketID, agentID, category, message string, metadata map[string]interface{}) error {
	body := map[string]interface{}{
		"agent_id": agentID,
		"category": category,
		"message":  message,
		"metadata": metadata,
	}
	_, err := c.do(ctx, http.MethodPost, "/tickets/"+ticketID+"/activity", body, nil)
	return err
}

// RecordAttempt reports one generation attempt's telemetry: duration,
// validator/patch error count, and token usage.
func (c *OrchestratorClient) RecordAttempt(ctx context.Context, ticketID, agentID string, attemptNumber int, duration time.Duration, errorCount int, inputTokens, outputTokens int64, outcome string) error {
	body := map[string]interface{}{
		"agent_id":       agentID,
		"attempt_number": attemptNumber,
		"duration_ms":    duration.Milliseconds(),
		"error_count":    errorCount,
		"input_tokens":   inputTokens,
		"output_tokens":  outputTokens,
		"outcome":        outcome,
	}
	_, err := c.do(ctx, http.MethodPost, "/tickets/"+ticketID+"/attempts", body, nil)
	return err
}

// do sends one JSON request and decodes the JSON response into out (if
// non-nil), mapping error responses to the shared error taxonomy so the
// worker loop can branch on tkterrors.Is(err, tkterrors.KindStaleClaim).
func (c *OrchestratorClient) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, tkterrors.NetworkError("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-Key", c.agentKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, tkterrors.NetworkError("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && resp.StatusCode != http.StatusNoContent {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resp.StatusCode, fmt.Errorf("decode response: %w", err)
			}
		}
		return resp.StatusCode, nil
	}

	var payload struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Error == "" {
		payload.Error = fmt.Sprintf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	return resp.StatusCode, mapErrorResponse(resp.StatusCode, payload.Kind, payload.Error)
}

// mapErrorResponse reconstructs the shared error kind from the
// orchestrator's error payload so callers can use tkterrors.Is.
func mapErrorResponse(status int, kind, message string) error {
	switch kind {
	case "StaleClaim":
		return &tkterrors.Error{Kind: tkterrors.KindStaleClaim, Message: message}
	case "StaleState":
		return &tkterrors.Error{Kind: tkterrors.KindStaleState, Message: message}
	case "NotFound":
		return &tkterrors.Error{Kind: tkterrors.KindNotFound, Message: message}
	case "InvalidArgs":
		return &tkterrors.Error{Kind: tkterrors.KindInvalidArgs, Message: message}
	}

	switch status {
	case http.StatusConflict:
		return &tkterrors.Error{Kind: tkterrors.KindStaleClaim, Message: message}
	case http.StatusNotFound:
		return &tkterrors.Error{Kind: tkterrors.KindNotFound, Message: message}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &tkterrors.Error{Kind: tkterrors.KindInvalidArgs, Message: message}
	default:
		return tkterrors.NetworkError("%s", message)
	}
}

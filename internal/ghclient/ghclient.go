// Package ghclient opens pull requests for completed tickets. It
// tolerates both same-repo and cross-owner head-reference formats,
// retrying only on a 422 validation error.
package ghclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
)

// Criterion is one row of the PR body's acceptance-criteria table.
type Criterion struct {
	ID       string
	Status   string
	Evidence string
}

// CreatePRParams describes a pull request to open.
type CreatePRParams struct {
	Owner      string
	Repo       string
	Head       string // branch name, same-repo; cross-owner callers set HeadOwner
	HeadOwner  string // non-empty for a cross-owner (fork) head ref
	Base       string
	Title      string
	Summary    string
	Criteria   []Criterion
}

// Client opens pull requests against GitHub.
type Client struct {
	gh *github.Client
}

// New creates a Client authenticated with a personal access / app
// installation token.
func New(token string) *Client {
	return &Client{gh: github.NewClient(nil).WithAuthToken(token)}
}

// CreatePR opens a pull request. It first tries the caller's preferred
// head-reference style and, only on a 422 Unprocessable Entity, retries
// with the alternative style (owner:branch vs bare branch). Any other
// status is not retried.
func (c *Client) CreatePR(ctx context.Context, params CreatePRParams) (*github.PullRequest, error) {
	body := renderBody(params.Summary, params.Criteria)

	first := headRef(params, false)
	pr, resp, err := c.create(ctx, params, first, body)
	if err == nil {
		return pr, nil
	}
	if !is422(resp) {
		return nil, fmt.Errorf("create pull request: %w", err)
	}

	second := headRef(params, true)
	if second == first {
		return nil, fmt.Errorf("create pull request: %w", err)
	}

	pr, _, err2 := c.create(ctx, params, second, body)
	if err2 != nil {
		return nil, fmt.Errorf("create pull request (retried with alternate head ref): %w", err2)
	}
	return pr, nil
}

func (c *Client) create(ctx context.Context, params CreatePRParams, head, body string) (*github.PullRequest, *github.Response, error) {
	req := &github.NewPullRequest{
		Title: github.String(params.Title),
		Head:  github.String(head),
		Base:  github.String(params.Base),
		Body:  github.String(body),
	}
	return c.gh.PullRequests.Create(ctx, params.Owner, params.Repo, req)
}

// headRef renders the PR head reference. crossOwnerStyle forces the
// owner:branch form even when HeadOwner is unset, so the retry path
// can flip the style without a second HeadOwner field to track.
func headRef(params CreatePRParams, crossOwnerStyle bool) string {
	owner := params.HeadOwner
	if owner == "" && crossOwnerStyle {
		owner = params.Owner
	}
	if owner == "" {
		return params.Head
	}
	return fmt.Sprintf("%s:%s", owner, params.Head)
}

func is422(resp *github.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusUnprocessableEntity
}

// renderBody embeds the summary and a markdown table of criterion
// statuses.
func renderBody(summary string, criteria []Criterion) string {
	var b strings.Builder
	b.WriteString(summary)
	if len(criteria) == 0 {
		return b.String()
	}

	b.WriteString("\n\n| Criterion | Status | Evidence |\n")
	b.WriteString("|---|---|---|\n")
	for _, crit := range criteria {
		b.WriteString(fmt.Sprintf("| %s | %s | %s |\n", crit.ID, crit.Status, sanitizeCell(crit.Evidence)))
	}
	return b.String()
}

func sanitizeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

// IsNotFound reports whether err came back as a GitHub 404.
func IsNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) {
		return ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}

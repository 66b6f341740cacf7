package ghclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)

	gh := github.NewClient(server.Client())
	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	gh.BaseURL = base

	return &Client{gh: gh}, server
}

func TestCreatePR_SameRepoSucceedsFirstTry(t *testing.T) {
	var capturedHead string
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Head string `json:"head"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		capturedHead = body.Head
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(github.PullRequest{Number: github.Int(42)})
	})
	defer server.Close()

	pr, err := client.CreatePR(t.Context(), CreatePRParams{
		Owner: "acme", Repo: "widgets", Head: "feature/my-ticket", Base: "main",
		Title: "Add foo", Summary: "Implements foo()",
		Criteria: []Criterion{{ID: "AC-1", Status: "SATISFIED", Evidence: "tests pass"}},
	})

	require.NoError(t, err)
	assert.Equal(t, 42, pr.GetNumber())
	assert.Equal(t, "feature/my-ticket", capturedHead)
}

func TestCreatePR_RetriesWithOwnerPrefixOn422(t *testing.T) {
	attempt := 0
	var heads []string
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Head string `json:"head"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		heads = append(heads, body.Head)
		attempt++
		if attempt == 1 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(github.ErrorResponse{Message: "Invalid value for head"})
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(github.PullRequest{Number: github.Int(7)})
	})
	defer server.Close()

	pr, err := client.CreatePR(t.Context(), CreatePRParams{
		Owner: "acme", Repo: "widgets", Head: "feature/x", Base: "main", Title: "t", Summary: "s",
	})

	require.NoError(t, err)
	assert.Equal(t, 7, pr.GetNumber())
	require.Len(t, heads, 2)
	assert.Equal(t, "feature/x", heads[0])
	assert.Equal(t, "acme:feature/x", heads[1])
}

func TestCreatePR_DoesNotRetryOnNon422Error(t *testing.T) {
	attempts := 0
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(github.ErrorResponse{Message: "boom"})
	})
	defer server.Close()

	_, err := client.CreatePR(t.Context(), CreatePRParams{
		Owner: "acme", Repo: "widgets", Head: "feature/x", Base: "main", Title: "t", Summary: "s",
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRenderBody_EscapesTablePipesAndNewlines(t *testing.T) {
	body := renderBody("summary text", []Criterion{
		{ID: "AC-1", Status: "SATISFIED", Evidence: "line one | with pipe\nline two"},
	})
	assert.Contains(t, body, "line one \\| with pipe line two")
}

func TestHeadRef_CrossOwnerUsesHeadOwnerWhenSet(t *testing.T) {
	ref := headRef(CreatePRParams{Owner: "acme", HeadOwner: "forker", Head: "branch"}, false)
	assert.Equal(t, "forker:branch", ref)
}

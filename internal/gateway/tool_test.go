package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/pr-audit/internal/domain"
)

var testToolOptions = ToolOptions{
	APIKey:               "secret",
	ListRepositoriesTool: "list_repositories",
	ListPullRequestsTool: "list_pull_requests",
	ListReviewsTool:      "list_reviews",
	ListEventsTool:       "list_pull_request_events",
}

// toolServer answers each tool name with a canned body and records the requests it saw.
func toolServer(t *testing.T, responses map[string]string) (*httptest.Server, *[]toolRequest) {
	var seen []toolRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req toolRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen = append(seen, req)
		body, ok := responses[req.Name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, body)
	}))
	return server, &seen
}

func newTestToolGateway(t *testing.T, endpoint string, now time.Time, repositories ...string) *ToolGateway {
	opts := testToolOptions
	opts.Endpoint = endpoint
	gateway, err := NewToolGateway(Options{Organization: "org", Repositories: repositories, Tool: opts}, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	gateway.now = func() time.Time { return now }
	return gateway
}

func TestToolGateway_ListRepositories(t *testing.T) {
	server, seen := toolServer(t, map[string]string{
		"list_repositories": `{"result":{"repositories":["org/a"," ",null,"org/b"]}}`,
	})
	defer server.Close()

	gateway := newTestToolGateway(t, server.URL, time.Now())
	repos, err := gateway.ListRepositories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"org/a", "org/b"}, repos)
	require.Len(t, *seen, 1)
	assert.Equal(t, "org", (*seen)[0].Arguments["organization"])

	explicit := newTestToolGateway(t, server.URL, time.Now(), "org/only")
	repos, err = explicit.ListRepositories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"org/only"}, repos)
	assert.Len(t, *seen, 1, "explicit repositories skip the tool call")
}

func TestToolGateway_ListPullRequestsUpdatedSince(t *testing.T) {
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	since := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	testCases := []struct {
		name      string
		responses map[string]string
		expected  []domain.PullRequestRecord
		expectErr string
	}{
		{
			name: "maps states, defaults and date forms",
			responses: map[string]string{
				"list_pull_requests": `{"result":{"pull_requests":[
					{"number":1,"title":"merged","author":"alice","state":"closed","created_at":"2025-02-28T00:00:00Z","updated_at":"2025-03-02T00:00:00Z","merged_at":1740960000},
					{"number":2,"title":"open","state":"OPEN","updated_at":"2025-03-03T00:00:00Z"},
					{"number":3,"title":"closed","state":"closed","updated_at":"2025-03-04T00:00:00Z","merged_at":null},
					{"number":0,"title":"skipped"},
					{"number":4,"title":"stale","state":"open","updated_at":"2025-02-01T00:00:00Z"},
					{"number":5,"title":"undated","state":"open"}
				]}}`,
				"list_reviews":             `{"result":{"reviews":[{"reviewer":"bob","state":"APPROVED","submitted_at":"2025-03-01T12:00:00Z"},{}]}}`,
				"list_pull_request_events": `{"result":{"events":[{"event_type":"labeled","actor":"alice","occurred_at":"not a date"}]}}`,
			},
			expected: []domain.PullRequestRecord{
				{Number: 1, Title: "merged", Author: "alice", State: domain.StateMerged,
					CreatedAt: time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), UpdatedAt: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
					MergedAt: ptr(time.Unix(1740960000, 0))},
				{Number: 2, Title: "open", Author: "unknown", State: domain.StateOpen,
					CreatedAt: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), UpdatedAt: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)},
				{Number: 3, Title: "closed", Author: "unknown", State: domain.StateClosed,
					CreatedAt: time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), UpdatedAt: time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)},
				{Number: 5, Title: "undated", Author: "unknown", State: domain.StateOpen, CreatedAt: now, UpdatedAt: now},
			},
		},
		{
			name:      "tool failure",
			responses: map[string]string{},
			expectErr: "tool list_pull_requests returned status 404",
		},
		{
			name:      "malformed response",
			responses: map[string]string{"list_pull_requests": `{"result":`},
			expectErr: "failed to decode list_pull_requests response",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server, seen := toolServer(t, tc.responses)
			defer server.Close()
			gateway := newTestToolGateway(t, server.URL, now)

			records, err := gateway.ListPullRequestsUpdatedSince(context.Background(), "org/repo", since)
			if tc.expectErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, records, len(tc.expected))
			for i, expected := range tc.expected {
				expected.Repository = "org/repo"
				expected.Reviews = []domain.ReviewRecord{
					{Reviewer: "bob", State: "APPROVED", SubmittedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
					{Reviewer: "unknown", State: "UNKNOWN", SubmittedAt: now},
				}
				expected.Events = []domain.EventRecord{{EventType: "labeled", Actor: "alice", OccurredAt: now}}
				assertRecordEqual(t, expected, records[i])
			}

			first := (*seen)[0]
			assert.Equal(t, "list_pull_requests", first.Name)
			assert.Equal(t, "all", first.Arguments["state"])
			assert.Equal(t, "2025-03-01T00:00:00Z", first.Arguments["updated_since"])
			assert.Equal(t, "list_reviews", (*seen)[1].Name)
			assert.EqualValues(t, 1, (*seen)[1].Arguments["pull_request_number"])
		})
	}
}

func TestToolGateway_EmptyBodyMeansNoData(t *testing.T) {
	server, _ := toolServer(t, map[string]string{"list_pull_requests": ""})
	defer server.Close()

	records, err := newTestToolGateway(t, server.URL, time.Now()).ListPullRequestsUpdatedSince(context.Background(), "org/repo", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestNewToolGateway_RequiresEndpoint(t *testing.T) {
	_, err := NewToolGateway(Options{}, log.New(io.Discard, "", 0))
	assert.Error(t, err)
}

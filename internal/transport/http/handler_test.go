package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/pr-audit/internal/domain"
)

// mockAuditor is a mock implementation of the usecase.Auditor interface.
type mockAuditor struct {
	mock.Mock
}

func (m *mockAuditor) RunIngestion(ctx context.Context) (*domain.IngestionRunResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IngestionRunResult), args.Error(1)
}

func (m *mockAuditor) OpenPRReport(ctx context.Context, repository string, olderThanDays int) ([]domain.OpenPRSummary, error) {
	args := m.Called(ctx, repository, olderThanDays)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.OpenPRSummary), args.Error(1)
}

func (m *mockAuditor) UserStats(ctx context.Context, from, to time.Time) ([]domain.UserStatSummary, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.UserStatSummary), args.Error(1)
}

func (m *mockAuditor) ReleaseAuditSummary(ctx context.Context, from, to time.Time) (*domain.ReleaseAuditSummary, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReleaseAuditSummary), args.Error(1)
}

func (m *mockAuditor) RepositoryReport(ctx context.Context, from, to time.Time) ([]domain.RepositoryReport, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RepositoryReport), args.Error(1)
}

var fixedNow = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

func setupServer(t *testing.T, auditor *mockAuditor) *httptest.Server {
	h := NewHandler(auditor, log.New(io.Discard, "", 0))
	h.now = func() time.Time { return fixedNow }
	server := httptest.NewServer(h.Routes())
	t.Cleanup(server.Close)
	return server
}

func instant(expected time.Time) interface{} {
	return mock.MatchedBy(func(t time.Time) bool { return t.Equal(expected) })
}

func TestHandler_Health(t *testing.T) {
	server := setupServer(t, new(mockAuditor))

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestHandler_RunIngestion(t *testing.T) {
	auditor := new(mockAuditor)
	auditor.On("RunIngestion", mock.Anything).Return(&domain.IngestionRunResult{
		RunID: "run-1", RepositoryCount: 2, PullRequestCount: 5, ErrorCount: 1, Errors: []string{"org/a: boom"},
	}, nil)
	server := setupServer(t, auditor)

	resp, err := http.Post(server.URL+"/api/ingestion/run", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "run-1", body["run_id"])
	assert.EqualValues(t, 5, body["pull_request_count"])
	assert.Equal(t, []any{"org/a: boom"}, body["errors"])

	resp, err = http.Get(server.URL + "/api/ingestion/run")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandler_OpenPRs(t *testing.T) {
	testCases := []struct {
		name           string
		query          string
		setup          func(m *mockAuditor)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "defaults",
			setup: func(m *mockAuditor) {
				m.On("OpenPRReport", mock.Anything, "", 0).Return([]domain.OpenPRSummary{}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   "[]\n",
		},
		{
			name:  "filters are passed through",
			query: "?repository=org/a&olderThanDays=7",
			setup: func(m *mockAuditor) {
				m.On("OpenPRReport", mock.Anything, "org/a", 7).Return([]domain.OpenPRSummary{{Repository: "org/a", Number: 3, AgeDays: 9}}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "bad threshold",
			query:          "?olderThanDays=ten",
			setup:          func(m *mockAuditor) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "{\"error\":\"olderThanDays must be an integer\"}\n",
		},
		{
			name: "store fault",
			setup: func(m *mockAuditor) {
				m.On("OpenPRReport", mock.Anything, "", 0).Return(nil, errors.New("database is locked"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   "{\"error\":\"database is locked\"}\n",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			auditor := new(mockAuditor)
			tc.setup(auditor)
			server := setupServer(t, auditor)

			resp, err := http.Get(server.URL + "/api/reports/open-prs" + tc.query)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, tc.expectedStatus, resp.StatusCode)
			if tc.expectedBody != "" {
				assert.Equal(t, tc.expectedBody, string(body))
			}
			auditor.AssertExpectations(t)
		})
	}
}

func TestHandler_DateWindow(t *testing.T) {
	testCases := []struct {
		name           string
		query          string
		from, to       time.Time
		expectedStatus int
	}{
		{
			name:           "both defaulted",
			from:           fixedNow.Add(-DefaultWindow),
			to:             fixedNow,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "from defaults relative to to",
			query:          "?to=2025-03-31T00:00:00Z",
			from:           time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			to:             time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
			expectedStatus: http.StatusOK,
		},
		{
			name:           "explicit window with offset and date-only",
			query:          "?from=2025-03-01&to=2025-03-02T09:00:00%2B09:00",
			from:           time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			to:             time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
			expectedStatus: http.StatusOK,
		},
		{
			name:           "date-only to covers the whole day",
			query:          "?from=2025-03-01&to=2025-03-31",
			from:           time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			to:             time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond),
			expectedStatus: http.StatusOK,
		},
		{
			name:           "single day window",
			query:          "?from=2025-03-05&to=2025-03-05",
			from:           time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
			to:             time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond),
			expectedStatus: http.StatusOK,
		},
		{name: "malformed from", query: "?from=yesterday", expectedStatus: http.StatusBadRequest},
		{name: "malformed to", query: "?to=2025-13-01", expectedStatus: http.StatusBadRequest},
		{name: "inverted window", query: "?from=2025-03-02&to=2025-03-01", expectedStatus: http.StatusBadRequest},
	}

	endpoints := map[string]func(m *mockAuditor, from, to time.Time){
		"/api/reports/user-stats": func(m *mockAuditor, from, to time.Time) {
			m.On("UserStats", mock.Anything, instant(from), instant(to)).Return([]domain.UserStatSummary{}, nil)
		},
		"/api/reports/release-summary": func(m *mockAuditor, from, to time.Time) {
			m.On("ReleaseAuditSummary", mock.Anything, instant(from), instant(to)).Return(&domain.ReleaseAuditSummary{From: from, To: to}, nil)
		},
		"/api/reports/repositories": func(m *mockAuditor, from, to time.Time) {
			m.On("RepositoryReport", mock.Anything, instant(from), instant(to)).Return([]domain.RepositoryReport{}, nil)
		},
	}

	for path, expect := range endpoints {
		for _, tc := range testCases {
			t.Run(path+" "+tc.name, func(t *testing.T) {
				auditor := new(mockAuditor)
				if tc.expectedStatus == http.StatusOK {
					expect(auditor, tc.from, tc.to)
				}
				server := setupServer(t, auditor)

				resp, err := http.Get(server.URL + path + tc.query)
				require.NoError(t, err)
				defer resp.Body.Close()

				assert.Equal(t, tc.expectedStatus, resp.StatusCode)
				if tc.expectedStatus == http.StatusBadRequest {
					var body errorResponse
					require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
					assert.NotEmpty(t, body.Error)
				}
				auditor.AssertExpectations(t)
			})
		}
	}
}

func TestHandler_ReportFailureIs500(t *testing.T) {
	auditor := new(mockAuditor)
	auditor.On("ReleaseAuditSummary", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("corrupt state"))
	server := setupServer(t, auditor)

	resp, err := http.Get(server.URL + "/api/reports/release-summary")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

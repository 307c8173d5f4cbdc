package store

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/pr-audit/internal/domain"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// backends returns a fresh instance of every backend that can run without external services.
func backends(t *testing.T) map[string]AuditStore {
	t.Helper()
	dir := t.TempDir()
	result := map[string]AuditStore{
		"json": NewJSONStore(filepath.Join(dir, "state", "audit.json"), discardLogger()),
	}
	for _, provider := range []string{"sqlite", "ansi"} {
		s, err := New(Options{
			Provider:         provider,
			DSN:              filepath.Join(dir, provider+".db"),
			InitializeSchema: true,
		}, discardLogger())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		result[provider] = s
	}
	return result
}

func record(repository string, number int, state domain.PullRequestState, updatedAt time.Time) domain.PullRequestRecord {
	return domain.PullRequestRecord{
		Repository: repository,
		Number:     number,
		Title:      "PR",
		Author:     "alice",
		State:      state,
		CreatedAt:  updatedAt.Add(-48 * time.Hour),
		UpdatedAt:  updatedAt,
		Reviews:    []domain.ReviewRecord{},
		Events:     []domain.EventRecord{},
	}
}

func TestAuditStore_Cursor(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			cursor, err := s.GetCursor(ctx, "org/repo")
			require.NoError(t, err)
			assert.Nil(t, cursor, "never synced repository has no cursor")

			require.NoError(t, s.SaveCursor(ctx, domain.RepositoryCursor{Repository: "org/repo", LastSuccessfulSyncUTC: base}))
			cursor, err = s.GetCursor(ctx, "ORG/Repo")
			require.NoError(t, err)
			require.NotNil(t, cursor)
			assert.True(t, base.Equal(cursor.LastSuccessfulSyncUTC))

			later := base.Add(time.Hour)
			require.NoError(t, s.SaveCursor(ctx, domain.RepositoryCursor{Repository: "Org/Repo", LastSuccessfulSyncUTC: later}))
			cursor, err = s.GetCursor(ctx, "org/repo")
			require.NoError(t, err)
			require.NotNil(t, cursor)
			assert.True(t, later.Equal(cursor.LastSuccessfulSyncUTC))
		})
	}
}

func TestAuditStore_UpsertIsIdempotentAndReplaces(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := record("org/repo", 7, domain.StateOpen, base)
			first.Reviews = []domain.ReviewRecord{{Reviewer: "bob", State: "COMMENTED", SubmittedAt: base}}

			require.NoError(t, s.UpsertPullRequests(ctx, []domain.PullRequestRecord{first}))
			require.NoError(t, s.UpsertPullRequests(ctx, []domain.PullRequestRecord{first}))

			merged := base.Add(time.Hour)
			second := record("ORG/repo", 7, domain.StateMerged, merged)
			second.Title = "renamed"
			second.MergedAt = &merged
			second.Events = []domain.EventRecord{{EventType: "merged", Actor: "bot", OccurredAt: merged}}
			require.NoError(t, s.UpsertPullRequests(ctx, []domain.PullRequestRecord{second}))

			all, err := s.ListPullRequests(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			got := all[0]
			assert.Equal(t, "renamed", got.Title)
			assert.Equal(t, domain.StateMerged, got.State)
			require.NotNil(t, got.MergedAt)
			assert.True(t, merged.Equal(*got.MergedAt))
			assert.Empty(t, got.Reviews, "reviews are replaced wholesale, not merged")
			assert.Equal(t, []domain.EventRecord{{EventType: "merged", Actor: "bot", OccurredAt: merged}}, got.Events)
		})
	}
}

func TestAuditStore_UpsertEmptyIsNoop(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.UpsertPullRequests(context.Background(), nil))
			all, err := s.ListPullRequests(context.Background())
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestAuditStore_ListOrderingAndFilters(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.UpsertPullRequests(ctx, []domain.PullRequestRecord{
				record("org/zeta", 1, domain.StateOpen, base),
				record("org/alpha", 2, domain.StateOpen, base.Add(24*time.Hour)),
				record("org/alpha", 1, domain.StateClosed, base.Add(48*time.Hour)),
				record("Org/Beta", 5, domain.StateMerged, base.Add(72*time.Hour)),
			}))

			all, err := s.ListPullRequests(ctx)
			require.NoError(t, err)
			var keys []string
			for _, pr := range all {
				keys = append(keys, recordKey(pr.Repository, pr.Number))
			}
			assert.Equal(t, []string{"org/alpha#1", "org/alpha#2", "org/beta#5", "org/zeta#1"}, keys)

			open, err := s.ListPullRequestsByState(ctx, domain.StateOpen, "")
			require.NoError(t, err)
			assert.Len(t, open, 2)

			open, err = s.ListPullRequestsByState(ctx, domain.StateOpen, "ORG/ALPHA")
			require.NoError(t, err)
			require.Len(t, open, 1)
			assert.Equal(t, 2, open[0].Number)

			inRange, err := s.ListPullRequestsByDateRange(ctx, base.Add(24*time.Hour), base.Add(72*time.Hour))
			require.NoError(t, err)
			assert.Len(t, inRange, 3, "both bounds are inclusive")

			inRange, err = s.ListPullRequestsByDateRange(ctx, base.Add(time.Nanosecond), base.Add(24*time.Hour-time.Nanosecond))
			require.NoError(t, err)
			assert.Empty(t, inRange)
		})
	}
}

func TestAuditStore_ConcurrentWritersDoNotLoseRecords(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 1; i <= 10; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					assert.NoError(t, s.UpsertPullRequests(ctx, []domain.PullRequestRecord{record("org/repo", n, domain.StateOpen, base)}))
				}(i)
			}
			wg.Wait()

			all, err := s.ListPullRequests(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 10)
		})
	}
}

func TestAuditStore_CancelledUpsertDoesNotCommit(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			err := s.UpsertPullRequests(ctx, []domain.PullRequestRecord{record("org/repo", 1, domain.StateOpen, base)})
			assert.Error(t, err)

			all, err := s.ListPullRequests(context.Background())
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestAuditStore_RejectsRecordWithoutRepository(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.UpsertPullRequests(context.Background(), []domain.PullRequestRecord{record(" ", 1, domain.StateOpen, base)})
			assert.Error(t, err)
		})
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(Options{Provider: "oracle", DSN: "x"}, discardLogger())
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

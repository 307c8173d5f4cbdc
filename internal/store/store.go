// Package store persists sync cursors and pull request snapshots.
// Two interchangeable backends implement AuditStore: a single JSON document
// on disk and a relational database reached through database/sql.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/naka-gawa/pr-audit/internal/domain"
)

var (
	// ErrUnknownProvider is returned by New for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown audit store provider")
	// ErrCorruptState is returned when the persisted JSON document cannot be parsed.
	ErrCorruptState = errors.New("audit state file is corrupt")
)

// AuditStore is the persistence contract shared by every backend.
// All backends must be observably identical.
type AuditStore interface {
	// GetCursor returns nil, nil when the repository was never synced.
	GetCursor(ctx context.Context, repository string) (*domain.RepositoryCursor, error)
	SaveCursor(ctx context.Context, cursor domain.RepositoryCursor) error
	// UpsertPullRequests inserts or fully replaces each record by (repository, number).
	UpsertPullRequests(ctx context.Context, records []domain.PullRequestRecord) error
	ListPullRequests(ctx context.Context) ([]domain.PullRequestRecord, error)
	// ListPullRequestsByState filters by exact state; an empty repository means no filter.
	ListPullRequestsByState(ctx context.Context, state domain.PullRequestState, repository string) ([]domain.PullRequestRecord, error)
	// ListPullRequestsByDateRange returns records whose UpdatedAt lies in [from, to].
	ListPullRequestsByDateRange(ctx context.Context, from, to time.Time) ([]domain.PullRequestRecord, error)
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Provider         string // json, sqlite, postgres or ansi
	Path             string // JSON document path
	Driver           string // database/sql driver override
	DSN              string
	InitializeSchema bool
}

// New builds the backend named by opts.Provider.
func New(opts Options, logger *log.Logger) (AuditStore, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "json" {
		return NewJSONStore(opts.Path, logger), nil
	}
	dialect, err := DialectFor(provider)
	if err != nil {
		return nil, err
	}
	return OpenSQL(dialect, opts.Driver, opts.DSN, opts.InitializeSchema, logger)
}

// sortRecords orders records by repository (case-insensitive) and number.
func sortRecords(records []domain.PullRequestRecord) {
	sort.Slice(records, func(i, j int) bool {
		ki, kj := domain.RepositoryKey(records[i].Repository), domain.RepositoryKey(records[j].Repository)
		if ki != kj {
			return ki < kj
		}
		return records[i].Number < records[j].Number
	})
}

// normalize gives every record the same shape regardless of backend:
// UTC timestamps and non-nil sub-lists.
func normalize(record domain.PullRequestRecord) domain.PullRequestRecord {
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	if record.MergedAt != nil {
		merged := record.MergedAt.UTC()
		record.MergedAt = &merged
	}
	reviews := make([]domain.ReviewRecord, len(record.Reviews))
	for i, review := range record.Reviews {
		review.SubmittedAt = review.SubmittedAt.UTC()
		reviews[i] = review
	}
	events := make([]domain.EventRecord, len(record.Events))
	for i, event := range record.Events {
		event.OccurredAt = event.OccurredAt.UTC()
		events[i] = event
	}
	record.Reviews = reviews
	record.Events = events
	return record
}

func filterByState(records []domain.PullRequestRecord, state domain.PullRequestState, repository string) []domain.PullRequestRecord {
	repository = strings.TrimSpace(repository)
	result := make([]domain.PullRequestRecord, 0, len(records))
	for _, record := range records {
		if record.State != state {
			continue
		}
		if repository != "" && !domain.SameRepository(record.Repository, repository) {
			continue
		}
		result = append(result, record)
	}
	return result
}

func filterByDateRange(records []domain.PullRequestRecord, from, to time.Time) []domain.PullRequestRecord {
	result := make([]domain.PullRequestRecord, 0, len(records))
	for _, record := range records {
		if domain.InRange(record.UpdatedAt, from, to) {
			result = append(result, record)
		}
	}
	return result
}

func validateRecords(records []domain.PullRequestRecord) error {
	for _, record := range records {
		if strings.TrimSpace(record.Repository) == "" {
			return fmt.Errorf("pull request #%d has no repository", record.Number)
		}
	}
	return nil
}

// Package usecase contains the business logic of the application: incremental
// ingestion of pull requests and the reports derived from the stored snapshots.
package usecase

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/pr-audit/internal/domain"
	"github.com/naka-gawa/pr-audit/internal/gateway"
	"github.com/naka-gawa/pr-audit/internal/store"
)

// DefaultLookback is how far back a never-synced repository is read.
const DefaultLookback = 30 * 24 * time.Hour

// Auditor is the set of operations exposed to the CLI and HTTP callers.
type Auditor interface {
	RunIngestion(ctx context.Context) (*domain.IngestionRunResult, error)
	OpenPRReport(ctx context.Context, repository string, olderThanDays int) ([]domain.OpenPRSummary, error)
	UserStats(ctx context.Context, from, to time.Time) ([]domain.UserStatSummary, error)
	ReleaseAuditSummary(ctx context.Context, from, to time.Time) (*domain.ReleaseAuditSummary, error)
	RepositoryReport(ctx context.Context, from, to time.Time) ([]domain.RepositoryReport, error)
}

// Settings tunes an ingestion run.
type Settings struct {
	Lookback    time.Duration // window for repositories without a cursor
	Concurrency int           // repositories processed at once; 1 is sequential
}

// Orchestrator syncs repositories from a data source into an audit store and
// builds reports from what is stored.
type Orchestrator struct {
	source   gateway.DataSource
	store    store.AuditStore
	settings Settings
	now      func() time.Time
	logger   *log.Logger
}

// NewOrchestrator creates a new Orchestrator instance.
func NewOrchestrator(source gateway.DataSource, auditStore store.AuditStore, settings Settings, logger *log.Logger) *Orchestrator {
	if settings.Lookback <= 0 {
		settings.Lookback = DefaultLookback
	}
	if settings.Concurrency < 1 {
		settings.Concurrency = 1
	}
	return &Orchestrator{
		source:   source,
		store:    auditStore,
		settings: settings,
		now:      time.Now,
		logger:   logger,
	}
}

type repositoryOutcome struct {
	pullRequests int
	err          error
}

// RunIngestion performs one incremental sync of every repository the data source lists.
// A failing repository is recorded in the result and keeps its cursor; the others proceed.
// An error is returned only when the repository list cannot be read or ctx is done.
func (o *Orchestrator) RunIngestion(ctx context.Context) (*domain.IngestionRunResult, error) {
	result := &domain.IngestionRunResult{
		RunID:     uuid.NewString(),
		StartedAt: o.now().UTC(),
		Errors:    []string{},
	}
	o.logger.Printf("Ingest: run %s started.", result.RunID)

	repositories, err := o.source.ListRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	result.RepositoryCount = len(repositories)

	outcomes := make([]repositoryOutcome, len(repositories))
	var eg errgroup.Group
	eg.SetLimit(o.settings.Concurrency)
	for i, repository := range repositories {
		i, repository := i, repository
		eg.Go(func() error {
			n, err := o.ingestRepository(ctx, repository)
			outcomes[i] = repositoryOutcome{pullRequests: n, err: err}
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ingestion run %s interrupted: %w", result.RunID, err)
	}

	for i, outcome := range outcomes {
		if outcome.err != nil {
			o.logger.Printf("Ingest: %s failed: %v", repositories[i], outcome.err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", repositories[i], outcome.err))
			continue
		}
		result.PullRequestCount += outcome.pullRequests
	}
	result.ErrorCount = len(result.Errors)
	result.CompletedAt = o.now().UTC()

	o.logger.Printf("Ingest: run %s completed in %s: %d repositories, %d pull requests, %d errors.",
		result.RunID, result.Duration(), result.RepositoryCount, result.PullRequestCount, result.ErrorCount)
	return result, nil
}

// ingestRepository syncs one repository. The cursor only moves after the snapshots are stored.
func (o *Orchestrator) ingestRepository(ctx context.Context, repository string) (int, error) {
	// Taken before the fetch so pull requests updated while it runs are read again next time.
	now := o.now().UTC()

	cursor, err := o.store.GetCursor(ctx, repository)
	if err != nil {
		return 0, err
	}
	since := now.Add(-o.settings.Lookback)
	if cursor != nil {
		since = cursor.LastSuccessfulSyncUTC
	}

	pullRequests, err := o.source.ListPullRequestsUpdatedSince(ctx, repository, since)
	if err != nil {
		return 0, err
	}
	if len(pullRequests) > 0 {
		if err := o.store.UpsertPullRequests(ctx, pullRequests); err != nil {
			return 0, err
		}
	}
	if err := o.store.SaveCursor(ctx, domain.RepositoryCursor{Repository: repository, LastSuccessfulSyncUTC: now}); err != nil {
		return 0, err
	}

	o.logger.Printf("Ingest: %s synced %d pull requests updated since %s.", repository, len(pullRequests), since.Format(time.RFC3339))
	return len(pullRequests), nil
}

// OpenPRReport lists open pull requests at least olderThanDays old, oldest first.
func (o *Orchestrator) OpenPRReport(ctx context.Context, repository string, olderThanDays int) ([]domain.OpenPRSummary, error) {
	records, err := o.store.ListPullRequestsByState(ctx, domain.StateOpen, repository)
	if err != nil {
		return nil, err
	}
	return BuildOpenPRReport(records, repository, olderThanDays, o.now()), nil
}

// UserStats reports authoring and reviewing activity per user in [from, to].
func (o *Orchestrator) UserStats(ctx context.Context, from, to time.Time) ([]domain.UserStatSummary, error) {
	records, err := o.store.ListPullRequestsByDateRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return BuildUserStats(records, from, to), nil
}

// ReleaseAuditSummary counts pull requests by state in [from, to].
func (o *Orchestrator) ReleaseAuditSummary(ctx context.Context, from, to time.Time) (*domain.ReleaseAuditSummary, error) {
	records, err := o.store.ListPullRequestsByDateRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary := BuildReleaseAuditSummary(records, from, to)
	return &summary, nil
}

// RepositoryReport breaks [from, to] down per repository.
func (o *Orchestrator) RepositoryReport(ctx context.Context, from, to time.Time) ([]domain.RepositoryReport, error) {
	records, err := o.store.ListPullRequestsByDateRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return BuildRepositoryReport(records, from, to), nil
}

// Package scheduler runs ingestion periodically in the background.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/naka-gawa/pr-audit/internal/domain"
)

// MinInterval and MaxInterval bound the accepted ingestion interval.
const (
	MinInterval = time.Minute
	MaxInterval = 24 * time.Hour
)

// Ingester is the part of usecase.Auditor the worker drives.
type Ingester interface {
	RunIngestion(ctx context.Context) (*domain.IngestionRunResult, error)
}

// Worker runs an ingestion immediately and then once per interval.
type Worker struct {
	ingester Ingester
	interval time.Duration
	logger   *log.Logger
}

// NewWorker creates a worker. The interval is clamped to [MinInterval, MaxInterval].
func NewWorker(ingester Ingester, interval time.Duration, logger *log.Logger) *Worker {
	return &Worker{
		ingester: ingester,
		interval: min(max(interval, MinInterval), MaxInterval),
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled. A failed run is logged and the loop goes on.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Printf("Scheduler: started with interval %s.", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			w.logger.Println("Scheduler: stopped.")
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	result, err := w.ingester.RunIngestion(ctx)
	if err != nil {
		w.logger.Printf("Scheduler: ingestion failed: %v", err)
		return
	}
	w.logger.Printf("Scheduler: ingestion completed. Repositories: %d, PRs: %d, Errors: %d.",
		result.RepositoryCount, result.PullRequestCount, result.ErrorCount)
}

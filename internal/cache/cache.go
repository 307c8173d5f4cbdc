// Package cache memoizes report results in front of a usecase.Auditor.
package cache

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/naka-gawa/pr-audit/internal/domain"
	"github.com/naka-gawa/pr-audit/internal/usecase"
)

// Cached is a read-through decorator for report calls.
// Every key embeds a generation number; bumping it after an ingestion run makes
// all earlier entries unreachable even if they are still being computed.
// Cached values are shared between callers and must be treated as read-only.
type Cached struct {
	inner      usecase.Auditor
	entries    *expirable.LRU[string, any]
	generation atomic.Uint64
	group      singleflight.Group
	logger     *log.Logger
}

var _ usecase.Auditor = (*Cached)(nil)

// New wraps inner with a cache of at most size entries that expire after ttl.
func New(inner usecase.Auditor, size int, ttl time.Duration, logger *log.Logger) *Cached {
	return &Cached{
		inner:   inner,
		entries: expirable.NewLRU[string, any](size, nil, ttl),
		logger:  logger,
	}
}

// RunIngestion always runs and then drops every cached report.
func (c *Cached) RunIngestion(ctx context.Context) (*domain.IngestionRunResult, error) {
	defer c.Invalidate()
	return c.inner.RunIngestion(ctx)
}

// Invalidate discards all cached results.
func (c *Cached) Invalidate() {
	generation := c.generation.Add(1)
	c.entries.Purge()
	c.logger.Printf("Cache: invalidated, now at generation %d.", generation)
}

func (c *Cached) OpenPRReport(ctx context.Context, repository string, olderThanDays int) ([]domain.OpenPRSummary, error) {
	key := c.key("open-prs", strings.ToLower(strings.TrimSpace(repository)), fmt.Sprint(olderThanDays))
	return memoize(ctx, c, key, func(ctx context.Context) ([]domain.OpenPRSummary, error) {
		return c.inner.OpenPRReport(ctx, repository, olderThanDays)
	})
}

func (c *Cached) UserStats(ctx context.Context, from, to time.Time) ([]domain.UserStatSummary, error) {
	return memoize(ctx, c, c.key("user-stats", window(from, to)), func(ctx context.Context) ([]domain.UserStatSummary, error) {
		return c.inner.UserStats(ctx, from, to)
	})
}

func (c *Cached) ReleaseAuditSummary(ctx context.Context, from, to time.Time) (*domain.ReleaseAuditSummary, error) {
	return memoize(ctx, c, c.key("release-summary", window(from, to)), func(ctx context.Context) (*domain.ReleaseAuditSummary, error) {
		return c.inner.ReleaseAuditSummary(ctx, from, to)
	})
}

func (c *Cached) RepositoryReport(ctx context.Context, from, to time.Time) ([]domain.RepositoryReport, error) {
	return memoize(ctx, c, c.key("repositories", window(from, to)), func(ctx context.Context) ([]domain.RepositoryReport, error) {
		return c.inner.RepositoryReport(ctx, from, to)
	})
}

func (c *Cached) key(report string, parts ...string) string {
	return fmt.Sprintf("%d|%s|%s", c.generation.Load(), report, strings.Join(parts, "|"))
}

func window(from, to time.Time) string {
	return from.UTC().Format(time.RFC3339Nano) + "|" + to.UTC().Format(time.RFC3339Nano)
}

// memoize serves key from the cache or computes it once for all concurrent callers.
// The shared computation is detached from any single caller's cancellation; each
// caller stops waiting when its own ctx is done.
// Failed computations are returned but never stored.
func memoize[T any](ctx context.Context, c *Cached, key string, compute func(context.Context) (T, error)) (T, error) {
	var zero T
	if value, ok := c.entries.Get(key); ok {
		c.logger.Printf("Cache: hit %s", key)
		return value.(T), nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		result, err := compute(shared)
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, result)
		return result, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

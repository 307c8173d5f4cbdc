package gateway

import (
	"context"
	"time"

	"github.com/naka-gawa/pr-audit/internal/domain"
)

// DefaultSampleRepositories are served when no repositories are configured.
var DefaultSampleRepositories = []string{"org/platform-service", "org/payments-api"}

// SampleGateway serves a fixed, clock-relative data set. It needs no network
// access and backs demos and local runs.
type SampleGateway struct {
	repositories []string
	now          func() time.Time
}

// NewSampleGateway creates a sample source. A nil clock means time.Now.
func NewSampleGateway(repositories []string, now func() time.Time) *SampleGateway {
	if now == nil {
		now = time.Now
	}
	repositories = explicitRepositories(repositories)
	if len(repositories) == 0 {
		repositories = append([]string(nil), DefaultSampleRepositories...)
	}
	return &SampleGateway{repositories: repositories, now: now}
}

func (g *SampleGateway) ListRepositories(ctx context.Context) ([]string, error) {
	return append([]string(nil), g.repositories...), nil
}

func (g *SampleGateway) ListPullRequestsUpdatedSince(ctx context.Context, repository string, since time.Time) ([]domain.PullRequestRecord, error) {
	var result []domain.PullRequestRecord
	for _, pr := range sampleData(repository, g.now().UTC()) {
		if !pr.UpdatedAt.Before(since) {
			result = append(result, pr)
		}
	}
	return result, nil
}

func sampleData(repository string, now time.Time) []domain.PullRequestRecord {
	day := 24 * time.Hour
	merged := now.Add(-2 * day)
	return []domain.PullRequestRecord{
		{
			Repository: repository,
			Number:     101,
			Title:      "Harden release branch checks",
			Author:     "alice",
			State:      domain.StateOpen,
			CreatedAt:  now.Add(-12 * day),
			UpdatedAt:  now.Add(-5 * time.Hour),
			Reviews: []domain.ReviewRecord{
				{Reviewer: "bob", State: "COMMENTED", SubmittedAt: now.Add(-10 * day)},
				{Reviewer: "claire", State: "APPROVED", SubmittedAt: now.Add(-9 * day)},
			},
			Events: []domain.EventRecord{{EventType: "labeled", Actor: "alice", OccurredAt: now.Add(-12 * day)}},
		},
		{
			Repository: repository,
			Number:     102,
			Title:      "Fix changelog generation for hotfixes",
			Author:     "bob",
			State:      domain.StateMerged,
			CreatedAt:  now.Add(-8 * day),
			UpdatedAt:  merged,
			MergedAt:   &merged,
			Reviews: []domain.ReviewRecord{
				{Reviewer: "alice", State: "APPROVED", SubmittedAt: now.Add(-3 * day)},
				{Reviewer: "claire", State: "APPROVED", SubmittedAt: now.Add(-3 * day)},
			},
			Events: []domain.EventRecord{{EventType: "merged", Actor: "release-bot", OccurredAt: merged}},
		},
		{
			Repository: repository,
			Number:     103,
			Title:      "Retire deprecated branch policy",
			Author:     "claire",
			State:      domain.StateClosed,
			CreatedAt:  now.Add(-20 * day),
			UpdatedAt:  now.Add(-6 * day),
			Reviews:    []domain.ReviewRecord{{Reviewer: "alice", State: "CHANGES_REQUESTED", SubmittedAt: now.Add(-7 * day)}},
			Events:     []domain.EventRecord{{EventType: "closed", Actor: "claire", OccurredAt: now.Add(-6 * day)}},
		},
	}
}

// Package domain contains the core data structures of the audit:
// pull request snapshots, sync cursors and the derived report rows.
package domain

import (
	"strings"
	"time"
)

// PullRequestState is the lifecycle state of a pull request as reported by the source.
type PullRequestState string

const (
	StateOpen   PullRequestState = "Open"
	StateClosed PullRequestState = "Closed"
	StateMerged PullRequestState = "Merged"
)

// ParseState maps a stored or user supplied state name onto a known state.
// Matching is case-insensitive; unknown values report ok=false.
func ParseState(s string) (PullRequestState, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open":
		return StateOpen, true
	case "closed":
		return StateClosed, true
	case "merged":
		return StateMerged, true
	default:
		return "", false
	}
}

// ApprovedReviewState is the review state that counts as an approval.
const ApprovedReviewState = "APPROVED"

// RepositoryCursor is the per-repository watermark of the last successful sync.
type RepositoryCursor struct {
	Repository            string    `json:"repository"`
	LastSuccessfulSyncUTC time.Time `json:"last_successful_sync_utc"`
}

// ReviewRecord is a single submitted review on a pull request.
type ReviewRecord struct {
	Reviewer    string    `json:"reviewer"`
	State       string    `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// IsApproval reports whether the review approved the pull request.
func (r ReviewRecord) IsApproval() bool {
	return strings.EqualFold(r.State, ApprovedReviewState)
}

// EventRecord is a timeline event on a pull request (labeled, closed, merged, ...).
type EventRecord struct {
	EventType  string    `json:"event_type"`
	Actor      string    `json:"actor"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PullRequestRecord is the latest known snapshot of one pull request.
// (Repository, Number) identifies it; the repository part compares case-insensitively.
type PullRequestRecord struct {
	Repository string           `json:"repository"`
	Number     int              `json:"number"`
	Title      string           `json:"title"`
	Author     string           `json:"author"`
	State      PullRequestState `json:"state"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	MergedAt   *time.Time       `json:"merged_at,omitempty"`
	Reviews    []ReviewRecord   `json:"reviews"`
	Events     []EventRecord    `json:"events"`
}

// HasApproval reports whether any review on the pull request is an approval.
func (p PullRequestRecord) HasApproval() bool {
	for _, review := range p.Reviews {
		if review.IsApproval() {
			return true
		}
	}
	return false
}

// RepositoryKey normalises a repository name for case-insensitive comparison.
func RepositoryKey(repository string) string {
	return strings.ToLower(repository)
}

// SameRepository reports whether two repository names refer to the same repository.
func SameRepository(a, b string) bool {
	return strings.EqualFold(a, b)
}

// InRange reports whether t lies in the inclusive window [from, to].
func InRange(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

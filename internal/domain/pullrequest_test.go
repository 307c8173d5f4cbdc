package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseState(t *testing.T) {
	testCases := []struct {
		in     string
		want   PullRequestState
		wantOK bool
	}{
		{in: "Open", want: StateOpen, wantOK: true},
		{in: "merged", want: StateMerged, wantOK: true},
		{in: " CLOSED ", want: StateClosed, wantOK: true},
		{in: "draft", wantOK: false},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := ParseState(tc.in)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPullRequestRecord_HasApproval(t *testing.T) {
	now := time.Now()
	testCases := []struct {
		name    string
		reviews []ReviewRecord
		want    bool
	}{
		{name: "no reviews", reviews: nil, want: false},
		{name: "only comments", reviews: []ReviewRecord{{Reviewer: "bob", State: "COMMENTED", SubmittedAt: now}}, want: false},
		{name: "upper case approval", reviews: []ReviewRecord{{Reviewer: "bob", State: "APPROVED", SubmittedAt: now}}, want: true},
		{name: "lower case approval", reviews: []ReviewRecord{{Reviewer: "bob", State: "approved", SubmittedAt: now}}, want: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pr := PullRequestRecord{Repository: "org/repo", Number: 1, Reviews: tc.reviews}
			assert.Equal(t, tc.want, pr.HasApproval())
		})
	}
}

func TestInRange_IsInclusive(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	assert.True(t, InRange(from, from, to))
	assert.True(t, InRange(to, from, to))
	assert.False(t, InRange(from.Add(-time.Nanosecond), from, to))
	assert.False(t, InRange(to.Add(time.Nanosecond), from, to))
}

func TestSameRepository(t *testing.T) {
	assert.True(t, SameRepository("Org/Repo", "org/repo"))
	assert.False(t, SameRepository("org/repo", "org/repo2"))
	assert.Equal(t, "org/repo", RepositoryKey("ORG/Repo"))
}

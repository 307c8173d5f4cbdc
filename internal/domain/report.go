package domain

import "time"

// IngestionRunResult summarises one ingestion run.
// Errors holds one "{repository}: {message}" entry per failed repository.
type IngestionRunResult struct {
	RunID            string    `json:"run_id"`
	StartedAt        time.Time `json:"started_at"`
	CompletedAt      time.Time `json:"completed_at"`
	RepositoryCount  int       `json:"repository_count"`
	PullRequestCount int       `json:"pull_request_count"`
	ErrorCount       int       `json:"error_count"`
	Errors           []string  `json:"errors"`
}

// Duration is the wall-clock time the run took.
func (r IngestionRunResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// OpenPRSummary is one row of the open pull request aging report.
type OpenPRSummary struct {
	Repository string    `json:"repository"`
	Number     int       `json:"number"`
	Title      string    `json:"title"`
	Author     string    `json:"author"`
	AgeDays    int       `json:"age_days"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UserStatSummary holds the authoring and reviewing activity of one user.
type UserStatSummary struct {
	User               string `json:"user"`
	OpenedPRs          int    `json:"opened_prs"`
	MergedPRs          int    `json:"merged_prs"`
	ReviewsSubmitted   int    `json:"reviews_submitted"`
	ApprovalsSubmitted int    `json:"approvals_submitted"`
}

// ReleaseAuditSummary counts pull requests by state within a window and flags
// merges that never received an approval.
type ReleaseAuditSummary struct {
	From                  time.Time `json:"from"`
	To                    time.Time `json:"to"`
	OpenPRs               int       `json:"open_prs"`
	ClosedPRs             int       `json:"closed_prs"`
	MergedPRs             int       `json:"merged_prs"`
	MergedWithoutApproval int       `json:"merged_without_approval"`
}

// RepositoryReport holds the activity counts for a single repository.
type RepositoryReport struct {
	Repository         string  `json:"repository"`
	OpenPRs            int     `json:"open_prs"`
	MergedPRs          int     `json:"merged_prs"`
	ClosedPRs          int     `json:"closed_prs"`
	ActiveContributors int     `json:"active_contributors"`
	MedianHoursToMerge float64 `json:"median_hours_to_merge"`
}

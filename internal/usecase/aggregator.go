package usecase

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/naka-gawa/pr-audit/internal/domain"
)

// The builders below are pure: they take a snapshot of stored records and never
// touch the store. Each one filters its input again, so callers may pass a
// superset of the relevant records.

// BuildOpenPRReport ages every open pull request against now and keeps those at
// least olderThanDays old. Ages are whole days, truncated.
// Rows are ordered by age descending, then repository, then number.
func BuildOpenPRReport(records []domain.PullRequestRecord, repository string, olderThanDays int, now time.Time) []domain.OpenPRSummary {
	threshold := max(olderThanDays, 0)
	report := []domain.OpenPRSummary{}
	for _, pr := range records {
		if pr.State != domain.StateOpen {
			continue
		}
		if repository != "" && !domain.SameRepository(pr.Repository, repository) {
			continue
		}
		age := ageInDays(pr.CreatedAt, now)
		if age < threshold {
			continue
		}
		report = append(report, domain.OpenPRSummary{
			Repository: pr.Repository,
			Number:     pr.Number,
			Title:      pr.Title,
			Author:     pr.Author,
			AgeDays:    age,
			UpdatedAt:  pr.UpdatedAt,
		})
	}

	sort.SliceStable(report, func(i, j int) bool {
		a, b := report[i], report[j]
		if a.AgeDays != b.AgeDays {
			return a.AgeDays > b.AgeDays
		}
		if ka, kb := domain.RepositoryKey(a.Repository), domain.RepositoryKey(b.Repository); ka != kb {
			return ka < kb
		}
		return a.Number < b.Number
	})
	return report
}

func ageInDays(createdAt, now time.Time) int {
	return int(math.Floor(now.Sub(createdAt).Hours() / 24))
}

// MedianAgeDays is the median age of the report rows, 0 for an empty report.
func MedianAgeDays(report []domain.OpenPRSummary) float64 {
	ages := make(stats.Float64Data, 0, len(report))
	for _, row := range report {
		ages = append(ages, float64(row.AgeDays))
	}
	median, err := stats.Median(ages)
	if err != nil {
		return 0
	}
	return median
}

// BuildUserStats attributes authored and merged pull requests to their authors and
// submitted reviews to their reviewers. Names are matched case-insensitively, so a
// user who both authors and reviews gets a single row.
func BuildUserStats(records []domain.PullRequestRecord, from, to time.Time) []domain.UserStatSummary {
	rows := make(map[string]*domain.UserStatSummary)
	row := func(user string) *domain.UserStatSummary {
		key := strings.ToLower(user)
		if _, ok := rows[key]; !ok {
			rows[key] = &domain.UserStatSummary{User: user}
		}
		return rows[key]
	}

	for _, pr := range records {
		if !domain.InRange(pr.UpdatedAt, from, to) {
			continue
		}
		author := row(pr.Author)
		author.OpenedPRs++
		if pr.State == domain.StateMerged {
			author.MergedPRs++
		}
		for _, review := range pr.Reviews {
			if !domain.InRange(review.SubmittedAt, from, to) {
				continue
			}
			reviewer := row(review.Reviewer)
			reviewer.ReviewsSubmitted++
			if review.IsApproval() {
				reviewer.ApprovalsSubmitted++
			}
		}
	}

	result := make([]domain.UserStatSummary, 0, len(rows))
	for _, r := range rows {
		result = append(result, *r)
	}
	sort.Slice(result, func(i, j int) bool {
		return strings.ToLower(result[i].User) < strings.ToLower(result[j].User)
	})
	return result
}

// BuildReleaseAuditSummary counts pull requests by state, and the merged ones
// without any approving review.
func BuildReleaseAuditSummary(records []domain.PullRequestRecord, from, to time.Time) domain.ReleaseAuditSummary {
	summary := domain.ReleaseAuditSummary{From: from, To: to}
	for _, pr := range records {
		if !domain.InRange(pr.UpdatedAt, from, to) {
			continue
		}
		switch pr.State {
		case domain.StateOpen:
			summary.OpenPRs++
		case domain.StateClosed:
			summary.ClosedPRs++
		case domain.StateMerged:
			summary.MergedPRs++
			if !pr.HasApproval() {
				summary.MergedWithoutApproval++
			}
		}
	}
	return summary
}

type repositoryGroup struct {
	report       domain.RepositoryReport
	authors      map[string]struct{}
	hoursToMerge stats.Float64Data
}

// BuildRepositoryReport groups pull requests per repository, ignoring case, and
// counts states and distinct authors. Rows are sorted by repository.
func BuildRepositoryReport(records []domain.PullRequestRecord, from, to time.Time) []domain.RepositoryReport {
	groups := make(map[string]*repositoryGroup)
	for _, pr := range records {
		if !domain.InRange(pr.UpdatedAt, from, to) {
			continue
		}
		key := domain.RepositoryKey(pr.Repository)
		group, ok := groups[key]
		if !ok {
			group = &repositoryGroup{
				report:  domain.RepositoryReport{Repository: pr.Repository},
				authors: make(map[string]struct{}),
			}
			groups[key] = group
		}

		group.authors[strings.ToLower(pr.Author)] = struct{}{}
		switch pr.State {
		case domain.StateOpen:
			group.report.OpenPRs++
		case domain.StateMerged:
			group.report.MergedPRs++
			if pr.MergedAt != nil {
				group.hoursToMerge = append(group.hoursToMerge, pr.MergedAt.Sub(pr.CreatedAt).Hours())
			}
		case domain.StateClosed:
			group.report.ClosedPRs++
		}
	}

	result := make([]domain.RepositoryReport, 0, len(groups))
	for _, group := range groups {
		group.report.ActiveContributors = len(group.authors)
		if median, err := stats.Median(group.hoursToMerge); err == nil {
			group.report.MedianHoursToMerge, _ = stats.Round(median, 2)
		}
		result = append(result, group.report)
	}
	sort.Slice(result, func(i, j int) bool {
		return domain.RepositoryKey(result[i].Repository) < domain.RepositoryKey(result[j].Repository)
	})
	return result
}

package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"

	"github.com/naka-gawa/pr-audit/internal/domain"
)

// GitHubGateway reads repositories and pull requests straight from GitHub.
// Pull requests and their reviews come from GraphQL search; timeline events
// come from the REST issue events endpoint.
type GitHubGateway struct {
	restClient    *github.Client
	graphqlClient *githubv4.Client
	organization  string
	repositories  []string
	logger        *log.Logger
}

// pullRequestSearchQuery pages through pull requests updated since a date, with their reviews.
type pullRequestSearchQuery struct {
	Search struct {
		PageInfo struct {
			HasNextPage bool
			EndCursor   githubv4.String
		}
		Edges []struct {
			Node struct {
				Typename    string `graphql:"__typename"`
				PullRequest struct {
					Number    int
					Title     string
					State     string
					CreatedAt githubv4.DateTime
					UpdatedAt githubv4.DateTime
					MergedAt  *githubv4.DateTime
					Author    struct {
						Login string
					}
					Reviews struct {
						Nodes []struct {
							Author struct {
								Login string
							}
							State       string
							SubmittedAt *githubv4.DateTime
						}
					} `graphql:"reviews(first: 100)"`
				} `graphql:"... on PullRequest"`
			}
		}
	} `graphql:"search(query: $query, type: ISSUE, first: 50, after: $cursor)"`
}

// NewGitHubGateway creates a gateway authenticated with opts.Token.
// An empty token falls back to anonymous access.
func NewGitHubGateway(opts Options, logger *log.Logger) (*GitHubGateway, error) {
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	var transport http.RoundTripper = rateLimitWaiter
	if opts.Token != "" {
		transport = &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}),
		}
	}
	httpClient := &http.Client{Transport: transport, Timeout: opts.Timeout}

	restClient := github.NewClient(httpClient)
	graphqlClient := githubv4.NewClient(httpClient)
	if opts.BaseURL != "" {
		restClient, err = restClient.WithEnterpriseURLs(opts.BaseURL, opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to configure enterprise URL: %w", err)
		}
		graphqlClient = githubv4.NewEnterpriseClient(strings.TrimSuffix(opts.BaseURL, "/")+"/api/graphql", httpClient)
	}

	return &GitHubGateway{
		restClient:    restClient,
		graphqlClient: graphqlClient,
		organization:  opts.Organization,
		repositories:  explicitRepositories(opts.Repositories),
		logger:        logger,
	}, nil
}

// ListRepositories returns the configured repositories, or every repository of the organization.
func (g *GitHubGateway) ListRepositories(ctx context.Context) ([]string, error) {
	if len(g.repositories) > 0 {
		return append([]string(nil), g.repositories...), nil
	}
	if g.organization == "" {
		return nil, fmt.Errorf("either repositories or an organization must be configured")
	}

	g.logger.Printf("Fetching repositories of %s using REST API...", g.organization)
	opts := &github.RepositoryListByOrgOptions{ListOptions: github.ListOptions{PerPage: 100}}
	var repositories []string
	for {
		repos, resp, err := g.restClient.Repositories.ListByOrg(ctx, g.organization, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories with REST API: %w", err)
		}
		for _, repo := range repos {
			if name := repo.GetFullName(); name != "" {
				repositories = append(repositories, name)
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
		g.logger.Println("  Fetching next page of repositories...")
	}
	return repositories, nil
}

// ListPullRequestsUpdatedSince returns every pull request of repository updated at or after since.
func (g *GitHubGateway) ListPullRequestsUpdatedSince(ctx context.Context, repository string, since time.Time) ([]domain.PullRequestRecord, error) {
	owner, name, err := splitRepository(repository)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("repo:%s/%s is:pr updated:>=%s", owner, name, since.UTC().Format(time.RFC3339))
	variables := map[string]interface{}{"query": githubv4.String(query), "cursor": (*githubv4.String)(nil)}

	var records []domain.PullRequestRecord
	for {
		var q pullRequestSearchQuery
		if err := g.graphqlClient.Query(ctx, &q, variables); err != nil {
			return nil, fmt.Errorf("failed to execute GraphQL query for pull requests: %w", err)
		}
		for _, edge := range q.Search.Edges {
			if edge.Node.Typename != "PullRequest" {
				continue
			}
			record := toRecord(repository, edge.Node.PullRequest.Number, edge.Node.PullRequest.Title,
				edge.Node.PullRequest.Author.Login, edge.Node.PullRequest.State,
				edge.Node.PullRequest.CreatedAt, edge.Node.PullRequest.UpdatedAt, edge.Node.PullRequest.MergedAt)
			if record.UpdatedAt.Before(since) {
				continue
			}
			for _, review := range edge.Node.PullRequest.Reviews.Nodes {
				if review.SubmittedAt == nil {
					// Pending reviews have not been submitted yet.
					continue
				}
				record.Reviews = append(record.Reviews, domain.ReviewRecord{
					Reviewer:    orUnknown(review.Author.Login, "unknown"),
					State:       orUnknown(review.State, "UNKNOWN"),
					SubmittedAt: review.SubmittedAt.Time,
				})
			}
			events, err := g.fetchEvents(ctx, owner, name, record.Number)
			if err != nil {
				return nil, err
			}
			record.Events = events
			records = append(records, record)
		}
		if !q.Search.PageInfo.HasNextPage {
			break
		}
		variables["cursor"] = githubv4.NewString(q.Search.PageInfo.EndCursor)
		g.logger.Println("  Fetching next page of pull requests...")
	}
	g.logger.Printf("Completed fetching %d pull requests for %s.", len(records), repository)
	return records, nil
}

func (g *GitHubGateway) fetchEvents(ctx context.Context, owner, name string, number int) ([]domain.EventRecord, error) {
	opts := &github.ListOptions{PerPage: 100}
	events := []domain.EventRecord{}
	for {
		page, resp, err := g.restClient.Issues.ListIssueEvents(ctx, owner, name, number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list events of %s/%s#%d with REST API: %w", owner, name, number, err)
		}
		for _, event := range page {
			events = append(events, domain.EventRecord{
				EventType:  orUnknown(event.GetEvent(), "UNKNOWN"),
				Actor:      orUnknown(event.GetActor().GetLogin(), "unknown"),
				OccurredAt: event.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return events, nil
}

func toRecord(repository string, number int, title, author, state string, createdAt, updatedAt githubv4.DateTime, mergedAt *githubv4.DateTime) domain.PullRequestRecord {
	record := domain.PullRequestRecord{
		Repository: repository,
		Number:     number,
		Title:      title,
		Author:     orUnknown(author, "unknown"),
		CreatedAt:  createdAt.Time,
		UpdatedAt:  updatedAt.Time,
		Reviews:    []domain.ReviewRecord{},
		Events:     []domain.EventRecord{},
	}
	switch {
	case mergedAt != nil:
		merged := mergedAt.Time
		record.MergedAt = &merged
		record.State = domain.StateMerged
	case strings.EqualFold(state, "OPEN"):
		record.State = domain.StateOpen
	default:
		record.State = domain.StateClosed
	}
	return record
}

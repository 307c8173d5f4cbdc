package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/naka-gawa/pr-audit/internal/domain"
)

// ToolOptions configures the remote tool endpoint and the tool names it exposes.
type ToolOptions struct {
	Endpoint             string
	APIKey               string
	ListRepositoriesTool string
	ListPullRequestsTool string
	ListReviewsTool      string
	ListEventsTool       string
}

// ToolGateway reads pull request data by invoking named tools over HTTP.
// Every call is a POST of {"name": ..., "arguments": {...}} and every answer
// carries its payload under "result".
type ToolGateway struct {
	httpClient   *http.Client
	opts         ToolOptions
	organization string
	repositories []string
	now          func() time.Time
	logger       *log.Logger
}

type toolRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type toolResponse struct {
	Result toolResult `json:"result"`
}

type toolResult struct {
	Repositories []string          `json:"repositories"`
	PullRequests []toolPullRequest `json:"pull_requests"`
	Reviews      []toolReview      `json:"reviews"`
	Events       []toolEvent       `json:"events"`
}

type toolPullRequest struct {
	Number    int          `json:"number"`
	Title     string       `json:"title"`
	Author    string       `json:"author"`
	State     string       `json:"state"`
	CreatedAt flexibleTime `json:"created_at"`
	UpdatedAt flexibleTime `json:"updated_at"`
	MergedAt  flexibleTime `json:"merged_at"`
}

type toolReview struct {
	Reviewer    string       `json:"reviewer"`
	State       string       `json:"state"`
	SubmittedAt flexibleTime `json:"submitted_at"`
}

type toolEvent struct {
	EventType  string       `json:"event_type"`
	Actor      string       `json:"actor"`
	OccurredAt flexibleTime `json:"occurred_at"`
}

// flexibleTime accepts a date string or unix seconds. Anything else reads as absent.
type flexibleTime struct {
	time.Time
	Valid bool
}

var toolTimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

func (f *flexibleTime) UnmarshalJSON(data []byte) error {
	*f = flexibleTime{}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		for _, layout := range toolTimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				f.Time, f.Valid = t.UTC(), true
				return nil
			}
		}
		if seconds, err := strconv.ParseInt(s, 10, 64); err == nil {
			f.Time, f.Valid = time.Unix(seconds, 0).UTC(), true
		}
		return nil
	}
	var seconds int64
	if err := json.Unmarshal(data, &seconds); err == nil {
		f.Time, f.Valid = time.Unix(seconds, 0).UTC(), true
	}
	return nil
}

func (f flexibleTime) or(fallback time.Time) time.Time {
	if f.Valid {
		return f.Time
	}
	return fallback
}

// NewToolGateway creates a gateway for the tool endpoint in opts.Tool.
func NewToolGateway(opts Options, logger *log.Logger) (*ToolGateway, error) {
	if strings.TrimSpace(opts.Tool.Endpoint) == "" {
		return nil, fmt.Errorf("tool endpoint is required")
	}
	var transport http.RoundTripper = http.DefaultTransport
	if opts.Tool.APIKey != "" {
		transport = &oauth2.Transport{
			Base:   http.DefaultTransport,
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Tool.APIKey}),
		}
	}
	return &ToolGateway{
		httpClient:   &http.Client{Transport: transport, Timeout: opts.Timeout},
		opts:         opts.Tool,
		organization: opts.Organization,
		repositories: explicitRepositories(opts.Repositories),
		now:          time.Now,
		logger:       logger,
	}, nil
}

// ListRepositories returns the configured repositories, or asks the repository tool.
func (g *ToolGateway) ListRepositories(ctx context.Context) ([]string, error) {
	if len(g.repositories) > 0 {
		return append([]string(nil), g.repositories...), nil
	}
	result, err := g.invoke(ctx, g.opts.ListRepositoriesTool, map[string]any{"organization": g.organization})
	if err != nil {
		return nil, err
	}
	return explicitRepositories(result.Repositories), nil
}

// ListPullRequestsUpdatedSince fetches pull requests, then the reviews and events of each one.
func (g *ToolGateway) ListPullRequestsUpdatedSince(ctx context.Context, repository string, since time.Time) ([]domain.PullRequestRecord, error) {
	result, err := g.invoke(ctx, g.opts.ListPullRequestsTool, map[string]any{
		"repository":    repository,
		"state":         "all",
		"updated_since": since.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}

	var records []domain.PullRequestRecord
	for _, pr := range result.PullRequests {
		if pr.Number <= 0 {
			continue
		}
		updatedAt := pr.UpdatedAt.or(g.now().UTC())
		if updatedAt.Before(since) {
			continue
		}

		record := domain.PullRequestRecord{
			Repository: repository,
			Number:     pr.Number,
			Title:      pr.Title,
			Author:     orUnknown(pr.Author, "unknown"),
			CreatedAt:  pr.CreatedAt.or(updatedAt),
			UpdatedAt:  updatedAt,
			State:      domain.StateClosed,
		}
		switch {
		case pr.MergedAt.Valid:
			merged := pr.MergedAt.Time
			record.MergedAt = &merged
			record.State = domain.StateMerged
		case strings.EqualFold(pr.State, "open"):
			record.State = domain.StateOpen
		}

		if record.Reviews, err = g.fetchReviews(ctx, repository, pr.Number); err != nil {
			return nil, err
		}
		if record.Events, err = g.fetchEvents(ctx, repository, pr.Number); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	g.logger.Printf("Completed fetching %d pull requests for %s from tool endpoint.", len(records), repository)
	return records, nil
}

func (g *ToolGateway) fetchReviews(ctx context.Context, repository string, number int) ([]domain.ReviewRecord, error) {
	result, err := g.invoke(ctx, g.opts.ListReviewsTool, map[string]any{"repository": repository, "pull_request_number": number})
	if err != nil {
		return nil, err
	}
	reviews := make([]domain.ReviewRecord, 0, len(result.Reviews))
	for _, review := range result.Reviews {
		reviews = append(reviews, domain.ReviewRecord{
			Reviewer:    orUnknown(review.Reviewer, "unknown"),
			State:       orUnknown(review.State, "UNKNOWN"),
			SubmittedAt: review.SubmittedAt.or(g.now().UTC()),
		})
	}
	return reviews, nil
}

func (g *ToolGateway) fetchEvents(ctx context.Context, repository string, number int) ([]domain.EventRecord, error) {
	result, err := g.invoke(ctx, g.opts.ListEventsTool, map[string]any{"repository": repository, "pull_request_number": number})
	if err != nil {
		return nil, err
	}
	events := make([]domain.EventRecord, 0, len(result.Events))
	for _, event := range result.Events {
		events = append(events, domain.EventRecord{
			EventType:  orUnknown(event.EventType, "UNKNOWN"),
			Actor:      orUnknown(event.Actor, "unknown"),
			OccurredAt: event.OccurredAt.or(g.now().UTC()),
		})
	}
	return events, nil
}

func (g *ToolGateway) invoke(ctx context.Context, tool string, arguments map[string]any) (*toolResult, error) {
	payload, err := json.Marshal(toolRequest{Name: tool, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", tool, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.opts.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", tool, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to invoke tool %s: %w", tool, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", tool, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("tool %s returned status %d", tool, resp.StatusCode)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &toolResult{}, nil
	}

	var decoded toolResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", tool, err)
	}
	return &decoded.Result, nil
}

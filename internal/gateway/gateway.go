// Package gateway provides the data sources that feed ingestion with
// repositories and pull request snapshots.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/naka-gawa/pr-audit/internal/domain"
)

// ErrUnknownMode is returned by New for an unsupported source mode.
var ErrUnknownMode = errors.New("unknown data source mode")

// DataSource supplies repositories and the pull requests updated in them.
// Implementations return each pull request already enriched with its reviews and events.
type DataSource interface {
	ListRepositories(ctx context.Context) ([]string, error)
	ListPullRequestsUpdatedSince(ctx context.Context, repository string, since time.Time) ([]domain.PullRequestRecord, error)
}

// Options configures a data source.
type Options struct {
	Mode         string // github, tool or sample
	Organization string
	Repositories []string // explicit list; bypasses discovery when set
	Token        string
	BaseURL      string // GitHub Enterprise root URL, empty for github.com
	Timeout      time.Duration
	Tool         ToolOptions
}

// New builds the data source named by opts.Mode.
func New(opts Options, logger *log.Logger) (DataSource, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Mode)) {
	case "github":
		return NewGitHubGateway(opts, logger)
	case "tool":
		return NewToolGateway(opts, logger)
	case "sample":
		return NewSampleGateway(opts.Repositories, time.Now), nil
	default:
		return nil, fmt.Errorf("%w: %q (want github, tool or sample)", ErrUnknownMode, opts.Mode)
	}
}

func explicitRepositories(repositories []string) []string {
	result := make([]string, 0, len(repositories))
	for _, repository := range repositories {
		if repository = strings.TrimSpace(repository); repository != "" {
			result = append(result, repository)
		}
	}
	return result
}

func splitRepository(repository string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("repository %q is not in owner/name form", repository)
	}
	return owner, name, nil
}

func orUnknown(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

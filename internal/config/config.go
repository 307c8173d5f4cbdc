// Package config loads pr-audit settings from defaults, an optional config file
// and PRAUDIT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/naka-gawa/pr-audit/internal/scheduler"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix prefixes every environment override, e.g. PRAUDIT_STORE_PROVIDER.
const EnvPrefix = "PRAUDIT"

// Config is the full application configuration.
type Config struct {
	Store     Store
	Source    Source
	Ingestion Ingestion
	Cache     Cache
	Scheduler Scheduler
	HTTP      HTTP
}

// Store selects and locates the audit store backend.
type Store struct {
	Provider         string
	Path             string
	Driver           string
	DSN              string
	InitializeSchema bool
}

// Source configures where pull requests are read from.
type Source struct {
	Mode         string
	Organization string
	Repositories []string
	Token        string
	BaseURL      string
	Timeout      time.Duration
	Tool         Tool
}

// Tool configures the remote tool-invocation data source.
type Tool struct {
	Endpoint             string
	APIKey               string
	ListRepositoriesTool string
	ListPullRequestsTool string
	ListReviewsTool      string
	ListEventsTool       string
}

// Ingestion tunes a single ingestion run.
type Ingestion struct {
	Lookback    time.Duration
	Concurrency int
}

// Cache configures report memoization.
type Cache struct {
	Enabled bool
	TTL     time.Duration
	Size    int
}

// Scheduler configures periodic ingestion under serve.
type Scheduler struct {
	Enabled  bool
	Interval time.Duration
}

// HTTP configures the API server.
type HTTP struct {
	Address string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.provider", "json")
	v.SetDefault("store.path", "./data/audit-state.json")
	v.SetDefault("store.driver", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.initialize_schema", true)

	v.SetDefault("source.mode", "sample")
	v.SetDefault("source.organization", "")
	v.SetDefault("source.repositories", []string{})
	v.SetDefault("source.base_url", "")
	v.SetDefault("source.timeout", 90*time.Second)
	v.SetDefault("source.tool.endpoint", "http://localhost:8080/tools/invoke")
	v.SetDefault("source.tool.api_key", "")
	v.SetDefault("source.tool.list_repositories", "list_repositories")
	v.SetDefault("source.tool.list_pull_requests", "list_pull_requests")
	v.SetDefault("source.tool.list_reviews", "list_reviews")
	v.SetDefault("source.tool.list_events", "list_pull_request_events")

	v.SetDefault("ingestion.lookback", 30*24*time.Hour)
	v.SetDefault("ingestion.concurrency", 1)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.size", 256)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", 60*time.Minute)

	v.SetDefault("http.address", ":8080")
}

// Load reads the configuration. An empty path looks for pr-audit.{yaml,toml,json}
// in the working directory and carries on with defaults when there is none.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("source.token", EnvPrefix+"_SOURCE_TOKEN", "GITHUB_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind token environment: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("pr-audit")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	config := &Config{
		Store: Store{
			Provider:         strings.ToLower(strings.TrimSpace(v.GetString("store.provider"))),
			Path:             v.GetString("store.path"),
			Driver:           v.GetString("store.driver"),
			DSN:              v.GetString("store.dsn"),
			InitializeSchema: v.GetBool("store.initialize_schema"),
		},
		Source: Source{
			Mode:         strings.ToLower(strings.TrimSpace(v.GetString("source.mode"))),
			Organization: v.GetString("source.organization"),
			Repositories: splitList(v.GetStringSlice("source.repositories")),
			Token:        v.GetString("source.token"),
			BaseURL:      v.GetString("source.base_url"),
			Timeout:      v.GetDuration("source.timeout"),
			Tool: Tool{
				Endpoint:             v.GetString("source.tool.endpoint"),
				APIKey:               v.GetString("source.tool.api_key"),
				ListRepositoriesTool: v.GetString("source.tool.list_repositories"),
				ListPullRequestsTool: v.GetString("source.tool.list_pull_requests"),
				ListReviewsTool:      v.GetString("source.tool.list_reviews"),
				ListEventsTool:       v.GetString("source.tool.list_events"),
			},
		},
		Ingestion: Ingestion{
			Lookback:    v.GetDuration("ingestion.lookback"),
			Concurrency: v.GetInt("ingestion.concurrency"),
		},
		Cache: Cache{
			Enabled: v.GetBool("cache.enabled"),
			TTL:     v.GetDuration("cache.ttl"),
			Size:    v.GetInt("cache.size"),
		},
		Scheduler: Scheduler{
			Enabled:  v.GetBool("scheduler.enabled"),
			Interval: v.GetDuration("scheduler.interval"),
		},
		HTTP: HTTP{
			Address: v.GetString("http.address"),
		},
	}

	return config, nil
}

// splitList accepts both list values and comma separated strings from the environment.
func splitList(values []string) []string {
	result := []string{}
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				result = append(result, part)
			}
		}
	}
	return result
}

// Validate reports every problem at once, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store.Provider {
	case "json":
		if strings.TrimSpace(c.Store.Path) == "" {
			problems = append(problems, "store.path is required for the json provider")
		}
	case "sqlite", "postgres", "ansi":
		if strings.TrimSpace(c.Store.DSN) == "" {
			problems = append(problems, fmt.Sprintf("store.dsn is required for the %s provider", c.Store.Provider))
		}
	default:
		problems = append(problems, fmt.Sprintf("store.provider %q must be one of json, sqlite, postgres, ansi", c.Store.Provider))
	}

	switch c.Source.Mode {
	case "sample":
	case "github":
		if c.Source.Organization == "" && len(c.Source.Repositories) == 0 {
			problems = append(problems, "source.organization or source.repositories is required for the github mode")
		}
	case "tool":
		if u, err := url.Parse(c.Source.Tool.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("source.tool.endpoint %q must be a valid http(s) URL", c.Source.Tool.Endpoint))
		}
		for _, tool := range []struct{ key, name string }{
			{"list_repositories", c.Source.Tool.ListRepositoriesTool},
			{"list_pull_requests", c.Source.Tool.ListPullRequestsTool},
			{"list_reviews", c.Source.Tool.ListReviewsTool},
			{"list_events", c.Source.Tool.ListEventsTool},
		} {
			if strings.TrimSpace(tool.name) == "" {
				problems = append(problems, "source.tool."+tool.key+" is required")
			}
		}
	default:
		problems = append(problems, fmt.Sprintf("source.mode %q must be one of github, tool, sample", c.Source.Mode))
	}
	for _, repository := range c.Source.Repositories {
		if owner, name, ok := strings.Cut(repository, "/"); !ok || owner == "" || name == "" {
			problems = append(problems, fmt.Sprintf("source.repositories entry %q must be owner/name", repository))
		}
	}
	if c.Source.Timeout <= 0 {
		problems = append(problems, "source.timeout must be positive")
	}

	if c.Ingestion.Lookback <= 0 {
		problems = append(problems, "ingestion.lookback must be positive")
	}
	if c.Ingestion.Concurrency < 1 {
		problems = append(problems, "ingestion.concurrency must be at least 1")
	}

	if c.Cache.Enabled && (c.Cache.TTL <= 0 || c.Cache.Size < 1) {
		problems = append(problems, "cache.ttl and cache.size must be positive when the cache is enabled")
	}

	if c.Scheduler.Interval < scheduler.MinInterval || c.Scheduler.Interval > scheduler.MaxInterval {
		problems = append(problems, fmt.Sprintf("scheduler.interval %s must be between %s and %s",
			c.Scheduler.Interval, scheduler.MinInterval, scheduler.MaxInterval))
	}

	if strings.TrimSpace(c.HTTP.Address) == "" {
		problems = append(problems, "http.address is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

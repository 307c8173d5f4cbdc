package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/pr-audit/internal/cache"
	"github.com/naka-gawa/pr-audit/internal/config"
	"github.com/naka-gawa/pr-audit/internal/gateway"
	"github.com/naka-gawa/pr-audit/internal/store"
	"github.com/naka-gawa/pr-audit/internal/usecase"
)

// app holds the wired dependencies shared by every command.
type app struct {
	config  *config.Config
	auditor usecase.Auditor
	store   store.AuditStore
	logger  *log.Logger
}

// newLogger discards everything unless --verbose is set.
func newLogger(cmd *cobra.Command) *log.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := log.New(io.Discard, "", log.LstdFlags)
	if verbose {
		logger.SetOutput(cmd.ErrOrStderr())
	}
	return logger
}

// newApp loads the configuration and injects the dependencies. Callers must Close it.
func newApp(cmd *cobra.Command) (*app, error) {
	logger := newLogger(cmd)

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	auditStore, err := store.New(store.Options{
		Provider:         cfg.Store.Provider,
		Path:             cfg.Store.Path,
		Driver:           cfg.Store.Driver,
		DSN:              cfg.Store.DSN,
		InitializeSchema: cfg.Store.InitializeSchema,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}

	source, err := gateway.New(gateway.Options{
		Mode:         cfg.Source.Mode,
		Organization: cfg.Source.Organization,
		Repositories: cfg.Source.Repositories,
		Token:        cfg.Source.Token,
		BaseURL:      cfg.Source.BaseURL,
		Timeout:      cfg.Source.Timeout,
		Tool: gateway.ToolOptions{
			Endpoint:             cfg.Source.Tool.Endpoint,
			APIKey:               cfg.Source.Tool.APIKey,
			ListRepositoriesTool: cfg.Source.Tool.ListRepositoriesTool,
			ListPullRequestsTool: cfg.Source.Tool.ListPullRequestsTool,
			ListReviewsTool:      cfg.Source.Tool.ListReviewsTool,
			ListEventsTool:       cfg.Source.Tool.ListEventsTool,
		},
	}, logger)
	if err != nil {
		_ = auditStore.Close()
		return nil, fmt.Errorf("failed to create data source: %w", err)
	}

	var auditor usecase.Auditor = usecase.NewOrchestrator(source, auditStore, usecase.Settings{
		Lookback:    cfg.Ingestion.Lookback,
		Concurrency: cfg.Ingestion.Concurrency,
	}, logger)
	if cfg.Cache.Enabled {
		auditor = cache.New(auditor, cfg.Cache.Size, cfg.Cache.TTL, logger)
	}

	return &app{config: cfg, auditor: auditor, store: auditStore, logger: logger}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// printJSON writes v pretty-printed to the command's standard output.
func printJSON(cmd *cobra.Command, v any) error {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results to JSON: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(jsonData))
	return nil
}

const inputDateLayout = "2006/01/02"

// parseWindow reads --from and --to. Dates without a time cover the whole day.
// A missing --to is now and a missing --from is 30 days before --to.
func parseWindow(cmd *cobra.Command, now time.Time) (time.Time, time.Time, error) {
	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")

	to := now.UTC()
	if toStr != "" {
		t, dateOnly, err := parseDate(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to date format, use YYYY/MM/DD or RFC 3339: %w", err)
		}
		to = t
		if dateOnly {
			to = t.Add(24*time.Hour - time.Nanosecond)
		}
	}
	from := to.Add(-usecase.DefaultLookback)
	if fromStr != "" {
		t, _, err := parseDate(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from date format, use YYYY/MM/DD or RFC 3339: %w", err)
		}
		from = t
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from %s is after --to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return from, to, nil
}

func parseDate(s string) (time.Time, bool, error) {
	for _, layout := range []string{inputDateLayout, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true, nil
		}
	}
	t, err := time.Parse(time.RFC3339, s)
	return t, false, err
}

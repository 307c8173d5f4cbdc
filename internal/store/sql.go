package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/semaphore"

	"github.com/naka-gawa/pr-audit/internal/domain"
)

const selectPullRequests = `SELECT repository, pr_number, title, author, pull_request_state,
       created_at, updated_at, merged_at, reviews_json, events_json
FROM pull_request_snapshots`

const orderPullRequests = ` ORDER BY repository_key, pr_number`

type cursorArgs struct {
	RepositoryKey string `db:"repository_key"`
	Repository    string `db:"repository"`
	LastSync      any    `db:"last_successful_sync_utc"`
}

type cursorRow struct {
	Repository string  `db:"repository"`
	LastSync   sqlTime `db:"last_successful_sync_utc"`
}

type pullRequestArgs struct {
	RepositoryKey string `db:"repository_key"`
	Repository    string `db:"repository"`
	Number        int    `db:"pr_number"`
	Title         string `db:"title"`
	Author        string `db:"author"`
	State         string `db:"pull_request_state"`
	CreatedAt     any    `db:"created_at"`
	UpdatedAt     any    `db:"updated_at"`
	MergedAt      any    `db:"merged_at"`
	ReviewsJSON   string `db:"reviews_json"`
	EventsJSON    string `db:"events_json"`
}

type pullRequestRow struct {
	Repository  string         `db:"repository"`
	Number      int            `db:"pr_number"`
	Title       string         `db:"title"`
	Author      string         `db:"author"`
	State       string         `db:"pull_request_state"`
	CreatedAt   sqlTime        `db:"created_at"`
	UpdatedAt   sqlTime        `db:"updated_at"`
	MergedAt    sqlTime        `db:"merged_at"`
	ReviewsJSON sql.NullString `db:"reviews_json"`
	EventsJSON  sql.NullString `db:"events_json"`
}

// SQLStore keeps cursors and snapshots in two relational tables.
// Writes go through one transaction per call; the gate serialises them so the
// store behaves exactly like the JSON backend within one process.
type SQLStore struct {
	db               *sqlx.DB
	dialect          Dialect
	gate             *semaphore.Weighted
	schemaGate       *semaphore.Weighted
	schemaReady      atomic.Bool
	initializeSchema bool
	logger           *log.Logger
}

// OpenSQL opens a database handle for dialect. The schema is created lazily
// on first use when initializeSchema is set.
func OpenSQL(dialect Dialect, driver, dsn string, initializeSchema bool, logger *log.Logger) (*SQLStore, error) {
	if driver == "" {
		driver = dialect.DefaultDriver()
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s store requires a dsn", dialect.Name())
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect.Name(), err)
	}
	return &SQLStore{
		db:               db,
		dialect:          dialect,
		gate:             semaphore.NewWeighted(1),
		schemaGate:       semaphore.NewWeighted(1),
		initializeSchema: initializeSchema,
		logger:           logger,
	}, nil
}

func (s *SQLStore) GetCursor(ctx context.Context, repository string) (*domain.RepositoryCursor, error) {
	var row cursorRow
	err := s.read(ctx, func(ctx context.Context) error {
		return s.db.GetContext(ctx, &row, s.db.Rebind(
			`SELECT repository, last_successful_sync_utc FROM repository_cursors WHERE repository_key = ?`),
			domain.RepositoryKey(repository))
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor for %s: %w", repository, err)
	}
	return &domain.RepositoryCursor{Repository: row.Repository, LastSuccessfulSyncUTC: row.LastSync.Time}, nil
}

func (s *SQLStore) SaveCursor(ctx context.Context, cursor domain.RepositoryCursor) error {
	args := cursorArgs{
		RepositoryKey: domain.RepositoryKey(cursor.Repository),
		Repository:    cursor.Repository,
		LastSync:      s.dialect.TimeArg(cursor.LastSuccessfulSyncUTC),
	}
	err := s.write(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		return s.exec(ctx, tx, s.dialect.UpsertCursor(), args)
	})
	if err != nil {
		return fmt.Errorf("failed to save cursor for %s: %w", cursor.Repository, err)
	}
	return nil
}

func (s *SQLStore) UpsertPullRequests(ctx context.Context, records []domain.PullRequestRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records); err != nil {
		return err
	}
	batch := make([]pullRequestArgs, 0, len(records))
	for _, record := range records {
		args, err := s.toArgs(record)
		if err != nil {
			return err
		}
		batch = append(batch, args)
	}

	err := s.write(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		for _, args := range batch {
			if err := s.exec(ctx, tx, s.dialect.UpsertPullRequest(), args); err != nil {
				return fmt.Errorf("%s#%d: %w", args.Repository, args.Number, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert pull requests: %w", err)
	}
	return nil
}

func (s *SQLStore) ListPullRequests(ctx context.Context) ([]domain.PullRequestRecord, error) {
	return s.query(ctx, selectPullRequests+orderPullRequests)
}

func (s *SQLStore) ListPullRequestsByState(ctx context.Context, state domain.PullRequestState, repository string) ([]domain.PullRequestRecord, error) {
	repository = strings.TrimSpace(repository)
	if repository == "" {
		return s.query(ctx, selectPullRequests+` WHERE pull_request_state = ?`+orderPullRequests, string(state))
	}
	return s.query(ctx, selectPullRequests+` WHERE pull_request_state = ? AND repository_key = ?`+orderPullRequests,
		string(state), domain.RepositoryKey(repository))
}

func (s *SQLStore) ListPullRequestsByDateRange(ctx context.Context, from, to time.Time) ([]domain.PullRequestRecord, error) {
	return s.query(ctx, selectPullRequests+` WHERE updated_at >= ? AND updated_at <= ?`+orderPullRequests,
		s.dialect.TimeArg(from), s.dialect.TimeArg(to))
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) ([]domain.PullRequestRecord, error) {
	var rows []pullRequestRow
	err := s.read(ctx, func(ctx context.Context) error {
		return s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query pull requests: %w", err)
	}
	records := make([]domain.PullRequestRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, s.fromRow(row))
	}
	return records, nil
}

func (s *SQLStore) exec(ctx context.Context, tx *sqlx.Tx, statements []string, args any) error {
	for _, statement := range statements {
		if _, err := tx.NamedExecContext(ctx, statement, args); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) read(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.gate.Release(1)
	return fn(ctx)
}

// write runs fn in a transaction under the gate. Any error, including a
// cancelled context, rolls the whole batch back.
func (s *SQLStore) write(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.gate.Release(1)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ensureSchema creates tables and indexes once per store instance.
func (s *SQLStore) ensureSchema(ctx context.Context) error {
	if !s.initializeSchema || s.schemaReady.Load() {
		return nil
	}
	if err := s.schemaGate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.schemaGate.Release(1)
	if s.schemaReady.Load() {
		return nil
	}

	for _, statement := range s.dialect.Schema() {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("failed to initialise %s schema: %w", s.dialect.Name(), err)
		}
	}
	s.schemaReady.Store(true)
	s.logger.Printf("Store: audit schema ensured using the %s dialect", s.dialect.Name())
	return nil
}

func (s *SQLStore) toArgs(record domain.PullRequestRecord) (pullRequestArgs, error) {
	reviews, err := encodeReviews(record.Reviews)
	if err != nil {
		return pullRequestArgs{}, err
	}
	events, err := encodeEvents(record.Events)
	if err != nil {
		return pullRequestArgs{}, err
	}
	args := pullRequestArgs{
		RepositoryKey: domain.RepositoryKey(record.Repository),
		Repository:    record.Repository,
		Number:        record.Number,
		Title:         record.Title,
		Author:        record.Author,
		State:         string(record.State),
		CreatedAt:     s.dialect.TimeArg(record.CreatedAt),
		UpdatedAt:     s.dialect.TimeArg(record.UpdatedAt),
		ReviewsJSON:   reviews,
		EventsJSON:    events,
	}
	if record.MergedAt != nil {
		args.MergedAt = s.dialect.TimeArg(*record.MergedAt)
	}
	return args, nil
}

// fromRow maps a row back to a record. A corrupt blob only empties that one
// field of that one record.
func (s *SQLStore) fromRow(row pullRequestRow) domain.PullRequestRecord {
	state, ok := domain.ParseState(row.State)
	if !ok {
		state = domain.StateClosed
	}
	record := domain.PullRequestRecord{
		Repository: row.Repository,
		Number:     row.Number,
		Title:      row.Title,
		Author:     row.Author,
		State:      state,
		CreatedAt:  row.CreatedAt.Time,
		UpdatedAt:  row.UpdatedAt.Time,
	}
	if row.MergedAt.Valid {
		merged := row.MergedAt.Time
		record.MergedAt = &merged
	}

	var err error
	if record.Reviews, err = decodeReviews(row.ReviewsJSON); err != nil {
		s.logger.Printf("Store: ignoring unreadable reviews of %s#%d: %v", row.Repository, row.Number, err)
	}
	if record.Events, err = decodeEvents(row.EventsJSON); err != nil {
		s.logger.Printf("Store: ignoring unreadable events of %s#%d: %v", row.Repository, row.Number, err)
	}
	return normalize(record)
}

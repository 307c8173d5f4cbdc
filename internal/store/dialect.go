package store

import (
	"fmt"
	"strings"
	"time"
)

// sqlTimeLayout is fixed width so that TEXT timestamps compare in chronological order.
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z"

// Dialect holds everything that differs between SQL vendors: DDL, upsert
// statements and how timestamps travel as arguments. Query construction in
// SQLStore never branches on the dialect; it only asks it for text.
//
// Upsert statements use sqlx named parameters matching the `db` tags of
// cursorArgs and pullRequestArgs. They run in order inside one transaction.
type Dialect interface {
	Name() string
	DefaultDriver() string
	Schema() []string
	UpsertCursor() []string
	UpsertPullRequest() []string
	TimeArg(t time.Time) any
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "ansi":
		return ansiDialect{}, nil
	case "sqlite":
		return sqliteDialect{}, nil
	case "postgres":
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("%w: %q (want json, sqlite, postgres or ansi)", ErrUnknownProvider, name)
	}
}

const (
	cursorColumns      = "repository_key, repository, last_successful_sync_utc"
	cursorValues       = ":repository_key, :repository, :last_successful_sync_utc"
	pullRequestColumns = "repository_key, repository, pr_number, title, author, pull_request_state, created_at, updated_at, merged_at, reviews_json, events_json"
	pullRequestValues  = ":repository_key, :repository, :pr_number, :title, :author, :pull_request_state, :created_at, :updated_at, :merged_at, :reviews_json, :events_json"

	pullRequestUpdateSet = `
    repository = excluded.repository,
    title = excluded.title,
    author = excluded.author,
    pull_request_state = excluded.pull_request_state,
    created_at = excluded.created_at,
    updated_at = excluded.updated_at,
    merged_at = excluded.merged_at,
    reviews_json = excluded.reviews_json,
    events_json = excluded.events_json`
)

func indexStatements() []string {
	return []string{
		`CREATE INDEX IF NOT EXISTS ix_pull_request_snapshots_state ON pull_request_snapshots (pull_request_state)`,
		`CREATE INDEX IF NOT EXISTS ix_pull_request_snapshots_updated_at ON pull_request_snapshots (updated_at)`,
		`CREATE INDEX IF NOT EXISTS ix_pull_request_snapshots_repository_state ON pull_request_snapshots (repository_key, pull_request_state)`,
	}
}

func snapshotTable(textType, timeType string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS pull_request_snapshots (
    repository_key %[1]s NOT NULL,
    repository %[1]s NOT NULL,
    pr_number INTEGER NOT NULL,
    title %[1]s NOT NULL,
    author %[1]s NOT NULL,
    pull_request_state %[1]s NOT NULL,
    created_at %[2]s NOT NULL,
    updated_at %[2]s NOT NULL,
    merged_at %[2]s NULL,
    reviews_json TEXT NOT NULL,
    events_json TEXT NOT NULL,
    PRIMARY KEY (repository_key, pr_number)
)`, textType, timeType)
}

func cursorTable(textType, timeType string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS repository_cursors (
    repository_key %[1]s NOT NULL PRIMARY KEY,
    repository %[1]s NOT NULL,
    last_successful_sync_utc %[2]s NOT NULL
)`, textType, timeType)
}

// ansiDialect sticks to portable SQL: upsert is delete-then-insert in the same transaction.
type ansiDialect struct{}

func (ansiDialect) Name() string          { return "ansi" }
func (ansiDialect) DefaultDriver() string { return "sqlite3" }

func (ansiDialect) Schema() []string {
	return append([]string{
		cursorTable("VARCHAR(255)", "VARCHAR(40)"),
		snapshotTable("VARCHAR(512)", "VARCHAR(40)"),
	}, indexStatements()...)
}

func (ansiDialect) UpsertCursor() []string {
	return []string{
		`DELETE FROM repository_cursors WHERE repository_key = :repository_key`,
		`INSERT INTO repository_cursors (` + cursorColumns + `) VALUES (` + cursorValues + `)`,
	}
}

func (ansiDialect) UpsertPullRequest() []string {
	return []string{
		`DELETE FROM pull_request_snapshots WHERE repository_key = :repository_key AND pr_number = :pr_number`,
		`INSERT INTO pull_request_snapshots (` + pullRequestColumns + `) VALUES (` + pullRequestValues + `)`,
	}
}

func (ansiDialect) TimeArg(t time.Time) any { return t.UTC().Format(sqlTimeLayout) }

type sqliteDialect struct{}

func (sqliteDialect) Name() string          { return "sqlite" }
func (sqliteDialect) DefaultDriver() string { return "sqlite3" }

func (sqliteDialect) Schema() []string {
	return append([]string{
		cursorTable("TEXT", "TEXT"),
		snapshotTable("TEXT", "TEXT"),
	}, indexStatements()...)
}

func (sqliteDialect) UpsertCursor() []string {
	return []string{`INSERT INTO repository_cursors (` + cursorColumns + `)
VALUES (` + cursorValues + `)
ON CONFLICT(repository_key) DO UPDATE SET
    repository = excluded.repository,
    last_successful_sync_utc = excluded.last_successful_sync_utc`}
}

func (sqliteDialect) UpsertPullRequest() []string {
	return []string{`INSERT INTO pull_request_snapshots (` + pullRequestColumns + `)
VALUES (` + pullRequestValues + `)
ON CONFLICT(repository_key, pr_number) DO UPDATE SET` + pullRequestUpdateSet}
}

func (sqliteDialect) TimeArg(t time.Time) any { return t.UTC().Format(sqlTimeLayout) }

type postgresDialect struct{}

func (postgresDialect) Name() string          { return "postgres" }
func (postgresDialect) DefaultDriver() string { return "pgx" }

func (postgresDialect) Schema() []string {
	return append([]string{
		cursorTable("TEXT", "TIMESTAMPTZ"),
		snapshotTable("TEXT", "TIMESTAMPTZ"),
	}, indexStatements()...)
}

func (postgresDialect) UpsertCursor() []string {
	return []string{`INSERT INTO repository_cursors (` + cursorColumns + `)
VALUES (` + cursorValues + `)
ON CONFLICT (repository_key) DO UPDATE SET
    repository = EXCLUDED.repository,
    last_successful_sync_utc = EXCLUDED.last_successful_sync_utc`}
}

func (postgresDialect) UpsertPullRequest() []string {
	return []string{`INSERT INTO pull_request_snapshots (` + pullRequestColumns + `)
VALUES (` + pullRequestValues + `)
ON CONFLICT (repository_key, pr_number) DO UPDATE SET` + pullRequestUpdateSet}
}

func (postgresDialect) TimeArg(t time.Time) any { return t.UTC() }

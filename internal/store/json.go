package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/semaphore"

	"github.com/naka-gawa/pr-audit/internal/domain"
)

// DefaultStatePath is where the JSON backend keeps its document when no path is configured.
const DefaultStatePath = "data/audit-state.json"

// auditState is the on-disk document. It is rewritten wholesale on every mutation.
type auditState struct {
	Cursors      map[string]time.Time       `json:"cursors"`
	PullRequests []domain.PullRequestRecord `json:"pull_requests"`
}

// JSONStore keeps the whole audit state in one JSON file.
// The gate serialises every read and write; it is the only consistency mechanism.
type JSONStore struct {
	path   string
	gate   *semaphore.Weighted
	logger *log.Logger
}

// NewJSONStore returns a store backed by the file at path.
// The file and its directory are created on first write.
func NewJSONStore(path string, logger *log.Logger) *JSONStore {
	if path == "" {
		path = DefaultStatePath
	}
	return &JSONStore{
		path:   path,
		gate:   semaphore.NewWeighted(1),
		logger: logger,
	}
}

func (s *JSONStore) GetCursor(ctx context.Context, repository string) (*domain.RepositoryCursor, error) {
	state, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for name, ts := range state.Cursors {
		if domain.SameRepository(name, repository) {
			return &domain.RepositoryCursor{Repository: name, LastSuccessfulSyncUTC: ts.UTC()}, nil
		}
	}
	return nil, nil
}

func (s *JSONStore) SaveCursor(ctx context.Context, cursor domain.RepositoryCursor) error {
	return s.mutate(ctx, func(state *auditState) {
		for name := range state.Cursors {
			if domain.SameRepository(name, cursor.Repository) {
				delete(state.Cursors, name)
			}
		}
		state.Cursors[cursor.Repository] = cursor.LastSuccessfulSyncUTC.UTC()
	})
}

func (s *JSONStore) UpsertPullRequests(ctx context.Context, records []domain.PullRequestRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records); err != nil {
		return err
	}
	return s.mutate(ctx, func(state *auditState) {
		index := make(map[string]int, len(state.PullRequests))
		for i, pr := range state.PullRequests {
			index[recordKey(pr.Repository, pr.Number)] = i
		}
		for _, record := range records {
			record = normalize(record)
			key := recordKey(record.Repository, record.Number)
			if i, ok := index[key]; ok {
				state.PullRequests[i] = record
				continue
			}
			index[key] = len(state.PullRequests)
			state.PullRequests = append(state.PullRequests, record)
		}
		sortRecords(state.PullRequests)
	})
}

func (s *JSONStore) ListPullRequests(ctx context.Context) ([]domain.PullRequestRecord, error) {
	state, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return state.PullRequests, nil
}

func (s *JSONStore) ListPullRequestsByState(ctx context.Context, state domain.PullRequestState, repository string) ([]domain.PullRequestRecord, error) {
	all, err := s.ListPullRequests(ctx)
	if err != nil {
		return nil, err
	}
	return filterByState(all, state, repository), nil
}

func (s *JSONStore) ListPullRequestsByDateRange(ctx context.Context, from, to time.Time) ([]domain.PullRequestRecord, error) {
	all, err := s.ListPullRequests(ctx)
	if err != nil {
		return nil, err
	}
	return filterByDateRange(all, from, to), nil
}

func (s *JSONStore) Close() error { return nil }

// snapshot reads the document under the gate so a reader never observes a half-applied write.
func (s *JSONStore) snapshot(ctx context.Context) (*auditState, error) {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.gate.Release(1)
	return s.read()
}

// mutate runs a read-modify-write cycle under the gate.
func (s *JSONStore) mutate(ctx context.Context, apply func(state *auditState)) error {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.gate.Release(1)

	state, err := s.read()
	if err != nil {
		return err
	}
	apply(state)
	// Nothing has touched the disk yet; a cancelled caller leaves the previous document intact.
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.write(state)
}

func (s *JSONStore) read() (*auditState, error) {
	state := &auditState{Cursors: map[string]time.Time{}}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read audit state %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, s.path, err)
	}
	if state.Cursors == nil {
		state.Cursors = map[string]time.Time{}
	}
	for i := range state.PullRequests {
		state.PullRequests[i] = normalize(state.PullRequests[i])
	}
	return state, nil
}

// write replaces the document atomically: a temp file in the same directory is
// synced and renamed over the old one.
func (s *JSONStore) write(state *auditState) error {
	if state.PullRequests == nil {
		state.PullRequests = []domain.PullRequestRecord{}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode audit state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create audit state directory: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write audit state %s: %w", s.path, err)
	}
	s.logger.Printf("Store: wrote %d pull requests and %d cursors to %s", len(state.PullRequests), len(state.Cursors), s.path)
	return nil
}

func recordKey(repository string, number int) string {
	return fmt.Sprintf("%s#%d", domain.RepositoryKey(repository), number)
}

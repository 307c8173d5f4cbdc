package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/naka-gawa/pr-audit/internal/domain"
)

// Reviews and events live in opaque JSON columns; these helpers are the only
// place that knows about that encoding.

func encodeReviews(reviews []domain.ReviewRecord) (string, error) {
	if reviews == nil {
		reviews = []domain.ReviewRecord{}
	}
	data, err := json.Marshal(reviews)
	if err != nil {
		return "", fmt.Errorf("failed to encode reviews: %w", err)
	}
	return string(data), nil
}

func encodeEvents(events []domain.EventRecord) (string, error) {
	if events == nil {
		events = []domain.EventRecord{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("failed to encode events: %w", err)
	}
	return string(data), nil
}

func decodeReviews(blob sql.NullString) ([]domain.ReviewRecord, error) {
	reviews := []domain.ReviewRecord{}
	if !blob.Valid || strings.TrimSpace(blob.String) == "" {
		return reviews, nil
	}
	if err := json.Unmarshal([]byte(blob.String), &reviews); err != nil {
		return []domain.ReviewRecord{}, err
	}
	if reviews == nil {
		reviews = []domain.ReviewRecord{}
	}
	return reviews, nil
}

func decodeEvents(blob sql.NullString) ([]domain.EventRecord, error) {
	events := []domain.EventRecord{}
	if !blob.Valid || strings.TrimSpace(blob.String) == "" {
		return events, nil
	}
	if err := json.Unmarshal([]byte(blob.String), &events); err != nil {
		return []domain.EventRecord{}, err
	}
	if events == nil {
		events = []domain.EventRecord{}
	}
	return events, nil
}

// sqlTime scans a timestamp column whether the driver hands back a time.Time
// (TIMESTAMPTZ) or text (TEXT/VARCHAR columns).
type sqlTime struct {
	Time  time.Time
	Valid bool
}

var sqlTimeParseLayouts = []string{
	sqlTimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

func (t *sqlTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp column type %T", src)
	}
}

func (t *sqlTime) parse(s string) error {
	for _, layout := range sqlTimeParseLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}

package record

import (
	"fmt"
	"time"
)

// Timestamp layouts. All wall-clock fields are UTC with an explicit zone
// marker; date-only fields use the fixed calendar layout.
const (
	tsLayout   = "2006-01-02T15:04:05Z"
	dateLayout = "2006-01-02"
)

// FormatTS renders a wall-clock timestamp as UTC RFC 3339 with seconds
// precision ("2026-08-23T10:11:12Z"). Sub-second precision is dropped so
// that a round-trip through the wire format is lossless.
func FormatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

// ParseTS parses a wire timestamp. Rejects non-UTC and sub-second forms.
func ParseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// FormatDate renders a date-only field ("2026-08-23").
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// ParseDate parses a date-only field.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// DayBucket returns the daily shard bucket for t ("2026-08-23").
// Streams and the bus shard daily.
func DayBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// MonthBucket returns the monthly shard bucket for t ("2026-08").
// Views and governance findings shard monthly.
func MonthBucket(t time.Time) string {
	return t.UTC().Format("2006-01")
}

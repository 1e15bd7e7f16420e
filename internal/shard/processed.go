package shard

import (
	"time"

	"github.com/diasync/diasync/internal/record"
)

// processedRow is one line of a processed-id ledger.
type processedRow struct {
	EventID string `json:"event_id"`
	TS      string `json:"ts"`
}

// ProcessedIDs loads the event-id set from a processed-id ledger
// (reduce and distill each keep one under _meta). Ids recorded here have
// been attempted; re-running a pass skips them, which is what makes
// repeated passes idempotent.
func (s *Store) ProcessedIDs(path string) (map[string]bool, error) {
	ids := map[string]bool{}
	_, err := s.ReadLines(path, func(l Line) error {
		if id, ok := l.Fields["event_id"].(string); ok && id != "" {
			ids[id] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// MarkProcessed appends an event id to a processed-id ledger.
// Recorded before the derived write is attempted, so a crash between the
// two leaves the id skipped rather than double-applied.
func (s *Store) MarkProcessed(path, eventID string, now time.Time) error {
	return s.AppendRecord(path, processedRow{EventID: eventID, TS: record.FormatTS(now)})
}

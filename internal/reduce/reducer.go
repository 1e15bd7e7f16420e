// Package reduce converges shared bus events into typed view shards.
//
// Reduction is the only consumer of the bus, it runs on demand (never
// continuously), and it is idempotent by construction: every event id
// that has been attempted is in the processed-id ledger, so concurrent
// or repeated passes converge to the same set of view objects. Crashes
// are handled by re-running the pass.
//
// Decision-key collisions are detected, never resolved: when an
// incoming decision contradicts the active holder of its key, the
// holder stays the sole active object, the challenger is written to the
// conflict ledger instead of the views, and reconciliation waits for an
// explicit resolve.
package reduce

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/index"
	"github.com/diasync/diasync/internal/instance"
	"github.com/diasync/diasync/internal/project"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
	"github.com/diasync/diasync/internal/stream"
	"github.com/diasync/diasync/internal/views"
)

// DefaultLimit bounds bus events consumed per pass.
const DefaultLimit = 500

// Options parameterizes one reduce pass.
type Options struct {
	// Scope narrows the pass to one bus scope; empty drains every scope.
	Scope string

	// Instance identifies the reducer for the cursor and audit ledgers.
	Instance string

	Limit   int
	Reindex bool
	DryRun  bool

	Now time.Time
	IDs record.IDSource
}

// Reduced reports one bus event spent by the pass. ObjectID is empty
// when the event opened a conflict instead of a view object; Path then
// points at the conflict ledger.
type Reduced struct {
	EventID    string            `json:"event_id"`
	ObjectID   string            `json:"object_id"`
	Type       record.ObjectType `json:"type"`
	Scope      string            `json:"scope"`
	Path       string            `json:"path"`
	Guessed    bool              `json:"guessed,omitempty"`
	ConflictID string            `json:"conflict_id,omitempty"`
}

// Result reports a whole pass. Conflicts lists the conflict records
// opened along the way; an open conflict is pass data, not a pass
// failure.
type Result struct {
	Scanned    int       `json:"scanned"`
	Accepted   []Reduced `json:"accepted"`
	Duplicates int       `json:"duplicates"` // already-processed ids skipped
	Conflicts  []string  `json:"conflicts"`
	Reindexed  bool      `json:"reindexed,omitempty"`
	DryRun     bool      `json:"dry_run"`
}

// Run drains eligible bus events into view objects.
//
// Eligibility is strict: only memory.published events from the bus
// reduce; every other type is ignored. Each accepted event id is marked
// processed before its object is written, so a crash between the two
// skips the event on retry instead of double-applying it. The pass
// never overwrites: a collision on an active decision key opens a
// conflict record and spends the event; the holder keeps the key.
func Run(ctx context.Context, st *shard.Store, opts Options) (*Result, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	reducer := record.Slugify(opts.Instance)
	if reducer == "" {
		reducer = record.UnknownInstance
	}

	processed, err := st.ProcessedIDs(st.ReducedIDsPath())
	if err != nil {
		return nil, err
	}

	res := &Result{Accepted: []Reduced{}, Conflicts: []string{}, DryRun: opts.DryRun}
	lastShardDay := ""
	shardLines := 0

	_, err = st.WalkShards(shard.ZoneBus, shard.ShardFilter{Scope: opts.Scope}, func(l shard.Line) error {
		var ev record.Event
		if json.Unmarshal(l.Raw, &ev) != nil || ev.Event != record.EventPublished || ev.EventID == "" {
			return nil
		}
		res.Scanned++
		if processed[ev.EventID] {
			res.Duplicates++
			return nil
		}
		if len(res.Accepted) >= limit {
			return shard.ErrStop
		}

		reduced, err := reduceOne(st, ev, now, opts.IDs, opts.DryRun)
		if err != nil {
			if fault.IsValidation(err) {
				// A malformed published event is the producer's bug, not
				// the pass's. Mark it attempted so it never wedges the bus.
				slog.Warn("reduce: rejecting event", "event_id", ev.EventID, "error", err)
				processed[ev.EventID] = true
				if !opts.DryRun {
					return st.MarkProcessed(st.ReducedIDsPath(), ev.EventID, now)
				}
				return nil
			}
			return err
		}
		// A shard can carry the same id twice (a retried append). The
		// ledger dedupes across passes; the map dedupes within this one.
		processed[ev.EventID] = true
		res.Accepted = append(res.Accepted, *reduced)
		if reduced.ConflictID != "" {
			res.Conflicts = append(res.Conflicts, reduced.ConflictID)
		}
		lastShardDay = shardDay(l.Path)
		shardLines = l.Number
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !opts.DryRun {
		if lastShardDay != "" {
			position := lastShardDay + ":" + strconv.Itoa(shardLines)
			if _, err := instance.RecordCursor(st, reducer, "bus", position, now); err != nil {
				return nil, err
			}
		}
		if opts.Reindex {
			if _, err := index.Rebuild(ctx, st); err != nil {
				return nil, err
			}
			res.Reindexed = true
		}
	}

	slog.Info("reduce pass complete",
		"scanned", res.Scanned,
		"accepted", len(res.Accepted),
		"duplicates", res.Duplicates,
		"conflicts", len(res.Conflicts),
		"dry_run", opts.DryRun,
	)
	return res, nil
}

// reduceOne converges a single published event.
func reduceOne(st *shard.Store, ev record.Event, now time.Time, ids record.IDSource, dryRun bool) (*Reduced, error) {
	const op = "reduce.event"

	summary := record.NormalizeSummary(record.PayloadString(ev.Payload, "summary"))
	if summary == "" {
		return nil, fault.Validationf(op, "published event %s has no summary", ev.EventID)
	}

	declared := record.ObjectType(record.PayloadString(ev.Payload, "object_type"))
	cls := record.Classify(summary, declared)

	confidence := record.PayloadFloat(ev.Payload, "confidence", stream.DefaultConfidence)
	tags := record.PayloadStrings(ev.Payload, "tags")
	if !cls.Certain {
		if confidence > record.GuessConfidenceCap {
			confidence = record.GuessConfidenceCap
		}
		tags = append(tags, record.TagClassifierGuess)
	}

	decisionKey := record.PayloadString(ev.Payload, "decision_key")
	if cls.Type == record.ObjectDecision && decisionKey != "" {
		holder, err := views.ActiveDecisionByKey(st, ev.Scope, decisionKey)
		if err != nil {
			return nil, err
		}
		if holder != nil {
			if holder.Summary == summary {
				// Same claim re-published: converge without a second object.
				if !dryRun {
					if err := st.MarkProcessed(st.ReducedIDsPath(), ev.EventID, now); err != nil {
						return nil, err
					}
				}
				return &Reduced{
					EventID:  ev.EventID,
					ObjectID: holder.ObjectID,
					Type:     holder.Type,
					Scope:    holder.Scope,
					Path:     st.Rel(st.ViewPath(holder.Type, holder.Scope, now)),
				}, nil
			}
			// A contradicting claim never displaces the holder. The
			// challenge lands in the conflict ledger and the event is
			// spent; whoever resolves the conflict republishes under
			// the same key.
			red := &Reduced{
				EventID: ev.EventID,
				Type:    record.ObjectDecision,
				Scope:   ev.Scope,
				Path:    st.Rel(st.ConflictsPath()),
			}
			if dryRun {
				return red, nil
			}
			cnf, err := views.AppendConflict(st, views.ConflictParams{
				Scope:        ev.Scope,
				DecisionKey:  decisionKey,
				ObjectIDs:    []string{holder.ObjectID},
				Summaries:    []string{holder.Summary, summary},
				SourceEvents: []string{ev.EventID},
				Now:          now,
				IDs:          ids,
			})
			if err != nil {
				return nil, err
			}
			if err := st.MarkProcessed(st.ReducedIDsPath(), ev.EventID, now); err != nil {
				return nil, err
			}
			red.ConflictID = cnf.ConflictID
			return red, nil
		}
	}

	horizon := record.Horizon(record.PayloadString(ev.Payload, "horizon"))
	if horizon == "" {
		horizon = stream.DefaultPublishHorizon
	}
	salience := record.Salience(record.PayloadString(ev.Payload, "salience"))
	if salience == "" {
		salience = stream.DefaultSalience
	}
	visibility := ev.Visibility
	if visibility == "" {
		visibility = record.VisibilityProject
	}

	obj, err := record.BuildObject(record.ObjectParams{
		Type:         cls.Type,
		Scope:        ev.Scope,
		Summary:      summary,
		Status:       record.StatusActive,
		Horizon:      horizon,
		Salience:     salience,
		Confidence:   confidence,
		Tags:         tags,
		SourceEvents: []string{ev.EventID},
		Visibility:   visibility,
		Owner:        ev.Owner,
		Project:      ev.Project,
		DecisionKey:  decisionKey,
		ReviewAfter:  record.PayloadString(ev.Payload, "review_after"),
		DueDate:      record.PayloadString(ev.Payload, "due_date"),
		Evidence:     record.PayloadString(ev.Payload, "evidence"),
		Rationale:    record.PayloadString(ev.Payload, "rationale"),
		Assumptions:  record.PayloadStrings(ev.Payload, "assumptions"),
		Now:          now,
		IDs:          ids,
	})
	if err != nil {
		return nil, err
	}

	viewPath := st.ViewPath(obj.Type, obj.Scope, now)
	if !dryRun {
		// Mark first, write second: a crash in between costs one object,
		// never a duplicate. The lost object is recoverable by republish.
		if err := st.MarkProcessed(st.ReducedIDsPath(), ev.EventID, now); err != nil {
			return nil, err
		}
		if err := st.AppendRecord(viewPath, obj); err != nil {
			return nil, err
		}
		if err := appendAudit(st, ev.EventID, obj, now); err != nil {
			return nil, err
		}
		mirrorCommitment(st, obj, now, ids)
	}

	return &Reduced{
		EventID:  ev.EventID,
		ObjectID: obj.ObjectID,
		Type:     obj.Type,
		Scope:    obj.Scope,
		Path:     st.Rel(viewPath),
		Guessed:  !cls.Certain,
	}, nil
}

// appendAudit writes the reducer audit row for one accepted event.
func appendAudit(st *shard.Store, eventID string, obj record.Object, now time.Time) error {
	row := record.AuditRow{
		Schema:   record.SchemaReducer,
		EventID:  eventID,
		ObjectID: obj.ObjectID,
		Scope:    obj.Scope,
		Type:     obj.Type,
		TS:       record.FormatTS(now),
	}
	hash, err := record.LedgerHash(row)
	if err != nil {
		return fault.Validationf("reduce.audit", "compute hash: %v", err)
	}
	row.Hash = hash
	return st.AppendRecord(st.ReduceLogPath(), row)
}

// mirrorCommitment adds a project-bound commitment to its project's
// agenda. Failure is logged, never fatal: the object is already durable
// and the agenda is rebuildable from the views.
func mirrorCommitment(st *shard.Store, obj record.Object, now time.Time, ids record.IDSource) {
	if obj.Type != record.ObjectCommitment || obj.Project == "" {
		return
	}
	_, err := project.AgendaAdd(st, project.AgendaAddOptions{
		Project:      obj.Project,
		Summary:      obj.Summary,
		Priority:     record.PriorityMedium,
		DueDate:      obj.DueDate,
		SourceObject: obj.ObjectID,
		Now:          now,
		IDs:          ids,
	})
	if err != nil {
		slog.Warn("agenda mirror failed", "project", obj.Project, "object_id", obj.ObjectID, "error", err)
	}
}

// LagCount returns the number of published bus events not yet in the
// processed-id set. Governance reads this as the reduce-lag metric.
func LagCount(st *shard.Store, scope string) (int, error) {
	processed, err := st.ProcessedIDs(st.ReducedIDsPath())
	if err != nil {
		return 0, err
	}
	lag := 0
	_, err = st.WalkShards(shard.ZoneBus, shard.ShardFilter{Scope: scope}, func(l shard.Line) error {
		var ev record.Event
		if json.Unmarshal(l.Raw, &ev) != nil || ev.Event != record.EventPublished {
			return nil
		}
		if !processed[ev.EventID] {
			lag++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return lag, nil
}

// LastAuditTS returns the timestamp of the newest reducer audit row,
// or zero when the trail is empty. Governance reads this as view
// freshness.
func LastAuditTS(st *shard.Store) (time.Time, error) {
	var last time.Time
	_, err := st.ReadLines(st.ReduceLogPath(), func(l shard.Line) error {
		ts, _ := l.Fields["ts"].(string)
		t, err := record.ParseTS(ts)
		if err != nil {
			return nil
		}
		if t.After(last) {
			last = t
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return last, nil
}

// shardDay extracts the daily bucket from a bus shard path.
func shardDay(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".jsonl")
}

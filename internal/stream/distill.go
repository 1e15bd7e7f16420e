package stream

import (
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/diasync/diasync/internal/project"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
)

// DefaultDistillLimit bounds captured events materialized per pass.
const DefaultDistillLimit = 200

// DistillOptions parameterizes one distill pass. Scope and Instance
// narrow which private streams are read; empty means all.
type DistillOptions struct {
	Scope    string
	Instance string
	Limit    int
	DryRun   bool

	Now   time.Time
	IDs   record.IDSource
	Clock *Clock
}

// DistilledObject reports one captured event materialized into a view
// object. Guessed marks objects whose type came from keyword inference.
type DistilledObject struct {
	EventID  string            `json:"event_id"`
	ObjectID string            `json:"object_id"`
	Type     record.ObjectType `json:"type"`
	Path     string            `json:"path"`
	Guessed  bool              `json:"guessed,omitempty"`
}

// DistillResult reports a whole pass: what was scanned, what was
// created, and the batch events recording the fold.
type DistillResult struct {
	Scanned int               `json:"scanned"`
	Created []DistilledObject `json:"created"`
	Events  []record.Event    `json:"events"`
	DryRun  bool              `json:"dry_run"`
}

// distillGroup accumulates one (scope, instance) stream's contribution
// to a pass, for the per-stream batch event.
type distillGroup struct {
	scope    string
	instance string
	events   []string
	objects  []string
}

// Distill folds unprocessed memory.captured events from private streams
// into locally-scoped view objects.
//
// Idempotency rides on the distilled-id ledger: each event id is marked
// before its object is written, so a crashed or repeated pass converges
// instead of duplicating. Malformed events are logged and skipped, never
// fatal; they stay unmarked and will be reconsidered next pass.
func Distill(st *shard.Store, opts DistillOptions) (*DistillResult, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultDistillLimit
	}

	processed, err := st.ProcessedIDs(st.DistilledIDsPath())
	if err != nil {
		return nil, err
	}

	res := &DistillResult{Created: []DistilledObject{}, Events: []record.Event{}, DryRun: opts.DryRun}
	groups := map[string]*distillGroup{}

	filter := shard.ShardFilter{Scope: opts.Scope, Instance: opts.Instance}
	_, err = st.WalkShards(shard.ZoneStreams, filter, func(l shard.Line) error {
		var ev record.Event
		if json.Unmarshal(l.Raw, &ev) != nil || ev.Event != record.EventCaptured {
			return nil
		}
		if ev.EventID == "" || processed[ev.EventID] {
			return nil
		}
		summary := record.NormalizeSummary(record.PayloadString(ev.Payload, "summary"))
		if summary == "" || ev.Scope == "" {
			slog.Debug("distill: captured event has no usable summary", "event_id", ev.EventID, "path", st.Rel(l.Path))
			return nil
		}

		res.Scanned++
		if len(res.Created) >= limit {
			return shard.ErrStop
		}

		obj, guessed, err := distillObject(ev, summary, now, opts.IDs)
		if err != nil {
			slog.Warn("distill: skipping event", "event_id", ev.EventID, "error", err)
			return nil
		}

		viewPath := st.ViewPath(obj.Type, obj.Scope, now)
		if !opts.DryRun {
			if err := st.MarkProcessed(st.DistilledIDsPath(), ev.EventID, now); err != nil {
				return err
			}
			if err := st.AppendRecord(viewPath, obj); err != nil {
				return err
			}
			mirrorCommitment(st, obj, now, opts.IDs)
		}

		res.Created = append(res.Created, DistilledObject{
			EventID:  ev.EventID,
			ObjectID: obj.ObjectID,
			Type:     obj.Type,
			Path:     st.Rel(viewPath),
			Guessed:  guessed,
		})

		key := ev.Scope + "\x00" + ev.InstanceID
		g := groups[key]
		if g == nil {
			g = &distillGroup{scope: ev.Scope, instance: ev.InstanceID}
			groups[key] = g
		}
		g.events = append(g.events, ev.EventID)
		g.objects = append(g.objects, obj.ObjectID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// One batch event per touched stream, recording the fold.
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		g := groups[k]
		ev, err := record.BuildEvent(record.EventParams{
			Type:       record.EventDistilled,
			Scope:      g.scope,
			InstanceID: g.instance,
			Visibility: record.VisibilityPrivate,
			LC:         nextLC(opts.Clock),
			CausalRefs: g.events,
			Payload: map[string]any{
				"created":       len(g.objects),
				"source_events": g.events,
				"objects":       g.objects,
			},
			Now: now,
			IDs: opts.IDs,
		})
		if err != nil {
			return nil, err
		}
		if !opts.DryRun {
			if err := st.AppendRecord(st.StreamPath(g.scope, g.instance, now), ev); err != nil {
				return nil, err
			}
		}
		res.Events = append(res.Events, ev)
	}

	slog.Info("distill pass complete",
		"scanned", res.Scanned,
		"created", len(res.Created),
		"streams", len(groups),
		"dry_run", opts.DryRun,
	)
	return res, nil
}

// distillObject maps one captured event to its view object. The type is
// the capture's proposal when one was declared, otherwise inferred from
// the summary and marked as a guess (confidence capped, tagged).
func distillObject(ev record.Event, summary string, now time.Time, ids record.IDSource) (record.Object, bool, error) {
	proposed := record.ObjectType(record.PayloadString(ev.Payload, "proposed_type"))
	cls := record.Classify(summary, proposed)

	confidence := record.PayloadFloat(ev.Payload, "confidence", DefaultConfidence)
	tags := record.PayloadStrings(ev.Payload, "tags")
	if !cls.Certain {
		if confidence > record.GuessConfidenceCap {
			confidence = record.GuessConfidenceCap
		}
		tags = append(tags, record.TagClassifierGuess)
	}

	horizon := record.Horizon(record.PayloadString(ev.Payload, "horizon"))
	if horizon == "" {
		horizon = DefaultCaptureHorizon
	}
	salience := record.Salience(record.PayloadString(ev.Payload, "salience"))
	if salience == "" {
		salience = DefaultSalience
	}
	visibility := ev.Visibility
	if visibility == "" {
		visibility = record.VisibilityPrivate
	}
	owner := ev.Owner
	if owner == "" {
		owner = ev.InstanceID
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
		Owner:        owner,
		Project:      ev.Project,
		DecisionKey:  record.PayloadString(ev.Payload, "decision_key"),
		ReviewAfter:  record.PayloadString(ev.Payload, "review_after"),
		DueDate:      record.PayloadString(ev.Payload, "due_date"),
		Evidence:     record.PayloadString(ev.Payload, "evidence"),
		Rationale:    record.PayloadString(ev.Payload, "rationale"),
		Assumptions:  record.PayloadStrings(ev.Payload, "assumptions"),
		Now:          now,
		IDs:          ids,
	})
	if err != nil {
		return record.Object{}, false, err
	}
	return obj, !cls.Certain, nil
}

// mirrorCommitment adds a project-bound commitment to that project's
// agenda so it surfaces in the next session's working set. Failure here
// never fails the pass; the object itself is already durable.
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

package stream

import (
	"time"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
)

// Defaults applied when the caller leaves the field zero.
const (
	DefaultConfidence     = 0.7
	DefaultCaptureHorizon = record.HorizonDay
	DefaultPublishHorizon = record.HorizonWeek
	DefaultSalience       = record.SalienceMedium
)

// Entry is the knowledge content of a capture or publish: the summary
// plus the object fields the distiller or reducer will materialize.
//
// Type is the object family. On capture it is a proposal; leaving it
// empty defers classification to distill. On publish it is the declared
// family; leaving it empty makes the reducer guess, which callers should
// avoid (the result is marked low-confidence).
type Entry struct {
	Summary     string
	Type        record.ObjectType
	Horizon     record.Horizon
	Salience    record.Salience
	Confidence  *float64
	Tags        []string
	DecisionKey string
	ReviewAfter string
	DueDate     string
	Evidence    string
	Rationale   string
	Assumptions []string
}

// CaptureOptions parameterizes a single private-stream write.
//
// Entry.Summary and Scope are required. Now, IDs and Clock exist for
// deterministic tests and default to the wall clock, random UUIDs and a
// fresh per-call counter.
type CaptureOptions struct {
	Entry

	Scope      string
	Instance   string
	RunID      string
	Project    string
	Visibility record.Visibility
	DryRun     bool

	Now   time.Time
	IDs   record.IDSource
	Clock *Clock
}

// CaptureResult reports the event as written (or as it would be written
// under DryRun) and the shard it landed in.
type CaptureResult struct {
	Event  record.Event `json:"event"`
	Path   string       `json:"path"`
	DryRun bool         `json:"dry_run"`
}

// Capture validates the options, builds a memory.captured event and
// appends it to the caller's private daily stream.
func Capture(st *shard.Store, opts CaptureOptions) (*CaptureResult, error) {
	const op = "stream.capture"

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	instance := resolveInstance(opts.Instance)
	visibility := opts.Visibility
	if visibility == "" {
		visibility = record.VisibilityPrivate
	}

	payload, err := entryPayload(op, opts.Entry, "proposed_type", DefaultCaptureHorizon)
	if err != nil {
		return nil, err
	}

	ev, err := record.BuildEvent(record.EventParams{
		Type:       record.EventCaptured,
		Scope:      opts.Scope,
		InstanceID: instance,
		RunID:      opts.RunID,
		Project:    record.InferProject(opts.Scope, opts.Project),
		Visibility: visibility,
		LC:         nextLC(opts.Clock),
		Payload:    payload,
		Now:        now,
		IDs:        opts.IDs,
	})
	if err != nil {
		return nil, err
	}

	path := st.StreamPath(opts.Scope, instance, now)
	if !opts.DryRun {
		if _, err := st.EnsureLayout(); err != nil {
			return nil, err
		}
		if err := st.AppendRecord(path, ev); err != nil {
			return nil, err
		}
	}
	return &CaptureResult{Event: ev, Path: st.Rel(path), DryRun: opts.DryRun}, nil
}

// entryPayload assembles and validates the wire payload for capture and
// publish. Enum values must be legal, confidence in 0..1, dates
// well-formed; range violations are validation errors, never clamped.
// typeKey distinguishes a proposed classification from a declared one.
func entryPayload(op string, e Entry, typeKey string, defaultHorizon record.Horizon) (map[string]any, error) {
	summary := record.NormalizeSummary(e.Summary)
	if summary == "" {
		return nil, fault.Validationf(op, "summary must not be empty")
	}
	horizon := e.Horizon
	if horizon == "" {
		horizon = defaultHorizon
	}
	if !record.ValidHorizons[horizon] {
		return nil, fault.Validationf(op, "unsupported horizon %q", horizon)
	}
	salience := e.Salience
	if salience == "" {
		salience = DefaultSalience
	}
	if !record.ValidSaliences[salience] {
		return nil, fault.Validationf(op, "unsupported salience %q", salience)
	}
	confidence := DefaultConfidence
	if e.Confidence != nil {
		confidence = *e.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return nil, fault.Validationf(op, "confidence %v outside 0..1", confidence)
	}

	payload := map[string]any{
		"summary":    summary,
		"horizon":    string(horizon),
		"salience":   string(salience),
		"confidence": confidence,
		"tags":       record.UniqueStrings(e.Tags),
	}
	if e.Type != "" {
		if !record.ValidObjectTypes[e.Type] {
			return nil, fault.Validationf(op, "unsupported object type %q", e.Type)
		}
		payload[typeKey] = string(e.Type)
	}
	if e.DecisionKey != "" {
		payload["decision_key"] = e.DecisionKey
	}
	if e.ReviewAfter != "" {
		if _, err := record.ParseDate(e.ReviewAfter); err != nil {
			return nil, fault.Validationf(op, "review_after: %v", err)
		}
		payload["review_after"] = e.ReviewAfter
	}
	if e.DueDate != "" {
		if _, err := record.ParseDate(e.DueDate); err != nil {
			return nil, fault.Validationf(op, "due_date: %v", err)
		}
		payload["due_date"] = e.DueDate
	}
	if e.Evidence != "" {
		payload["evidence"] = e.Evidence
	}
	if e.Rationale != "" {
		payload["rationale"] = e.Rationale
	}
	if len(e.Assumptions) > 0 {
		payload["assumptions"] = record.UniqueStrings(e.Assumptions)
	}
	return payload, nil
}

// resolveInstance slugs the caller-supplied instance id, falling back to
// the unknown-instance marker for writers that never ran sync --start.
func resolveInstance(instance string) string {
	if instance == "" {
		return record.UnknownInstance
	}
	return record.Slugify(instance)
}

// nextLC stamps from the run's clock when one is threaded through,
// otherwise the event is the only one of its run and lc stays 0.
func nextLC(c *Clock) int64 {
	if c == nil {
		return 0
	}
	return c.Next()
}

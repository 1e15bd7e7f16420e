package record

import (
	"strings"
	"time"

	"github.com/diasync/diasync/internal/fault"
)

// DefaultActor identifies event writers when the caller names none.
const DefaultActor = "agent"

// UnknownInstance is the registry fallback for writers that never
// identified themselves with sync --start.
const UnknownInstance = "instance-unknown"

// EventParams carries the logical fields of a new event.
// Zero-value optional fields: Payload nil becomes an empty object,
// CausalRefs are deduplicated preserving order, IDs nil uses UUIDSource,
// Actor defaults to DefaultActor, Owner to the instance id.
type EventParams struct {
	Type       EventType
	Scope      string
	InstanceID string
	RunID      string
	Actor      string
	Project    string
	Visibility Visibility
	Owner      string
	LC         int64
	CausalRefs []string
	Payload    map[string]any
	Now        time.Time
	IDs        IDSource
}

// BuildEvent validates params and assembles a fully hashed event.
//
// Field order of operations matters: the idempotency key is computed over
// the assembled event minus {idempotency_key, hash, event_id}, then the
// content hash over everything minus {hash}. Both are therefore stable
// functions of the logical content, and the hash additionally binds the
// fresh event id and idempotency key.
func BuildEvent(p EventParams) (Event, error) {
	const op = "record.event"
	if !ValidEventTypes[p.Type] {
		return Event{}, fault.Validationf(op, "unsupported event type %q", p.Type)
	}
	if strings.TrimSpace(p.Scope) == "" {
		return Event{}, fault.Validationf(op, "scope must not be empty")
	}
	if p.InstanceID == "" {
		return Event{}, fault.Validationf(op, "instance_id must not be empty")
	}
	if !ValidVisibilities[p.Visibility] {
		return Event{}, fault.Validationf(op, "unsupported visibility %q", p.Visibility)
	}
	if p.Now.IsZero() {
		return Event{}, fault.Validationf(op, "timestamp must be set")
	}

	ids := p.IDs
	if ids == nil {
		ids = UUIDSource{}
	}
	payload := p.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	actor := p.Actor
	if actor == "" {
		actor = DefaultActor
	}
	owner := p.Owner
	if owner == "" {
		owner = p.InstanceID
	}
	runID := p.RunID
	if runID == "" {
		runID = ids.NewID(KindRun, p.Now)
	}

	ev := Event{
		Schema:     SchemaEvent,
		EventID:    ids.NewID(KindEvent, p.Now),
		Event:      p.Type,
		Scope:      p.Scope,
		InstanceID: p.InstanceID,
		RunID:      runID,
		Actor:      actor,
		TS:         FormatTS(p.Now),
		LC:         p.LC,
		CausalRefs: UniqueStrings(p.CausalRefs),
		Visibility: p.Visibility,
		Owner:      owner,
		Payload:    payload,
	}
	if p.Project != "" {
		ev.Project = Slugify(p.Project)
	}

	key, err := IdempotencyKey(ev)
	if err != nil {
		return Event{}, fault.Validationf(op, "compute idempotency key: %v", err)
	}
	ev.IdempotencyKey = key

	hash, err := EventHash(ev)
	if err != nil {
		return Event{}, fault.Validationf(op, "compute hash: %v", err)
	}
	ev.Hash = hash
	return ev, nil
}

// ObjectParams carries the logical fields of a new view object.
type ObjectParams struct {
	Type         ObjectType
	Scope        string
	Summary      string
	Status       Status
	Horizon      Horizon
	Salience     Salience
	Confidence   float64
	Tags         []string
	SourceEvents []string
	Visibility   Visibility
	Owner        string
	Project      string
	DecisionKey  string
	Supersedes   string
	ReviewAfter  string
	DueDate      string
	Evidence     string
	Rationale    string
	Assumptions  []string
	Now          time.Time
	IDs          IDSource

	// ObjectID overrides id generation (replays, tests).
	ObjectID string
}

// BuildObject validates params and assembles a fully hashed view object.
// Range violations (confidence outside 0..1, malformed dates) are
// validation errors, rejected before any write.
func BuildObject(p ObjectParams) (Object, error) {
	const op = "record.object"
	if !ValidObjectTypes[p.Type] {
		return Object{}, fault.Validationf(op, "unsupported object type %q", p.Type)
	}
	if !ValidStatuses[p.Status] {
		return Object{}, fault.Validationf(op, "unsupported status %q", p.Status)
	}
	if !ValidHorizons[p.Horizon] {
		return Object{}, fault.Validationf(op, "unsupported horizon %q", p.Horizon)
	}
	if !ValidSaliences[p.Salience] {
		return Object{}, fault.Validationf(op, "unsupported salience %q", p.Salience)
	}
	if !ValidVisibilities[p.Visibility] {
		return Object{}, fault.Validationf(op, "unsupported visibility %q", p.Visibility)
	}
	if strings.TrimSpace(p.Scope) == "" {
		return Object{}, fault.Validationf(op, "scope must not be empty")
	}
	summary := NormalizeSummary(p.Summary)
	if summary == "" {
		return Object{}, fault.Validationf(op, "summary must not be empty")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return Object{}, fault.Validationf(op, "confidence %v outside 0..1", p.Confidence)
	}
	if p.ReviewAfter != "" {
		if _, err := ParseDate(p.ReviewAfter); err != nil {
			return Object{}, fault.Validationf(op, "review_after: %v", err)
		}
	}
	if p.DueDate != "" {
		if _, err := ParseDate(p.DueDate); err != nil {
			return Object{}, fault.Validationf(op, "due_date: %v", err)
		}
	}
	if p.Now.IsZero() {
		return Object{}, fault.Validationf(op, "timestamp must be set")
	}

	ids := p.IDs
	if ids == nil {
		ids = UUIDSource{}
	}
	objectID := p.ObjectID
	if objectID == "" {
		objectID = ids.NewID(ObjectKind(p.Type), p.Now)
	}

	obj := Object{
		Schema:       SchemaObject,
		ObjectID:     objectID,
		Type:         p.Type,
		Scope:        p.Scope,
		TS:           FormatTS(p.Now),
		Summary:      summary,
		Status:       p.Status,
		Horizon:      p.Horizon,
		Salience:     p.Salience,
		Confidence:   p.Confidence,
		Tags:         UniqueStrings(p.Tags),
		SourceEvents: UniqueStrings(p.SourceEvents),
		Visibility:   p.Visibility,
		Owner:        p.Owner,
		DecisionKey:  p.DecisionKey,
		Supersedes:   p.Supersedes,
		ReviewAfter:  p.ReviewAfter,
		DueDate:      p.DueDate,
		Evidence:     p.Evidence,
		Rationale:    p.Rationale,
	}
	if p.Project != "" {
		obj.Project = Slugify(p.Project)
	}
	if len(p.Assumptions) > 0 {
		obj.Assumptions = UniqueStrings(p.Assumptions)
	}

	hash, err := ObjectHash(obj)
	if err != nil {
		return Object{}, fault.Validationf(op, "compute hash: %v", err)
	}
	obj.Hash = hash
	return obj, nil
}

// UniqueStrings deduplicates preserving first-seen order.
// Always returns a non-nil slice so wire encoding is `[]`, never `null`.
func UniqueStrings(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

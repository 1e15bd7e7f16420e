package stream

import (
	"time"

	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
)

// PublishOptions parameterizes a shared-bus write. Same surface as
// CaptureOptions; the defaults differ (visibility project, horizon week)
// because a published entry is a claim made to every instance in the
// scope, not a private note.
type PublishOptions struct {
	Entry

	Scope      string
	Instance   string
	RunID      string
	Project    string
	Visibility record.Visibility
	CausalRefs []string
	DryRun     bool

	Now   time.Time
	IDs   record.IDSource
	Clock *Clock
}

// PublishResult reports the bus event and the shard it landed in.
type PublishResult struct {
	Event  record.Event `json:"event"`
	Path   string       `json:"path"`
	DryRun bool         `json:"dry_run"`
}

// Publish validates the options, builds a memory.published event and
// appends it to the shared bus. This is the only operation that makes an
// entry visible to other instances; everything downstream (reduction,
// conflict detection, agenda mirroring) starts from the bus shard
// written here.
func Publish(st *shard.Store, opts PublishOptions) (*PublishResult, error) {
	const op = "stream.publish"

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	instance := resolveInstance(opts.Instance)
	visibility := opts.Visibility
	if visibility == "" {
		visibility = record.VisibilityProject
	}

	payload, err := entryPayload(op, opts.Entry, "object_type", DefaultPublishHorizon)
	if err != nil {
		return nil, err
	}

	ev, err := record.BuildEvent(record.EventParams{
		Type:       record.EventPublished,
		Scope:      opts.Scope,
		InstanceID: instance,
		RunID:      opts.RunID,
		Project:    record.InferProject(opts.Scope, opts.Project),
		Visibility: visibility,
		LC:         nextLC(opts.Clock),
		CausalRefs: opts.CausalRefs,
		Payload:    payload,
		Now:        now,
		IDs:        opts.IDs,
	})
	if err != nil {
		return nil, err
	}

	path := st.BusPath(opts.Scope, now)
	if !opts.DryRun {
		if _, err := st.EnsureLayout(); err != nil {
			return nil, err
		}
		if err := st.AppendRecord(path, ev); err != nil {
			return nil, err
		}
	}
	return &PublishResult{Event: ev, Path: st.Rel(path), DryRun: opts.DryRun}, nil
}

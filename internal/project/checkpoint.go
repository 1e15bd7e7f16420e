// Package project maintains the per-project surface: the agenda ledger
// and the three capsules (state.md, resume.md, attach) a session reads
// before it starts working.
//
// Capsules are whole-file snapshots rewritten atomically; the ledgers
// they summarize stay append-only. The package deliberately does not
// fold view shards itself: callers that want active decisions and
// commitments in a capsule thread an ObjectLister, which keeps the fold
// in one place (the views package) without an import cycle.
package project

import (
	"fmt"
	"strings"
	"time"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
)

// ObjectLister supplies a project's active decisions and commitments,
// newest first. Backed by views.ActiveObjects in production; tests stub
// it.
type ObjectLister func(project string) (decisions, commitments []record.Object, err error)

// CheckpointOptions parameterizes a project state snapshot.
//
// NowLines / NextLines / Risks become the capsule's Now / Next / Risks
// sections verbatim, one bullet each. Lister fills the active decision
// and commitment sections; nil leaves them empty.
type CheckpointOptions struct {
	Project   string
	Scope     string
	Instance  string
	RunID     string
	NowLines  []string
	NextLines []string
	Risks     []string
	Lister    ObjectLister
	DryRun    bool

	Now time.Time
	IDs record.IDSource
	LC  int64
}

// CheckpointResult reports the capsule written and the stream event
// recording the checkpoint.
type CheckpointResult struct {
	Path    string       `json:"path"`
	Capsule string       `json:"capsule"`
	Event   record.Event `json:"event"`
	DryRun  bool         `json:"dry_run"`
}

// Checkpoint rewrites a project's state capsule and records the
// snapshot as a memory.checkpointed event in the caller's private
// stream. The capsule is derived state: losing it costs nothing the
// ledgers cannot regenerate.
func Checkpoint(st *shard.Store, opts CheckpointOptions) (*CheckpointResult, error) {
	const op = "project.checkpoint"
	if opts.Project == "" {
		return nil, fault.Validationf(op, "project must not be empty")
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	scope := opts.Scope
	if scope == "" {
		scope = record.ProjectScopePrefix + record.Slugify(opts.Project)
	}
	instance := record.Slugify(opts.Instance)
	if instance == "" {
		instance = record.UnknownInstance
	}

	decisions, commitments, err := listObjects(opts.Lister, opts.Project)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Project State: %s\n\n", record.Slugify(opts.Project))
	fmt.Fprintf(&b, "- Updated At: %s\n", record.FormatTS(now))
	fmt.Fprintf(&b, "- Scope: %s\n", scope)
	fmt.Fprintf(&b, "- Instance: %s\n", instance)
	writeSection(&b, "Now", opts.NowLines)
	writeSection(&b, "Next", opts.NextLines)
	writeSection(&b, "Risks", opts.Risks)
	writeObjectSection(&b, "Active Decisions", decisions)
	writeObjectSection(&b, "Active Commitments", commitments)

	ev, err := record.BuildEvent(record.EventParams{
		Type:       record.EventCheckpointed,
		Scope:      scope,
		InstanceID: instance,
		RunID:      opts.RunID,
		Project:    opts.Project,
		Visibility: record.VisibilityProject,
		LC:         opts.LC,
		Payload: map[string]any{
			"project":            record.Slugify(opts.Project),
			"now_items":          len(opts.NowLines),
			"next_items":         len(opts.NextLines),
			"risks":              len(opts.Risks),
			"active_decisions":   objectIDs(decisions),
			"active_commitments": objectIDs(commitments),
		},
		Now: now,
		IDs: opts.IDs,
	})
	if err != nil {
		return nil, err
	}

	b.WriteString("\n## Source\n")
	fmt.Fprintf(&b, "- %s\n", ev.EventID)
	capsule := b.String()

	path := st.ProjectStatePath(opts.Project)
	res := &CheckpointResult{Path: st.Rel(path), Capsule: capsule, Event: ev, DryRun: opts.DryRun}
	if opts.DryRun {
		return res, nil
	}
	if _, err := st.EnsureLayout(); err != nil {
		return nil, err
	}
	if err := st.ReplaceFile(path, []byte(capsule)); err != nil {
		return nil, err
	}
	if err := st.AppendRecord(st.StreamPath(scope, instance, now), ev); err != nil {
		return nil, err
	}
	return res, nil
}

// listObjects invokes the lister, tolerating nil (empty sections).
func listObjects(lister ObjectLister, project string) (decisions, commitments []record.Object, err error) {
	if lister == nil {
		return nil, nil, nil
	}
	return lister(project)
}

// writeSection renders one bulleted capsule section. An empty section
// still appears with a placeholder so capsule diffs stay positional.
func writeSection(b *strings.Builder, title string, lines []string) {
	fmt.Fprintf(b, "\n## %s\n", title)
	if len(lines) == 0 {
		b.WriteString("- (none)\n")
		return
	}
	for _, line := range lines {
		fmt.Fprintf(b, "- %s\n", record.NormalizeSummary(line))
	}
}

// writeObjectSection renders view objects as "id — summary" bullets.
func writeObjectSection(b *strings.Builder, title string, objects []record.Object) {
	fmt.Fprintf(b, "\n## %s\n", title)
	if len(objects) == 0 {
		b.WriteString("- (none)\n")
		return
	}
	for _, obj := range objects {
		fmt.Fprintf(b, "- %s: %s\n", obj.ObjectID, obj.Summary)
	}
}

func objectIDs(objects []record.Object) []string {
	ids := make([]string, 0, len(objects))
	for _, obj := range objects {
		ids = append(ids, obj.ObjectID)
	}
	return ids
}

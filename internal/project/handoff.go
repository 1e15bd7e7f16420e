package project

import (
	"fmt"
	"strings"
	"time"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
)

// HandoffOptions parameterizes a session handoff: the note one session
// leaves for the next.
type HandoffOptions struct {
	Project       string
	Scope         string
	Instance      string
	RunID         string
	Summary       string
	NextActions   []string
	Risks         []string
	OpenQuestions []string
	DryRun        bool

	Now time.Time
	IDs record.IDSource
	LC  int64
}

// HandoffResult reports the resume capsule written and the stream event
// recording the handoff.
type HandoffResult struct {
	Path    string       `json:"path"`
	Capsule string       `json:"capsule"`
	Event   record.Event `json:"event"`
	DryRun  bool         `json:"dry_run"`
}

// Handoff rewrites a project's resume capsule and records the handoff
// as a memory.handoff event in the caller's private stream. The capsule
// answers the next session's first question: what was I doing, and what
// do I do first.
func Handoff(st *shard.Store, opts HandoffOptions) (*HandoffResult, error) {
	const op = "project.handoff"
	if opts.Project == "" {
		return nil, fault.Validationf(op, "project must not be empty")
	}
	summary := record.NormalizeSummary(opts.Summary)
	if summary == "" {
		return nil, fault.Validationf(op, "summary must not be empty")
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

	ev, err := record.BuildEvent(record.EventParams{
		Type:       record.EventHandoff,
		Scope:      scope,
		InstanceID: instance,
		RunID:      opts.RunID,
		Project:    opts.Project,
		Visibility: record.VisibilityProject,
		LC:         opts.LC,
		Payload: map[string]any{
			"project":        record.Slugify(opts.Project),
			"summary":        summary,
			"next_actions":   record.UniqueStrings(opts.NextActions),
			"risks":          record.UniqueStrings(opts.Risks),
			"open_questions": record.UniqueStrings(opts.OpenQuestions),
		},
		Now: now,
		IDs: opts.IDs,
	})
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Resume: %s\n\n", record.Slugify(opts.Project))
	fmt.Fprintf(&b, "- Updated At: %s\n", record.FormatTS(now))
	fmt.Fprintf(&b, "- Instance: %s\n", instance)
	b.WriteString("\n## Last Session Summary\n")
	fmt.Fprintf(&b, "- %s\n", summary)
	writeSection(&b, "Next Session First Action", opts.NextActions)
	writeSection(&b, "Open Risks", opts.Risks)
	writeSection(&b, "Open Questions", opts.OpenQuestions)
	b.WriteString("\n## Source\n")
	fmt.Fprintf(&b, "- %s\n", ev.EventID)
	capsule := b.String()

	path := st.ProjectResumePath(opts.Project)
	res := &HandoffResult{Path: st.Rel(path), Capsule: capsule, Event: ev, DryRun: opts.DryRun}
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

package project

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
)

// Attach capsule caps when the caller leaves them zero.
const (
	DefaultTopDecisions   = 10
	DefaultTopCommitments = 10
)

// AttachOptions parameterizes one attach capsule build.
type AttachOptions struct {
	Project        string
	TopDecisions   int
	TopCommitments int
	Lister         ObjectLister
	DryRun         bool

	Now time.Time
}

// AttachResult reports the capsule as written (or simulated).
type AttachResult struct {
	Project     string `json:"project"`
	Path        string `json:"path"`
	Capsule     string `json:"capsule"`
	Decisions   int    `json:"decisions"`
	Commitments int    `json:"commitments"`
	DryRun      bool   `json:"dry_run"`
}

// Attach rewrites the attach capsule for one project: the single file a
// session pins into context at start. It concatenates the resume and
// state capsules with the project's top active decisions and
// commitments. Pure derivation — no event is appended, and a rebuild
// from the ledgers always reproduces it.
func Attach(st *shard.Store, opts AttachOptions) (*AttachResult, error) {
	const op = "project.attach"
	if opts.Project == "" {
		return nil, fault.Validationf(op, "project must not be empty")
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	topDecisions := opts.TopDecisions
	if topDecisions <= 0 {
		topDecisions = DefaultTopDecisions
	}
	topCommitments := opts.TopCommitments
	if topCommitments <= 0 {
		topCommitments = DefaultTopCommitments
	}

	decisions, commitments, err := listObjects(opts.Lister, opts.Project)
	if err != nil {
		return nil, err
	}
	if len(decisions) > topDecisions {
		decisions = decisions[:topDecisions]
	}
	if len(commitments) > topCommitments {
		commitments = commitments[:topCommitments]
	}

	resume, _, err := st.ReadFile(st.ProjectResumePath(opts.Project))
	if err != nil {
		return nil, err
	}
	state, _, err := st.ReadFile(st.ProjectStatePath(opts.Project))
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Attach: %s\n\n", record.Slugify(opts.Project))
	fmt.Fprintf(&b, "- Generated At: %s\n", record.FormatTS(now))
	fmt.Fprintf(&b, "- Scope: %s%s\n", record.ProjectScopePrefix, record.Slugify(opts.Project))
	writeCapsuleSection(&b, "Resume", resume)
	writeCapsuleSection(&b, "State", state)
	writeObjectSection(&b, "Top Active Decisions", decisions)
	writeObjectSection(&b, "Top Active Commitments", commitments)
	capsule := b.String()

	path := st.AttachPath(opts.Project)
	res := &AttachResult{
		Project:     record.Slugify(opts.Project),
		Path:        st.Rel(path),
		Capsule:     capsule,
		Decisions:   len(decisions),
		Commitments: len(commitments),
		DryRun:      opts.DryRun,
	}
	if opts.DryRun {
		return res, nil
	}
	if _, err := st.EnsureLayout(); err != nil {
		return nil, err
	}
	if err := st.ReplaceFile(path, []byte(capsule)); err != nil {
		return nil, err
	}
	return res, nil
}

// AttachAll refreshes the attach capsule of every project with a
// directory under projects/. Governance's attach.refresh safe action
// runs this. Projects are visited in sorted order; the first failure
// aborts the rest (re-running is cheap and idempotent).
func AttachAll(st *shard.Store, lister ObjectLister, now time.Time, dryRun bool) ([]AttachResult, error) {
	projects, err := List(st)
	if err != nil {
		return nil, err
	}
	results := []AttachResult{}
	for _, p := range projects {
		res, err := Attach(st, AttachOptions{
			Project: p,
			Lister:  lister,
			DryRun:  dryRun,
			Now:     now,
		})
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// List returns every project with a directory under projects/, sorted.
func List(st *shard.Store) ([]string, error) {
	entries, err := os.ReadDir(st.ProjectsDir())
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fault.Storage("project.list", st.ProjectsDir(), err)
	}
	projects := []string{}
	for _, e := range entries {
		if e.IsDir() {
			projects = append(projects, e.Name())
		}
	}
	sort.Strings(projects)
	return projects, nil
}

// MissingAttach lists projects that have a state capsule but no attach
// capsule. Governance reads this as the missing-attach metric.
func MissingAttach(st *shard.Store) ([]string, error) {
	projects, err := List(st)
	if err != nil {
		return nil, err
	}
	missing := []string{}
	for _, p := range projects {
		_, hasState, err := st.ReadFile(st.ProjectStatePath(p))
		if err != nil {
			return nil, err
		}
		if !hasState {
			continue
		}
		_, hasAttach, err := st.ReadFile(st.AttachPath(p))
		if err != nil {
			return nil, err
		}
		if !hasAttach {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

// writeCapsuleSection embeds another capsule's text under a heading,
// or a placeholder when the capsule does not exist yet.
func writeCapsuleSection(b *strings.Builder, title, text string) {
	fmt.Fprintf(b, "\n## %s\n", title)
	text = strings.TrimSpace(text)
	if text == "" {
		b.WriteString("- (none)\n")
		return
	}
	b.WriteString(text)
	b.WriteString("\n")
}

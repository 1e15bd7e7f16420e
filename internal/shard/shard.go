// Package shard is the physical storage layer: append-only JSONL shard
// files plus atomic whole-file capsule writes.
//
// No component outside this package opens ledger files for writing. The
// two write primitives carry the system's durability contract:
//
//   - AppendLine: all-or-nothing line append; readers may observe any
//     historical prefix of a shard but never a partially written final
//     line (one O_APPEND write per line).
//   - ReplaceFile: atomic whole-file replacement via temp + rename;
//     readers never observe a partial capsule.
//
// Shard addressing: streams and the bus use daily buckets, views use
// monthly buckets, archive holds compressed historical shards.
package shard

import (
	"os"
	"path/filepath"
	"time"

	"github.com/diasync/diasync/internal/record"
)

// Directory and file modes for everything under the store root.
const (
	dirMode  = 0o750
	fileMode = 0o640
)

// Zone names the top-level ledger families.
const (
	ZoneStreams      = "streams"
	ZoneBus          = "bus"
	ZoneViews        = "views"
	ZoneCoordination = "coordination"
	ZoneGovernance   = "governance"
)

// TrackedZones lists the JSONL zones hygiene and validate walk.
var TrackedZones = []string{ZoneStreams, ZoneBus, ZoneViews, ZoneCoordination, ZoneGovernance}

// viewCollections maps object types to their view directory names.
var viewCollections = map[record.ObjectType]string{
	record.ObjectFact:       "facts",
	record.ObjectDecision:   "decisions",
	record.ObjectCommitment: "commitments",
}

// Store addresses every file under one ledger root.
type Store struct {
	root string
}

// Open returns a Store rooted at root. The directory tree is not created
// until EnsureLayout (or the first append) runs.
func Open(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

// Root returns the ledger root directory.
func (s *Store) Root() string { return s.root }

// MetaDir returns the _meta directory.
func (s *Store) MetaDir() string { return filepath.Join(s.root, "_meta") }

// SchemaVersionPath returns the store version marker file.
func (s *Store) SchemaVersionPath() string {
	return filepath.Join(s.MetaDir(), "schema_version")
}

// PolicyPath returns the governance policy document.
func (s *Store) PolicyPath() string { return filepath.Join(s.MetaDir(), "policy.yaml") }

// EventSchemaPath returns the exported event wire schema copy.
func (s *Store) EventSchemaPath() string {
	return filepath.Join(s.MetaDir(), "event_schema.json")
}

// ObjectSchemaPath returns the exported object wire schema copy.
func (s *Store) ObjectSchemaPath() string {
	return filepath.Join(s.MetaDir(), "object_schema.json")
}

// ReducedIDsPath returns the reduce processed-id ledger.
func (s *Store) ReducedIDsPath() string {
	return filepath.Join(s.MetaDir(), "reduced_event_ids.jsonl")
}

// DistilledIDsPath returns the distill processed-id ledger.
func (s *Store) DistilledIDsPath() string {
	return filepath.Join(s.MetaDir(), "distilled_event_ids.jsonl")
}

// StreamDir returns the private stream directory for (scope, instance).
func (s *Store) StreamDir(scope, instanceID string) string {
	return filepath.Join(s.root, ZoneStreams, record.ScopeSlug(scope), record.Slugify(instanceID))
}

// StreamPath returns the daily private stream shard for (scope, instance, t).
func (s *Store) StreamPath(scope, instanceID string, t time.Time) string {
	return filepath.Join(s.StreamDir(scope, instanceID), record.DayBucket(t)+".jsonl")
}

// BusDir returns the shared bus directory for a scope.
func (s *Store) BusDir(scope string) string {
	return filepath.Join(s.root, ZoneBus, record.ScopeSlug(scope))
}

// BusPath returns the daily shared bus shard for (scope, t).
func (s *Store) BusPath(scope string, t time.Time) string {
	return filepath.Join(s.BusDir(scope), record.DayBucket(t)+".jsonl")
}

// ViewDir returns the view directory for an object type and scope.
func (s *Store) ViewDir(t record.ObjectType, scope string) string {
	return filepath.Join(s.root, ZoneViews, viewCollections[t], record.ScopeSlug(scope))
}

// ViewPath returns the monthly view shard for (type, scope, ts).
func (s *Store) ViewPath(ot record.ObjectType, scope string, t time.Time) string {
	return filepath.Join(s.ViewDir(ot, scope), record.MonthBucket(t)+".jsonl")
}

// ViewCollectionDir returns the top directory of one view family
// (all scopes), e.g. views/decisions.
func (s *Store) ViewCollectionDir(t record.ObjectType) string {
	return filepath.Join(s.root, ZoneViews, viewCollections[t])
}

// AttachPath returns the attach capsule for a project.
func (s *Store) AttachPath(project string) string {
	return filepath.Join(s.root, ZoneViews, "attach", record.Slugify(project)+".md")
}

// CoordinationDir returns the coordination ledger directory.
func (s *Store) CoordinationDir() string { return filepath.Join(s.root, ZoneCoordination) }

// InstancesPath returns the instance lifecycle ledger.
func (s *Store) InstancesPath() string {
	return filepath.Join(s.CoordinationDir(), "instances.jsonl")
}

// CursorsPath returns the reducer cursor ledger.
func (s *Store) CursorsPath() string {
	return filepath.Join(s.CoordinationDir(), "cursors.jsonl")
}

// LeasesPath returns the lease ledger.
func (s *Store) LeasesPath() string {
	return filepath.Join(s.CoordinationDir(), "leases.jsonl")
}

// ConflictsPath returns the conflict ledger.
func (s *Store) ConflictsPath() string {
	return filepath.Join(s.CoordinationDir(), "conflicts.jsonl")
}

// ReduceLogPath returns the reducer audit trail.
func (s *Store) ReduceLogPath() string {
	return filepath.Join(s.CoordinationDir(), "reduce_log.jsonl")
}

// ProjectsDir returns the projects directory.
func (s *Store) ProjectsDir() string { return filepath.Join(s.root, "projects") }

// ProjectDir returns one project's directory.
func (s *Store) ProjectDir(project string) string {
	return filepath.Join(s.ProjectsDir(), record.Slugify(project))
}

// ProjectStatePath returns a project's state capsule.
func (s *Store) ProjectStatePath(project string) string {
	return filepath.Join(s.ProjectDir(project), "state.md")
}

// ProjectResumePath returns a project's resume capsule.
func (s *Store) ProjectResumePath(project string) string {
	return filepath.Join(s.ProjectDir(project), "resume.md")
}

// ProjectAgendaPath returns a project's agenda ledger.
func (s *Store) ProjectAgendaPath(project string) string {
	return filepath.Join(s.ProjectDir(project), "agenda.jsonl")
}

// GovernanceDir returns the governance ledger directory.
func (s *Store) GovernanceDir() string { return filepath.Join(s.root, ZoneGovernance) }

// FindingsDir returns the findings ledger directory.
func (s *Store) FindingsDir() string {
	return filepath.Join(s.GovernanceDir(), "findings")
}

// FindingsPath returns the monthly findings shard for t.
func (s *Store) FindingsPath(t time.Time) string {
	return filepath.Join(s.FindingsDir(), record.MonthBucket(t)+".jsonl")
}

// ScorecardsPath returns the health scorecard ledger.
func (s *Store) ScorecardsPath() string {
	return filepath.Join(s.GovernanceDir(), "health", "scorecards.jsonl")
}

// TrendsPath returns the health trend ledger.
func (s *Store) TrendsPath() string {
	return filepath.Join(s.GovernanceDir(), "health", "trends.jsonl")
}

// PlansPath returns the optimization plan ledger.
func (s *Store) PlansPath() string {
	return filepath.Join(s.GovernanceDir(), "actions", "plans.jsonl")
}

// ExecutionsPath returns the optimization execution ledger.
func (s *Store) ExecutionsPath() string {
	return filepath.Join(s.GovernanceDir(), "actions", "executions.jsonl")
}

// IndexDir returns the rebuildable index directory.
func (s *Store) IndexDir() string { return filepath.Join(s.root, "index") }

// IndexDBPath returns the SQLite catalog database.
func (s *Store) IndexDBPath() string { return filepath.Join(s.IndexDir(), "catalog.db") }

// ArchiveDir returns the compressed archive directory.
func (s *Store) ArchiveDir() string { return filepath.Join(s.root, "archive") }

// EvidenceDir returns the evidence attachment directory.
func (s *Store) EvidenceDir() string { return filepath.Join(s.root, "evidence") }

// ZoneDir returns the directory for a tracked zone name.
func (s *Store) ZoneDir(zone string) string { return filepath.Join(s.root, zone) }

// Rel returns path relative to the store root, for reporting.
// Falls back to the input when the path is outside the root.
func (s *Store) Rel(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return path
	}
	return rel
}

// requiredDirs is the layout EnsureLayout creates.
var requiredDirs = []string{
	"_meta",
	"streams",
	"bus",
	"views",
	"views/facts",
	"views/decisions",
	"views/commitments",
	"views/attach",
	"coordination",
	"projects",
	"governance",
	"governance/findings",
	"governance/health",
	"governance/actions",
	"index",
	"archive",
	"evidence",
}

// EnsureLayout creates the directory tree and the store version marker.
// Idempotent: existing directories and files are left untouched.
// Returns the relative paths it created, for init reporting.
func (s *Store) EnsureLayout() ([]string, error) {
	var created []string
	for _, rel := range requiredDirs {
		path := filepath.Join(s.root, rel)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			created = append(created, rel)
		}
		if err := os.MkdirAll(path, dirMode); err != nil {
			return nil, storageErr("shard.ensure", path, err)
		}
	}
	if _, err := os.Stat(s.SchemaVersionPath()); os.IsNotExist(err) {
		if err := s.ReplaceFile(s.SchemaVersionPath(), []byte(record.StoreVersion+"\n")); err != nil {
			return nil, err
		}
		created = append(created, "_meta/schema_version")
	}
	return created, nil
}

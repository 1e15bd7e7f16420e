package record

// Schema tags carried by every persisted record. The major ("v1") gates
// reader acceptance; unknown majors are a validation error.
const (
	SchemaEvent     = "diasync-v1-event"
	SchemaObject    = "diasync-v1-object"
	SchemaLease     = "diasync-v1-lease-event"
	SchemaConflict  = "diasync-v1-conflict-event"
	SchemaFinding   = "diasync-v1-finding-event"
	SchemaInstance  = "diasync-v1-instance-event"
	SchemaCursor    = "diasync-v1-cursor-event"
	SchemaReducer   = "diasync-v1-reducer-event"
	SchemaScorecard = "diasync-v1-health-scorecard"
	SchemaTrend     = "diasync-v1-health-trend"
	SchemaPlan      = "diasync-v1-optimization-plan"
	SchemaExecution = "diasync-v1-optimization-execution"
	SchemaState     = "diasync-v1-project-state"
	SchemaAttach    = "diasync-v1-attach-capsule"
	SchemaAgenda    = "diasync-v1-agenda-op"
)

// StoreVersion is written to _meta/schema_version on init.
const StoreVersion = "diasync-v1"

package record

// EventType names a ledger event on the wire.
type EventType string

const (
	EventInstanceStarted   EventType = "memory.instance.started"
	EventInstanceHeartbeat EventType = "memory.instance.heartbeat"
	EventInstanceStopped   EventType = "memory.instance.stopped"
	EventCaptured          EventType = "memory.captured"
	EventDistilled         EventType = "memory.distilled"
	EventPublished         EventType = "memory.published"
	EventReduced           EventType = "memory.reduced"
	EventReconciled        EventType = "memory.reconciled"
	EventCheckpointed      EventType = "memory.checkpointed"
	EventHandoff           EventType = "memory.handoff"
)

// ValidEventTypes defines the accepted event type values.
var ValidEventTypes = map[EventType]bool{
	EventInstanceStarted:   true,
	EventInstanceHeartbeat: true,
	EventInstanceStopped:   true,
	EventCaptured:          true,
	EventDistilled:         true,
	EventPublished:         true,
	EventReduced:           true,
	EventReconciled:        true,
	EventCheckpointed:      true,
	EventHandoff:           true,
}

// ObjectType names a view object family.
type ObjectType string

const (
	ObjectFact       ObjectType = "fact"
	ObjectDecision   ObjectType = "decision"
	ObjectCommitment ObjectType = "commitment"
)

// ValidObjectTypes defines the accepted object type values.
var ValidObjectTypes = map[ObjectType]bool{
	ObjectFact:       true,
	ObjectDecision:   true,
	ObjectCommitment: true,
}

// Visibility controls who may observe a record.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityProject Visibility = "project"
	VisibilityGlobal  Visibility = "global"
)

// ValidVisibilities defines the accepted visibility values.
var ValidVisibilities = map[Visibility]bool{
	VisibilityPrivate: true,
	VisibilityProject: true,
	VisibilityGlobal:  true,
}

// Horizon is the time frame a view object speaks to.
type Horizon string

const (
	HorizonNow     Horizon = "now"
	HorizonDay     Horizon = "day"
	HorizonWeek    Horizon = "week"
	HorizonMonth   Horizon = "month"
	HorizonQuarter Horizon = "quarter"
	HorizonYear    Horizon = "year"
)

// ValidHorizons defines the accepted horizon values.
var ValidHorizons = map[Horizon]bool{
	HorizonNow:     true,
	HorizonDay:     true,
	HorizonWeek:    true,
	HorizonMonth:   true,
	HorizonQuarter: true,
	HorizonYear:    true,
}

// Salience grades how prominent a view object should be.
type Salience string

const (
	SalienceLow    Salience = "low"
	SalienceMedium Salience = "medium"
	SalienceHigh   Salience = "high"
)

// ValidSaliences defines the accepted salience values.
var ValidSaliences = map[Salience]bool{
	SalienceLow:    true,
	SalienceMedium: true,
	SalienceHigh:   true,
}

// Status is the lifecycle state of a view object.
type Status string

const (
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusSuperseded Status = "superseded"
	StatusInvalid    Status = "invalid"
)

// ValidStatuses defines the accepted status values.
var ValidStatuses = map[Status]bool{
	StatusActive:     true,
	StatusCompleted:  true,
	StatusCancelled:  true,
	StatusSuperseded: true,
	StatusInvalid:    true,
}

// Priority grades agenda items.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ValidPriorities defines the accepted agenda priority values.
var ValidPriorities = map[Priority]bool{
	PriorityHigh:   true,
	PriorityMedium: true,
	PriorityLow:    true,
}

// Event is an immutable fact about something that happened.
//
// Events are produced into exactly one of two logs: a private per-instance
// stream or the shared bus. They are created once and never modified;
// a later event may supersede one in effect, never in storage.
type Event struct {
	Schema         string         `json:"schema"`
	EventID        string         `json:"event_id"`
	Event          EventType      `json:"event"`
	Scope          string         `json:"scope"`
	InstanceID     string         `json:"instance_id"`
	RunID          string         `json:"run_id"`
	Actor          string         `json:"actor"`
	TS             string         `json:"ts"` // UTC RFC 3339, seconds precision
	LC             int64          `json:"lc"` // per-run logical counter
	CausalRefs     []string       `json:"causal_refs"`
	Visibility     Visibility     `json:"visibility"`
	Owner          string         `json:"owner"`
	Project        string         `json:"project,omitempty"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key"`
	Hash           string         `json:"hash"`
}

// Object is a durable, queryable unit of knowledge derived from events.
type Object struct {
	Schema       string     `json:"schema"`
	ObjectID     string     `json:"object_id"`
	Type         ObjectType `json:"type"`
	Scope        string     `json:"scope"`
	TS           string     `json:"ts"`
	Summary      string     `json:"summary"`
	Status       Status     `json:"status"`
	Horizon      Horizon    `json:"horizon"`
	Salience     Salience   `json:"salience"`
	Confidence   float64    `json:"confidence"`
	Tags         []string   `json:"tags"`
	SourceEvents []string   `json:"source_events"`
	Visibility   Visibility `json:"visibility"`
	Owner        string     `json:"owner"`
	Project      string     `json:"project,omitempty"`
	DecisionKey  string     `json:"decision_key,omitempty"`
	Supersedes   string     `json:"supersedes,omitempty"`
	ReviewAfter  string     `json:"review_after,omitempty"` // YYYY-MM-DD
	DueDate      string     `json:"due_date,omitempty"`     // YYYY-MM-DD
	Evidence     string     `json:"evidence,omitempty"`     // relative path under evidence/
	Rationale    string     `json:"rationale,omitempty"`
	Assumptions  []string   `json:"assumptions,omitempty"`
	Hash         string     `json:"hash"`
}

// LeaseOp is an acquire or release line in the lease ledger.
type LeaseOp struct {
	Schema    string `json:"schema"`
	LeaseID   string `json:"lease_id"`
	Op        string `json:"op"` // "acquire" | "release"
	Scope     string `json:"scope"`
	Key       string `json:"key"`
	Owner     string `json:"owner"` // instance id
	TS        string `json:"ts"`
	ExpiresAt string `json:"expires_at,omitempty"` // acquire only
	Hash      string `json:"hash"`
}

// Lease ledger op values.
const (
	LeaseAcquire = "acquire"
	LeaseRelease = "release"
)

// ConflictOp is an open or resolve line in the conflict ledger.
type ConflictOp struct {
	Schema       string   `json:"schema"`
	ConflictID   string   `json:"conflict_id"`
	Op           string   `json:"op"` // "open" | "resolve"
	Scope        string   `json:"scope"`
	DecisionKey  string   `json:"decision_key"`
	ObjectIDs    []string `json:"object_ids,omitempty"`    // holder, open only
	Summaries    []string `json:"summaries,omitempty"`     // holder then challenger, open only
	SourceEvents []string `json:"source_events,omitempty"` // challenger event ids, open only
	ResolvedBy   string   `json:"resolved_by,omitempty"`
	TS           string   `json:"ts"`
	Hash         string   `json:"hash"`
}

// Conflict ledger op values.
const (
	ConflictOpen    = "open"
	ConflictResolve = "resolve"
)

// FindingOp is an open or close line in a governance findings ledger.
type FindingOp struct {
	Schema    string         `json:"schema"`
	FindingID string         `json:"finding_id"`
	Op        string         `json:"op"` // "open" | "close"
	RuleID    string         `json:"rule_id"`
	Severity  string         `json:"severity"` // "high" | "medium" | "low"
	Scope     string         `json:"scope"`
	Project   string         `json:"project,omitempty"`
	Summary   string         `json:"summary"`
	Details   map[string]any `json:"details,omitempty"`
	TS        string         `json:"ts"`
	Hash      string         `json:"hash"`
}

// Finding ledger op values.
const (
	FindingOpen  = "open"
	FindingClose = "close"
)

// InstanceOp is a lifecycle line in the instance registry.
type InstanceOp struct {
	Schema     string `json:"schema"`
	InstanceID string `json:"instance_id"`
	Event      string `json:"event"` // "started" | "heartbeat" | "stopped"
	Scope      string `json:"scope"`
	Project    string `json:"project,omitempty"`
	PID        int    `json:"pid"`
	Host       string `json:"host"`
	TS         string `json:"ts"`
	Hash       string `json:"hash"`
}

// Instance registry event values.
const (
	InstanceStarted   = "started"
	InstanceHeartbeat = "heartbeat"
	InstanceStopped   = "stopped"
)

// CursorOp records the last position an instance fully reduced.
type CursorOp struct {
	Schema     string `json:"schema"`
	InstanceID string `json:"instance_id"`
	Zone       string `json:"zone"`     // "bus" | "stream"
	Position   string `json:"position"` // "<shard date>:<line count>"
	TS         string `json:"ts"`
	Hash       string `json:"hash"`
}

// AuditRow is one reducer audit line: a bus event converged into an object.
type AuditRow struct {
	Schema   string     `json:"schema"`
	EventID  string     `json:"event_id"`
	ObjectID string     `json:"object_id"`
	Scope    string     `json:"scope"`
	Type     ObjectType `json:"type"`
	TS       string     `json:"ts"`
	Hash     string     `json:"hash"`
}

// HealthMetrics is the metric snapshot a diagnose pass scores.
type HealthMetrics struct {
	StaleInstances        int `json:"stale_instances"`
	OpenConflicts         int `json:"open_conflicts"`
	StaleLeases           int `json:"stale_leases"`
	ReduceLag             int `json:"reduce_lag"`
	MissingAttach         int `json:"missing_attach"`
	DuplicateDecisionKeys int `json:"duplicate_decision_keys"`
	FreshnessPenalty      int `json:"freshness_penalty"` // 0, 5 or 10
}

// Scorecard is one persisted diagnose result.
type Scorecard struct {
	Schema  string        `json:"schema"`
	Scope   string        `json:"scope,omitempty"`
	Project string        `json:"project,omitempty"`
	Metrics HealthMetrics `json:"metrics"`
	Score   int           `json:"score"` // clamped to [0,100]
	Band    string        `json:"band"`  // "green" | "yellow" | "red"
	TS      string        `json:"ts"`
	Hash    string        `json:"hash"`
}

// Health bands.
const (
	BandGreen  = "green"
	BandYellow = "yellow"
	BandRed    = "red"
)

// TrendRow is the one-line-per-diagnose history behind score trends.
type TrendRow struct {
	Schema       string `json:"schema"`
	Score        int    `json:"score"`
	Band         string `json:"band"`
	OpenFindings int    `json:"open_findings"`
	TS           string `json:"ts"`
	Hash         string `json:"hash"`
}

// PlannedAction is one entry of an optimization plan. Safe actions may
// be executed; unsafe ones are reported for an operator.
type PlannedAction struct {
	FindingID string `json:"finding_id,omitempty"`
	RuleID    string `json:"rule_id,omitempty"`
	Action    string `json:"action"`
	Safe      bool   `json:"safe"`
	Reason    string `json:"reason"`
}

// PlanRow is one persisted optimization plan.
type PlanRow struct {
	Schema  string          `json:"schema"`
	PlanID  string          `json:"plan_id"`
	Actions []PlannedAction `json:"actions"`
	TS      string          `json:"ts"`
	Hash    string          `json:"hash"`
}

// ExecutionRow records one executed optimization action and its outcome.
type ExecutionRow struct {
	Schema      string `json:"schema"`
	ExecutionID string `json:"execution_id"`
	PlanID      string `json:"plan_id"`
	Action      string `json:"action"`
	FindingID   string `json:"finding_id,omitempty"`
	Status      string `json:"status"` // "done" | "failed"
	Details     string `json:"details,omitempty"`
	TS          string `json:"ts"`
	Hash        string `json:"hash"`
}

// Execution status values.
const (
	ExecutionDone   = "done"
	ExecutionFailed = "failed"
)

// AgendaItem is the payload of an agenda ledger op.
type AgendaItem struct {
	ID           string   `json:"id"`
	Summary      string   `json:"summary"`
	Priority     Priority `json:"priority"`
	DueDate      string   `json:"due_date,omitempty"`
	SourceObject string   `json:"source_object,omitempty"`
	Status       string   `json:"status"` // "open" | "closed"
}

// AgendaOp is one add/close/update line in a project agenda ledger.
type AgendaOp struct {
	Schema string     `json:"schema"`
	Op     string     `json:"op"` // "add" | "close" | "update"
	Item   AgendaItem `json:"item"`
	TS     string     `json:"ts"`
	Hash   string     `json:"hash"`
}

// Agenda ledger op values.
const (
	AgendaAdd    = "add"
	AgendaClose  = "close"
	AgendaUpdate = "update"
)

// Agenda item status values.
const (
	AgendaOpen   = "open"
	AgendaClosed = "closed"
)

package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/governance"
	"github.com/diasync/diasync/internal/instance"
	"github.com/diasync/diasync/internal/lease"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/reduce"
	"github.com/diasync/diasync/internal/shard"
	"github.com/diasync/diasync/internal/stream"
	"github.com/diasync/diasync/internal/testutil"
	"github.com/diasync/diasync/internal/views"
)

// StepOutcome records how one flow step went. Fault is the fault kind
// when the step was refused as declared, empty on success.
type StepOutcome struct {
	Op    string `json:"op"`
	Fault string `json:"fault,omitempty"`
}

// Result is the outcome of running a scenario: per-step outcomes plus
// the assertion failures, if any. Pass is true when every step behaved
// as declared and every assertion held.
type Result struct {
	Scenario string        `json:"scenario"`
	Steps    []StepOutcome `json:"steps"`
	Failures []string      `json:"failures,omitempty"`
}

// Pass reports whether the run was clean.
func (r *Result) Pass() bool { return len(r.Failures) == 0 }

// runner threads the deterministic clock and id source through a
// scenario's steps.
type runner struct {
	st    *shard.Store
	clock *testutil.WallClock
	ids   *testutil.SequencedIDs
	scope string
}

// Run executes the scenario's flow against st and evaluates its
// assertions. The store should be freshly laid out; Run never resets
// it. An error means the harness itself could not proceed (unreadable
// store, undeclared step failure); assertion misses are reported in
// Result.Failures, not as errors.
func Run(st *shard.Store, sc *Scenario) (*Result, error) {
	r := &runner{
		st:    st,
		clock: testutil.NewWallClock(sc.clockStart(), sc.clockStep()),
		ids:   testutil.NewSequencedIDs(),
		scope: sc.Scope,
	}

	res := &Result{Scenario: sc.Name}
	for i, step := range sc.Flow {
		err := r.execute(step)
		outcome := StepOutcome{Op: step.Op}
		switch {
		case err == nil && step.Fail != "":
			return nil, fmt.Errorf("flow[%d] %s: expected %s fault, step succeeded", i, step.Op, step.Fail)
		case err != nil && step.Fail == "":
			return nil, fmt.Errorf("flow[%d] %s: %w", i, step.Op, err)
		case err != nil:
			kind := string(fault.KindOf(err))
			if kind != step.Fail {
				return nil, fmt.Errorf("flow[%d] %s: expected %s fault, got %s: %w", i, step.Op, step.Fail, kind, err)
			}
			outcome.Fault = kind
		}
		res.Steps = append(res.Steps, outcome)
	}

	failures, err := evaluate(r, sc.Assertions)
	if err != nil {
		return nil, err
	}
	res.Failures = failures
	return res, nil
}

// execute dispatches one step. Every store op runs at the clock's next
// tick so event ordering follows flow ordering.
func (r *runner) execute(step Step) error {
	a := args(step.Args)

	if step.Op == "tick" {
		r.clock.Reset(r.clock.Peek().Add(a.duration("seconds")))
		return nil
	}

	now := r.clock.Next()
	switch step.Op {
	case "sync.start":
		_, err := instance.Start(r.st, instance.StartOptions{
			Instance: a.str("instance"),
			Scope:    r.scopeOf(a),
			Project:  a.str("project"),
			RunID:    a.str("run_id"),
			Now:      now,
			IDs:      r.ids,
		})
		return err
	case "sync.heartbeat":
		_, err := instance.Heartbeat(r.st, a.str("instance"), r.scopeOf(a), now, false)
		return err
	case "sync.stop":
		_, err := instance.Stop(r.st, instance.StopOptions{
			Instance: a.str("instance"),
			Scope:    r.scopeOf(a),
			Now:      now,
			IDs:      r.ids,
		})
		return err
	case "capture":
		_, err := stream.Capture(r.st, stream.CaptureOptions{
			Entry:    r.entry(a),
			Scope:    r.scopeOf(a),
			Instance: a.str("instance"),
			RunID:    a.str("run_id"),
			Now:      now,
			IDs:      r.ids,
		})
		return err
	case "publish":
		_, err := stream.Publish(r.st, stream.PublishOptions{
			Entry:    r.entry(a),
			Scope:    r.scopeOf(a),
			Instance: a.str("instance"),
			RunID:    a.str("run_id"),
			Now:      now,
			IDs:      r.ids,
		})
		return err
	case "distill":
		_, err := stream.Distill(r.st, stream.DistillOptions{
			Scope:    r.scopeOf(a),
			Instance: a.str("instance"),
			Limit:    a.num("limit"),
			Now:      now,
			IDs:      r.ids,
		})
		return err
	case "reduce":
		_, err := reduce.Run(context.Background(), r.st, reduce.Options{
			Scope:    r.scopeOf(a),
			Instance: a.str("instance"),
			Limit:    a.num("limit"),
			Now:      now,
			IDs:      r.ids,
		})
		return err
	case "lease.acquire":
		_, err := lease.Acquire(r.st, lease.AcquireOptions{
			Scope: r.scopeOf(a),
			Key:   a.str("key"),
			Owner: a.str("owner"),
			TTL:   a.duration("ttl"),
			Now:   now,
			IDs:   r.ids,
		})
		return err
	case "lease.release":
		_, err := lease.Release(r.st, lease.ReleaseOptions{
			Scope: r.scopeOf(a),
			Key:   a.str("key"),
			Owner: a.str("owner"),
			Now:   now,
		})
		return err
	case "reconcile":
		_, err := views.Reconcile(context.Background(), r.st, views.ReconcileOptions{
			ObjectID:        a.str("object"),
			Summary:         a.str("summary"),
			DecisionKey:     a.str("decision_key"),
			ResolveConflict: a.str("resolve_conflict"),
			WithLease:       a.boolean("with_lease"),
			Instance:        a.str("instance"),
			Now:             now,
			IDs:             r.ids,
		})
		return err
	case "diagnose":
		_, err := governance.Diagnose(r.st, governance.DiagnoseOptions{
			StaleAfter: a.duration("stale_seconds"),
			Scope:      a.str("scope"),
			Project:    a.str("project"),
			Now:        now,
			IDs:        r.ids,
		})
		return err
	}
	return fmt.Errorf("unknown op %q", step.Op)
}

// scopeOf resolves a step's scope, falling back to the scenario
// default.
func (r *runner) scopeOf(a args) string {
	if s := a.str("scope"); s != "" {
		return s
	}
	return r.scope
}

// entry builds the knowledge payload shared by capture and publish.
func (r *runner) entry(a args) stream.Entry {
	e := stream.Entry{
		Summary:     a.str("summary"),
		Type:        record.ObjectType(a.str("type")),
		Horizon:     record.Horizon(a.str("horizon")),
		Salience:    record.Salience(a.str("salience")),
		Tags:        a.list("tags"),
		DecisionKey: a.str("decision_key"),
		DueDate:     a.str("due"),
		Evidence:    a.str("evidence"),
		Rationale:   a.str("rationale"),
	}
	if v, ok := a["confidence"]; ok {
		c := toFloat(v)
		e.Confidence = &c
	}
	return e
}

// args wraps a step's argument map with tolerant typed accessors; YAML
// hands back a mix of string, int and float for scalars.
type args map[string]any

func (a args) str(key string) string {
	v, ok := a[key]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func (a args) num(key string) int {
	v, ok := a[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func (a args) duration(key string) time.Duration {
	return time.Duration(a.num(key)) * time.Second
}

func (a args) boolean(key string) bool {
	v, ok := a[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func (a args) list(key string) []string {
	v, ok := a[key]
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, fmt.Sprintf("%v", item))
	}
	return out
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

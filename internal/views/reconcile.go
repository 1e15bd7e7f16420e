package views

import (
	"context"
	"log/slog"
	"time"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/lease"
	"github.com/diasync/diasync/internal/project"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
)

// ReconcileOptions parameterizes superseding one view object with a
// revised successor. Zero-value fields inherit from the target; Tags and
// Assumptions replace the target's lists only when non-nil.
type ReconcileOptions struct {
	ObjectID string // target to supersede
	Summary  string // required: the revised statement

	Horizon     record.Horizon
	Salience    record.Salience
	Confidence  *float64
	Tags        []string
	Assumptions []string
	DecisionKey string
	ReviewAfter string // YYYY-MM-DD
	Evidence    string
	Rationale   string

	// ResolveConflict names an open conflict to close alongside the
	// supersede. It must be about the same scope and decision key.
	ResolveConflict string

	// WithLease requires the caller to hold the live lease on the
	// target's (scope, decision key) before the supersede is accepted.
	WithLease bool

	Instance string
	RunID    string
	DryRun   bool

	Now time.Time
	IDs record.IDSource
	LC  int64
}

// ReconcileResult reports the supersede: the successor object, the bus
// event announcing it, and the conflict closed on the way (if any).
type ReconcileResult struct {
	Object   record.Object `json:"object"`
	Event    record.Event  `json:"event"`
	Path     string        `json:"path"`
	Resolved string        `json:"resolved_conflict,omitempty"`
	DryRun   bool          `json:"dry_run"`
}

// Reconcile supersedes the target object with a revised successor.
//
// The target is never altered: the successor is appended with
// supersedes pointing back, and the fold in ActiveObjects retires the
// target from every future read. A memory.reconciled event on the bus
// announces the supersede to other instances.
//
// Contested decisions follow the lease convention: the caller acquires
// the lease on (scope, decision key) first and passes WithLease so the
// supersede is refused unless that lease is still held.
func Reconcile(ctx context.Context, st *shard.Store, opts ReconcileOptions) (*ReconcileResult, error) {
	const op = "views.reconcile"
	if opts.ObjectID == "" {
		return nil, fault.Validationf(op, "object id must not be empty")
	}
	if record.NormalizeSummary(opts.Summary) == "" {
		return nil, fault.Validationf(op, "summary must not be empty")
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	instance := record.Slugify(opts.Instance)
	if instance == "" {
		instance = record.UnknownInstance
	}
	ids := opts.IDs
	if ids == nil {
		ids = record.UUIDSource{}
	}

	target, err := FindObject(ctx, st, opts.ObjectID)
	if err != nil {
		return nil, err
	}

	decisionKey := opts.DecisionKey
	if decisionKey == "" {
		decisionKey = target.DecisionKey
	}

	if opts.WithLease {
		if opts.Instance == "" {
			return nil, fault.Validationf(op, "with-lease requires an instance id")
		}
		leaseKey := decisionKey
		if leaseKey == "" {
			leaseKey = target.ObjectID
		}
		held, err := lease.Holder(st, target.Scope, leaseKey, now)
		if err != nil {
			return nil, err
		}
		if held == nil || held.Owner != instance {
			return nil, fault.Deniedf(op, leaseKey,
				"reconcile of %s requires the lease on %s/%s", target.ObjectID, target.Scope, leaseKey)
		}
	}

	var conflict *record.ConflictOp
	if opts.ResolveConflict != "" {
		cnf, seen, err := ConflictByID(st, opts.ResolveConflict)
		if err != nil {
			return nil, err
		}
		if cnf == nil {
			if seen {
				return nil, fault.Conflictf(op, opts.ResolveConflict, "conflict already resolved")
			}
			return nil, fault.NotFoundf(op, opts.ResolveConflict, "unknown conflict id")
		}
		if cnf.Scope != target.Scope || cnf.DecisionKey != decisionKey {
			return nil, fault.Validationf(op,
				"conflict %s is about %s/%s, not %s/%s",
				cnf.ConflictID, cnf.Scope, cnf.DecisionKey, target.Scope, decisionKey)
		}
		conflict = cnf
	}

	// The successor id is minted first so the announcing event can name
	// it, and the successor in turn lists the event among its sources.
	successorID := ids.NewID(record.ObjectKind(target.Type), now)

	payload := map[string]any{
		"object_id":  successorID,
		"supersedes": target.ObjectID,
	}
	if conflict != nil {
		payload["conflict_id"] = conflict.ConflictID
	}
	ev, err := record.BuildEvent(record.EventParams{
		Type:       record.EventReconciled,
		Scope:      target.Scope,
		InstanceID: instance,
		RunID:      opts.RunID,
		Project:    target.Project,
		Visibility: record.VisibilityProject,
		LC:         opts.LC,
		CausalRefs: []string{target.ObjectID},
		Payload:    payload,
		Now:        now,
		IDs:        ids,
	})
	if err != nil {
		return nil, err
	}

	obj, err := record.BuildObject(record.ObjectParams{
		ObjectID:     successorID,
		Type:         target.Type,
		Scope:        target.Scope,
		Summary:      opts.Summary,
		Status:       record.StatusActive,
		Horizon:      inheritHorizon(opts.Horizon, target.Horizon),
		Salience:     inheritSalience(opts.Salience, target.Salience),
		Confidence:   inheritConfidence(opts.Confidence, target.Confidence),
		Tags:         inheritStrings(opts.Tags, target.Tags),
		SourceEvents: append(append([]string{}, target.SourceEvents...), ev.EventID),
		Visibility:   target.Visibility,
		Owner:        target.Owner,
		Project:      target.Project,
		DecisionKey:  decisionKey,
		Supersedes:   target.ObjectID,
		ReviewAfter:  inheritString(opts.ReviewAfter, target.ReviewAfter),
		DueDate:      target.DueDate,
		Evidence:     inheritString(opts.Evidence, target.Evidence),
		Rationale:    inheritString(opts.Rationale, target.Rationale),
		Assumptions:  inheritStrings(opts.Assumptions, target.Assumptions),
		Now:          now,
		IDs:          ids,
	})
	if err != nil {
		return nil, err
	}

	res := &ReconcileResult{
		Object: obj,
		Event:  ev,
		Path:   st.ViewPath(target.Type, target.Scope, now),
		DryRun: opts.DryRun,
	}
	if conflict != nil {
		res.Resolved = conflict.ConflictID
	}
	if opts.DryRun {
		return res, nil
	}

	if _, err := st.EnsureLayout(); err != nil {
		return nil, err
	}
	if err := st.AppendRecord(res.Path, obj); err != nil {
		return nil, err
	}
	if err := st.AppendRecord(st.BusPath(target.Scope, now), ev); err != nil {
		return nil, err
	}
	if conflict != nil {
		if _, err := ResolveConflict(st, conflict.ConflictID, instance, now); err != nil {
			return nil, err
		}
	}
	if obj.Type == record.ObjectCommitment && obj.Project != "" {
		_, err := project.AgendaAdd(st, project.AgendaAddOptions{
			Project:      obj.Project,
			Summary:      obj.Summary,
			Priority:     record.PriorityHigh,
			DueDate:      obj.DueDate,
			SourceObject: obj.ObjectID,
			Now:          now,
			IDs:          ids,
		})
		if err != nil {
			slog.Warn("agenda mirror failed", "project", obj.Project, "object", obj.ObjectID, "err", err)
		}
	}

	slog.Info("reconciled",
		"scope", target.Scope,
		"supersedes", target.ObjectID,
		"successor", obj.ObjectID,
		"conflict", res.Resolved,
	)
	return res, nil
}

func inheritHorizon(override, base record.Horizon) record.Horizon {
	if override != "" {
		return override
	}
	return base
}

func inheritSalience(override, base record.Salience) record.Salience {
	if override != "" {
		return override
	}
	return base
}

func inheritConfidence(override *float64, base float64) float64 {
	if override != nil {
		return *override
	}
	return base
}

func inheritString(override, base string) string {
	if override != "" {
		return override
	}
	return base
}

func inheritStrings(override, base []string) []string {
	if override != nil {
		return override
	}
	return base
}

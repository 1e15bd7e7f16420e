// Package lease serializes contention on named keys without a
// coordinator.
//
// A lease is a convention, not an enforcement: ownership is whatever a
// fold of the append-only ledger says it is at a given wall-clock
// instant. Acquire decides by reading, then appends; two racing writers
// can both append, and the fold makes the earlier appended acquire win
// until it expires or is released. Nothing blocks. A denied acquire is
// retryable and carries the current holder.
//
// Expiry is passive. An expired lease simply stops holding; the release
// row that tidies the ledger comes later, from the owner's instance
// stop or from a governance cleanup action.
package lease

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
)

// DefaultTTL bounds ownership when the caller names no duration.
const DefaultTTL = 900 * time.Second

// AcquireOptions parameterizes a lease acquire on (scope, key).
type AcquireOptions struct {
	Scope  string
	Key    string
	Owner  string // instance id
	TTL    time.Duration
	DryRun bool

	Now time.Time
	IDs record.IDSource
}

// ReleaseOptions parameterizes a lease release on (scope, key).
type ReleaseOptions struct {
	Scope  string
	Key    string
	Owner  string
	DryRun bool

	Now time.Time
}

// Result reports the ledger row appended (or simulated). Renewed marks
// an acquire that replaced the caller's own live lease.
type Result struct {
	Lease   record.LeaseOp `json:"lease"`
	Renewed bool           `json:"renewed,omitempty"`
	DryRun  bool           `json:"dry_run"`
}

// Acquire takes or renews the lease on (scope, key) for owner.
//
// A live lease held by someone else denies the acquire without blocking:
// the error is retryable contention, carrying the holder and expiry.
// The caller's own live lease renews idempotently with a fresh expiry.
func Acquire(st *shard.Store, opts AcquireOptions) (*Result, error) {
	const op = "lease.acquire"
	if err := checkLeaseArgs(op, opts.Scope, opts.Key, opts.Owner); err != nil {
		return nil, err
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ids := opts.IDs
	if ids == nil {
		ids = record.UUIDSource{}
	}
	owner := record.Slugify(opts.Owner)

	held, err := holder(st, opts.Scope, opts.Key, now)
	if err != nil {
		return nil, err
	}
	renewed := false
	if held != nil {
		if held.Owner != owner {
			return nil, fault.Deniedf(op, opts.Key,
				"lease on %s/%s is held by %s until %s", opts.Scope, opts.Key, held.Owner, held.ExpiresAt)
		}
		renewed = true
	}

	row := record.LeaseOp{
		Schema:    record.SchemaLease,
		LeaseID:   ids.NewID(record.KindLease, now),
		Op:        record.LeaseAcquire,
		Scope:     opts.Scope,
		Key:       opts.Key,
		Owner:     owner,
		TS:        record.FormatTS(now),
		ExpiresAt: record.FormatTS(now.Add(ttl)),
	}
	hash, err := record.LedgerHash(row)
	if err != nil {
		return nil, fault.Validationf(op, "compute hash: %v", err)
	}
	row.Hash = hash

	if !opts.DryRun {
		if _, err := st.EnsureLayout(); err != nil {
			return nil, err
		}
		if err := st.AppendRecord(st.LeasesPath(), row); err != nil {
			return nil, err
		}
	}
	return &Result{Lease: row, Renewed: renewed, DryRun: opts.DryRun}, nil
}

// Release gives up the lease on (scope, key). Only the live holder may
// release: an expired or absent lease is not-found, someone else's is a
// denied error. Nothing is ever retracted; the release is one more row.
func Release(st *shard.Store, opts ReleaseOptions) (*Result, error) {
	const op = "lease.release"
	if err := checkLeaseArgs(op, opts.Scope, opts.Key, opts.Owner); err != nil {
		return nil, err
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	owner := record.Slugify(opts.Owner)

	held, err := holder(st, opts.Scope, opts.Key, now)
	if err != nil {
		return nil, err
	}
	if held == nil {
		return nil, fault.NotFoundf(op, opts.Key, "no live lease on %s/%s", opts.Scope, opts.Key)
	}
	if held.Owner != owner {
		return nil, fault.Deniedf(op, opts.Key,
			"lease on %s/%s is held by %s, not %s", opts.Scope, opts.Key, held.Owner, owner)
	}

	row, err := releaseRow(*held, now)
	if err != nil {
		return nil, fault.Validationf(op, "compute hash: %v", err)
	}
	if !opts.DryRun {
		if err := st.AppendRecord(st.LeasesPath(), row); err != nil {
			return nil, err
		}
	}
	return &Result{Lease: row, DryRun: opts.DryRun}, nil
}

// Holder returns the live lease on (scope, key) at now, or nil.
func Holder(st *shard.Store, scope, key string, now time.Time) (*record.LeaseOp, error) {
	return holder(st, scope, key, now)
}

// Active lists live leases at now, ordered by (scope, key).
func Active(st *shard.Store, now time.Time) ([]record.LeaseOp, error) {
	current, err := fold(st)
	if err != nil {
		return nil, err
	}
	out := []record.LeaseOp{}
	for _, l := range current {
		if !expired(l, now) {
			out = append(out, l)
		}
	}
	sortLeases(out)
	return out, nil
}

// StaleUnreleased lists leases that expired without a release row.
// These are harmless for mutual exclusion (expiry already ended them)
// but they are ledger debt; governance's lease.cleanup action appends
// their releases.
func StaleUnreleased(st *shard.Store, now time.Time) ([]record.LeaseOp, error) {
	current, err := fold(st)
	if err != nil {
		return nil, err
	}
	out := []record.LeaseOp{}
	for _, l := range current {
		if expired(l, now) {
			out = append(out, l)
		}
	}
	sortLeases(out)
	return out, nil
}

// Owned lists the unreleased leases held by owner, live or stale,
// ordered by (scope, key). This is exactly the set ReleaseAllOwned
// would append releases for.
func Owned(st *shard.Store, owner string) ([]record.LeaseOp, error) {
	current, err := fold(st)
	if err != nil {
		return nil, err
	}
	slug := record.Slugify(owner)
	held := []record.LeaseOp{}
	for _, l := range current {
		if l.Owner == slug {
			held = append(held, l)
		}
	}
	sortLeases(held)
	return held, nil
}

// ReleaseAllOwned appends releases for every unreleased lease owned by
// owner, live or stale. Instance stop calls this so a clean shutdown
// leaves no ledger debt behind.
func ReleaseAllOwned(st *shard.Store, owner string, now time.Time) ([]record.LeaseOp, error) {
	const op = "lease.release-all"
	held, err := Owned(st, owner)
	if err != nil {
		return nil, err
	}

	released := []record.LeaseOp{}
	for _, l := range held {
		row, err := releaseRow(l, now)
		if err != nil {
			return released, fault.Validationf(op, "compute hash: %v", err)
		}
		if err := st.AppendRecord(st.LeasesPath(), row); err != nil {
			return released, err
		}
		released = append(released, row)
	}
	return released, nil
}

// CleanupStale appends a release row for every lease that expired
// without one. This is the governance corrective action; nothing else
// in the system writes a release on an owner's behalf.
func CleanupStale(st *shard.Store, now time.Time) ([]record.LeaseOp, error) {
	const op = "lease.cleanup"
	stale, err := StaleUnreleased(st, now)
	if err != nil {
		return nil, err
	}
	released := []record.LeaseOp{}
	for _, l := range stale {
		row, err := releaseRow(l, now)
		if err != nil {
			return released, fault.Validationf(op, "compute hash: %v", err)
		}
		if err := st.AppendRecord(st.LeasesPath(), row); err != nil {
			return released, err
		}
		released = append(released, row)
	}
	return released, nil
}

// fold replays the ledger into the unreleased lease per (scope, key):
// acquire replaces, release removes. Expiry is not applied here; callers
// decide liveness against their own now.
func fold(st *shard.Store) (map[string]record.LeaseOp, error) {
	current := map[string]record.LeaseOp{}
	_, err := st.ReadLines(st.LeasesPath(), func(l shard.Line) error {
		var row record.LeaseOp
		if json.Unmarshal(l.Raw, &row) != nil || row.Scope == "" || row.Key == "" {
			return nil
		}
		token := row.Scope + "\x00" + row.Key
		switch row.Op {
		case record.LeaseAcquire:
			current[token] = row
		case record.LeaseRelease:
			delete(current, token)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return current, nil
}

func holder(st *shard.Store, scope, key string, now time.Time) (*record.LeaseOp, error) {
	current, err := fold(st)
	if err != nil {
		return nil, err
	}
	l, ok := current[scope+"\x00"+key]
	if !ok || expired(l, now) {
		return nil, nil
	}
	return &l, nil
}

// expired reports whether a lease's expiry is at or before now.
// An unparseable expiry counts as expired; a malformed lease must not
// hold a key forever.
func expired(l record.LeaseOp, now time.Time) bool {
	exp, err := record.ParseTS(l.ExpiresAt)
	if err != nil {
		return true
	}
	return !exp.After(now)
}

func releaseRow(held record.LeaseOp, now time.Time) (record.LeaseOp, error) {
	row := record.LeaseOp{
		Schema:  record.SchemaLease,
		LeaseID: held.LeaseID,
		Op:      record.LeaseRelease,
		Scope:   held.Scope,
		Key:     held.Key,
		Owner:   held.Owner,
		TS:      record.FormatTS(now),
	}
	hash, err := record.LedgerHash(row)
	if err != nil {
		return record.LeaseOp{}, err
	}
	row.Hash = hash
	return row, nil
}

func checkLeaseArgs(op, scope, key, owner string) error {
	if scope == "" {
		return fault.Validationf(op, "scope must not be empty")
	}
	if key == "" {
		return fault.Validationf(op, "key must not be empty")
	}
	if owner == "" {
		return fault.Validationf(op, "owner must not be empty")
	}
	return nil
}

func sortLeases(ls []record.LeaseOp) {
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].Scope != ls[j].Scope {
			return ls[i].Scope < ls[j].Scope
		}
		return ls[i].Key < ls[j].Key
	})
}

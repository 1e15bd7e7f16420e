package record

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the record family encoded in an identifier prefix.
// Provenance is recoverable from the id alone.
type Kind string

const (
	KindEvent      Kind = "event"
	KindRun        Kind = "run"
	KindInstance   Kind = "instance"
	KindFact       Kind = "fact"
	KindDecision   Kind = "decision"
	KindCommitment Kind = "commitment"
	KindAgenda     Kind = "agenda"
	KindConflict   Kind = "conflict"
	KindFinding    Kind = "finding"
	KindPlan       Kind = "plan"
	KindExecution  Kind = "execution"
	KindLease      Kind = "lease"
)

// idPrefixes maps kinds to their id prefixes. Only prefixes listed here
// are accepted by KindOfID.
var idPrefixes = map[Kind]string{
	KindEvent:      "evt",
	KindRun:        "run",
	KindInstance:   "ins",
	KindFact:       "fac",
	KindDecision:   "dec",
	KindCommitment: "com",
	KindAgenda:     "agd",
	KindConflict:   "cnf",
	KindFinding:    "fdg",
	KindPlan:       "pln",
	KindExecution:  "exe",
	KindLease:      "les",
}

// prefixKinds is the reverse of idPrefixes.
var prefixKinds = func() map[string]Kind {
	m := make(map[string]Kind, len(idPrefixes))
	for k, p := range idPrefixes {
		m[p] = k
	}
	return m
}()

// IDSource generates record identifiers. Implemented by UUIDSource
// (production) and testutil.SequencedIDs (tests).
type IDSource interface {
	NewID(kind Kind, now time.Time) string
}

// UUIDSource generates ids with a UUIDv4-derived suffix.
type UUIDSource struct{}

// NewID returns "<prefix>-<YYYYMMDDHHMMSS>-<8 hex>" for the kind.
// The timestamp component makes ids sort roughly by creation time;
// the random suffix makes collisions across instances negligible.
func (UUIDSource) NewID(kind Kind, now time.Time) string {
	prefix, ok := idPrefixes[kind]
	if !ok {
		panic(fmt.Sprintf("record: unknown id kind %q", kind))
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102150405"), suffix)
}

// NewID generates an id for kind using the default UUID source.
func NewID(kind Kind, now time.Time) string {
	return UUIDSource{}.NewID(kind, now)
}

// IDPrefix returns the id prefix for kind. Panics on unknown kinds,
// mirroring NewID.
func IDPrefix(kind Kind) string {
	prefix, ok := idPrefixes[kind]
	if !ok {
		panic(fmt.Sprintf("record: unknown id kind %q", kind))
	}
	return prefix
}

// ObjectKind maps a view object type to its id kind.
func ObjectKind(t ObjectType) Kind {
	switch t {
	case ObjectFact:
		return KindFact
	case ObjectDecision:
		return KindDecision
	case ObjectCommitment:
		return KindCommitment
	default:
		panic(fmt.Sprintf("record: unknown object type %q", t))
	}
}

// KindOfID recovers the record kind from an identifier.
// Returns an error for malformed ids or unknown prefixes.
func KindOfID(id string) (Kind, error) {
	prefix, rest, ok := strings.Cut(id, "-")
	if !ok || rest == "" {
		return "", fmt.Errorf("malformed id %q: want <prefix>-<stamp>-<suffix>", id)
	}
	kind, ok := prefixKinds[prefix]
	if !ok {
		return "", fmt.Errorf("unknown id prefix %q in %q", prefix, id)
	}
	return kind, nil
}

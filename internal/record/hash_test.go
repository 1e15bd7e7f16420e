package record

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestEvent(t *testing.T) Event {
	t.Helper()
	ev, err := BuildEvent(EventParams{
		Type:       EventPublished,
		Scope:      "project:demo",
		InstanceID: "ins-a",
		Visibility: VisibilityProject,
		Payload:    map[string]any{"summary": "adopt jsonl shards"},
		Now:        buildNow,
	})
	require.NoError(t, err)
	return ev
}

func TestVerifyLine_DetectsTamper(t *testing.T) {
	ev := buildTestEvent(t)
	fields, err := DecodeFields(ev)
	require.NoError(t, err)

	ok, err := VerifyLine(fields)
	require.NoError(t, err)
	assert.True(t, ok)

	// Flip one payload byte; the stored hash no longer matches.
	fields["payload"].(map[string]any)["summary"] = "adopt sqlite shards"
	ok, err = VerifyLine(fields)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyLine_SelectsDomainBySchema(t *testing.T) {
	ev := buildTestEvent(t)
	fields, err := DecodeFields(ev)
	require.NoError(t, err)

	// The same bytes under the wrong domain never verify.
	fields["schema"] = SchemaObject
	ok, err := VerifyLine(fields)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyLine_MissingHashErrors(t *testing.T) {
	_, err := VerifyLine(map[string]any{"schema": SchemaEvent})
	require.Error(t, err)
}

func TestLedgerHash_RoundTrip(t *testing.T) {
	row := LeaseOp{
		Schema:    SchemaLease,
		LeaseID:   "les-20260301090000-00000001",
		Op:        LeaseAcquire,
		Scope:     "project:demo",
		Key:       "decision:storage-engine",
		Owner:     "ins-a",
		TS:        FormatTS(buildNow),
		ExpiresAt: FormatTS(buildNow.Add(15 * time.Minute)),
	}
	hash, err := LedgerHash(row)
	require.NoError(t, err)
	row.Hash = hash

	fields, err := DecodeFields(row)
	require.NoError(t, err)
	ok, err := VerifyLine(fields)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHashRecord_ExcludedFieldsIrrelevant(t *testing.T) {
	ev := buildTestEvent(t)

	withID, err := HashRecord(DomainEvent, ev, "idempotency_key", "hash", "event_id")
	require.NoError(t, err)

	ev.EventID = "evt-20991231235959-deadbeef"
	ev.Hash = ""
	withOtherID, err := HashRecord(DomainEvent, ev, "idempotency_key", "hash", "event_id")
	require.NoError(t, err)

	assert.Equal(t, withID, withOtherID)
}

func TestIsHash(t *testing.T) {
	ev := buildTestEvent(t)
	assert.True(t, IsHash(ev.Hash))
	assert.False(t, IsHash("sha256:short"))
	assert.False(t, IsHash(strings.Repeat("a", 71)))
	assert.False(t, IsHash("sha256:"+strings.Repeat("z", 64))) // not hex
	assert.False(t, IsHash(""))
}

func TestKindOfID(t *testing.T) {
	ev := buildTestEvent(t)
	kind, err := KindOfID(ev.EventID)
	require.NoError(t, err)
	assert.Equal(t, KindEvent, kind)

	_, err = KindOfID("zzz-20260301090000-00000001")
	assert.Error(t, err)
}

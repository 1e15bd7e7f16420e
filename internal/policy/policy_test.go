package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/shard"
)

func policyStore(t *testing.T) *shard.Store {
	t.Helper()
	st := shard.Open(t.TempDir())
	_, err := st.EnsureLayout()
	require.NoError(t, err)
	return st
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	st := policyStore(t)

	p, err := Load(st)
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
}

func TestLoad_PartialDocumentOverlaysDefaults(t *testing.T) {
	st := policyStore(t)
	require.NoError(t, st.ReplaceFile(st.PolicyPath(), []byte("lease_ttl_seconds: 120\nreduce_limit: 50\n")))

	p, err := Load(st)
	require.NoError(t, err)
	assert.Equal(t, 120, p.LeaseTTLSeconds)
	assert.Equal(t, 50, p.ReduceLimit)
	// Untouched knobs keep their defaults.
	assert.Equal(t, Default().StaleAfterSeconds, p.StaleAfterSeconds)
	assert.Equal(t, Default().TopDecisions, p.TopDecisions)
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	st := policyStore(t)
	require.NoError(t, st.ReplaceFile(st.PolicyPath(), []byte("lease_tll_seconds: 120\n")))

	_, err := Load(st)
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
	assert.Contains(t, err.Error(), "lease_tll_seconds")
}

func TestLoad_RejectsOutOfRangeValue(t *testing.T) {
	st := policyStore(t)
	require.NoError(t, st.ReplaceFile(st.PolicyPath(), []byte("reduce_limit: -5\n")))

	_, err := Load(st)
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestLoad_RejectsWrongType(t *testing.T) {
	st := policyStore(t)
	require.NoError(t, st.ReplaceFile(st.PolicyPath(), []byte("reduce_limit: many\n")))

	_, err := Load(st)
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestLoad_EmptyDocumentYieldsDefaults(t *testing.T) {
	st := policyStore(t)
	require.NoError(t, st.ReplaceFile(st.PolicyPath(), []byte("# all defaults\n")))

	p, err := Load(st)
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
}

func TestSave_RoundTrips(t *testing.T) {
	st := policyStore(t)
	p := Default()
	p.MaxActions = 9

	require.NoError(t, Save(st, p))

	loaded, err := Load(st)
	require.NoError(t, err)
	assert.Equal(t, p, loaded)

	text, found, err := st.ReadFile(st.PolicyPath())
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, text, "# diasync operational policy")
}

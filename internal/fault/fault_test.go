package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Rendering(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want string
	}{
		{
			"op and key",
			Deniedf("lease.acquire", "project:demo/decision:x", "held by ins-b"),
			"contention-denied: held by ins-b (op=lease.acquire, key=project:demo/decision:x)",
		},
		{
			"op only",
			Validationf("stream.capture", "summary must not be empty"),
			"validation: summary must not be empty (op=stream.capture)",
		},
		{
			"bare",
			&Error{Kind: KindIntegrity, Message: "hash mismatch"},
			"integrity: hash mismatch",
		},
		{
			"wrapped cause",
			&Error{Kind: KindStorageUnavailable, Message: "ledger storage unavailable", Err: errors.New("disk full")},
			"storage-unavailable: ledger storage unavailable: disk full",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}

func TestKindOf_UnclassifiedIsStorage(t *testing.T) {
	assert.Equal(t, KindStorageUnavailable, KindOf(errors.New("unexpected")))
	assert.Equal(t, KindValidation, KindOf(Validationf("op", "bad input")))
}

func TestKindOf_SurvivesWrapping(t *testing.T) {
	inner := NotFoundf("agenda.close", "agd-x", "no such item")
	wrapped := fmt.Errorf("closing item: %w", inner)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsValidation(wrapped))

	var fe *Error
	assert.True(t, errors.As(wrapped, &fe))
	assert.Equal(t, "agd-x", fe.Key)
}

func TestStorage_WrapsCause(t *testing.T) {
	cause := errors.New("permission denied")
	err := Storage("shard.append", "/store/bus/x.jsonl", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "/store/bus/x.jsonl", err.Path)
	assert.True(t, IsKind(err, KindStorageUnavailable))
}

package bridgeerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesSentinelThroughWrapping(t *testing.T) {
	err := fmt.Errorf("failed to finalize withdrawal: %w", New(ErrAlreadyFinalized, "chain %d batch %d index %d", 9, 1, 0))

	require.ErrorIs(t, err, ErrAlreadyFinalized)
	assert.NotErrorIs(t, err, ErrInvalidProof)
	assert.Equal(t, ReasonAlreadyFinalized, ReasonOf(err))
	assert.Equal(t, KindProtocolViolation, KindOf(err))
	assert.Equal(t, "failed to finalize withdrawal: AlreadyFinalized: chain 9 batch 1 index 0", err.Error())
}

func TestRevertReasonSurvivesWrapping(t *testing.T) {
	revert := &RevertError{Reason: "ShB not legacy bridge"}
	err := Wrap(ErrProxyCallReverted, revert)

	reason, ok := RevertReason(fmt.Errorf("call 2: %w", err))
	require.True(t, ok)
	assert.Equal(t, "ShB not legacy bridge", reason)
	assert.Equal(t, "ProxyCallReverted: execution reverted: ShB not legacy bridge", err.Error())
	assert.ErrorIs(t, err, ErrProxyCallReverted)
}

func TestReasonOfUnclassified(t *testing.T) {
	assert.Empty(t, ReasonOf(errors.New("boom")))
	assert.Equal(t, Kind(0), KindOf(nil))
	assert.Equal(t, "UnknownError", Kind(0).String())
	assert.Equal(t, "SequenceBreak", KindSequenceBreak.String())
}

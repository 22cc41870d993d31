package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResultRejectsUnknownKind(t *testing.T) {
	_, err := DecodeResult(ResultEnvelope{Kind: "vote", Payload: json.RawMessage(`{}`)})
	assert.Error(t, err)
}

func TestDecodeContractRequiresWorkflowRef(t *testing.T) {
	_, err := DecodeResult(ResultEnvelope{Kind: KindContract, Payload: json.RawMessage(`{"parties":["a"]}`)})
	assert.Error(t, err)
}

func TestEnvelopeKeepsVariant(t *testing.T) {
	env, err := EncodeResult(HasGap{Missing: []string{"translation"}, Participants: []string{"a1"}})
	require.NoError(t, err)
	assert.Equal(t, KindHasGap, env.Kind)

	r, err := DecodeResult(env)
	require.NoError(t, err)
	gap, ok := r.(HasGap)
	require.True(t, ok)
	assert.Equal(t, []string{"translation"}, gap.Missing)
	assert.True(t, WantsRoundTwo(r))
	assert.Equal(t, []string{"a1"}, RoundTwoParticipants(r))
}

func TestWantsRoundTwo(t *testing.T) {
	assert.False(t, WantsRoundTwo(Plan{}))
	assert.False(t, WantsRoundTwo(Contract{WorkflowRef: "wf"}))
	assert.False(t, WantsRoundTwo(NeedMoreInfo{}))
	assert.True(t, WantsRoundTwo(TriggerP2P{}))
	assert.False(t, WantsRoundTwo(nil))
}

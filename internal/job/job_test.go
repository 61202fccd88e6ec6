package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailflow-go/internal/model"
)

func TestKindQueueNames(t *testing.T) {
	assert.Equal(t, "mailflow_import", KindImport.Queue())
	assert.Equal(t, "mailflow_classify", KindClassify.Queue())
	assert.Equal(t, "mailflow_consolidate", KindConsolidate.Queue())
	assert.Equal(t, "mailflow_voice_learn", KindVoiceLearn.Queue())
	assert.Equal(t, "mailflow_triage", KindTriage.Queue())
	assert.Equal(t, "mailflow_draft", KindDraft.Queue())
}

func TestKindsCoverEveryQueue(t *testing.T) {
	seen := make(map[string]bool)
	for _, k := range Kinds() {
		assert.False(t, seen[k.Queue()], "duplicate queue %s", k.Queue())
		seen[k.Queue()] = true
	}
	assert.Len(t, seen, 6)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload, err := Encode(KindImport, "ws-1", ImportPayload{JobID: "job-9", TotalTarget: 500})
	require.NoError(t, err)

	env, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, KindImport, env.Kind)
	assert.Equal(t, "ws-1", env.WorkspaceID)

	var got ImportPayload
	require.NoError(t, env.DecodeData(&got))
	assert.Equal(t, "job-9", got.JobID)
	assert.Equal(t, 500, got.TotalTarget)
}

func TestDecodeDataConsolidatePayload(t *testing.T) {
	payload, err := Encode(KindConsolidate, "ws-1", ConsolidatePayload{
		JobID:      "run-1",
		Phase:      model.PhaseAdapt,
		ChunkIndex: 3,
	})
	require.NoError(t, err)

	env, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, KindConsolidate, env.Kind)

	var got ConsolidatePayload
	require.NoError(t, env.DecodeData(&got))
	assert.Equal(t, "run-1", got.JobID)
	assert.Equal(t, model.PhaseAdapt, got.Phase)
	assert.Equal(t, 3, got.ChunkIndex)
}

func TestDecodeDataEmptyDataIsNoop(t *testing.T) {
	payload, err := Encode(KindVoiceLearn, "ws-1", VoiceLearnPayload{})
	require.NoError(t, err)

	env, err := Decode(payload)
	require.NoError(t, err)

	var got TriagePayload
	require.NoError(t, env.DecodeData(&got))
	assert.Empty(t, got.MessageID)
}

func TestDecodeRejectsMissingKind(t *testing.T) {
	_, err := Decode([]byte(`{"workspace_id":"ws-1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job_type")
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not json"))
	require.Error(t, err)
}

func TestDecodeDataRejectsMismatchedShape(t *testing.T) {
	env := &Envelope{Kind: KindTriage, Data: []byte(`{"message_id":42}`)}
	var got TriagePayload
	require.Error(t, env.DecodeData(&got))
}

package job

import (
	"encoding/json"
	"fmt"

	"mailflow-go/internal/model"
)

// Kind tags a queue payload with its job type. The dispatcher matches
// kinds exhaustively; an unknown kind is dead-lettered, never ignored.
type Kind string

const (
	KindImport      Kind = "import"
	KindClassify    Kind = "classify"
	KindConsolidate Kind = "consolidate"
	KindVoiceLearn  Kind = "voice_learn"
	KindTriage      Kind = "triage"
	KindDraft       Kind = "draft"
)

// Queue returns the queue name a kind is routed through. One FIFO per
// job type.
func (k Kind) Queue() string {
	return "mailflow_" + string(k)
}

// Kinds lists every job kind the pipeline produces
func Kinds() []Kind {
	return []Kind{KindImport, KindClassify, KindConsolidate, KindVoiceLearn, KindTriage, KindDraft}
}

// Envelope is the wire form of a queue payload. Data's shape depends on
// Kind and must be decoded through the typed payload structs below.
type Envelope struct {
	Kind        Kind            `json:"job_type"`
	WorkspaceID string          `json:"workspace_id"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// ImportPayload continues or starts a mailbox import. JobID is empty on
// the first hop; later hops carry the checkpoint row's id.
type ImportPayload struct {
	JobID       string `json:"job_id,omitempty"`
	TotalTarget int    `json:"total_target,omitempty"`
}

// ClassifyPayload drains one chunk of the staging table
type ClassifyPayload struct {
	JobID string `json:"job_id,omitempty"`
}

// ConsolidatePayload continues the FAQ pipeline. Phase and chunk index
// are diagnostic; the durable checkpoint row is authoritative.
type ConsolidatePayload struct {
	JobID      string                   `json:"job_id,omitempty"`
	Phase      model.ConsolidationPhase `json:"phase,omitempty"`
	ChunkIndex int                      `json:"chunk_index,omitempty"`
}

// VoiceLearnPayload triggers voice-profile learning for a workspace
type VoiceLearnPayload struct{}

// TriagePayload classifies one webhook-ingested message
type TriagePayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// DraftPayload generates a reply draft for a conversation
type DraftPayload struct {
	ConversationID string `json:"conversation_id"`
}

// Encode builds the wire payload for a kind and its typed data
func Encode(kind Kind, workspaceID string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	env := Envelope{Kind: kind, WorkspaceID: workspaceID, Data: raw}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", kind, err)
	}
	return b, nil
}

// Decode parses the wire envelope
func Decode(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("failed to decode job envelope: %w", err)
	}
	if env.Kind == "" {
		return nil, fmt.Errorf("job envelope missing job_type")
	}
	return &env, nil
}

// DecodeData parses the kind-specific payload
func (e *Envelope) DecodeData(out interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Kind, err)
	}
	return nil
}

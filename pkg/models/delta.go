package models

// DeltaKind tags what a stream delta carries.
type DeltaKind string

const (
	DeltaText      DeltaKind = "text"
	DeltaReasoning DeltaKind = "reasoning"
	DeltaTool      DeltaKind = "tool"
	DeltaStatus    DeltaKind = "status"
)

// Delta is one entry of a message's append-only stream. Pos is dense and
// starts at 0 per stream.
type Delta struct {
	ThreadID  string          `json:"thread_id"`
	MessageID string          `json:"message_id"`
	Pos       uint64          `json:"pos"`
	Kind      DeltaKind       `json:"kind"`
	Text      string          `json:"text,omitempty"`
	Tool      *ToolInvocation `json:"tool,omitempty"`
	Status    MessageStatus   `json:"status,omitempty"`
	TS        int64           `json:"ts"`
}

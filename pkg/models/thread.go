package models

// Thread is a conversation owned by one user.
type Thread struct {
	ID string `json:"id"`
	// Title stays empty until derived from the first user message or set explicitly.
	Title  string `json:"title"`
	UserID string `json:"user_id"`
	// CreatedTS and UpdatedTS are unix nanoseconds.
	CreatedTS int64 `json:"created_ts"`
	UpdatedTS int64 `json:"updated_ts,omitempty"`
	// LastSeq is the sequence of the most recently appended message.
	LastSeq      uint64 `json:"last_seq"`
	UserMessages int    `json:"user_messages"`
	// Deleting is set once a purge has started; readers treat the thread as gone.
	Deleting bool `json:"deleting,omitempty"`
}

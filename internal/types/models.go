package types

import (
	"encoding/json"
	"time"
)

// Event is one journal record for a user's conversation.
type Event struct {
	ID      EventID         `json:"id"`
	UserID  UserID          `json:"user_id"`
	RunID   RunID           `json:"run_id,omitempty"`
	Seq     int64           `json:"seq"`
	Type    string          `json:"type"`
	Source  string          `json:"source"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

const (
	EventUserMessage  = "user_message"
	EventAgentMessage = "agent_message"
	EventToolCall     = "tool_call"
	EventToolResult   = "tool_result"
	EventError        = "error"
)

type ArtifactMeta struct {
	ID        ArtifactID `json:"id"`
	UserID    UserID     `json:"user_id"`
	RunID     RunID      `json:"run_id,omitempty"`
	Tool      string     `json:"tool"`
	CreatedAt time.Time  `json:"created_at"`
	MimeType  string     `json:"mime_type,omitempty"`
}

// Audio is an opaque encoded audio blob. Format is a file extension hint
// such as "ogg", "mp3" or "wav".
type Audio struct {
	Data   []byte `json:"-"`
	Format string `json:"format"`
}

// Attachment is an inbound binary the user sent along with a message.
type Attachment struct {
	Data     []byte `json:"-"`
	MimeType string `json:"mime_type"`
}

// InboundEvent is the normalized input shape shared by every transport.
type InboundEvent struct {
	Source             string      `json:"source"`
	UserID             UserID      `json:"user_id"`
	Text               string      `json:"text"`
	Audio              *Audio      `json:"audio,omitempty"`
	Image              *Attachment `json:"image,omitempty"`
	Timestamp          time.Time   `json:"timestamp"`
	RequestsAudioReply bool        `json:"requests_audio_reply"`
}

// ReplyImage is an image produced during the turn.
type ReplyImage struct {
	ArtifactID ArtifactID `json:"artifact_id,omitempty"`
	URL        string     `json:"url,omitempty"`
	MimeType   string     `json:"mime_type,omitempty"`
	Data       []byte     `json:"-"`
}

// Reply is the normalized response shape handed back to the transport.
type Reply struct {
	Text   string       `json:"text"`
	Audio  *Audio       `json:"audio,omitempty"`
	Images []ReplyImage `json:"images,omitempty"`
}

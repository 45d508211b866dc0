package types

import (
	"strings"

	"github.com/google/uuid"
)

// UserID identifies the owner of a conversation. Transports namespace it by
// source, e.g. "telegram:12345" or "http:alice".
type UserID string
type RunID string
type EventID string
type ArtifactID string
type ReminderID string

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewEventID() EventID {
	return EventID(uuid.New().String())
}

func NewArtifactID() ArtifactID {
	return ArtifactID(uuid.New().String())
}

func NewReminderID() ReminderID {
	return ReminderID(uuid.New().String())
}

func NewUserID(parts ...string) UserID {
	return UserID(strings.Join(parts, ":"))
}

// Source returns the transport prefix of the user id ("telegram" for
// "telegram:123"), or "" when the id is not namespaced.
func (u UserID) Source() string {
	if i := strings.IndexByte(string(u), ':'); i > 0 {
		return string(u)[:i]
	}
	return ""
}

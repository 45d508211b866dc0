// Package session holds per-user conversation state across turns: the recent
// turn window and the single pending operation awaiting a slot answer.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/user/deskmate/internal/intent"
	"github.com/user/deskmate/internal/types"
)

var (
	// ErrNotFound is returned by a Backend when no state exists for a user.
	ErrNotFound = errors.New("session not found")
	// ErrCorrupt is returned by a Backend when stored state cannot be decoded.
	ErrCorrupt = errors.New("session state corrupt")
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is one message within a session. Turns are never modified after
// they are appended.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// PendingOperation is an intent that is still missing required slots.
type PendingOperation struct {
	Intent   intent.Intent   `json:"intent"`
	Slot     intent.SlotName `json:"slot"`
	Question string          `json:"question"`
	Retries  int             `json:"retries"`
}

// ConversationSession is the state kept for one user.
type ConversationSession struct {
	UserID    types.UserID      `json:"user_id"`
	Turns     []Turn            `json:"turns"`
	Pending   *PendingOperation `json:"pending,omitempty"`
	TimeZone  string            `json:"time_zone,omitempty"`
	LastImage string            `json:"last_image,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Location resolves the session time zone, falling back to UTC.
func (s *ConversationSession) Location() *time.Location {
	if s.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Recent returns up to n of the most recent turns, oldest first.
func (s *ConversationSession) Recent(n int) []Turn {
	if n <= 0 || n >= len(s.Turns) {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// Backend persists sessions. Load returns ErrNotFound when nothing is
// stored and an error wrapping ErrCorrupt when the stored state is unusable.
type Backend interface {
	Load(ctx context.Context, userID types.UserID) (*ConversationSession, error)
	Save(ctx context.Context, sess *ConversationSession) error
	Delete(ctx context.Context, userID types.UserID) error
	List(ctx context.Context) ([]*ConversationSession, error)
}

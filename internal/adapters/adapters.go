// Package adapters declares the external capabilities the assistant drives:
// calendar, email, image generation, speech and reminders. Concrete
// implementations live in subpackages and in the scheduler.
package adapters

import (
	"context"
	"time"

	"github.com/user/deskmate/internal/types"
)

type NewEvent struct {
	Title     string
	Start     time.Time
	Duration  time.Duration
	Attendees []string
}

type EventRef struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Link      string    `json:"link,omitempty"`
	Attendees []string  `json:"attendees,omitempty"`
}

// Range selects events starting in [From, To).
type Range struct {
	From time.Time
	To   time.Time
	Max  int
}

type Message struct {
	To      []string
	Subject string
	Body    string
}

type DeliveryRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id,omitempty"`
}

type InboxFilter struct {
	Unread bool
	// Since restricts results to messages received at or after the instant.
	Since time.Time
	Query string
	Max   int
}

type MessageRef struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Snippet string    `json:"snippet"`
	Date    time.Time `json:"date"`
	Unread  bool      `json:"unread"`
}

type DraftRef struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id,omitempty"`
}

// ImageRef points to an image either by bytes, by URL, or both.
type ImageRef struct {
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"-"`
}

type Reminder struct {
	UserID types.UserID
	Text   string
	At     time.Time
}

type ReminderRef struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

type Calendar interface {
	CreateEvent(ctx context.Context, ev NewEvent) (EventRef, error)
	ListEvents(ctx context.Context, r Range) ([]EventRef, error)
}

type Email interface {
	Send(ctx context.Context, msg Message) (DeliveryRef, error)
	ListInbox(ctx context.Context, filter InboxFilter) ([]MessageRef, error)
	CreateDraft(ctx context.Context, msg Message) (DraftRef, error)
}

type Image interface {
	Generate(ctx context.Context, prompt, style string) (ImageRef, error)
	Edit(ctx context.Context, img ImageRef, instruction string) (ImageRef, error)
}

type Speech interface {
	Transcribe(ctx context.Context, audio types.Audio) (string, error)
	Synthesize(ctx context.Context, text string) (types.Audio, error)
}

type Reminders interface {
	Schedule(ctx context.Context, r Reminder) (ReminderRef, error)
}

// Set bundles whichever adapters are configured. Nil fields are
// capabilities that are not available.
type Set struct {
	Calendar  Calendar
	Email     Email
	Image     Image
	Speech    Speech
	Reminders Reminders
}

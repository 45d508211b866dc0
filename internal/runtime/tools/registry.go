// Package tools holds the capabilities the dispatcher can invoke. Each one
// turns the slots of a ready intent into a single adapter call.
package tools

import (
	"context"
	"sort"
	"time"

	"github.com/user/deskmate/internal/adapters"
	"github.com/user/deskmate/internal/intent"
	"github.com/user/deskmate/internal/types"
)

const (
	CalendarCreate   = "calendar.create"
	CalendarList     = "calendar.list"
	EmailSend        = "email.send"
	EmailInbox       = "email.inbox"
	EmailDraft       = "email.draft"
	ImageGenerate    = "image.generate"
	ImageEdit        = "image.edit"
	ReminderSchedule = "reminder.schedule"
)

// Args is everything a capability may read for one step.
type Args struct {
	UserID   types.UserID
	RunID    types.RunID
	Intent   intent.Intent
	Location *time.Location
	Now      time.Time
	// Prior holds the payloads of the earlier steps of the same plan.
	Prior []Payload
}

func (a Args) loc() *time.Location {
	if a.Location == nil {
		return time.UTC
	}
	return a.Location
}

func (a Args) now() time.Time {
	if a.Now.IsZero() {
		return time.Now()
	}
	return a.Now
}

// Payload is the successful output of a capability. Only the fields the
// capability produces are set.
type Payload struct {
	Event    *adapters.EventRef    `json:"event,omitempty"`
	Events   []adapters.EventRef   `json:"events,omitempty"`
	Sent     *adapters.Message     `json:"sent,omitempty"`
	Delivery *adapters.DeliveryRef `json:"delivery,omitempty"`
	Messages []adapters.MessageRef `json:"messages,omitempty"`
	Draft    *adapters.DraftRef    `json:"draft,omitempty"`
	Image    *types.ReplyImage     `json:"image,omitempty"`
	Reminder *adapters.ReminderRef `json:"reminder,omitempty"`
	// Text is the reminder or request text echoed back in replies.
	Text string `json:"text,omitempty"`
}

// Capability is one executable step of a plan.
type Capability interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args Args) (Payload, error)
}

// Registry holds registered capabilities and provides lookup.
type Registry struct {
	caps map[string]Capability
}

func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

func (r *Registry) Register(c Capability) {
	r.caps[c.Name()] = c
}

func (r *Registry) Get(name string) (Capability, bool) {
	c, ok := r.caps[name]
	return c, ok
}

// Names returns the registered capability names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.caps))
	for name := range r.caps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RegisterAdapters registers a capability for every adapter present in
// set. Missing adapters leave their capabilities unregistered.
func RegisterAdapters(r *Registry, set adapters.Set, artifacts types.ArtifactStore) {
	if set.Calendar != nil {
		r.Register(NewCreateEvent(set.Calendar))
		r.Register(NewListEvents(set.Calendar))
	}
	if set.Email != nil {
		r.Register(NewSendEmail(set.Email))
		r.Register(NewReadInbox(set.Email))
		r.Register(NewDraftEmail(set.Email))
	}
	if set.Image != nil && artifacts != nil {
		r.Register(NewGenerateImage(set.Image, artifacts))
		r.Register(NewEditImage(set.Image, artifacts))
	}
	if set.Reminders != nil {
		r.Register(NewScheduleReminder(set.Reminders))
	}
}

func validation(op, msg string) error {
	return adapters.NewError(adapters.KindValidation, op, msg, nil)
}

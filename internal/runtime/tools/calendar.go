package tools

import (
	"context"
	"time"

	"github.com/user/deskmate/internal/adapters"
	"github.com/user/deskmate/internal/intent"
)

// DefaultEventDuration applies when an event reaches the calendar without
// a duration, which only happens when the slot policy does not require one.
const DefaultEventDuration = time.Hour

const listWindow = 7 * 24 * time.Hour

// CreateEvent books a calendar event from a ready create_event intent.
type CreateEvent struct {
	calendar adapters.Calendar
}

func NewCreateEvent(c adapters.Calendar) *CreateEvent { return &CreateEvent{calendar: c} }

func (c *CreateEvent) Name() string        { return CalendarCreate }
func (c *CreateEvent) Description() string { return "Create a calendar event" }

func (c *CreateEvent) Execute(ctx context.Context, args Args) (Payload, error) {
	in := args.Intent
	title := in.Text(intent.SlotTitle)
	start, ok := in.Get(intent.SlotStart)
	if title == "" || !ok {
		return Payload{}, validation(CalendarCreate, "an event needs a title and a start time")
	}
	dur := DefaultEventDuration
	if v, ok := in.Get(intent.SlotDuration); ok {
		dur = v.Duration
	}
	var attendees []string
	if v, ok := in.Get(intent.SlotAttendee); ok {
		attendees = v.Addresses
	}

	ref, err := c.calendar.CreateEvent(ctx, adapters.NewEvent{
		Title:     title,
		Start:     start.Time,
		Duration:  dur,
		Attendees: attendees,
	})
	if err != nil {
		return Payload{}, err
	}
	if ref.Title == "" {
		ref.Title = title
	}
	if ref.Start.IsZero() {
		ref.Start = start.Time
		ref.End = start.Time.Add(dur)
	}
	if len(ref.Attendees) == 0 {
		ref.Attendees = attendees
	}
	return Payload{Event: &ref}, nil
}

// ListEvents lists events for the requested day, or the coming week when
// no date was given.
type ListEvents struct {
	calendar adapters.Calendar
}

func NewListEvents(c adapters.Calendar) *ListEvents { return &ListEvents{calendar: c} }

func (l *ListEvents) Name() string        { return CalendarList }
func (l *ListEvents) Description() string { return "List upcoming calendar events" }

func (l *ListEvents) Execute(ctx context.Context, args Args) (Payload, error) {
	r := adapters.Range{Max: 10}
	if v, ok := args.Intent.Get(intent.SlotDate); ok {
		d := v.Time.In(args.loc())
		r.From = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, args.loc())
		r.To = r.From.AddDate(0, 0, 1)
	} else {
		r.From = args.now()
		r.To = r.From.Add(listWindow)
	}

	events, err := l.calendar.ListEvents(ctx, r)
	if err != nil {
		return Payload{}, err
	}
	if events == nil {
		events = []adapters.EventRef{}
	}
	return Payload{Events: events}, nil
}

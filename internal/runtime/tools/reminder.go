package tools

import (
	"context"

	"github.com/user/deskmate/internal/adapters"
	"github.com/user/deskmate/internal/intent"
)

type ScheduleReminder struct {
	reminders adapters.Reminders
}

func NewScheduleReminder(r adapters.Reminders) *ScheduleReminder {
	return &ScheduleReminder{reminders: r}
}

func (s *ScheduleReminder) Name() string        { return ReminderSchedule }
func (s *ScheduleReminder) Description() string { return "Schedule a one-shot reminder" }

func (s *ScheduleReminder) Execute(ctx context.Context, args Args) (Payload, error) {
	text := args.Intent.Text(intent.SlotText)
	at, ok := args.Intent.Get(intent.SlotAt)
	if text == "" || !ok {
		return Payload{}, validation(ReminderSchedule, "a reminder needs a message and a time")
	}
	if !at.Time.After(args.now()) {
		return Payload{}, validation(ReminderSchedule, "that time has already passed")
	}

	ref, err := s.reminders.Schedule(ctx, adapters.Reminder{
		UserID: args.UserID,
		Text:   text,
		At:     at.Time,
	})
	if err != nil {
		return Payload{}, err
	}
	return Payload{Reminder: &ref, Text: text}, nil
}

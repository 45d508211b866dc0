package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/user/deskmate/internal/adapters"
	"github.com/user/deskmate/internal/intent"
)

const subjectWords = 4

const inboxMax = 10

// SubjectFromBody derives a subject line from the first words of body.
func SubjectFromBody(body string) string {
	words := strings.Fields(body)
	if len(words) == 0 {
		return "(no subject)"
	}
	if len(words) > subjectWords {
		return strings.Join(words[:subjectWords], " ") + "..."
	}
	return strings.Join(words, " ")
}

// composeMessage builds the outgoing message for send_email and
// draft_email intents.
func composeMessage(op string, in intent.Intent) (adapters.Message, error) {
	to, ok := in.Get(intent.SlotTo)
	body := in.Text(intent.SlotBody)
	if !ok || body == "" {
		return adapters.Message{}, validation(op, "an email needs a recipient and a message")
	}
	subject := in.Text(intent.SlotSubject)
	if subject == "" {
		subject = SubjectFromBody(body)
	}
	return adapters.Message{To: to.Addresses, Subject: subject, Body: body}, nil
}

// meetingReminder builds the notice sent to attendees once the event in
// the previous step exists.
func meetingReminder(args Args) (adapters.Message, error) {
	var ev *adapters.EventRef
	for i := len(args.Prior) - 1; i >= 0; i-- {
		if args.Prior[i].Event != nil {
			ev = args.Prior[i].Event
			break
		}
	}
	if ev == nil {
		return adapters.Message{}, validation(EmailSend, "no event to send a reminder for")
	}
	to := ev.Attendees
	if v, ok := args.Intent.Get(intent.SlotAttendee); ok && len(to) == 0 {
		to = v.Addresses
	}
	if len(to) == 0 {
		return adapters.Message{}, validation(EmailSend, "the event has no attendees to notify")
	}

	var body strings.Builder
	fmt.Fprintf(&body, "You're invited to %s on %s.", ev.Title, ev.Start.In(args.loc()).Format("Monday, January 2 at 3:04 PM MST"))
	if ev.Link != "" {
		fmt.Fprintf(&body, "\n\nDetails: %s", ev.Link)
	}
	return adapters.Message{
		To:      to,
		Subject: "Meeting Reminder: " + ev.Title,
		Body:    body.String(),
	}, nil
}

// SendEmail sends a message. Inside a create_event plan it mails the
// attendees of the event created by the previous step.
type SendEmail struct {
	email adapters.Email
}

func NewSendEmail(e adapters.Email) *SendEmail { return &SendEmail{email: e} }

func (s *SendEmail) Name() string        { return EmailSend }
func (s *SendEmail) Description() string { return "Send an email" }

func (s *SendEmail) Execute(ctx context.Context, args Args) (Payload, error) {
	var (
		msg adapters.Message
		err error
	)
	if args.Intent.Kind == intent.CreateEvent {
		msg, err = meetingReminder(args)
	} else {
		msg, err = composeMessage(EmailSend, args.Intent)
	}
	if err != nil {
		return Payload{}, err
	}

	ref, err := s.email.Send(ctx, msg)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Sent: &msg, Delivery: &ref}, nil
}

// DraftEmail saves a message as a draft without sending it.
type DraftEmail struct {
	email adapters.Email
}

func NewDraftEmail(e adapters.Email) *DraftEmail { return &DraftEmail{email: e} }

func (d *DraftEmail) Name() string        { return EmailDraft }
func (d *DraftEmail) Description() string { return "Save an email draft" }

func (d *DraftEmail) Execute(ctx context.Context, args Args) (Payload, error) {
	msg, err := composeMessage(EmailDraft, args.Intent)
	if err != nil {
		return Payload{}, err
	}
	ref, err := d.email.CreateDraft(ctx, msg)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Sent: &msg, Draft: &ref}, nil
}

// ReadInbox lists recent inbox messages. The filter slot holds
// space-separated tokens: "unread", "today" and "from:<address>".
type ReadInbox struct {
	email adapters.Email
}

func NewReadInbox(e adapters.Email) *ReadInbox { return &ReadInbox{email: e} }

func (r *ReadInbox) Name() string        { return EmailInbox }
func (r *ReadInbox) Description() string { return "List recent inbox messages" }

// ParseInboxFilter turns filter tokens into an InboxFilter.
func ParseInboxFilter(filter string, now time.Time, loc *time.Location) adapters.InboxFilter {
	out := adapters.InboxFilter{Max: inboxMax}
	var query []string
	for _, tok := range strings.Fields(strings.ToLower(filter)) {
		switch {
		case tok == "unread":
			out.Unread = true
		case tok == "today":
			n := now.In(loc)
			out.Since = time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
		case strings.HasPrefix(tok, "from:"):
			query = append(query, tok)
		}
	}
	out.Query = strings.Join(query, " ")
	return out
}

func (r *ReadInbox) Execute(ctx context.Context, args Args) (Payload, error) {
	filter := ParseInboxFilter(args.Intent.Text(intent.SlotFilter), args.now(), args.loc())
	msgs, err := r.email.ListInbox(ctx, filter)
	if err != nil {
		return Payload{}, err
	}
	if msgs == nil {
		msgs = []adapters.MessageRef{}
	}
	return Payload{Messages: msgs}, nil
}

package compose

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/user/deskmate/internal/adapters"
	"github.com/user/deskmate/internal/dispatch"
	"github.com/user/deskmate/internal/runtime/tools"
)

const (
	msgAmbiguous   = "I'm not sure what you'd like me to do. Could you say that another way?"
	msgExhausted   = "I couldn't get enough detail to proceed. Just ask again whenever you're ready."
	msgCancelled   = "Okay, I've cancelled that."
	msgAudio       = "Sorry, I couldn't understand the audio. Could you type it instead?"
	msgRetry       = "Something went wrong, please try again."
	msgAuth        = "I couldn't access your account, please reconnect your account and try again."
	msgPolicy      = "I can't make that image because the request was flagged by the content policy."
	msgNoPlan      = "Done."
	maxUserMessage = 200
	timeLayout     = "Mon, Jan 2 at 3:04 PM"
)

// area names what a capability touches, for "not set up" replies.
var area = map[string]string{
	tools.CalendarCreate:   "your calendar",
	tools.CalendarList:     "your calendar",
	tools.EmailSend:        "email",
	tools.EmailInbox:       "email",
	tools.EmailDraft:       "email",
	tools.ImageGenerate:    "image generation",
	tools.ImageEdit:        "image editing",
	tools.ReminderSchedule: "reminders",
}

// action describes a capability in the past tense for partial-failure
// replies ("I couldn't <action>").
var action = map[string]string{
	tools.CalendarCreate:   "create the event",
	tools.CalendarList:     "load your calendar",
	tools.EmailSend:        "send the email",
	tools.EmailInbox:       "check your inbox",
	tools.EmailDraft:       "save the draft",
	tools.ImageGenerate:    "generate the image",
	tools.ImageEdit:        "edit the image",
	tools.ReminderSchedule: "set the reminder",
}

func when(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(timeLayout)
}

func fmtDuration(d time.Duration) string {
	h, m := int(d.Hours()), int(d.Minutes())%60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}

// sanitize makes a remote validation message safe to echo: printable,
// single line, at most maxUserMessage runes.
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxUserMessage {
		s = strings.TrimSpace(string(r[:maxUserMessage])) + "..."
	}
	return s
}

// renderSuccess describes one successful step.
func renderSuccess(r dispatch.ToolResult, loc *time.Location, compound bool) string {
	p := r.Payload
	switch r.Capability {
	case tools.CalendarCreate:
		if p.Event == nil {
			return "I created the event."
		}
		ev := p.Event
		s := fmt.Sprintf("I scheduled %q for %s", ev.Title, when(ev.Start, loc))
		if !ev.End.IsZero() && ev.End.After(ev.Start) {
			s += fmt.Sprintf(" (%s)", fmtDuration(ev.End.Sub(ev.Start)))
		}
		return s + "."
	case tools.CalendarList:
		return renderEvents(p.Events, loc)
	case tools.EmailSend:
		if p.Sent == nil {
			return "I sent the email."
		}
		to := strings.Join(p.Sent.To, ", ")
		if compound {
			return fmt.Sprintf("I also emailed a meeting reminder to %s.", to)
		}
		return fmt.Sprintf("I sent your email %q to %s.", p.Sent.Subject, to)
	case tools.EmailDraft:
		if p.Sent == nil {
			return "I saved the draft."
		}
		return fmt.Sprintf("I saved a draft %q to %s. It hasn't been sent.", p.Sent.Subject, strings.Join(p.Sent.To, ", "))
	case tools.EmailInbox:
		return renderInbox(p.Messages, loc)
	case tools.ImageGenerate:
		return "Here's your image."
	case tools.ImageEdit:
		return "Here's the edited image."
	case tools.ReminderSchedule:
		if p.Reminder == nil {
			return "Your reminder is set."
		}
		return fmt.Sprintf("Got it, I'll remind you to %s on %s.", p.Text, when(p.Reminder.At, loc))
	default:
		return "Done."
	}
}

func renderEvents(events []adapters.EventRef, loc *time.Location) string {
	if len(events) == 0 {
		return "You have no events coming up in that period."
	}
	var b strings.Builder
	if len(events) == 1 {
		b.WriteString("You have 1 event:")
	} else {
		fmt.Fprintf(&b, "You have %d events:", len(events))
	}
	for _, ev := range events {
		fmt.Fprintf(&b, "\n- %s: %s", when(ev.Start, loc), ev.Title)
	}
	return b.String()
}

func renderInbox(msgs []adapters.MessageRef, loc *time.Location) string {
	if len(msgs) == 0 {
		return "No messages match that."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Here are your latest %d messages:", len(msgs))
	for _, m := range msgs {
		subject := m.Subject
		if subject == "" {
			subject = "(no subject)"
		}
		marker := ""
		if m.Unread {
			marker = " [unread]"
		}
		fmt.Fprintf(&b, "\n- %s: %s%s", m.From, subject, marker)
	}
	return b.String()
}

// renderFailure explains why a step failed, by error kind.
func renderFailure(capability string, err error) string {
	switch adapters.Classify(err) {
	case adapters.KindAuth:
		return msgAuth
	case adapters.KindValidation:
		if msg := sanitize(adapters.UserMessage(err)); msg != "" {
			return fmt.Sprintf("I couldn't %s: %s.", actionFor(capability), strings.TrimRight(msg, "."))
		}
		return fmt.Sprintf("I couldn't %s because the request was rejected.", actionFor(capability))
	case adapters.KindContentPolicy:
		return msgPolicy
	case adapters.KindFormat:
		return msgAudio
	case adapters.KindNotConfigured:
		a := area[capability]
		if a == "" {
			a = "that"
		}
		return fmt.Sprintf("I'm not set up to use %s yet.", a)
	default:
		return msgRetry
	}
}

func actionFor(capability string) string {
	if a, ok := action[capability]; ok {
		return a
	}
	return "do that"
}

func renderOutcome(o Outcome) string {
	switch o := o.(type) {
	case ClarificationNeeded:
		return o.Question
	case ClarificationAmbiguous:
		return msgAmbiguous
	case ClarificationExhausted:
		return msgExhausted
	case Cancelled:
		return msgCancelled
	case AudioUnreadable:
		return msgAudio
	case ToolResults:
		if len(o.Results) == 0 {
			return msgNoPlan
		}
		parts := make([]string, 0, len(o.Results))
		for i, r := range o.Results {
			parts = append(parts, renderSuccess(r, o.Location, i > 0))
		}
		return strings.Join(parts, " ")
	case ToolFailure:
		reason := renderFailure(o.Capability, o.Err)
		if len(o.Completed) == 0 {
			return reason
		}
		parts := make([]string, 0, len(o.Completed)+1)
		for i, r := range o.Completed {
			parts = append(parts, renderSuccess(r, o.Location, i > 0))
		}
		if strings.HasPrefix(reason, "I couldn't") {
			parts = append(parts, "However, "+reason)
		} else {
			parts = append(parts, fmt.Sprintf("However, I couldn't %s. %s", actionFor(o.Capability), reason))
		}
		return strings.Join(parts, " ")
	default:
		return msgRetry
	}
}

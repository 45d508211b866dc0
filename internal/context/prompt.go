package context

import (
	"bytes"
	"fmt"
	"text/template"
)

// PromptData feeds the prompt templates.
type PromptData struct {
	Time     string
	TimeZone string
	Kinds    []string
	// PendingKind and PendingSlot describe the question the assistant is
	// waiting on, if any.
	PendingKind string
	PendingSlot string
	Question    string
}

// ClassifierPrompt asks the model to label an utterance with candidate
// intents and raw slot strings. Slot values are re-parsed locally, so the
// model only has to copy them out of the text.
const ClassifierPrompt = `You label messages sent to a personal assistant.

Current time: {{.Time}} ({{.TimeZone}}).
Allowed intents: {{range $i, $k := .Kinds}}{{if $i}}, {{end}}{{$k}}{{end}}, none.
{{- if .PendingSlot}}

The assistant just asked "{{.Question}}" to fill the "{{.PendingSlot}}" slot of a pending {{.PendingKind}}.
Unless the user clearly asks for something else, treat the message as the answer and return intent {{.PendingKind}}.
{{- end}}

Reply with one JSON object and nothing else:
{"candidates":[{"intent":"<intent>","confidence":<0..1>}],"slots":{"<slot>":"<text from the message>"},"notify":<true if the user also wants attendees emailed>}

Slots: title, start, duration, attendee, to, subject, body, filter, prompt, style, instruction, text, at.
Copy slot text from the message as written; do not convert dates or times.
List every plausible intent in candidates. Use "none" for small talk.
`

// ChatPrompt is the system prompt for small talk and questions that do not
// map to an action.
const ChatPrompt = `You are deskmate, a concise personal assistant reachable by chat.
You can schedule and list calendar events, send, draft and read email, generate or edit images, and set reminders.
Current time: {{.Time}} ({{.TimeZone}}).
Answer briefly and plainly. If the user seems to want one of the actions above, tell them how to ask for it in one sentence.
`

// RenderPrompt executes a prompt template with data.
func RenderPrompt(tmpl string, data PromptData) (string, error) {
	t, err := template.New("prompt").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse prompt template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

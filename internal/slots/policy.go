package slots

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/user/deskmate/internal/intent"
)

const DefaultMaxRetries = 3

// Policy fixes the clarification order per intent kind and how many
// unanswered re-asks of one slot are tolerated.
type Policy struct {
	MaxRetries int
	Order      map[intent.Kind][]intent.SlotName
	Questions  map[intent.SlotName]string
}

// policyFile is the YAML shape of a policy file:
//
//	max_retries: 3
//	order:
//	  create_event: [title, start, duration]
//	questions:
//	  title: "What's the meeting called?"
type policyFile struct {
	MaxRetries int                 `yaml:"max_retries"`
	Order      map[string][]string `yaml:"order"`
	Questions  map[string]string   `yaml:"questions"`
}

var defaultQuestions = map[intent.SlotName]string{
	intent.SlotTitle:       "What should I call the event?",
	intent.SlotStart:       "When should it start?",
	intent.SlotDuration:    "How long should it last?",
	intent.SlotAttendee:    "Who should I invite? Please give an email address.",
	intent.SlotTo:          "Who should I send it to? Please give an email address.",
	intent.SlotSubject:     "What should the subject be?",
	intent.SlotBody:        "What should the message say?",
	intent.SlotPrompt:      "What would you like me to create?",
	intent.SlotImage:       "Please send me the image you'd like to edit.",
	intent.SlotInstruction: "How should I change the image?",
	intent.SlotText:        "What should I remind you about?",
	intent.SlotAt:          "When should I remind you?",
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		Order: map[intent.Kind][]intent.SlotName{
			intent.CreateEvent:   {intent.SlotTitle, intent.SlotStart, intent.SlotDuration},
			intent.SendEmail:     {intent.SlotTo, intent.SlotBody},
			intent.DraftEmail:    {intent.SlotTo, intent.SlotBody},
			intent.GenerateImage: {intent.SlotPrompt},
			intent.EditImage:     {intent.SlotImage, intent.SlotInstruction},
			intent.Reminder:      {intent.SlotText, intent.SlotAt},
		},
		Questions: copyQuestions(defaultQuestions),
	}
}

func copyQuestions(in map[intent.SlotName]string) map[intent.SlotName]string {
	out := make(map[intent.SlotName]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// LoadPolicy reads a YAML policy file and overlays it on DefaultPolicy.
// An empty path returns the defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy file: %w", err)
	}
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return p, fmt.Errorf("parse policy file: %w", err)
	}

	if f.MaxRetries < 0 {
		return p, fmt.Errorf("max_retries must not be negative, got %d", f.MaxRetries)
	}
	if f.MaxRetries > 0 {
		p.MaxRetries = f.MaxRetries
	}
	for kindName, names := range f.Order {
		kind, ok := intent.ParseKind(kindName)
		if !ok || kind == intent.None {
			return p, fmt.Errorf("unknown intent kind %q in policy order", kindName)
		}
		order := make([]intent.SlotName, 0, len(names))
		for _, n := range names {
			name := intent.SlotName(n)
			if _, known := intent.SlotTypes[name]; !known {
				return p, fmt.Errorf("unknown slot %q for %s", n, kind)
			}
			order = append(order, name)
		}
		p.Order[kind] = order
	}
	for n, q := range f.Questions {
		name := intent.SlotName(n)
		if _, known := intent.SlotTypes[name]; !known {
			return p, fmt.Errorf("unknown slot %q in policy questions", n)
		}
		p.Questions[name] = q
	}
	return p, nil
}

// Required lists the slots an intent needs before it can run, in
// clarification order. The notify form of create_event also needs an attendee.
func (p Policy) Required(in intent.Intent) []intent.SlotName {
	order := p.Order[in.Kind]
	if in.Kind == intent.CreateEvent && in.Notify && !containsSlot(order, intent.SlotAttendee) {
		order = append(append([]intent.SlotName(nil), order...), intent.SlotAttendee)
	}
	return order
}

func (p Policy) Question(slot intent.SlotName) string {
	if q, ok := p.Questions[slot]; ok && q != "" {
		return q
	}
	return fmt.Sprintf("Could you tell me the %s?", slot)
}

func containsSlot(list []intent.SlotName, name intent.SlotName) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

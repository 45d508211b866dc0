// Package intent defines the closed set of operations the assistant can
// perform and the typed slots each one carries.
package intent

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind is the tag of an Intent. The set is closed: classifiers may only
// produce one of the constants below.
type Kind string

const (
	None          Kind = "none"
	CreateEvent   Kind = "create_event"
	ListEvents    Kind = "list_events"
	SendEmail     Kind = "send_email"
	ReadInbox     Kind = "read_inbox"
	DraftEmail    Kind = "draft_email"
	GenerateImage Kind = "generate_image"
	EditImage     Kind = "edit_image"
	Reminder      Kind = "reminder"
)

// Kinds lists every actionable kind in a stable order.
var Kinds = []Kind{CreateEvent, ListEvents, SendEmail, ReadInbox, DraftEmail, GenerateImage, EditImage, Reminder}

// ParseKind maps a kind name to its constant. Unknown names map to None.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k == None {
		return None, true
	}
	for _, known := range Kinds {
		if k == known {
			return k, true
		}
	}
	return None, false
}

type SlotName string

const (
	SlotTitle       SlotName = "title"
	SlotStart       SlotName = "start"
	SlotDuration    SlotName = "duration"
	SlotAttendee    SlotName = "attendee"
	SlotDate        SlotName = "date"
	SlotTo          SlotName = "to"
	SlotSubject     SlotName = "subject"
	SlotBody        SlotName = "body"
	SlotFilter      SlotName = "filter"
	SlotPrompt      SlotName = "prompt"
	SlotStyle       SlotName = "style"
	SlotImage       SlotName = "image"
	SlotInstruction SlotName = "instruction"
	SlotText        SlotName = "text"
	SlotAt          SlotName = "at"
)

type ValueType string

const (
	TypeString   ValueType = "string"
	TypeDateTime ValueType = "datetime"
	TypeEmail    ValueType = "email"
	TypeDuration ValueType = "duration"
	TypeImage    ValueType = "image"
)

// SlotTypes fixes the value type of every slot name.
var SlotTypes = map[SlotName]ValueType{
	SlotTitle:       TypeString,
	SlotStart:       TypeDateTime,
	SlotDuration:    TypeDuration,
	SlotAttendee:    TypeEmail,
	SlotDate:        TypeDateTime,
	SlotTo:          TypeEmail,
	SlotSubject:     TypeString,
	SlotBody:        TypeString,
	SlotFilter:      TypeString,
	SlotPrompt:      TypeString,
	SlotStyle:       TypeString,
	SlotImage:       TypeImage,
	SlotInstruction: TypeString,
	SlotText:        TypeString,
	SlotAt:          TypeDateTime,
}

// Value is a typed slot value. Only the field matching Type is meaningful.
type Value struct {
	Type      ValueType     `json:"type"`
	Text      string        `json:"text,omitempty"`
	Time      time.Time     `json:"time,omitzero"`
	Duration  time.Duration `json:"duration,omitempty"`
	Addresses []string      `json:"addresses,omitempty"`
}

func String(s string) Value { return Value{Type: TypeString, Text: s} }

func DateTime(t time.Time) Value { return Value{Type: TypeDateTime, Time: t} }

func Duration(d time.Duration) Value { return Value{Type: TypeDuration, Duration: d} }

func Emails(addrs ...string) Value { return Value{Type: TypeEmail, Addresses: addrs} }

// Image references an image artifact by id.
func Image(ref string) Value { return Value{Type: TypeImage, Text: ref} }

// IsZero reports whether the value carries no usable content.
func (v Value) IsZero() bool {
	switch v.Type {
	case TypeDateTime:
		return v.Time.IsZero()
	case TypeDuration:
		return v.Duration <= 0
	case TypeEmail:
		return len(v.Addresses) == 0
	default:
		return strings.TrimSpace(v.Text) == ""
	}
}

func (v Value) String() string {
	switch v.Type {
	case TypeDateTime:
		return v.Time.Format(time.RFC3339)
	case TypeDuration:
		return v.Duration.String()
	case TypeEmail:
		return strings.Join(v.Addresses, ", ")
	default:
		return v.Text
	}
}

// Intent is a structured request plus whatever slots have been extracted so far.
type Intent struct {
	Kind  Kind               `json:"kind"`
	Slots map[SlotName]Value `json:"slots,omitempty"`
	// Notify marks the compound form of create_event that also emails the
	// attendees once the event exists.
	Notify bool `json:"notify,omitempty"`
}

func New(kind Kind) Intent {
	return Intent{Kind: kind, Slots: make(map[SlotName]Value)}
}

// Set stores a slot value. Zero values are ignored so that a failed
// extraction never clears a slot.
func (i *Intent) Set(name SlotName, v Value) {
	if v.IsZero() {
		return
	}
	if i.Slots == nil {
		i.Slots = make(map[SlotName]Value)
	}
	i.Slots[name] = v
}

func (i Intent) Get(name SlotName) (Value, bool) {
	v, ok := i.Slots[name]
	if !ok || v.IsZero() {
		return Value{}, false
	}
	return v, true
}

func (i Intent) Has(name SlotName) bool {
	_, ok := i.Get(name)
	return ok
}

func (i Intent) Text(name SlotName) string {
	v, _ := i.Get(name)
	return v.Text
}

func (i Intent) Clone() Intent {
	out := Intent{Kind: i.Kind, Notify: i.Notify, Slots: make(map[SlotName]Value, len(i.Slots))}
	for k, v := range i.Slots {
		if v.Addresses != nil {
			v.Addresses = append([]string(nil), v.Addresses...)
		}
		out.Slots[k] = v
	}
	return out
}

// Merge overlays newer slot values on a copy of i. The newer value wins for
// any slot present in both.
func (i Intent) Merge(newer Intent) Intent {
	out := i.Clone()
	for k, v := range newer.Slots {
		out.Set(k, v)
	}
	out.Notify = i.Notify || newer.Notify
	return out
}

type SlotStatus string

const (
	Filled  SlotStatus = "filled"
	Missing SlotStatus = "missing"
)

// FillStatus reports the status of each required slot.
func (i Intent) FillStatus(required []SlotName) map[SlotName]SlotStatus {
	out := make(map[SlotName]SlotStatus, len(required))
	for _, name := range required {
		if i.Has(name) {
			out[name] = Filled
		} else {
			out[name] = Missing
		}
	}
	return out
}

// Missing returns the unfilled required slots, preserving the order of required.
func (i Intent) Missing(required []SlotName) []SlotName {
	var out []SlotName
	for _, name := range required {
		if !i.Has(name) {
			out = append(out, name)
		}
	}
	return out
}

func (i Intent) String() string {
	names := make([]string, 0, len(i.Slots))
	for k := range i.Slots {
		names = append(names, string(k))
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s=%s", n, i.Slots[SlotName(n)]))
	}
	return fmt.Sprintf("%s{%s}", i.Kind, strings.Join(parts, " "))
}

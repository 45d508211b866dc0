package compose

import (
	"time"

	"github.com/user/deskmate/internal/dispatch"
	"github.com/user/deskmate/internal/intent"
	"github.com/user/deskmate/internal/session"
)

// Outcome is the resolved result of one turn. Every path through the
// orchestrator ends in exactly one.
type Outcome interface {
	outcome() string
}

// ClarificationNeeded asks the user for the next missing slot.
type ClarificationNeeded struct {
	Question string
}

// ClarificationAmbiguous means the request matched several kinds equally.
type ClarificationAmbiguous struct{}

// ClarificationExhausted means the user did not supply a slot after the
// configured number of re-asks.
type ClarificationExhausted struct{}

// ToolResults reports a plan whose steps all succeeded.
type ToolResults struct {
	Kind     intent.Kind
	Results  []dispatch.ToolResult
	Location *time.Location
}

// ToolFailure reports a plan that stopped at Step. Completed holds the
// results of the steps before it.
type ToolFailure struct {
	Kind       intent.Kind
	Step       int
	Capability string
	Err        error
	Completed  []dispatch.ToolResult
	Location   *time.Location
}

// Chitchat is an utterance that maps to no action.
type Chitchat struct {
	Text  string
	Turns []session.Turn
	Now   time.Time
	// Location is the user's zone, for the chat prompt.
	Location *time.Location
}

// Cancelled means the user abandoned a pending operation.
type Cancelled struct{}

// AudioUnreadable means a voice message could not be transcribed.
type AudioUnreadable struct{}

func (ClarificationNeeded) outcome() string    { return "clarification" }
func (ClarificationAmbiguous) outcome() string { return "ambiguous" }
func (ClarificationExhausted) outcome() string { return "exhausted" }
func (ToolResults) outcome() string            { return "success" }
func (ToolFailure) outcome() string            { return "failure" }
func (Chitchat) outcome() string               { return "chitchat" }
func (Cancelled) outcome() string              { return "cancelled" }
func (AudioUnreadable) outcome() string        { return "audio_unreadable" }

// Label names the outcome for logs and metrics.
func Label(o Outcome) string {
	if o == nil {
		return "none"
	}
	return o.outcome()
}

// FromResults builds the outcome for a dispatched plan. Any failed step
// makes it a ToolFailure.
func FromResults(kind intent.Kind, results []dispatch.ToolResult, loc *time.Location) Outcome {
	for i, r := range results {
		if !r.OK {
			return ToolFailure{
				Kind:       kind,
				Step:       i,
				Capability: r.Capability,
				Err:        r.Err,
				Completed:  results[:i],
				Location:   loc,
			}
		}
	}
	return ToolResults{Kind: kind, Results: results, Location: loc}
}

// Package slots decides whether an intent can run and, when it cannot,
// which single question to ask next.
package slots

import (
	"github.com/user/deskmate/internal/intent"
	"github.com/user/deskmate/internal/session"
)

const retryPrefix = "Sorry, I didn't catch that. "

// Decision is the outcome of reconciling one turn's intent with the
// session's pending operation.
type Decision struct {
	// Ready means Intent has every required slot and may be dispatched.
	Ready  bool
	Intent intent.Intent
	// Question and Slot are set when more information is needed.
	Question string
	Slot     intent.SlotName
	// Exhausted means the same slot went unanswered too many times and the
	// operation was dropped.
	Exhausted bool
	// Pending is the operation to store on the session; nil clears it.
	Pending *session.PendingOperation
}

type Engine struct {
	policy Policy
}

func NewEngine(policy Policy) *Engine {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = DefaultMaxRetries
	}
	return &Engine{policy: policy}
}

func (e *Engine) Policy() Policy { return e.policy }

// Reconcile merges in with pending when both are the same kind, newer
// slot values winning, and reports what should happen next. A pending
// operation of another kind is ignored and replaced.
func (e *Engine) Reconcile(in intent.Intent, pending *session.PendingOperation) Decision {
	merged := in.Clone()
	samePending := pending != nil && pending.Intent.Kind == in.Kind
	if samePending {
		merged = pending.Intent.Merge(in)
	}

	missing := merged.Missing(e.policy.Required(merged))
	if len(missing) == 0 {
		return Decision{Ready: true, Intent: merged}
	}

	next := missing[0]
	retries := 0
	if samePending && pending.Slot == next {
		retries = pending.Retries + 1
	}
	if retries >= e.policy.MaxRetries {
		return Decision{Intent: merged, Slot: next, Exhausted: true}
	}

	question := e.policy.Question(next)
	if retries > 0 {
		question = retryPrefix + question
	}
	return Decision{
		Intent:   merged,
		Question: question,
		Slot:     next,
		Pending: &session.PendingOperation{
			Intent:   merged,
			Slot:     next,
			Question: question,
			Retries:  retries,
		},
	}
}

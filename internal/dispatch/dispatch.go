// Package dispatch turns a ready intent into an ordered plan of capability
// calls and runs it, stopping at the first failure.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/deskmate/internal/adapters"
	"github.com/user/deskmate/internal/intent"
	"github.com/user/deskmate/internal/runtime/tools"
	"github.com/user/deskmate/internal/types"
)

const DefaultStepTimeout = 30 * time.Second

// ToolCall is one planned step. It exists only for the duration of a turn.
type ToolCall struct {
	Capability string
	Args       tools.Args
	Attempt    int
}

// ToolResult is the outcome of one step.
type ToolResult struct {
	Capability string
	OK         bool
	Payload    tools.Payload
	Err        error
	Elapsed    time.Duration
}

// Kind reports the failure kind, or "" for a success.
func (r ToolResult) Kind() adapters.Kind {
	if r.OK {
		return ""
	}
	return adapters.Classify(r.Err)
}

// Observer is notified after every step. Metrics hook in here.
type Observer func(r ToolResult)

// Plan returns the ordered capabilities for a kind.
func Plan(in intent.Intent) []string {
	switch in.Kind {
	case intent.CreateEvent:
		if in.Notify {
			return []string{tools.CalendarCreate, tools.EmailSend}
		}
		return []string{tools.CalendarCreate}
	case intent.ListEvents:
		return []string{tools.CalendarList}
	case intent.SendEmail:
		return []string{tools.EmailSend}
	case intent.ReadInbox:
		return []string{tools.EmailInbox}
	case intent.DraftEmail:
		return []string{tools.EmailDraft}
	case intent.GenerateImage:
		return []string{tools.ImageGenerate}
	case intent.EditImage:
		return []string{tools.ImageEdit}
	case intent.Reminder:
		return []string{tools.ReminderSchedule}
	default:
		return nil
	}
}

type Dispatcher struct {
	registry    *tools.Registry
	stepTimeout time.Duration
	observe     Observer
}

// New creates a Dispatcher. A zero stepTimeout means DefaultStepTimeout.
func New(registry *tools.Registry, stepTimeout time.Duration, observe Observer) *Dispatcher {
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}
	return &Dispatcher{registry: registry, stepTimeout: stepTimeout, observe: observe}
}

// Request carries the per-turn context a plan runs with.
type Request struct {
	UserID   types.UserID
	RunID    types.RunID
	Location *time.Location
	Now      time.Time
}

// Execute runs the plan for a ready intent. It returns one result per step
// that ran; when a step fails, later steps are not attempted and the last
// result is the failure. Execute never returns an error: every failure is
// reported as a result.
func (d *Dispatcher) Execute(ctx context.Context, ready intent.Intent, req Request) []ToolResult {
	plan := Plan(ready)
	results := make([]ToolResult, 0, len(plan))
	var prior []tools.Payload

	for _, name := range plan {
		call := ToolCall{
			Capability: name,
			Args: tools.Args{
				UserID:   req.UserID,
				RunID:    req.RunID,
				Intent:   ready,
				Location: req.Location,
				Now:      req.Now,
				Prior:    prior,
			},
			Attempt: 1,
		}
		res := d.run(ctx, call)
		results = append(results, res)
		if d.observe != nil {
			d.observe(res)
		}
		if !res.OK {
			logFailure(req.UserID, res)
			break
		}
		prior = append(prior, res.Payload)
	}
	return results
}

func (d *Dispatcher) run(ctx context.Context, call ToolCall) ToolResult {
	capability, ok := d.registry.Get(call.Capability)
	if !ok {
		return ToolResult{
			Capability: call.Capability,
			Err:        adapters.NewError(adapters.KindNotConfigured, call.Capability, "", nil),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.stepTimeout)
	defer cancel()

	started := time.Now()
	payload, err := capability.Execute(ctx, call.Args)
	elapsed := time.Since(started)
	if err == nil && ctx.Err() != nil {
		// The capability ignored its deadline; its result arrived too late.
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && adapters.Classify(err) != adapters.KindTimeout {
			err = adapters.NewError(adapters.KindTimeout, call.Capability, "", err)
		}
		return ToolResult{Capability: call.Capability, Err: fmt.Errorf("%s: %w", call.Capability, err), Elapsed: elapsed}
	}
	return ToolResult{Capability: call.Capability, OK: true, Payload: payload, Elapsed: elapsed}
}

func logFailure(userID types.UserID, res ToolResult) {
	kind := res.Kind()
	switch kind {
	case adapters.KindRemote, adapters.KindTimeout, adapters.KindNotConfigured:
		slog.Error("capability failed", "user_id", userID, "capability", res.Capability, "kind", kind, "error", res.Err)
	default:
		slog.Warn("capability failed", "user_id", userID, "capability", res.Capability, "kind", kind, "error", res.Err)
	}
}

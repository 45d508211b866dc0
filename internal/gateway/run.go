package gateway

import (
	"context"
	"time"

	"github.com/user/deskmate/internal/types"
)

type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one inbound turn waiting in, or moving through, a user's lane.
type Run struct {
	ID        types.RunID
	UserID    types.UserID
	Event     *types.InboundEvent
	Status    RunStatus
	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time
	Error     error
	// Ctx is set by the queue before the processor runs.
	Ctx context.Context
	// OnComplete receives the reply. It is called exactly once, also when
	// the processor fails.
	OnComplete func(reply types.Reply)
}

func NewRun(event *types.InboundEvent) *Run {
	return &Run{
		ID:        types.NewRunID(),
		UserID:    event.UserID,
		Event:     event,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
	}
}

func (r *Run) complete(reply types.Reply) {
	if r.OnComplete != nil {
		r.OnComplete(reply)
	}
}

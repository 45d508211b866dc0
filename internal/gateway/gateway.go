// Package gateway serializes inbound turns per user and bounds how many
// run at once.
package gateway

import (
	"context"
	"fmt"

	"github.com/user/deskmate/internal/types"
)

const DefaultConcurrency = 4

// Gateway wraps inbound events in runs and enqueues them on the queue.
type Gateway struct {
	Queue *Queue

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway allowing maxConcurrent turns at once across users.
func New(maxConcurrent int64) *Gateway {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultConcurrency
	}
	return &Gateway{Queue: NewQueue(maxConcurrent)}
}

func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
}

type RunOption func(*Run)

// WithOnComplete sets the callback that receives the run's reply.
func WithOnComplete(fn func(types.Reply)) RunOption {
	return func(r *Run) { r.OnComplete = fn }
}

// HandleInbound enqueues the event on its user's lane and returns
// immediately. The reply arrives through WithOnComplete.
func (g *Gateway) HandleInbound(_ context.Context, event *types.InboundEvent, opts ...RunOption) error {
	if event.UserID == "" {
		return fmt.Errorf("handle inbound: empty user id")
	}
	run := NewRun(event)
	for _, opt := range opts {
		opt(run)
	}
	return g.Queue.Enqueue(run)
}

// Ask enqueues the event and waits for its reply or for ctx to end.
func (g *Gateway) Ask(ctx context.Context, event *types.InboundEvent) (types.Reply, error) {
	done := make(chan types.Reply, 1)
	err := g.HandleInbound(ctx, event, WithOnComplete(func(r types.Reply) { done <- r }))
	if err != nil {
		return types.Reply{}, err
	}
	select {
	case reply := <-done:
		return reply, nil
	case <-ctx.Done():
		return types.Reply{}, fmt.Errorf("wait for reply: %w", ctx.Err())
	}
}

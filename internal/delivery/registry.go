// Package delivery pushes messages to users outside of a turn, routed by
// the transport prefix of the user id.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/user/deskmate/internal/types"
)

// Handler delivers a reply to one user.
type Handler func(ctx context.Context, userID types.UserID, reply types.Reply) error

// Registry routes messages to the appropriate delivery handler based on
// user id prefix (e.g. "telegram:", "http:").
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for user ids starting with prefix. The longest
// matching prefix wins.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

func (r *Registry) Deliver(ctx context.Context, userID types.UserID, reply types.Reply) error {
	r.mu.RLock()
	var (
		best    string
		handler Handler
	)
	for prefix, h := range r.handlers {
		if strings.HasPrefix(string(userID), prefix) && len(prefix) >= len(best) {
			best, handler = prefix, h
		}
	}
	r.mu.RUnlock()

	if handler == nil {
		return fmt.Errorf("no delivery handler for user: %s", userID)
	}
	if err := handler(ctx, userID, reply); err != nil {
		return fmt.Errorf("deliver to %s: %w", userID, err)
	}
	return nil
}

// JournalHandler records the reply in the user's event journal. Transports
// without a push channel pick it up from there.
func JournalHandler(events types.EventStore) Handler {
	return func(ctx context.Context, userID types.UserID, reply types.Reply) error {
		payload, err := json.Marshal(map[string]string{"text": reply.Text})
		if err != nil {
			return err
		}
		return events.Append(ctx, &types.Event{
			UserID:  userID,
			Type:    types.EventAgentMessage,
			Source:  "delivery",
			At:      time.Now(),
			Payload: payload,
		})
	}
}

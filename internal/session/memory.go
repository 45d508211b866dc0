package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/user/deskmate/internal/types"
)

// MemoryBackend keeps encoded sessions in a map. Values are stored
// encoded so callers never share a session value.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[types.UserID][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[types.UserID][]byte)}
}

func (m *MemoryBackend) Load(_ context.Context, userID types.UserID) (*ConversationSession, error) {
	m.mu.RLock()
	raw, ok := m.data[userID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(raw)
}

func (m *MemoryBackend) Save(_ context.Context, sess *ConversationSession) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	m.mu.Lock()
	m.data[sess.UserID] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, userID types.UserID) error {
	m.mu.Lock()
	delete(m.data, userID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) List(_ context.Context) ([]*ConversationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ConversationSession, 0, len(m.data))
	for _, raw := range m.data {
		sess, err := decode(raw)
		if err != nil {
			continue
		}
		out = append(out, sess)
	}
	sortSessions(out)
	return out, nil
}

func decode(raw []byte) (*ConversationSession, error) {
	var sess ConversationSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if sess.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrCorrupt)
	}
	return &sess, nil
}

func sortSessions(sessions []*ConversationSession) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UserID < sessions[j].UserID
	})
}

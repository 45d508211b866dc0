package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/deskmate/internal/types"
)

const (
	DefaultWindow      = 20
	DefaultIdleTimeout = 24 * time.Hour
)

type Options struct {
	// Window bounds the number of turns kept per session.
	Window      int
	IdleTimeout time.Duration
	// TimeZone is assigned to newly created sessions.
	TimeZone string
	Now      func() time.Time
}

// Store owns every ConversationSession. Callers serialize work on a user
// with Lock and pass the session value explicitly through each step.
type Store struct {
	backend Backend
	opts    Options

	mu    sync.Mutex
	locks map[types.UserID]*userLock
}

// userLock is dropped from Store.locks once nobody holds or waits on it,
// so the map only grows with users that have work in flight.
type userLock struct {
	sync.Mutex
	refs int
}

func NewStore(backend Backend, opts Options) *Store {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		backend: backend,
		opts:    opts,
		locks:   make(map[types.UserID]*userLock),
	}
}

func (s *Store) IdleTimeout() time.Duration { return s.opts.IdleTimeout }

func (s *Store) acquire(userID types.UserID) *userLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[userID]
	if !ok {
		lock = &userLock{}
		s.locks[userID] = lock
	}
	lock.refs++
	return lock
}

func (s *Store) release(userID types.UserID, lock *userLock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, userID)
	}
}

// Lock blocks until the caller holds the user's session and returns the
// matching unlock function.
func (s *Store) Lock(userID types.UserID) (unlock func()) {
	lock := s.acquire(userID)
	lock.Lock()
	return func() {
		lock.Unlock()
		s.release(userID, lock)
	}
}

// tryLock is Lock without waiting; ok is false when someone holds the user.
func (s *Store) tryLock(userID types.UserID) (unlock func(), ok bool) {
	lock := s.acquire(userID)
	if !lock.TryLock() {
		s.release(userID, lock)
		return nil, false
	}
	return func() {
		lock.Unlock()
		s.release(userID, lock)
	}, true
}

// GetOrCreate loads the user's session or starts a fresh one. Unreadable
// state is logged and replaced; it never reaches the caller.
func (s *Store) GetOrCreate(ctx context.Context, userID types.UserID) *ConversationSession {
	sess, err := s.backend.Load(ctx, userID)
	switch {
	case err == nil && sess != nil:
		return sess
	case err == nil, errors.Is(err, ErrNotFound):
	case errors.Is(err, ErrCorrupt):
		slog.Warn("discarding corrupt session", "user_id", userID, "error", err)
		if derr := s.backend.Delete(ctx, userID); derr != nil {
			slog.Warn("delete corrupt session", "user_id", userID, "error", derr)
		}
	default:
		slog.Warn("session load failed, starting fresh", "user_id", userID, "error", err)
	}

	now := s.opts.Now()
	return &ConversationSession{
		UserID:    userID,
		TimeZone:  s.opts.TimeZone,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendTurn adds a turn and drops the oldest turns beyond the window.
func (s *Store) AppendTurn(sess *ConversationSession, turn Turn) {
	if turn.At.IsZero() {
		turn.At = s.opts.Now()
	}
	sess.Turns = append(sess.Turns, turn)
	if over := len(sess.Turns) - s.opts.Window; over > 0 {
		kept := make([]Turn, s.opts.Window)
		copy(kept, sess.Turns[over:])
		sess.Turns = kept
	}
	sess.UpdatedAt = turn.At
}

// SetPending replaces the session's pending operation; nil clears it.
func (s *Store) SetPending(sess *ConversationSession, op *PendingOperation) {
	sess.Pending = op
}

func (s *Store) Save(ctx context.Context, sess *ConversationSession) error {
	sess.UpdatedAt = s.opts.Now()
	if err := s.backend.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session %s: %w", sess.UserID, err)
	}
	return nil
}

// Reset forgets everything stored for the user.
func (s *Store) Reset(ctx context.Context, userID types.UserID) error {
	unlock := s.Lock(userID)
	defer unlock()

	if err := s.backend.Delete(ctx, userID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("reset session %s: %w", userID, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]*ConversationSession, error) {
	sessions, err := s.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Get returns the stored session without creating one.
func (s *Store) Get(ctx context.Context, userID types.UserID) (*ConversationSession, error) {
	return s.backend.Load(ctx, userID)
}

// EvictIdle deletes sessions whose last update is older than the idle
// timeout and reports how many were removed. Sessions with a turn in
// flight are skipped, and each candidate is re-read under its lock so a
// turn that finished after the listing keeps its session.
func (s *Store) EvictIdle(ctx context.Context, now time.Time) (int, error) {
	sessions, err := s.backend.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	cutoff := now.Add(-s.opts.IdleTimeout)
	evicted := 0
	for _, listed := range sessions {
		if !listed.UpdatedAt.Before(cutoff) {
			continue
		}
		ok, err := s.evictIfIdle(ctx, listed.UserID, cutoff)
		if err != nil {
			return evicted, err
		}
		if ok {
			evicted++
		}
	}
	return evicted, nil
}

func (s *Store) evictIfIdle(ctx context.Context, userID types.UserID, cutoff time.Time) (bool, error) {
	unlock, ok := s.tryLock(userID)
	if !ok {
		return false, nil
	}
	defer unlock()

	current, err := s.backend.Load(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case errors.Is(err, ErrCorrupt):
		// Unreadable state is dropped like an idle session.
	case err != nil:
		return false, fmt.Errorf("reload session %s: %w", userID, err)
	case !current.UpdatedAt.Before(cutoff):
		return false, nil
	}

	if err := s.backend.Delete(ctx, userID); err != nil && !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("evict session %s: %w", userID, err)
	}
	slog.Debug("evicted idle session", "user_id", userID)
	return true, nil
}

// Package scheduler owns everything that runs outside a user turn: one-shot
// reminders and periodic housekeeping jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/deskmate/internal/adapters"
	"github.com/user/deskmate/internal/metrics"
	"github.com/user/deskmate/internal/session"
	"github.com/user/deskmate/internal/state"
	"github.com/user/deskmate/internal/types"
)

const (
	// SyncSpec picks up reminders added to the store by another process.
	SyncSpec = "@every 1m"
	// SweepSpec drives idle session eviction.
	SweepSpec = "@every 10m"

	deliverTimeout = 30 * time.Second
	reminderPrefix = "Reminder: "
)

// Deliverer pushes a reply to a user outside of a turn.
type Deliverer interface {
	Deliver(ctx context.Context, userID types.UserID, reply types.Reply) error
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// once fires a single time at at. cron never runs an entry whose next time
// is zero.
type once struct {
	at time.Time
}

func (o once) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

type job struct {
	name string
	spec string
	fn   func()
}

// Scheduler fires reminders from the reminder store and runs periodic jobs.
// It implements adapters.Reminders.
type Scheduler struct {
	store   *state.ReminderStore
	deliver Deliverer
	now     func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[types.ReminderID]cron.EntryID
	jobs    []job
	wg      sync.WaitGroup
}

var _ adapters.Reminders = (*Scheduler)(nil)

func New(store *state.ReminderStore, deliver Deliverer) *Scheduler {
	return &Scheduler{
		store:   store,
		deliver: deliver,
		now:     time.Now,
		cron:    cron.New(cron.WithParser(cronParser)),
		entries: make(map[types.ReminderID]cron.EntryID),
	}
}

// Every registers a periodic job. Jobs added after Start run from the next
// Reload.
func (s *Scheduler) Every(name, spec string, fn func()) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job{name: name, spec: spec, fn: fn})
	return nil
}

// Start registers pending reminders and periodic jobs, then starts the cron
// ticker. Reminders that came due while the process was down fire at once.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	for _, j := range s.jobs {
		j := j
		if _, err := s.cron.AddFunc(j.spec, func() {
			slog.Debug("cron firing job", "name", j.name)
			j.fn()
		}); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
		slog.Info("scheduled job", "name", j.name, "schedule", j.spec)
	}
	if _, err := s.cron.AddFunc(SyncSpec, func() {
		if err := s.Sync(); err != nil {
			slog.Warn("reminder sync failed", "error", err)
		}
	}); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("schedule reminder sync: %w", err)
	}
	s.mu.Unlock()

	if err := s.Sync(); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Sync schedules every pending reminder that has no cron entry yet and
// disarms entries whose reminder was delivered or removed from the store.
func (s *Scheduler) Sync() error {
	pending, err := s.store.Pending()
	if err != nil {
		return fmt.Errorf("load reminders: %w", err)
	}
	live := make(map[types.ReminderID]bool, len(pending))
	for _, r := range pending {
		live[r.ID] = true
	}
	s.mu.Lock()
	for id, entry := range s.entries {
		if live[id] {
			continue
		}
		if entry != 0 {
			s.cron.Remove(entry)
		}
		delete(s.entries, id)
	}
	s.mu.Unlock()

	for _, r := range pending {
		s.add(r)
	}
	return nil
}

// Schedule stores a reminder and arms it.
func (s *Scheduler) Schedule(ctx context.Context, r adapters.Reminder) (adapters.ReminderRef, error) {
	if r.UserID == "" || r.Text == "" {
		return adapters.ReminderRef{}, adapters.NewError(adapters.KindValidation, "reminder.schedule", "a reminder needs a user and a message", nil)
	}
	if !r.At.After(s.now()) {
		return adapters.ReminderRef{}, adapters.NewError(adapters.KindValidation, "reminder.schedule", "that time has already passed", nil)
	}
	rem := &state.Reminder{UserID: r.UserID, Text: r.Text, At: r.At}
	if err := s.store.Add(rem); err != nil {
		return adapters.ReminderRef{}, adapters.NewError(adapters.KindRemote, "reminder.schedule", "", err)
	}
	s.add(rem)
	slog.Info("reminder scheduled", "id", rem.ID, "user_id", rem.UserID, "at", rem.At)
	return adapters.ReminderRef{ID: string(rem.ID), At: rem.At}, nil
}

// Cancel disarms and forgets a reminder.
func (s *Scheduler) Cancel(id types.ReminderID) error {
	s.mu.Lock()
	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	s.mu.Unlock()
	return s.store.Remove(id)
}

func (s *Scheduler) add(r *state.Reminder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[r.ID]; ok {
		return
	}
	rem := *r
	if !rem.At.After(s.now()) {
		// Overdue: mark it armed and fire outside the lock.
		s.entries[rem.ID] = 0
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.fire(rem)
		}()
		return
	}
	s.entries[rem.ID] = s.cron.Schedule(once{at: rem.At}, cron.FuncJob(func() {
		s.fire(rem)
	}))
}

func (s *Scheduler) fire(r state.Reminder) {
	s.mu.Lock()
	if entry, ok := s.entries[r.ID]; ok && entry != 0 {
		s.cron.Remove(entry)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	slog.Info("reminder firing", "id", r.ID, "user_id", r.UserID, "due", r.At)
	if err := s.deliver.Deliver(ctx, r.UserID, types.Reply{Text: reminderPrefix + r.Text}); err != nil {
		slog.Error("reminder delivery failed", "id", r.ID, "user_id", r.UserID, "error", err)
		// Leave it pending so the next sync retries.
		s.mu.Lock()
		delete(s.entries, r.ID)
		s.mu.Unlock()
		return
	}
	if err := s.store.MarkDelivered(r.ID); err != nil && !errors.Is(err, state.ErrReminderNotFound) {
		slog.Error("mark reminder delivered", "id", r.ID, "error", err)
	}
}

// Reload stops the existing cron, creates a new one, and calls Start() again.
func (s *Scheduler) Reload() error {
	s.Stop()
	s.mu.Lock()
	s.cron = cron.New(cron.WithParser(cronParser))
	s.entries = make(map[types.ReminderID]cron.EntryID)
	s.mu.Unlock()
	return s.Start()
}

// Stop stops the cron ticker and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// IdleSweep returns a job that evicts idle sessions and counts them.
func IdleSweep(sessions *session.Store, m *metrics.Metrics) func() {
	return func() {
		n, err := sessions.EvictIdle(context.Background(), time.Now())
		if err != nil {
			slog.Warn("idle session sweep failed", "error", err)
		}
		if n > 0 {
			slog.Info("evicted idle sessions", "count", n)
		}
		m.Evicted(n)
	}
}

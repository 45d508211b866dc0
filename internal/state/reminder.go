package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/deskmate/internal/types"
)

var ErrReminderNotFound = errors.New("reminder not found")

// Reminder is a one-shot message scheduled for a user.
type Reminder struct {
	ID        types.ReminderID `json:"id"`
	UserID    types.UserID     `json:"user_id"`
	Text      string           `json:"text"`
	At        time.Time        `json:"at"`
	CreatedAt time.Time        `json:"created_at"`
	Delivered bool             `json:"delivered,omitempty"`
}

// ReminderStore is a JSON-file-backed list of reminders.
type ReminderStore struct {
	path string
	mu   sync.RWMutex
}

func NewReminderStore(path string) *ReminderStore {
	return &ReminderStore{path: path}
}

func (s *ReminderStore) Path() string {
	return s.path
}

// List returns every reminder ordered by due time.
func (s *ReminderStore) List() ([]*Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reminders, err := s.load()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(reminders, func(i, j int) bool {
		return reminders[i].At.Before(reminders[j].At)
	})
	if reminders == nil {
		return []*Reminder{}, nil
	}
	return reminders, nil
}

// Pending returns undelivered reminders ordered by due time.
func (s *ReminderStore) Pending() ([]*Reminder, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if !r.Delivered {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *ReminderStore) Get(id types.ReminderID) (*Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reminders, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, r := range reminders {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrReminderNotFound, id)
}

// Add stores r, assigning an ID and creation time when missing.
func (s *ReminderStore) Add(r *Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminders, err := s.load()
	if err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = types.NewReminderID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	for _, existing := range reminders {
		if existing.ID == r.ID {
			return fmt.Errorf("reminder already exists: %s", r.ID)
		}
	}
	return s.save(append(reminders, r))
}

func (s *ReminderStore) Remove(id types.ReminderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminders, err := s.load()
	if err != nil {
		return err
	}
	for i, r := range reminders {
		if r.ID == id {
			reminders = append(reminders[:i], reminders[i+1:]...)
			return s.save(reminders)
		}
	}
	return fmt.Errorf("%w: %s", ErrReminderNotFound, id)
}

func (s *ReminderStore) MarkDelivered(id types.ReminderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminders, err := s.load()
	if err != nil {
		return err
	}
	for _, r := range reminders {
		if r.ID == id {
			r.Delivered = true
			return s.save(reminders)
		}
	}
	return fmt.Errorf("%w: %s", ErrReminderNotFound, id)
}

func (s *ReminderStore) load() ([]*Reminder, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read reminders file: %w", err)
	}

	var reminders []*Reminder
	if err := json.Unmarshal(data, &reminders); err != nil {
		return nil, fmt.Errorf("unmarshal reminders: %w", err)
	}
	return reminders, nil
}

func (s *ReminderStore) save(reminders []*Reminder) error {
	data, err := json.MarshalIndent(reminders, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal reminders: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create reminders dir: %w", err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return fmt.Errorf("write reminders file: %w", err)
	}
	return nil
}

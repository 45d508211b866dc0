package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/deskmate/internal/types"
)

// maxLine bounds a single journal record. Payloads never carry binaries.
const maxLine = 1 << 20

// EventStore is the append-only turn journal, one JSONL file per user at
// journal/<user>/events.jsonl.
type EventStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.UserID]*sync.Mutex
	seqs  map[types.UserID]int64
}

func NewEventStore(root string) *EventStore {
	return &EventStore{
		root:  root,
		locks: make(map[types.UserID]*sync.Mutex),
		seqs:  make(map[types.UserID]int64),
	}
}

func (e *EventStore) getLock(userID types.UserID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lock, ok := e.locks[userID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	e.locks[userID] = lock
	return lock
}

func (e *EventStore) eventsPath(userID types.UserID) string {
	return filepath.Join(e.root, "journal", url.PathEscape(string(userID)), "events.jsonl")
}

// scan calls fn for every record in the user's journal. Caller must hold
// the user lock.
func (e *EventStore) scan(userID types.UserID, fn func(line []byte) error) error {
	f, err := os.Open(e.eventsPath(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan journal: %w", err)
	}
	return nil
}

// lastSeq returns the highest sequence number written for the user, reading
// the file once per process. Caller must hold the user lock.
func (e *EventStore) lastSeq(userID types.UserID) (int64, error) {
	e.mu.Lock()
	seq, ok := e.seqs[userID]
	e.mu.Unlock()
	if ok {
		return seq, nil
	}

	var n int64
	err := e.scan(userID, func([]byte) error {
		n++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Append writes an event to the user's journal and assigns its sequence
// number, ID and timestamp when missing.
func (e *EventStore) Append(_ context.Context, event *types.Event) error {
	if event.UserID == "" {
		return fmt.Errorf("append event: empty user id")
	}
	lock := e.getLock(event.UserID)
	lock.Lock()
	defer lock.Unlock()

	path := e.eventsPath(event.UserID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	seq, err := e.lastSeq(event.UserID)
	if err != nil {
		return err
	}
	event.Seq = seq + 1
	if event.ID == "" {
		event.ID = types.NewEventID()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	e.mu.Lock()
	e.seqs[event.UserID] = event.Seq
	e.mu.Unlock()
	return nil
}

// Tail returns the last limit events for the user, oldest first. A limit
// of zero or less returns the whole journal.
func (e *EventStore) Tail(_ context.Context, userID types.UserID, limit int) ([]*types.Event, error) {
	lock := e.getLock(userID)
	lock.Lock()
	defer lock.Unlock()

	var events []*types.Event
	err := e.scan(userID, func(line []byte) error {
		var event types.Event
		if err := json.Unmarshal(line, &event); err != nil {
			return fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, &event)
		if limit > 0 && len(events) > limit {
			events = events[1:]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (e *EventStore) Count(_ context.Context, userID types.UserID) (int64, error) {
	lock := e.getLock(userID)
	lock.Lock()
	defer lock.Unlock()

	return e.lastSeq(userID)
}

// Reset removes the user's journal.
func (e *EventStore) Reset(_ context.Context, userID types.UserID) error {
	lock := e.getLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(filepath.Dir(e.eventsPath(userID))); err != nil {
		return fmt.Errorf("remove journal: %w", err)
	}
	e.mu.Lock()
	delete(e.seqs, userID)
	e.mu.Unlock()
	return nil
}

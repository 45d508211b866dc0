package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/deskmate/internal/adapters"
	"github.com/user/deskmate/internal/types"
)

type fakeCalendar struct {
	created   []adapters.NewEvent
	lastRange adapters.Range
	events    []adapters.EventRef
	err       error
}

func (f *fakeCalendar) CreateEvent(_ context.Context, ev adapters.NewEvent) (adapters.EventRef, error) {
	if f.err != nil {
		return adapters.EventRef{}, f.err
	}
	f.created = append(f.created, ev)
	return adapters.EventRef{ID: "ev1", Link: "https://cal.example/ev1"}, nil
}

func (f *fakeCalendar) ListEvents(_ context.Context, r adapters.Range) ([]adapters.EventRef, error) {
	f.lastRange = r
	return f.events, f.err
}

type fakeEmail struct {
	sent   []adapters.Message
	drafts []adapters.Message
	filter adapters.InboxFilter
	err    error
}

func (f *fakeEmail) Send(_ context.Context, msg adapters.Message) (adapters.DeliveryRef, error) {
	if f.err != nil {
		return adapters.DeliveryRef{}, f.err
	}
	f.sent = append(f.sent, msg)
	return adapters.DeliveryRef{ID: fmt.Sprintf("m%d", len(f.sent))}, nil
}

func (f *fakeEmail) ListInbox(_ context.Context, filter adapters.InboxFilter) ([]adapters.MessageRef, error) {
	f.filter = filter
	return nil, f.err
}

func (f *fakeEmail) CreateDraft(_ context.Context, msg adapters.Message) (adapters.DraftRef, error) {
	f.drafts = append(f.drafts, msg)
	return adapters.DraftRef{ID: "d1"}, f.err
}

type fakeImage struct {
	edited adapters.ImageRef
}

func (f *fakeImage) Generate(_ context.Context, prompt, style string) (adapters.ImageRef, error) {
	return adapters.ImageRef{MimeType: "image/png", Data: []byte("png:" + prompt + ":" + style)}, nil
}

func (f *fakeImage) Edit(_ context.Context, img adapters.ImageRef, instruction string) (adapters.ImageRef, error) {
	f.edited = img
	return adapters.ImageRef{MimeType: "image/png", Data: append(append([]byte{}, img.Data...), []byte("+"+instruction)...)}, nil
}

type fakeReminders struct {
	scheduled []adapters.Reminder
}

func (f *fakeReminders) Schedule(_ context.Context, r adapters.Reminder) (adapters.ReminderRef, error) {
	f.scheduled = append(f.scheduled, r)
	return adapters.ReminderRef{ID: "r1", At: r.At}, nil
}

type memArtifacts struct {
	mu    sync.Mutex
	data  map[types.ArtifactID][]byte
	metas map[types.ArtifactID]*types.ArtifactMeta
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{data: map[types.ArtifactID][]byte{}, metas: map[types.ArtifactID]*types.ArtifactMeta{}}
}

func (m *memArtifacts) Put(_ context.Context, userID types.UserID, runID types.RunID, tool, mimeType string, data []byte) (types.ArtifactID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := types.NewArtifactID()
	m.data[id] = data
	m.metas[id] = &types.ArtifactMeta{ID: id, UserID: userID, RunID: runID, Tool: tool, MimeType: mimeType, CreatedAt: time.Now()}
	return id, nil
}

func (m *memArtifacts) Get(_ context.Context, id types.ArtifactID) ([]byte, *types.ArtifactMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[id]
	if !ok {
		return nil, nil, fmt.Errorf("artifact not found: %s", id)
	}
	return data, m.metas[id], nil
}

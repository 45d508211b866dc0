package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/deskmate/internal/gateway"
	"github.com/user/deskmate/internal/intent"
	"github.com/user/deskmate/internal/metrics"
	"github.com/user/deskmate/internal/session"
	"github.com/user/deskmate/internal/state"
	"github.com/user/deskmate/internal/types"
)

type fakeAsker struct {
	mu     sync.Mutex
	events []*types.InboundEvent
	reply  types.Reply
	err    error
	block  bool
}

func (f *fakeAsker) Ask(ctx context.Context, event *types.InboundEvent) (types.Reply, error) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return types.Reply{}, fmt.Errorf("wait for reply: %w", ctx.Err())
	}
	return f.reply, f.err
}

func (f *fakeAsker) last(t *testing.T) *types.InboundEvent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.events)
	return f.events[len(f.events)-1]
}

type fixture struct {
	server    *Server
	asker     *fakeAsker
	sessions  *session.Store
	events    *state.EventStore
	artifacts *state.ArtifactStore
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		asker:     &fakeAsker{reply: types.Reply{Text: "ok"}},
		sessions:  session.NewStore(session.NewMemoryBackend(), session.Options{}),
		events:    state.NewEventStore(dir),
		artifacts: state.NewArtifactStore(dir),
	}
	f.server = NewServer(f.asker, f.sessions, f.events, f.artifacts, opts)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusCreated, map[string]string{"foo": "bar"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"foo":"bar"}`, w.Body.String())
}

func TestPostMessage(t *testing.T) {
	f := newFixture(t, Options{})
	f.asker.reply = types.Reply{
		Text:   "Here's your image.",
		Images: []types.ReplyImage{{ArtifactID: "a1", MimeType: "image/png", Data: []byte("png")}},
	}

	w := f.do(t, http.MethodPost, "/message", messageRequest{UserID: "alice", Text: "draw a cat"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp messageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, types.UserID("http:alice"), resp.UserID)
	assert.Equal(t, "Here's your image.", resp.Text)
	require.Len(t, resp.Images, 1)
	assert.Equal(t, types.ArtifactID("a1"), resp.Images[0].ArtifactID)

	ev := f.asker.last(t)
	assert.Equal(t, Source, ev.Source)
	assert.Equal(t, "draw a cat", ev.Text)
	assert.Nil(t, ev.Image)
}

func TestPostMessageWithImage(t *testing.T) {
	f := newFixture(t, Options{})
	img := []byte("\x89PNG\r\n\x1a\npixels")

	w := f.do(t, http.MethodPost, "/message", messageRequest{UserID: "bob", Text: "make it blue", Image: img})
	require.Equal(t, http.StatusOK, w.Code)

	ev := f.asker.last(t)
	require.NotNil(t, ev.Image)
	assert.Equal(t, img, ev.Image.Data)
	assert.Equal(t, "image/png", ev.Image.MimeType)
}

func TestPostMessageValidation(t *testing.T) {
	f := newFixture(t, Options{})

	tests := []struct {
		name string
		body any
		want string
	}{
		{"invalid json", "{not json", "invalid JSON"},
		{"missing user", messageRequest{Text: "hi"}, "user_id is required"},
		{"empty message", messageRequest{UserID: "alice", Text: "  "}, "text or image is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/message", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
	assert.Empty(t, f.asker.events)
}

func TestPostMessageErrors(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		f := newFixture(t, Options{ReplyTimeout: 20 * time.Millisecond})
		f.asker.block = true
		w := f.do(t, http.MethodPost, "/message", messageRequest{UserID: "alice", Text: "hi"})
		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	})
	t.Run("stopped", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.asker.err = gateway.ErrQueueStopped
		w := f.do(t, http.MethodPost, "/message", messageRequest{UserID: "alice", Text: "hi"})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
	t.Run("internal", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.asker.err = errors.New("boom")
		w := f.do(t, http.MethodPost, "/message", messageRequest{UserID: "alice", Text: "hi"})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "boom")
	})
}

func TestPostAudioMessage(t *testing.T) {
	f := newFixture(t, Options{})
	f.asker.reply = types.Reply{Text: "Done.", Audio: &types.Audio{Data: []byte("OggS"), Format: "ogg"}}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("user_id", "carol"))
	part, err := mw.CreateFormFile("audio", "note.MP3")
	require.NoError(t, err)
	_, err = part.Write([]byte("ID3-audio"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/message/audio", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	ev := f.asker.last(t)
	assert.Equal(t, types.UserID("http:carol"), ev.UserID)
	require.NotNil(t, ev.Audio)
	assert.Equal(t, "mp3", ev.Audio.Format)
	assert.Equal(t, []byte("ID3-audio"), ev.Audio.Data)
	assert.True(t, ev.RequestsAudioReply)

	var resp messageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []byte("OggS"), resp.Audio)
	assert.Equal(t, "ogg", resp.AudioFormat)
}

func TestPostAudioMessageRequiresFile(t *testing.T) {
	f := newFixture(t, Options{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("user_id", "carol"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/message/audio", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "audio file is required")
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Options{Checks: map[string]Check{
		"sessions": func(context.Context) error { return nil },
	}})
	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","checks":{"api":"ok","sessions":"ok"}}`, w.Body.String())

	f = newFixture(t, Options{Checks: map[string]Check{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}})
	w = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"degraded"`)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, Options{})
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/metrics", nil).Code)

	m := metrics.New()
	m.Turn("completed")
	f = newFixture(t, Options{Metrics: m})
	w := f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "deskmate_turns_total")
}

func TestSessionsAPI(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	sess := f.sessions.GetOrCreate(ctx, "http:alice")
	f.sessions.AppendTurn(sess, session.Turn{Role: session.RoleUser, Text: "schedule a meeting", At: time.Now()})
	f.sessions.SetPending(sess, &session.PendingOperation{
		Intent:   intent.Intent{Kind: intent.CreateEvent},
		Slot:     intent.SlotTitle,
		Question: "What should I call the event?",
	})
	require.NoError(t, f.sessions.Save(ctx, sess))
	require.NoError(t, f.events.Append(ctx, &types.Event{UserID: "http:alice", Type: types.EventUserMessage, Source: Source, Payload: json.RawMessage(`{"text":"schedule a meeting"}`)}))

	w := f.do(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, types.UserID("http:alice"), list[0].UserID)
	assert.Equal(t, 1, list[0].Turns)
	assert.EqualValues(t, 1, list[0].EventCount)
	require.NotNil(t, list[0].Pending)
	assert.Equal(t, "title", list[0].Pending.Slot)

	w = f.do(t, http.MethodGet, "/api/sessions/http:alice/events?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []types.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, types.EventUserMessage, events[0].Type)

	w = f.do(t, http.MethodDelete, "/api/sessions/http:alice", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	_, err := f.sessions.Get(ctx, "http:alice")
	assert.ErrorIs(t, err, session.ErrNotFound)
	n, err := f.events.Count(ctx, "http:alice")
	require.NoError(t, err)
	assert.Zero(t, n)

	w = f.do(t, http.MethodDelete, "/api/sessions/http:alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/sessions/http:nobody/events", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestArtifactAPI(t *testing.T) {
	f := newFixture(t, Options{})
	id, err := f.artifacts.Put(context.Background(), "http:alice", "", "generate_image", "image/png", []byte("png-bytes"))
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/artifacts/"+string(id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "png-bytes", w.Body.String())

	w = f.do(t, http.MethodGet, "/api/artifacts/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

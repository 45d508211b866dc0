package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/deskmate/internal/gateway"
	"github.com/user/deskmate/internal/session"
	"github.com/user/deskmate/internal/state"
	"github.com/user/deskmate/internal/types"
)

type fakeBot struct {
	mu      sync.Mutex
	sent    []tgbotapi.Chattable
	fileURL string
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeBot) StopReceivingUpdates() {}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) GetFileDirectURL(fileID string) (string, error) {
	return f.fileURL + "/" + fileID, nil
}

func (f *fakeBot) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeBot) count(match func(tgbotapi.Chattable) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.sent {
		if match(c) {
			n++
		}
	}
	return n
}

// echo answers every event synchronously.
type echo struct {
	mu     sync.Mutex
	events []*types.InboundEvent
	reply  types.Reply
}

func (e *echo) HandleInbound(_ context.Context, event *types.InboundEvent, opts ...gateway.RunOption) error {
	e.mu.Lock()
	e.events = append(e.events, event)
	e.mu.Unlock()
	run := gateway.NewRun(event)
	for _, opt := range opts {
		opt(run)
	}
	run.OnComplete(e.reply)
	return nil
}

func newAdapter(t *testing.T, bot *fakeBot, inbound Inbound) (*Adapter, *session.Store, *state.EventStore) {
	t.Helper()
	dir := t.TempDir()
	sessions := session.NewStore(session.NewMemoryBackend(), session.Options{})
	events := state.NewEventStore(dir)
	return NewWithBot(bot, inbound, sessions, events, state.NewArtifactStore(dir)), sessions, events
}

func command(chatID int64, cmd string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     "/" + cmd,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd) + 1}},
	}
}

func TestSplitMessage(t *testing.T) {
	short := "Hello world"
	parts := splitMessage(short)
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	if parts[0] != short {
		t.Errorf("expected %q, got %q", short, parts[0])
	}
}

func TestSplitMessageLong(t *testing.T) {
	long := strings.Repeat("a", 5000)
	parts := splitMessage(long)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if len(parts[0]) != maxTelegramMessage {
		t.Errorf("expected first part length %d, got %d", maxTelegramMessage, len(parts[0]))
	}
}

func TestSplitMessageKeepsRunes(t *testing.T) {
	long := strings.Repeat("é", 3000)
	for _, p := range splitMessage(long) {
		if !strings.HasPrefix(p, "é") || !strings.HasSuffix(p, "é") {
			t.Fatal("part split a multi-byte character")
		}
	}
}

func TestUserIDRoundTrip(t *testing.T) {
	id := UserID(67890)
	if id != "telegram:67890" {
		t.Errorf("expected 'telegram:67890', got %q", id)
	}
	chat, err := ChatID(id)
	if err != nil || chat != 67890 {
		t.Errorf("expected chat 67890, got %d (%v)", chat, err)
	}
	if _, err := ChatID("http:alice"); err == nil {
		t.Error("expected error for non-telegram user")
	}
}

func TestTextMessageRepliesThroughGateway(t *testing.T) {
	bot := &fakeBot{}
	in := &echo{reply: types.Reply{Text: "Got it."}}
	a, _, _ := newAdapter(t, bot, in)

	a.handleMessage(context.Background(), &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}, Text: "hello"})

	if len(in.events) != 1 {
		t.Fatalf("expected 1 inbound event, got %d", len(in.events))
	}
	ev := in.events[0]
	if ev.UserID != "telegram:42" || ev.Text != "hello" || ev.Source != Source {
		t.Errorf("unexpected event %+v", ev)
	}
	if texts := bot.texts(); len(texts) != 1 || texts[0] != "Got it." {
		t.Errorf("unexpected replies %v", texts)
	}
}

func TestVoiceMessageIsDownloadedAndAnsweredWithVoice(t *testing.T) {
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OggS-voice"))
	}))
	defer files.Close()

	bot := &fakeBot{fileURL: files.URL}
	in := &echo{reply: types.Reply{Text: "Done.", Audio: &types.Audio{Data: []byte("OggS"), Format: "ogg"}}}
	a, _, _ := newAdapter(t, bot, in)

	a.handleMessage(context.Background(), &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: 7},
		Voice: &tgbotapi.Voice{FileID: "v1"},
	})

	if len(in.events) != 1 {
		t.Fatalf("expected 1 inbound event, got %d", len(in.events))
	}
	ev := in.events[0]
	if ev.Audio == nil || string(ev.Audio.Data) != "OggS-voice" {
		t.Errorf("expected downloaded audio, got %+v", ev.Audio)
	}
	if !ev.RequestsAudioReply {
		t.Error("voice input should ask for a voice reply")
	}
	voices := bot.count(func(c tgbotapi.Chattable) bool { _, ok := c.(tgbotapi.VoiceConfig); return ok })
	if voices != 1 {
		t.Errorf("expected 1 voice reply, got %d", voices)
	}
}

func TestPhotoWithCaption(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nrest")
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/big") {
			t.Errorf("expected largest photo, got %s", r.URL.Path)
		}
		w.Write(png)
	}))
	defer files.Close()

	bot := &fakeBot{fileURL: files.URL}
	in := &echo{reply: types.Reply{Text: "Here's the edited image.", Images: []types.ReplyImage{{Data: png}}}}
	a, _, _ := newAdapter(t, bot, in)

	a.handleMessage(context.Background(), &tgbotapi.Message{
		Chat:    &tgbotapi.Chat{ID: 7},
		Caption: "make it black and white",
		Photo:   []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "big"}},
	})

	ev := in.events[0]
	if ev.Text != "make it black and white" {
		t.Errorf("expected caption as text, got %q", ev.Text)
	}
	if ev.Image == nil || ev.Image.MimeType != "image/png" {
		t.Errorf("expected png attachment, got %+v", ev.Image)
	}
	photos := bot.count(func(c tgbotapi.Chattable) bool { _, ok := c.(tgbotapi.PhotoConfig); return ok })
	if photos != 1 {
		t.Errorf("expected 1 photo reply, got %d", photos)
	}
}

func TestDocumentsRouteByMimeType(t *testing.T) {
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("file:" + strings.TrimPrefix(r.URL.Path, "/")))
	}))
	defer files.Close()

	tests := []struct {
		name      string
		doc       tgbotapi.Document
		wantAudio string
		wantImage string
	}{
		{
			name:      "audio by extension",
			doc:       tgbotapi.Document{FileID: "a1", FileName: "memo.MP3", MimeType: "audio/mpeg"},
			wantAudio: "mp3",
		},
		{
			name:      "audio without a name",
			doc:       tgbotapi.Document{FileID: "a2", MimeType: "audio/wav"},
			wantAudio: "wav",
		},
		{
			name:      "image",
			doc:       tgbotapi.Document{FileID: "i1", FileName: "scan.jpg", MimeType: "image/jpeg"},
			wantImage: "image/jpeg",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := &fakeBot{fileURL: files.URL}
			in := &echo{reply: types.Reply{Text: "ok"}}
			a, _, _ := newAdapter(t, bot, in)

			doc := tt.doc
			a.handleMessage(context.Background(), &tgbotapi.Message{
				Chat:     &tgbotapi.Chat{ID: 7},
				Caption:  "what is this?",
				Document: &doc,
			})

			if len(in.events) != 1 {
				t.Fatalf("expected 1 inbound event, got %d", len(in.events))
			}
			ev := in.events[0]
			if ev.Text != "what is this?" {
				t.Errorf("expected caption as text, got %q", ev.Text)
			}
			if tt.wantAudio != "" {
				if ev.Audio == nil || ev.Audio.Format != tt.wantAudio || string(ev.Audio.Data) != "file:"+doc.FileID {
					t.Errorf("expected %s audio, got %+v", tt.wantAudio, ev.Audio)
				}
				if ev.Image != nil {
					t.Error("audio document should not set an image")
				}
			}
			if tt.wantImage != "" {
				if ev.Image == nil || ev.Image.MimeType != tt.wantImage || string(ev.Image.Data) != "file:"+doc.FileID {
					t.Errorf("expected %s image, got %+v", tt.wantImage, ev.Image)
				}
				if ev.Audio != nil {
					t.Error("image document should not set audio")
				}
			}
		})
	}
}

func TestUnsupportedDocumentIsRefused(t *testing.T) {
	bot := &fakeBot{}
	in := &echo{}
	a, _, _ := newAdapter(t, bot, in)

	a.handleMessage(context.Background(), &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: 7},
		Document: &tgbotapi.Document{FileID: "d1", FileName: "report.pdf", MimeType: "application/pdf"},
	})

	if len(in.events) != 0 {
		t.Errorf("expected no inbound event, got %d", len(in.events))
	}
	if texts := bot.texts(); len(texts) != 1 || texts[0] != msgFileType {
		t.Errorf("unexpected replies %v", texts)
	}
}

func TestCommands(t *testing.T) {
	bot := &fakeBot{}
	a, sessions, _ := newAdapter(t, bot, &echo{})
	ctx := context.Background()

	sess := sessions.GetOrCreate(ctx, "telegram:5")
	sessions.AppendTurn(sess, session.Turn{Role: session.RoleUser, Text: "hi", At: time.Now()})
	if err := sessions.Save(ctx, sess); err != nil {
		t.Fatal(err)
	}

	a.handleMessage(ctx, command(5, "status"))
	a.handleMessage(ctx, command(5, "reset"))
	a.handleMessage(ctx, command(5, "status"))
	a.handleMessage(ctx, command(5, "help"))
	a.handleMessage(ctx, command(5, "bogus"))

	texts := bot.texts()
	if len(texts) != 5 {
		t.Fatalf("expected 5 replies, got %v", texts)
	}
	if !strings.Contains(texts[0], "Turns: 1") {
		t.Errorf("unexpected status %q", texts[0])
	}
	if texts[1] != msgReset {
		t.Errorf("unexpected reset reply %q", texts[1])
	}
	if !strings.Contains(texts[2], "No conversation yet.") {
		t.Errorf("expected empty status after reset, got %q", texts[2])
	}
	if !strings.Contains(texts[3], "calendar") {
		t.Errorf("unexpected help %q", texts[3])
	}
	if texts[4] != msgUnknown {
		t.Errorf("unexpected reply %q", texts[4])
	}
}

func TestSendTo(t *testing.T) {
	bot := &fakeBot{}
	a, _, _ := newAdapter(t, bot, &echo{})

	if err := a.SendTo(context.Background(), "telegram:9", types.Reply{Text: "Reminder: stretch"}); err != nil {
		t.Fatal(err)
	}
	if texts := bot.texts(); len(texts) != 1 || texts[0] != "Reminder: stretch" {
		t.Errorf("unexpected messages %v", texts)
	}
	if err := a.SendTo(context.Background(), "http:alice", types.Reply{Text: "x"}); err == nil {
		t.Error("expected error for non-telegram user")
	}
}

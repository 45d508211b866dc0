package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/deskmate/internal/adapters"
	"github.com/user/deskmate/internal/classify"
	"github.com/user/deskmate/internal/compose"
	"github.com/user/deskmate/internal/dispatch"
	"github.com/user/deskmate/internal/gateway"
	"github.com/user/deskmate/internal/intent"
	"github.com/user/deskmate/internal/runtime/tools"
	"github.com/user/deskmate/internal/session"
	"github.com/user/deskmate/internal/slots"
	"github.com/user/deskmate/internal/state"
	"github.com/user/deskmate/internal/types"
)

// Wednesday.
var refNow = time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

type fakeCalendar struct {
	mu      sync.Mutex
	created []adapters.NewEvent
}

func (f *fakeCalendar) CreateEvent(_ context.Context, ev adapters.NewEvent) (adapters.EventRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, ev)
	return adapters.EventRef{ID: fmt.Sprintf("ev%d", len(f.created))}, nil
}

func (f *fakeCalendar) ListEvents(context.Context, adapters.Range) ([]adapters.EventRef, error) {
	return nil, nil
}

type fakeEmail struct {
	err error
}

func (f *fakeEmail) Send(_ context.Context, msg adapters.Message) (adapters.DeliveryRef, error) {
	if f.err != nil {
		return adapters.DeliveryRef{}, f.err
	}
	return adapters.DeliveryRef{ID: "m1"}, nil
}

func (f *fakeEmail) ListInbox(context.Context, adapters.InboxFilter) ([]adapters.MessageRef, error) {
	return nil, nil
}

func (f *fakeEmail) CreateDraft(context.Context, adapters.Message) (adapters.DraftRef, error) {
	return adapters.DraftRef{ID: "d1"}, nil
}

type fakeSpeech struct {
	text string
	err  error
}

func (f *fakeSpeech) Transcribe(context.Context, types.Audio) (string, error) { return f.text, f.err }

func (f *fakeSpeech) Synthesize(context.Context, string) (types.Audio, error) {
	return types.Audio{Data: []byte("ogg"), Format: "ogg"}, nil
}

// scripted returns its results in order, then none.
type scripted struct {
	mu      sync.Mutex
	results []classify.Result
	inputs  []classify.Input
}

func (s *scripted) Classify(_ context.Context, in classify.Input) (classify.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	if len(s.results) == 0 {
		return classify.Result{Intent: intent.New(intent.None)}, nil
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r, nil
}

type harness struct {
	rt       *Runtime
	sessions *session.Store
	calendar *fakeCalendar
	events   *state.EventStore
}

func newHarness(t *testing.T, classifier classify.Classifier, email adapters.Email, speech adapters.Speech) *harness {
	t.Helper()
	dir := t.TempDir()

	sessions := session.NewStore(session.NewMemoryBackend(), session.Options{Now: func() time.Time { return refNow }})
	calendar := &fakeCalendar{}
	registry := tools.NewRegistry()
	tools.RegisterAdapters(registry, adapters.Set{Calendar: calendar, Email: email}, nil)
	events := state.NewEventStore(dir)

	rt := New(Deps{
		Sessions:   sessions,
		Classifier: classifier,
		Slots:      slots.NewEngine(slots.DefaultPolicy()),
		Dispatcher: dispatch.New(registry, time.Second, nil),
		Composer:   compose.New(speech, nil),
		Speech:     speech,
		Events:     events,
		Artifacts:  state.NewArtifactStore(dir),
		Now:        func() time.Time { return refNow },
	})
	return &harness{rt: rt, sessions: sessions, calendar: calendar, events: events}
}

func (h *harness) say(user, text string) types.Reply {
	return h.rt.HandleTurn(context.Background(), &types.InboundEvent{Source: "test", UserID: types.UserID(user), Text: text})
}

func (h *harness) pending(t *testing.T, user string) *session.PendingOperation {
	t.Helper()
	sess, err := h.sessions.Get(context.Background(), types.UserID(user))
	if err != nil {
		t.Fatal(err)
	}
	return sess.Pending
}

func eventIntent(values map[intent.SlotName]intent.Value) classify.Result {
	in := intent.New(intent.CreateEvent)
	for k, v := range values {
		in.Set(k, v)
	}
	return classify.Result{Intent: in}
}

func TestHandleTurnCreatesEvent(t *testing.T) {
	h := newHarness(t, classify.NewRules(), &fakeEmail{}, nil)

	reply := h.say("u1", `Schedule "Team sync" tomorrow at 9am for 30 minutes`)

	if !strings.Contains(reply.Text, `I scheduled "Team sync"`) {
		t.Errorf("unexpected reply %q", reply.Text)
	}
	if len(h.calendar.created) != 1 {
		t.Fatalf("expected 1 event, got %d", len(h.calendar.created))
	}
	ev := h.calendar.created[0]
	if !ev.Start.Equal(time.Date(2024, 1, 11, 9, 0, 0, 0, time.UTC)) || ev.Duration != 30*time.Minute {
		t.Errorf("unexpected event %+v", ev)
	}
	if p := h.pending(t, "u1"); p != nil {
		t.Errorf("expected no pending operation, got %+v", p)
	}
}

func TestHandleTurnCompoundFailureIsReported(t *testing.T) {
	h := newHarness(t, classify.NewRules(), &fakeEmail{err: adapters.NewError(adapters.KindRemote, "gmail", "", errors.New("503"))}, nil)

	reply := h.say("u1", `Schedule "Team sync" with alice@example.com tomorrow at 9am for 30 minutes and email the attendees`)

	if !strings.Contains(reply.Text, "I scheduled") {
		t.Errorf("expected the created event in %q", reply.Text)
	}
	if !strings.Contains(reply.Text, "However, I couldn't send the email.") {
		t.Errorf("expected the failed step in %q", reply.Text)
	}
	if strings.Contains(reply.Text, "emailed") {
		t.Errorf("reply claims the email was sent: %q", reply.Text)
	}
}

func TestHandleTurnFillsSlotsAcrossTurns(t *testing.T) {
	c := &scripted{results: []classify.Result{
		eventIntent(nil),
		eventIntent(map[intent.SlotName]intent.Value{intent.SlotTitle: intent.String("Standup")}),
		eventIntent(map[intent.SlotName]intent.Value{
			intent.SlotStart:    intent.DateTime(refNow.Add(24 * time.Hour)),
			intent.SlotDuration: intent.Duration(15 * time.Minute),
		}),
	}}
	h := newHarness(t, c, &fakeEmail{}, nil)

	if reply := h.say("u1", "schedule something"); reply.Text != "What should I call the event?" {
		t.Errorf("unexpected first question %q", reply.Text)
	}
	if reply := h.say("u1", "Standup"); reply.Text != "When should it start?" {
		t.Errorf("unexpected second question %q", reply.Text)
	}
	if p := h.pending(t, "u1"); p == nil || p.Slot != intent.SlotStart {
		t.Fatalf("expected pending start, got %+v", p)
	}
	reply := h.say("u1", "tomorrow at 8 for 15 minutes")
	if !strings.Contains(reply.Text, `"Standup"`) {
		t.Errorf("unexpected reply %q", reply.Text)
	}
	if p := h.pending(t, "u1"); p != nil {
		t.Errorf("expected pending cleared, got %+v", p)
	}
	if len(c.inputs) != 3 || c.inputs[1].Pending == nil {
		t.Error("expected the classifier to see the pending operation")
	}
}

func TestHandleTurnExhaustion(t *testing.T) {
	titled := eventIntent(map[intent.SlotName]intent.Value{intent.SlotTitle: intent.String("Standup")})
	unanswered := eventIntent(nil)
	maxRetries := slots.DefaultMaxRetries

	results := []classify.Result{titled}
	for i := 0; i < maxRetries+1; i++ {
		results = append(results, unanswered)
	}
	h := newHarness(t, &scripted{results: results}, &fakeEmail{}, nil)

	h.say("u1", "schedule Standup")
	for i := 1; i < maxRetries; i++ {
		reply := h.say("u1", "whenever")
		if !strings.HasPrefix(reply.Text, "Sorry, I didn't catch that.") {
			t.Fatalf("re-ask %d: unexpected reply %q", i, reply.Text)
		}
		if p := h.pending(t, "u1"); p == nil || p.Retries != i {
			t.Fatalf("re-ask %d: unexpected pending %+v", i, p)
		}
	}

	reply := h.say("u1", "whenever")
	if !strings.Contains(reply.Text, "couldn't get enough detail") {
		t.Errorf("expected exhaustion at retry %d, got %q", maxRetries, reply.Text)
	}
	if p := h.pending(t, "u1"); p != nil {
		t.Errorf("expected pending cleared after exhaustion, got %+v", p)
	}

	// The next turn starts from scratch.
	reply = h.say("u1", "whenever")
	if reply.Text != "What should I call the event?" {
		t.Errorf("expected a fresh question after exhaustion, got %q", reply.Text)
	}
}

func TestHandleTurnAtMostOnePending(t *testing.T) {
	reminder := intent.New(intent.Reminder)
	reminder.Set(intent.SlotText, intent.String("call mom"))
	c := &scripted{results: []classify.Result{
		eventIntent(nil),
		{Intent: reminder, TopicChange: true},
		{Intent: intent.New(intent.SendEmail)},
	}}
	h := newHarness(t, c, &fakeEmail{}, nil)

	h.say("u1", "schedule something")
	if p := h.pending(t, "u1"); p == nil || p.Intent.Kind != intent.CreateEvent {
		t.Fatalf("expected pending create_event, got %+v", p)
	}

	reply := h.say("u1", "remind me to call mom")
	if reply.Text != "When should I remind you?" {
		t.Errorf("unexpected reply %q", reply.Text)
	}
	if p := h.pending(t, "u1"); p == nil || p.Intent.Kind != intent.Reminder {
		t.Fatalf("expected pending reminder, got %+v", p)
	}

	h.say("u1", "send an email")
	if p := h.pending(t, "u1"); p == nil || p.Intent.Kind != intent.SendEmail {
		t.Fatalf("expected pending send_email, got %+v", p)
	}
}

func TestHandleTurnCancel(t *testing.T) {
	c := &scripted{results: []classify.Result{eventIntent(nil)}}
	h := newHarness(t, c, &fakeEmail{}, nil)

	h.say("u1", "schedule something")
	reply := h.say("u1", "never mind")
	if reply.Text != "Okay, I've cancelled that." {
		t.Errorf("unexpected reply %q", reply.Text)
	}
	if p := h.pending(t, "u1"); p != nil {
		t.Errorf("expected pending cleared, got %+v", p)
	}
	if len(c.inputs) != 1 {
		t.Errorf("cancel should not be classified, got %d classifications", len(c.inputs))
	}
}

func TestHandleTurnAmbiguousKeepsPending(t *testing.T) {
	c := &scripted{results: []classify.Result{
		eventIntent(nil),
		{Intent: intent.New(intent.None), Ambiguous: true},
	}}
	h := newHarness(t, c, &fakeEmail{}, nil)

	h.say("u1", "schedule something")
	reply := h.say("u1", "hmm")
	if !strings.Contains(reply.Text, "not sure what you'd like") {
		t.Errorf("unexpected reply %q", reply.Text)
	}
	if p := h.pending(t, "u1"); p == nil || p.Slot != intent.SlotTitle {
		t.Errorf("expected pending untouched, got %+v", p)
	}
}

func TestHandleTurnAudio(t *testing.T) {
	h := newHarness(t, classify.NewRules(), &fakeEmail{}, &fakeSpeech{text: `Schedule "Team sync" tomorrow at 9am for 30 minutes`})

	reply := h.rt.HandleTurn(context.Background(), &types.InboundEvent{
		UserID:             "u1",
		Audio:              &types.Audio{Data: []byte("x"), Format: "ogg"},
		RequestsAudioReply: true,
	})
	if !strings.Contains(reply.Text, "I scheduled") {
		t.Errorf("unexpected reply %q", reply.Text)
	}
	if reply.Audio == nil {
		t.Error("expected a spoken reply")
	}
}

func TestHandleTurnUnreadableAudio(t *testing.T) {
	speech := &fakeSpeech{err: adapters.NewError(adapters.KindFormat, "transcribe", "", nil)}
	h := newHarness(t, classify.NewRules(), &fakeEmail{}, speech)

	reply := h.rt.HandleTurn(context.Background(), &types.InboundEvent{
		UserID: "u1",
		Audio:  &types.Audio{Data: []byte("x"), Format: "ogg"},
	})
	if !strings.Contains(reply.Text, "couldn't understand the audio") {
		t.Errorf("unexpected reply %q", reply.Text)
	}
	if _, err := h.sessions.Get(context.Background(), "u1"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("expected no session for an unreadable turn, got %v", err)
	}
}

func TestHandleTurnJournals(t *testing.T) {
	h := newHarness(t, classify.NewRules(), &fakeEmail{}, nil)
	h.say("u1", `Schedule "Team sync" tomorrow at 9am for 30 minutes`)

	events, err := h.events.Tail(context.Background(), "u1", 0)
	if err != nil {
		t.Fatal(err)
	}
	var typesSeen []string
	for _, ev := range events {
		typesSeen = append(typesSeen, ev.Type)
	}
	want := []string{types.EventUserMessage, types.EventToolCall, types.EventToolResult, types.EventAgentMessage}
	if strings.Join(typesSeen, ",") != strings.Join(want, ",") {
		t.Errorf("expected journal %v, got %v", want, typesSeen)
	}
}

func TestConcurrentUsersAreIsolated(t *testing.T) {
	h := newHarness(t, classify.NewRules(), &fakeEmail{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i)
			h.say(user, "schedule a meeting with someone")
			h.say(user, "hello there")
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		sess, err := h.sessions.Get(context.Background(), types.UserID(fmt.Sprintf("u%d", i)))
		if err != nil {
			t.Fatal(err)
		}
		if len(sess.Turns) != 4 {
			t.Errorf("user %d: expected 4 turns, got %d", i, len(sess.Turns))
		}
		if sess.Turns[0].Text != "schedule a meeting with someone" {
			t.Errorf("user %d: turns interleaved: %+v", i, sess.Turns)
		}
	}
}

func TestProcessRunCompletes(t *testing.T) {
	h := newHarness(t, classify.NewRules(), &fakeEmail{}, nil)

	var got types.Reply
	calls := 0
	run := gateway.NewRun(&types.InboundEvent{UserID: "u1", Text: "never mind"})
	run.Ctx = context.Background()
	run.OnComplete = func(r types.Reply) {
		calls++
		got = r
	}

	if err := h.rt.ProcessRun(run); err != nil {
		t.Fatal(err)
	}
	if calls != 1 || got.Text == "" {
		t.Errorf("expected one non-empty reply, got %d calls and %q", calls, got.Text)
	}
}

func TestIsCancel(t *testing.T) {
	for _, s := range []string{"cancel", "Never mind.", "nevermind", "forget it", "ok, cancel that", "please cancel"} {
		if !IsCancel(s) {
			t.Errorf("expected %q to cancel", s)
		}
	}
	for _, s := range []string{"cancel my 3pm meeting", "don't stop now", "stop by the shop tomorrow"} {
		if IsCancel(s) {
			t.Errorf("expected %q not to cancel", s)
		}
	}
}

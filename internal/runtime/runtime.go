// Package runtime runs one conversational turn end to end: transcription,
// session bookkeeping, classification, slot filling, dispatch and reply
// composition.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/user/deskmate/internal/adapters"
	"github.com/user/deskmate/internal/classify"
	"github.com/user/deskmate/internal/compose"
	"github.com/user/deskmate/internal/dispatch"
	"github.com/user/deskmate/internal/gateway"
	"github.com/user/deskmate/internal/intent"
	"github.com/user/deskmate/internal/metrics"
	"github.com/user/deskmate/internal/session"
	"github.com/user/deskmate/internal/slots"
	"github.com/user/deskmate/internal/types"
)

const (
	// DefaultHistoryTurns is how many recent turns the classifier and the
	// chat reply see.
	DefaultHistoryTurns = 10

	transcribeOp = "speech.transcribe"
	classifyOp   = "classify"
	uploadTool   = "upload"
)

var cancelPhrase = regexp.MustCompile(`^(?:(?:ok|okay|no),?\s+)?(?:please\s+)?(?:cancel|never\s*mind|forget\s+(?:it|that|about\s+it)|stop|abort)(?:\s+(?:it|that|this))?(?:\s+please)?[.!]*$`)

// IsCancel reports whether text asks to abandon the pending operation.
func IsCancel(text string) bool {
	return cancelPhrase.MatchString(strings.ToLower(strings.TrimSpace(text)))
}

// Deps are the collaborators of a Runtime. Sessions, Classifier, Slots,
// Dispatcher and Composer are required; the rest are optional.
type Deps struct {
	Sessions   *session.Store
	Classifier classify.Classifier
	Slots      *slots.Engine
	Dispatcher *dispatch.Dispatcher
	Composer   *compose.Composer

	Speech    adapters.Speech
	Events    types.EventStore
	Artifacts types.ArtifactStore
	Metrics   *metrics.Metrics

	HistoryTurns int
	Now          func() time.Time
}

// Runtime is the agent orchestrator.
type Runtime struct {
	sessions   *session.Store
	classifier classify.Classifier
	slots      *slots.Engine
	dispatcher *dispatch.Dispatcher
	composer   *compose.Composer
	speech     adapters.Speech
	events     types.EventStore
	artifacts  types.ArtifactStore
	metrics    *metrics.Metrics
	history    int
	now        func() time.Time
}

func New(deps Deps) *Runtime {
	if deps.HistoryTurns <= 0 {
		deps.HistoryTurns = DefaultHistoryTurns
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Runtime{
		sessions:   deps.Sessions,
		classifier: deps.Classifier,
		slots:      deps.Slots,
		dispatcher: deps.Dispatcher,
		composer:   deps.Composer,
		speech:     deps.Speech,
		events:     deps.Events,
		artifacts:  deps.Artifacts,
		metrics:    deps.Metrics,
		history:    deps.HistoryTurns,
		now:        deps.Now,
	}
}

// ToolObserver reports every dispatched step to m.
func ToolObserver(m *metrics.Metrics) dispatch.Observer {
	return func(r dispatch.ToolResult) {
		result := "ok"
		if !r.OK {
			result = string(r.Kind())
		}
		m.ToolCall(r.Capability, result, r.Elapsed)
	}
}

// ProcessRun handles a queued run and hands its reply to OnComplete.
// This is the function passed to Queue.SetProcessor.
func (rt *Runtime) ProcessRun(run *gateway.Run) error {
	ctx := run.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run %s: %w", run.ID, err)
	}

	reply := rt.turn(ctx, run.Event, run.ID)
	if run.OnComplete != nil {
		run.OnComplete(reply)
	}
	return nil
}

// HandleTurn processes one inbound event synchronously. Every failure is
// folded into the reply.
func (rt *Runtime) HandleTurn(ctx context.Context, event *types.InboundEvent) types.Reply {
	return rt.turn(ctx, event, types.NewRunID())
}

func (rt *Runtime) turn(ctx context.Context, event *types.InboundEvent, runID types.RunID) types.Reply {
	started := rt.now()
	userID := event.UserID
	wantAudio := event.RequestsAudioReply

	text := normalize(event.Text)
	if text == "" && event.Audio != nil {
		transcript, err := rt.transcribe(ctx, *event.Audio)
		if err != nil {
			var o compose.Outcome = compose.AudioUnreadable{}
			if adapters.Classify(err) != adapters.KindFormat {
				o = compose.ToolFailure{Capability: transcribeOp, Err: err}
			}
			slog.Warn("transcription failed", "user_id", userID, "error", err)
			rt.record(ctx, userID, runID, types.EventError, event.Source, map[string]string{"error": err.Error()})
			return rt.finish(ctx, userID, o, wantAudio, started)
		}
		text = normalize(transcript)
	}

	unlock := rt.sessions.Lock(userID)
	defer unlock()

	sess := rt.sessions.GetOrCreate(ctx, userID)
	loc := sess.Location()
	now := rt.now()
	rt.sessions.AppendTurn(sess, session.Turn{Role: session.RoleUser, Text: text, At: now})
	rt.record(ctx, userID, runID, types.EventUserMessage, event.Source, map[string]string{"text": text})

	attachment := rt.storeAttachment(ctx, userID, runID, event.Image)

	o := rt.resolve(ctx, sess, text, attachment, runID, now, loc)

	reply := rt.composer.Compose(ctx, o, wantAudio)
	if attachment != "" {
		sess.LastImage = attachment
	}
	for _, img := range reply.Images {
		if img.ArtifactID != "" {
			sess.LastImage = string(img.ArtifactID)
		}
	}

	rt.sessions.AppendTurn(sess, session.Turn{Role: session.RoleAgent, Text: reply.Text, At: rt.now()})
	if err := rt.sessions.Save(ctx, sess); err != nil {
		slog.Error("session save failed", "user_id", userID, "error", err)
	}
	rt.record(ctx, userID, runID, types.EventAgentMessage, "runtime", map[string]string{
		"text":    reply.Text,
		"outcome": compose.Label(o),
	})

	rt.observe(userID, o, started)
	return reply
}

// resolve decides the outcome of a turn and updates the session's pending
// operation. The caller holds the user's lock.
func (rt *Runtime) resolve(ctx context.Context, sess *session.ConversationSession, text, attachment string, runID types.RunID, now time.Time, loc *time.Location) compose.Outcome {
	if text == "" && attachment == "" {
		return compose.ClarificationAmbiguous{}
	}

	pending := sess.Pending
	if pending != nil && IsCancel(text) {
		rt.sessions.SetPending(sess, nil)
		slog.Debug("pending operation cancelled", "user_id", sess.UserID, "kind", pending.Intent.Kind)
		return compose.Cancelled{}
	}

	res, err := rt.classifier.Classify(ctx, classify.Input{
		Text:       text,
		Turns:      sess.Recent(rt.history),
		Pending:    pending,
		Now:        now,
		Location:   loc,
		Attachment: attachment,
		LastImage:  sess.LastImage,
	})
	if err != nil {
		slog.Error("classification failed", "user_id", sess.UserID, "error", err)
		return compose.ToolFailure{Capability: classifyOp, Err: err, Location: loc}
	}

	if res.Ambiguous {
		return compose.ClarificationAmbiguous{}
	}
	if res.Intent.Kind == intent.None {
		return compose.Chitchat{Text: text, Turns: sess.Recent(rt.history), Now: now, Location: loc}
	}

	if pending != nil && (res.TopicChange || res.Intent.Kind != pending.Intent.Kind) {
		slog.Info("abandoning pending operation", "user_id", sess.UserID, "pending", pending.Intent.Kind, "new", res.Intent.Kind)
		rt.sessions.SetPending(sess, nil)
		pending = nil
	}

	d := rt.slots.Reconcile(res.Intent, pending)
	switch {
	case d.Exhausted:
		rt.sessions.SetPending(sess, nil)
		slog.Info("slot filling exhausted", "user_id", sess.UserID, "kind", d.Intent.Kind, "slot", d.Slot)
		return compose.ClarificationExhausted{}
	case !d.Ready:
		rt.sessions.SetPending(sess, d.Pending)
		return compose.ClarificationNeeded{Question: d.Question}
	}

	rt.sessions.SetPending(sess, nil)
	rt.record(ctx, sess.UserID, runID, types.EventToolCall, "runtime", map[string]any{
		"kind":  d.Intent.Kind,
		"plan":  dispatch.Plan(d.Intent),
		"slots": d.Intent.Slots,
	})
	results := rt.dispatcher.Execute(ctx, d.Intent, dispatch.Request{
		UserID:   sess.UserID,
		RunID:    runID,
		Location: loc,
		Now:      now,
	})
	for _, r := range results {
		payload := map[string]any{"capability": r.Capability, "ok": r.OK, "elapsed_ms": r.Elapsed.Milliseconds()}
		if !r.OK {
			payload["kind"] = r.Kind()
			payload["error"] = r.Err.Error()
		}
		rt.record(ctx, sess.UserID, runID, types.EventToolResult, "runtime", payload)
	}
	return compose.FromResults(d.Intent.Kind, results, loc)
}

func (rt *Runtime) transcribe(ctx context.Context, audio types.Audio) (string, error) {
	if rt.speech == nil {
		return "", adapters.NewError(adapters.KindNotConfigured, transcribeOp, "", nil)
	}
	text, err := rt.speech.Transcribe(ctx, audio)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", adapters.NewError(adapters.KindFormat, transcribeOp, "empty transcript", nil)
	}
	return text, nil
}

// storeAttachment saves an inbound photo so a later edit can refer to it.
func (rt *Runtime) storeAttachment(ctx context.Context, userID types.UserID, runID types.RunID, img *types.Attachment) string {
	if img == nil || len(img.Data) == 0 || rt.artifacts == nil {
		return ""
	}
	id, err := rt.artifacts.Put(ctx, userID, runID, uploadTool, img.MimeType, img.Data)
	if err != nil {
		slog.Warn("store attachment", "user_id", userID, "error", err)
		return ""
	}
	return string(id)
}

// finish composes a reply for a turn that never reached the session.
func (rt *Runtime) finish(ctx context.Context, userID types.UserID, o compose.Outcome, wantAudio bool, started time.Time) types.Reply {
	reply := rt.composer.Compose(ctx, o, wantAudio)
	rt.observe(userID, o, started)
	return reply
}

func (rt *Runtime) observe(userID types.UserID, o compose.Outcome, started time.Time) {
	label := compose.Label(o)
	rt.metrics.Turn(label)
	slog.Info("turn complete", "user_id", userID, "outcome", label, "elapsed", rt.now().Sub(started))
}

// record appends a journal entry. Journal failures are logged, never
// surfaced to the user.
func (rt *Runtime) record(ctx context.Context, userID types.UserID, runID types.RunID, typ, source string, payload any) {
	if rt.events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("encode journal payload", "type", typ, "error", err)
		return
	}
	if err := rt.events.Append(ctx, &types.Event{
		UserID:  userID,
		RunID:   runID,
		Type:    typ,
		Source:  source,
		At:      rt.now(),
		Payload: data,
	}); err != nil {
		slog.Warn("journal append failed", "user_id", userID, "type", typ, "error", err)
	}
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

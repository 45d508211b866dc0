package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ctxengine "github.com/user/deskmate/internal/context"
	"github.com/user/deskmate/internal/intent"
	"github.com/user/deskmate/pkg/llm"
)

// LLM classifies with a language model and falls back to the keyword rules
// whenever the model fails, replies with something unparsable, or says
// "none" while a question is pending.
type LLM struct {
	provider llm.Provider
	engine   *ctxengine.Engine
	fallback Classifier
	timeout  time.Duration
}

// NewLLM creates a model-backed classifier. A zero timeout means 20s.
func NewLLM(provider llm.Provider, engine *ctxengine.Engine, fallback Classifier, timeout time.Duration) *LLM {
	if fallback == nil {
		fallback = NewRules()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &LLM{provider: provider, engine: engine, fallback: fallback, timeout: timeout}
}

type llmCandidate struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

type llmReply struct {
	Candidates []llmCandidate    `json:"candidates"`
	Slots      map[string]string `json:"slots"`
	Notify     bool              `json:"notify"`
}

func (c *LLM) Classify(ctx context.Context, in Input) (Result, error) {
	res, err := c.classify(ctx, in)
	if err != nil {
		slog.Warn("llm classification failed, using rules", "error", err)
		return c.fallback.Classify(ctx, in)
	}
	if in.Pending != nil && res.Intent.Kind == intent.None && !res.Ambiguous {
		return c.fallback.Classify(ctx, in)
	}
	return res, nil
}

func (c *LLM) classify(ctx context.Context, in Input) (Result, error) {
	data := ctxengine.PromptData{
		Time:     in.Now.In(in.loc()).Format(time.RFC3339),
		TimeZone: in.loc().String(),
	}
	for _, k := range intent.Kinds {
		data.Kinds = append(data.Kinds, string(k))
	}
	if in.Pending != nil {
		data.PendingKind = string(in.Pending.Intent.Kind)
		data.PendingSlot = string(in.Pending.Slot)
		data.Question = in.Pending.Question
	}
	system, err := ctxengine.RenderPrompt(ctxengine.ClassifierPrompt, data)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.provider.Complete(ctx, c.engine.BuildPrompt(system, in.Turns, in.Text))
	if err != nil {
		return Result{}, fmt.Errorf("complete: %w", err)
	}

	reply, err := parseReply(resp.Content)
	if err != nil {
		return Result{}, err
	}
	return c.interpret(reply, in)
}

// parseReply decodes the model's JSON, tolerating a fenced code block.
func parseReply(content string) (llmReply, error) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	var reply llmReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &reply); err != nil {
		return llmReply{}, fmt.Errorf("parse classifier reply: %w", err)
	}
	if len(reply.Candidates) == 0 {
		return llmReply{}, fmt.Errorf("parse classifier reply: no candidates")
	}
	return reply, nil
}

func (c *LLM) interpret(reply llmReply, in Input) (Result, error) {
	var best, second llmCandidate
	var bestKind intent.Kind
	total := 0.0
	found := false
	for _, cand := range reply.Candidates {
		kind, ok := intent.ParseKind(cand.Intent)
		if !ok {
			slog.Debug("classifier returned unknown intent", "intent", cand.Intent)
			continue
		}
		total += cand.Confidence
		switch {
		case !found || cand.Confidence > best.Confidence:
			second = best
			best, bestKind, found = cand, kind, true
		case kind != bestKind && cand.Confidence > second.Confidence:
			second = cand
		}
	}
	if !found {
		return Result{}, fmt.Errorf("classifier returned no known intent")
	}
	conf := best.Confidence
	if total > 0 {
		conf = best.Confidence / total
	}

	if second.Intent != "" && second.Confidence == best.Confidence && !strings.EqualFold(second.Intent, best.Intent) {
		return Result{Intent: intent.New(intent.None), Ambiguous: true, Confidence: conf}, nil
	}

	out := typedSlots(bestKind, reply.Slots, in)
	out.Notify = bestKind == intent.CreateEvent && reply.Notify
	res := Result{Intent: out, Confidence: conf}
	if in.Pending != nil && bestKind != intent.None && bestKind != in.Pending.Intent.Kind {
		res.TopicChange = true
	}
	return res, nil
}

// typedSlots converts the model's raw slot strings with the same parsers
// the rules use, so dates are always resolved locally.
func typedSlots(kind intent.Kind, raw map[string]string, in Input) intent.Intent {
	out := intent.New(kind)
	if kind == intent.None {
		return out
	}
	for name, text := range raw {
		slot := intent.SlotName(strings.ToLower(strings.TrimSpace(name)))
		text = strings.TrimSpace(text)
		typ, ok := intent.SlotTypes[slot]
		if !ok || text == "" {
			continue
		}
		switch typ {
		case intent.TypeString:
			out.Set(slot, intent.String(text))
		case intent.TypeDateTime:
			v, _ := when(text, in)
			out.Set(slot, v)
		case intent.TypeDuration:
			out.Set(slot, duration(text))
		case intent.TypeEmail:
			if addrs := emails(text); len(addrs) > 0 {
				out.Set(slot, intent.Emails(addrs...))
			}
		}
	}
	if kind == intent.EditImage {
		out.Set(intent.SlotImage, imageRef(in))
	}
	return out
}

package compose

import (
	"context"
	"fmt"
	"strings"
	"time"

	ctxengine "github.com/user/deskmate/internal/context"
	"github.com/user/deskmate/internal/session"
	"github.com/user/deskmate/pkg/llm"
)

// LLMChat answers small talk with a chat completion.
type LLMChat struct {
	provider llm.Provider
	engine   *ctxengine.Engine
}

func NewLLMChat(provider llm.Provider, engine *ctxengine.Engine) *LLMChat {
	return &LLMChat{provider: provider, engine: engine}
}

func (l *LLMChat) Chat(ctx context.Context, turns []session.Turn, text string, now time.Time, loc *time.Location) (string, error) {
	if loc == nil {
		loc = time.UTC
	}
	system, err := ctxengine.RenderPrompt(ctxengine.ChatPrompt, ctxengine.PromptData{
		Time:     now.In(loc).Format(time.RFC3339),
		TimeZone: loc.String(),
	})
	if err != nil {
		return "", err
	}
	// The current utterance is already the last turn in the session.
	if n := len(turns); n > 0 && turns[n-1].Role == session.RoleUser && turns[n-1].Text == text {
		turns = turns[:n-1]
	}
	resp, err := l.provider.Complete(ctx, l.engine.BuildPrompt(system, turns, text))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// Package compose turns a turn's outcome into the reply sent back to the
// user, optionally with synthesized speech and generated images.
package compose

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/deskmate/internal/adapters"
	"github.com/user/deskmate/internal/session"
	"github.com/user/deskmate/internal/types"
)

// HelpText answers small talk when no language model is available.
const HelpText = "I can schedule and list calendar events, send, draft and read email, " +
	"generate or edit images, and set reminders. For example: \"schedule lunch with sam@example.com tomorrow at noon\"."

// Chatter produces a conversational answer to small talk.
type Chatter interface {
	Chat(ctx context.Context, turns []session.Turn, text string, now time.Time, loc *time.Location) (string, error)
}

type Composer struct {
	speech adapters.Speech
	chat   Chatter
}

// New creates a Composer. Both collaborators are optional.
func New(speech adapters.Speech, chat Chatter) *Composer {
	return &Composer{speech: speech, chat: chat}
}

// Compose renders o. When wantAudio is set and speech is configured the
// text is also synthesized; a synthesis failure degrades to text only.
func (c *Composer) Compose(ctx context.Context, o Outcome, wantAudio bool) types.Reply {
	reply := types.Reply{Text: c.text(ctx, o)}

	if res, ok := o.(ToolResults); ok {
		for _, r := range res.Results {
			if r.Payload.Image != nil {
				reply.Images = append(reply.Images, *r.Payload.Image)
			}
		}
	}

	if wantAudio && c.speech != nil && reply.Text != "" {
		audio, err := c.speech.Synthesize(ctx, reply.Text)
		if err != nil {
			slog.Warn("speech synthesis failed, replying with text only", "error", err)
		} else {
			reply.Audio = &audio
		}
	}
	return reply
}

func (c *Composer) text(ctx context.Context, o Outcome) string {
	chat, ok := o.(Chitchat)
	if !ok {
		return renderOutcome(o)
	}
	if c.chat == nil {
		return HelpText
	}
	answer, err := c.chat.Chat(ctx, chat.Turns, chat.Text, chat.Now, chat.Location)
	if err != nil || answer == "" {
		if err != nil {
			slog.Warn("chat reply failed, using help text", "error", err)
		}
		return HelpText
	}
	return answer
}

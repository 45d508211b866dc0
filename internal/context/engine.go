// Package context assembles token-budgeted prompts for the language model
// from a session's recent turns.
package context

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/deskmate/internal/session"
	"github.com/user/deskmate/pkg/llm"
)

// Engine assembles token-budgeted prompts for the LLM.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
}

// New creates a context engine with the specified token budget.
// model selects the tokenizer, maxTokens is the model's context window and
// reserve is held back for the model's response.
func New(model string, maxTokens, reserve int) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Engine{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
	}, nil
}

func (e *Engine) CountTokens(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

// BuildPrompt returns the system prompt, as many of the most recent turns
// as fit the budget in chronological order, and the current utterance.
// The system prompt and current utterance are always included.
func (e *Engine) BuildPrompt(system string, turns []session.Turn, current string) []llm.Message {
	budget := e.maxTokens - e.reserve - e.CountTokens(system) - e.CountTokens(current)

	kept := 0
	used := 0
	for i := len(turns) - 1; i >= 0; i-- {
		n := e.CountTokens(turns[i].Text) + 4
		if used+n > budget {
			break
		}
		used += n
		kept++
	}

	messages := make([]llm.Message, 0, kept+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, turn := range turns[len(turns)-kept:] {
		messages = append(messages, turnToMessage(turn))
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: current})
	return messages
}

func turnToMessage(turn session.Turn) llm.Message {
	if turn.Role == session.RoleAgent {
		return llm.Message{Role: llm.RoleAssistant, Content: turn.Text}
	}
	return llm.Message{Role: llm.RoleUser, Content: turn.Text}
}

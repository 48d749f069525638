// internal/context/engine.go
package context

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/liftcoach/internal/types"
	"github.com/user/liftcoach/pkg/llm"
)

// ErrSystemPromptTooLarge is returned when the system message alone does not
// fit the input budget.
var ErrSystemPromptTooLarge = errors.New("system prompt exceeds token budget")

// Engine counts tokens and renders the system prompt for new conversations.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
	prompt    *template.Template
}

// New creates a context engine with the specified token budget.
// model is used to select the appropriate tokenizer (e.g. "gpt-4o").
// maxTokens is the model's context window size.
// reserve is the number of tokens to reserve for the model's response.
// promptPath optionally points at a text/template file replacing DefaultPrompt.
func New(model string, maxTokens, reserve int, promptPath string) (*Engine, error) {
	if reserve >= maxTokens {
		return nil, fmt.Errorf("output reserve %d must be below context window %d", reserve, maxTokens)
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}

	text := DefaultPrompt
	if promptPath != "" {
		data, err := os.ReadFile(promptPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read system prompt: %w", err)
		}
		if err == nil {
			text = string(data)
		}
	}
	tmpl, err := template.New("system").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse system prompt: %w", err)
	}

	return &Engine{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
		prompt:    tmpl,
	}, nil
}

// Budget is the input ceiling: context window minus the output reserve.
func (e *Engine) Budget() int {
	return e.maxTokens - e.reserve
}

// Count returns the token count for a string.
func (e *Engine) Count(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

// Stamp sets TokenCount on each message from its content and tool calls.
func (e *Engine) Stamp(msgs ...*types.Message) {
	for _, m := range msgs {
		n := e.Count(m.Content)
		for _, tc := range m.ToolCalls {
			n += e.Count(tc.Name)
			n += e.Count(tc.Arguments)
		}
		m.TokenCount = n
	}
}

// SystemMessage renders the prompt template into a stamped system message.
func (e *Engine) SystemMessage(data PromptData) (types.Message, error) {
	if data.Time == "" {
		data.Time = time.Now().Format(time.RFC3339)
	}
	var buf bytes.Buffer
	if err := e.prompt.Execute(&buf, data); err != nil {
		return types.Message{}, fmt.Errorf("render system prompt: %w", err)
	}
	msg := types.NewSystemMessage(buf.String())
	e.Stamp(&msg)
	return msg, nil
}

// Assemble selects the newest messages that fit budget alongside the system
// message and returns them in chronological order, system first. A message
// that exactly fills the remaining budget is included. The window never
// opens on a tool result whose originating call was cut.
func Assemble(conv *types.Conversation, budget int) ([]types.Message, error) {
	sys, ok := conv.System()
	if !ok {
		return nil, types.ErrMissingSystemMessage
	}
	if sys.TokenCount > budget {
		return nil, fmt.Errorf("%w: %d > %d", ErrSystemPromptTooLarge, sys.TokenCount, budget)
	}

	history := conv.Messages[1:]
	remaining := budget - sys.TokenCount
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].TokenCount > remaining {
			break
		}
		remaining -= history[i].TokenCount
		start = i
	}
	for start < len(history) && history[start].Role == types.RoleTool {
		start++
	}

	out := make([]types.Message, 0, 1+len(history)-start)
	out = append(out, sys)
	out = append(out, history[start:]...)
	return out, nil
}

// ToLLM converts conversation messages into provider messages.
func ToLLM(msgs []types.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		lm := llm.Message{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			args := strings.TrimSpace(tc.Arguments)
			if args == "" {
				args = "{}"
			}
			lm.ToolCalls = append(lm.ToolCalls, llm.ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: llm.FunctionCall{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		out[i] = lm
	}
	return out
}

// TotalTokens sums the stamped token counts.
func TotalTokens(msgs []types.Message) int {
	n := 0
	for _, m := range msgs {
		n += m.TokenCount
	}
	return n
}

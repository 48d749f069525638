// Package anthropic implements llm.Provider on top of the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/user/liftcoach/pkg/llm"
)

const defaultMaxTokens = 4096

// Client implements the llm.Provider interface for Anthropic models.
type Client struct {
	config *llm.Config
	api    anthropic.Client
}

// New creates a client; an empty BaseURL uses the SDK default endpoint.
func New(config *llm.Config, opts ...option.RequestOption) *Client {
	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	options = append(options, opts...)
	return &Client{
		config: config,
		api:    anthropic.NewClient(options...),
	}
}

// Complete sends one Messages request and normalizes the stop reason.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	system, converted, err := convertMessages(messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	maxTokens := c.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		Messages:  converted,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if c.config.Temperature != 0 {
		params.Temperature = anthropic.Float(float64(c.config.Temperature))
	}
	if len(tools) > 0 {
		params.Tools, err = convertTools(tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
	}

	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &llm.APIError{Provider: "anthropic", StatusCode: apiErr.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("anthropic: sending request: %w", err)
	}

	out := &llm.Response{
		FinishReason: toFinishReason(msg.StopReason),
		Usage: llm.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: llm.FunctionCall{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}
	out.Content = text.String()
	return out, nil
}

func toFinishReason(reason anthropic.StopReason) llm.FinishReason {
	switch reason {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return llm.FinishStop
	case anthropic.StopReasonToolUse:
		return llm.FinishToolCalls
	case anthropic.StopReasonMaxTokens:
		return llm.FinishLength
	case anthropic.StopReasonRefusal:
		return llm.FinishContentFilter
	default:
		return llm.FinishReason(reason)
	}
}

// convertMessages lifts the system prompt out of the history and merges
// consecutive tool results into a single user turn, as the Messages API
// requires.
func convertMessages(messages []llm.Message) (string, []anthropic.MessageParam, error) {
	var system string
	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			system = msg.Content
		case "tool":
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, isErrorEnvelope(msg.Content)))
		case "assistant":
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if strings.TrimSpace(tc.Function.Arguments) != "" {
					if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
						// unparseable arguments replay as an empty object
						input = map[string]any{}
					}
				}
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	flush()
	return system, out, nil
}

func isErrorEnvelope(content string) bool {
	var env struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		return false
	}
	return env.Error != nil
}

func convertTools(tools []llm.Tool) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Function.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Function.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Function.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Function.Name)
		}
		param.OfTool.Description = anthropic.String(t.Function.Description)
		out = append(out, param)
	}
	return out, nil
}

package providers

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nicolasforstinger/lucyd-sub001/pkg/models"
)

// OpenAIProvider adapts the chat-completions-style wire protocol
// (OpenAI and any OpenAI-compatible endpoint reached via a custom base URL).
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIProvider constructs an OpenAIProvider from Config.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: missing API key")
	}
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(conf),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai-compat" }

// FormatTools converts the generic tool schema list into []openai.Tool.
func (p *OpenAIProvider) FormatTools(tools []ToolSchema) any {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(t.InputSchema, &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaMap,
			},
		})
	}
	return out
}

// FormatSystem concatenates system blocks into one leading system message.
// Chat-completions-style endpoints have no distinct system-prompt channel
// or cache_control concept, so tiers collapse to plain text (spec §4.1).
func (p *OpenAIProvider) FormatSystem(blocks []SystemBlock) any {
	text := ""
	for i, b := range blocks {
		if i > 0 {
			text += "\n\n"
		}
		text += b.Text
	}
	return text
}

// FormatMessages converts internal messages into []openai.ChatCompletionMessage.
func (p *OpenAIProvider) FormatMessages(messages []models.Message) any {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser, models.RoleSystemNote:
			m := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
			images := false
			for _, b := range msg.Blocks {
				if b.Type == models.ContentImage {
					images = true
					break
				}
			}
			if images {
				var parts []openai.ChatMessagePart
				if text := msg.TextContent(); text != "" {
					parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: text})
				}
				for _, b := range msg.Blocks {
					if b.Type != models.ContentImage {
						continue
					}
					parts = append(parts, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    fmt.Sprintf("data:%s;base64,%s", b.MediaType, b.Data),
							Detail: openai.ImageURLDetailAuto,
						},
					})
				}
				m.MultiContent = parts
			} else {
				m.Content = msg.TextContent()
			}
			result = append(result, m)

		case models.RoleToolResult:
			for _, r := range msg.Results {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    r.Content,
					ToolCallID: r.ToolCallID,
				})
			}

		case models.RoleAssistant:
			m := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Text}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			result = append(result, m)
		}
	}

	return result
}

// Complete issues a single non-streaming chat-completion request.
// Chat-completions-style endpoints have no signed-reasoning-block concept
// equivalent to Anthropic's extended thinking, so Response.Reasoning is
// always nil for this provider.
func (p *OpenAIProvider) Complete(ctx context.Context, system, messages, tools any) (*Response, error) {
	msgs, _ := messages.([]openai.ChatCompletionMessage)
	sysText, _ := system.(string)
	toolParams, _ := tools.([]openai.Tool)

	full := msgs
	if sysText != "" {
		full = append([]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: sysText}}, msgs...)
	}

	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: full,
	}
	if p.maxTokens > 0 {
		req.MaxTokens = p.maxTokens
	}
	if len(toolParams) > 0 {
		req.Tools = toolParams
	}

	completion, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}
	choice := completion.Choices[0]

	resp := &Response{
		Text: choice.Message.Content,
		Usage: models.Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	switch choice.FinishReason {
	case openai.FinishReasonToolCalls:
		resp.StopReason = StopToolUse
	case openai.FinishReasonLength:
		resp.StopReason = StopMaxTokens
	default:
		if len(resp.ToolCalls) > 0 {
			resp.StopReason = StopToolUse
		} else {
			resp.StopReason = StopEndTurn
		}
	}

	return resp, nil
}

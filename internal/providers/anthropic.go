package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nicolasforstinger/lucyd-sub001/pkg/models"
)

// maxEmptyStreamEvents bounds how many consecutive no-op SSE events we
// tolerate before treating the stream as malformed.
const maxEmptyStreamEvents = 300

// AnthropicProvider adapts the messages-style wire protocol (Anthropic and
// any Anthropic-compatible endpoint reached via a custom base URL).
type AnthropicProvider struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	cache       bool
	thinking    bool
	thinkBudget int
}

// NewAnthropicProvider constructs an AnthropicProvider from Config.
func NewAnthropicProvider(cfg Config) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: missing API key")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicProvider{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   maxTokens,
		cache:       cfg.CacheControl,
		thinking:    cfg.ThinkingEnabled,
		thinkBudget: cfg.ThinkingBudget,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic-compat" }

// FormatTools converts the generic tool schema list into
// []anthropic.ToolUnionParam.
func (p *AnthropicProvider) FormatTools(tools []ToolSchema) any {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.InputSchema) > 0 {
			var raw map[string]any
			if err := json.Unmarshal(t.InputSchema, &raw); err == nil {
				if props, ok := raw["properties"]; ok {
					schema.Properties = props
				}
			}
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		toolParam.OfTool.Description = anthropic.String(t.Description)
		out = append(out, toolParam)
	}
	return out
}

// FormatSystem converts system blocks into []anthropic.TextBlockParam,
// tagging the stable/semi_stable tiers with cache_control when enabled
// (spec §4.1's prompt-caching note).
func (p *AnthropicProvider) FormatSystem(blocks []SystemBlock) any {
	out := make([]anthropic.TextBlockParam, 0, len(blocks))
	for _, b := range blocks {
		block := anthropic.TextBlockParam{Type: "text", Text: b.Text}
		if p.cache && (b.Tier == TierStable || b.Tier == TierSemiStable) {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		out = append(out, block)
	}
	return out
}

// FormatMessages converts internal messages into []anthropic.MessageParam.
// Malformed tool-call argument JSON is not an error here: per spec §3.2 it
// is rewrapped as {"raw": <literal>} so one bad tool call never aborts an
// entire turn.
func (p *AnthropicProvider) FormatMessages(messages []models.Message) any {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		switch msg.Role {
		case models.RoleUser, models.RoleSystemNote:
			if text := msg.TextContent(); text != "" {
				content = append(content, anthropic.NewTextBlock(text))
			}
			for _, b := range msg.Blocks {
				if b.Type == models.ContentImage {
					content = append(content, anthropic.NewImageBlockBase64(b.MediaType, b.Data))
				}
			}
			if len(content) == 0 {
				continue
			}
			result = append(result, anthropic.NewUserMessage(content...))

		case models.RoleToolResult:
			for _, r := range msg.Results {
				content = append(content, anthropic.NewToolResultBlock(r.ToolCallID, r.Content, false))
			}
			if len(content) == 0 {
				continue
			}
			result = append(result, anthropic.NewUserMessage(content...))

		case models.RoleAssistant:
			if msg.Reasoning != nil && msg.Reasoning.Text != "" {
				content = append(content, anthropic.NewThinkingBlock(signatureOf(msg.Reasoning), msg.Reasoning.Text))
			}
			if msg.Text != "" {
				content = append(content, anthropic.NewTextBlock(msg.Text))
			}
			for _, tc := range msg.ToolCalls {
				var input any
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					input = map[string]any{"raw": string(tc.Arguments)}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(content...))
		}
	}

	return result
}

// signatureOf extracts the opaque continuation signature embedded in a
// reasoning block's Raw field, defaulting to empty when absent.
func signatureOf(r *models.ReasoningBlock) string {
	if r == nil || len(r.Raw) == 0 {
		return ""
	}
	var wrapper struct {
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(r.Raw, &wrapper); err != nil {
		return ""
	}
	return wrapper.Signature
}

// Complete sends one non-streaming-to-caller request: internally it still
// consumes the provider's SSE stream (the teacher's idiom for this API),
// but accumulates the stream into a single *Response rather than exposing
// a chunk channel, since nothing downstream of the agentic loop in this
// module needs token-by-token delivery.
func (p *AnthropicProvider) Complete(ctx context.Context, system, messages, tools any) (*Response, error) {
	sysBlocks, _ := system.([]anthropic.TextBlockParam)
	msgParams, _ := messages.([]anthropic.MessageParam)
	toolParams, _ := tools.([]anthropic.ToolUnionParam)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  msgParams,
		MaxTokens: int64(p.maxTokens),
	}
	if len(sysBlocks) > 0 {
		params.System = sysBlocks
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}
	if p.thinking {
		budget := int64(p.thinkBudget)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	return p.accumulate(stream)
}

type rawEventStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}

func (p *AnthropicProvider) accumulate(stream rawEventStream) (*Response, error) {
	resp := &Response{StopReason: StopEndTurn}

	var text strings.Builder
	var thinking strings.Builder
	var thinkingSig string
	var currentTool *models.ToolCall
	var currentInput strings.Builder
	emptyEvents := 0
	inThinking := false

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				resp.Usage.InputTokens = int(ms.Message.Usage.InputTokens)
			}
			if ms.Message.Usage.CacheReadInputTokens > 0 {
				resp.Usage.CacheReadTokens = int(ms.Message.Usage.CacheReadInputTokens)
			}
			if ms.Message.Usage.CacheCreationInputTokens > 0 {
				resp.Usage.CacheWriteTokens = int(ms.Message.Usage.CacheCreationInputTokens)
			}
			processed = true

		case "content_block_start":
			cbs := event.AsContentBlockStart()
			switch cbs.ContentBlock.Type {
			case "thinking":
				inThinking = true
				processed = true
			case "tool_use":
				toolUse := cbs.ContentBlock.AsToolUse()
				currentTool = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					text.WriteString(delta.Text)
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					thinking.WriteString(delta.Thinking)
					processed = true
				}
			case "signature_delta":
				if delta.Signature != "" {
					thinkingSig = delta.Signature
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if inThinking {
				inThinking = false
				processed = true
			} else if currentTool != nil {
				currentTool.Arguments = json.RawMessage(currentInput.String())
				resp.ToolCalls = append(resp.ToolCalls, *currentTool)
				currentTool = nil
				processed = true
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				resp.Usage.OutputTokens = int(md.Usage.OutputTokens)
			}
			if sr := string(md.Delta.StopReason); sr != "" {
				resp.StopReason = normalizeStopReason(sr, len(resp.ToolCalls) > 0)
			}
			processed = true

		case "message_stop":
			resp.Text = text.String()
			resp.Thinking = thinking.String()
			if thinking.Len() > 0 {
				sig, _ := json.Marshal(struct {
					Signature string `json:"signature"`
				}{thinkingSig})
				resp.Reasoning = &models.ReasoningBlock{Text: thinking.String(), Raw: sig}
			}
			return resp, nil

		case "error":
			return nil, fmt.Errorf("anthropic: stream error event")
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				return nil, fmt.Errorf("anthropic: stream appears malformed (%d empty events)", emptyEvents)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: stream failed: %w", err)
	}

	resp.Text = text.String()
	resp.Thinking = thinking.String()
	return resp, nil
}

func normalizeStopReason(raw string, hasToolCalls bool) StopReason {
	switch raw {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	case "end_turn", "stop_sequence":
		if hasToolCalls {
			return StopToolUse
		}
		return StopEndTurn
	default:
		return StopEndTurn
	}
}

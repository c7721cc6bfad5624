// Package providers normalizes two families of LLM wire protocols
// ("messages-style" and "chat-completions-style") behind one Provider
// contract, per spec.md §4.1.
package providers

import (
	"context"
	"fmt"

	"github.com/nicolasforstinger/lucyd-sub001/pkg/models"
)

// Tier labels how stable a system-prompt block is, for providers that
// support prompt caching.
type Tier string

const (
	TierStable     Tier = "stable"
	TierSemiStable Tier = "semi_stable"
	TierDynamic    Tier = "dynamic"
)

// SystemBlock is one segment of a system prompt.
type SystemBlock struct {
	Text string
	Tier Tier
}

// ToolSchema is the generic tool descriptor passed to a provider, stripped
// of its handler (providers never execute tools).
type ToolSchema struct {
	Name        string
	Description string
	InputSchema []byte // JSON Schema
}

// StopReason is the normalized reason generation stopped.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Response is the normalized result of one provider.Complete call.
type Response struct {
	Text       string
	ToolCalls  []models.ToolCall
	StopReason StopReason
	Usage      models.Usage

	Thinking  string
	Reasoning *models.ReasoningBlock

	Raw any
}

// ToInternalMessage converts a Response into the assistant-variant Message
// that gets appended to session history (mirrors
// original_source/providers/__init__.py's LLMResponse.to_internal_message).
func (r *Response) ToInternalMessage() models.Message {
	return models.Message{
		Role:      models.RoleAssistant,
		Text:      r.Text,
		ToolCalls: r.ToolCalls,
		Thinking:  r.Thinking,
		Reasoning: r.Reasoning,
		Usage:     r.Usage,
	}
}

// Provider is the contract every LLM adapter implements. FormatTools,
// FormatSystem, and FormatMessages each translate generic shapes into an
// adapter-private representation (returned as `any`); Complete consumes
// those private representations directly, avoiding a re-conversion on
// every turn.
type Provider interface {
	FormatTools(tools []ToolSchema) any
	FormatSystem(blocks []SystemBlock) any
	FormatMessages(messages []models.Message) any
	Complete(ctx context.Context, system, messages, tools any) (*Response, error)

	Name() string
}

// Config configures provider construction, matching the fields a
// config.ModelConfig resolves to.
type Config struct {
	APIKey          string
	Model           string
	BaseURL         string
	MaxTokens       int
	CacheControl    bool
	ThinkingEnabled bool
	ThinkingBudget  int
}

// New is the provider factory, keyed by provider-type string (spec §4.1).
func New(providerType string, cfg Config) (Provider, error) {
	switch providerType {
	case "anthropic-compat":
		return NewAnthropicProvider(cfg)
	case "openai-compat":
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown provider type: %q", providerType)
	}
}

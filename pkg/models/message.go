// Package models holds the internal data shapes shared across the daemon:
// messages, tool calls, usage counters, sessions, and the audit log event
// types that serialize them to disk.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies which of the four message variants a Message carries.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_results"
	// RoleSystemNote marks a user-role message carrying an operator-visible
	// marker (e.g. the post-compaction continuity notice). It is still
	// sent to the provider as a user message; the tag exists so callers can
	// tell a synthetic note apart from genuine user input.
	RoleSystemNote Role = "system_note"
)

// ContentBlockType distinguishes the two neutral content block shapes a
// message's content may be structured as.
type ContentBlockType string

const (
	ContentText  ContentBlockType = "text"
	ContentImage ContentBlockType = "image"
)

// ContentBlock is one element of a structured message body. Content-block
// lists never nest.
type ContentBlock struct {
	Type      ContentBlockType `json:"type"`
	Text      string           `json:"text,omitempty"`
	MediaType string           `json:"media_type,omitempty"`
	Data      string           `json:"data,omitempty"` // base64
}

// ToolCall is one tool invocation requested by the assistant. ID is
// provider-generated and opaque. Arguments is whatever the model produced;
// the provider adapter normalizes malformed payloads to {"raw": <literal>}.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResultEntry pairs a tool call id with its output. Content is a plain
// string in the common case, or a JSON-encoded content-block list when a
// tool produced an image.
type ToolResultEntry struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
}

// Usage is non-negative token counters, zero when unknown.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens"`
}

// Add accumulates u2 into u in place (additive, never overwriting).
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
	u.CacheReadTokens += u2.CacheReadTokens
	u.CacheWriteTokens += u2.CacheWriteTokens
}

// ReasoningBlock is a vendor-specific continuation token (e.g. an Anthropic
// extended-thinking block with its signature) that must be echoed back
// verbatim on the next tool-use turn or the provider rejects the request.
type ReasoningBlock struct {
	Text string          `json:"text,omitempty"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

// Message is a tagged record with four variants distinguished by Role.
// Only the fields relevant to that variant are populated.
type Message struct {
	Role Role `json:"role"`

	// User variant.
	Content string         `json:"content,omitempty"`
	Blocks  []ContentBlock `json:"blocks,omitempty"`
	Sender  string         `json:"from,omitempty"`
	Source  string         `json:"source,omitempty"`

	// Assistant variant.
	Text      string          `json:"text,omitempty"`
	ToolCalls []ToolCall      `json:"tool_calls,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Reasoning *ReasoningBlock `json:"thinking_block,omitempty"`
	Usage     Usage           `json:"usage,omitempty"`

	// Tool-results variant.
	Results []ToolResultEntry `json:"results,omitempty"`
}

// TextContent returns the flattened text of a message regardless of
// whether Content is plain or the message carries structured Blocks.
func (m Message) TextContent() string {
	if m.Content != "" {
		return m.Content
	}
	if len(m.Blocks) == 0 {
		return ""
	}
	out := ""
	for i, b := range m.Blocks {
		if b.Type != ContentText {
			continue
		}
		if i > 0 && out != "" {
			out += " "
		}
		out += b.Text
	}
	return out
}

// Session is the persisted, owning aggregate for one conversation.
type Session struct {
	ID                    string    `json:"id"`
	Contact               string    `json:"contact"`
	Model                 string    `json:"model"`
	Messages              []Message `json:"messages"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
	TotalInputTokens      int       `json:"total_input_tokens"`
	TotalOutputTokens     int       `json:"total_output_tokens"`
	CompactionCount       int       `json:"compaction_count"`
	WarnedAboutCompaction bool      `json:"warned_about_compaction"`
	PendingSystemWarning  string    `json:"pending_system_warning,omitempty"`
}

// LastInputTokens returns the input-token count of the most recent
// assistant message, or 0 if there is none.
func (s *Session) LastInputTokens() int {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i].Usage.InputTokens
		}
	}
	return 0
}

// NeedsCompaction reports whether the session's last assistant usage
// exceeds the configured token threshold.
func (s *Session) NeedsCompaction(threshold int) bool {
	return s.LastInputTokens() > threshold
}

// EventType tags one audit log record.
type EventType string

const (
	EventSession    EventType = "session"
	EventMessage    EventType = "message"
	EventToolResult EventType = "tool_result"
	EventCompaction EventType = "compaction"
)

// AuditEvent is one append-only audit log record. Fields are a union over
// all event types; only the ones relevant to Type are populated.
type AuditEvent struct {
	Type      EventType `json:"type"`
	Timestamp float64   `json:"timestamp"`

	// session
	ID            string `json:"id,omitempty"`
	Model         string `json:"model,omitempty"`
	Contact       string `json:"contact,omitempty"`
	ParentSession string `json:"parent_session,omitempty"`

	// message (embeds the message fields directly, matching the source's
	// `{"type": "message", **msg}` flattening)
	Role      Role            `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	From      string          `json:"from,omitempty"`
	Source    string          `json:"source,omitempty"`
	Text      string          `json:"text,omitempty"`
	ToolCalls []ToolCall      `json:"tool_calls,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Reasoning *ReasoningBlock `json:"thinking_block,omitempty"`
	Usage     *Usage          `json:"usage,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`

	// compaction
	SummaryTokens    int    `json:"summary_tokens,omitempty"`
	RemovedMessages  int    `json:"removed_messages,omitempty"`
	CompactionNumber int    `json:"compaction_number,omitempty"`
	Summary          string `json:"summary,omitempty"`
}

// IndexEntry is one row of the contact→session index.
type IndexEntry struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CostRow is one row of the cost ledger (spec §3.7 / §6.3).
type CostRow struct {
	Timestamp        int64   `json:"timestamp"`
	SessionID        string  `json:"session_id"`
	Model            string  `json:"model"`
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	CacheReadTokens  int     `json:"cache_read_tokens"`
	CacheWriteTokens int     `json:"cache_write_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

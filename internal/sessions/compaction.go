package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nicolasforstinger/lucyd-sub001/internal/providers"
	"github.com/nicolasforstinger/lucyd-sub001/pkg/models"
)

// CompactionMarker is appended right after the generated summary so the
// model knows some detail was lost and how to recover it.
const CompactionMarker = "[system: This conversation was compacted. The summary above covers " +
	"earlier messages. Some details may be lost. Use memory_search or " +
	"memory_get to find specific information from before compaction.]"

// compactionTruncationLimit bounds how much of an embedded tool call's
// arguments or a tool result's content survive into the summarization
// prompt.
const compactionTruncationLimit = 2000

// Compact summarizes the oldest 2/3 of a session's messages via provider,
// replacing them with a summary message + continuity marker while leaving
// the most recent 1/3 untouched. Sessions under 4 messages are left alone.
func Compact(ctx context.Context, session *Session, provider providers.Provider, compactionPrompt string) error {
	session.mu.Lock()
	messages := append([]models.Message(nil), session.Messages...)
	session.mu.Unlock()

	if len(messages) < 4 {
		return nil
	}

	splitPoint := len(messages) * 2 / 3
	oldMessages := messages[:splitPoint]
	recentMessages := messages[splitPoint:]

	conversationText := buildConversationText(oldMessages)
	if strings.TrimSpace(conversationText) == "" {
		return nil
	}

	summaryMessages := []models.Message{{
		Role:    models.RoleUser,
		Content: compactionPrompt + "\n\n---\n\n" + conversationText,
	}}
	fmtSystem := provider.FormatSystem([]providers.SystemBlock{{Text: "You are a conversation summarizer.", Tier: providers.TierStable}})
	fmtMessages := provider.FormatMessages(summaryMessages)

	resp, err := provider.Complete(ctx, fmtSystem, fmtMessages, nil)
	if err != nil {
		return fmt.Errorf("compaction: summarize failed: %w", err)
	}
	summary := resp.Text

	summaryMsg := models.Message{Role: models.RoleUser, Content: "[Previous conversation summary]\n" + summary}
	markerMsg := models.Message{Role: models.RoleUser, Content: CompactionMarker}

	newMessages := append([]models.Message{summaryMsg, markerMsg}, recentMessages...)

	session.mu.Lock()
	session.Messages = newMessages
	session.CompactionCount++
	session.WarnedAboutCompaction = false
	count := session.CompactionCount
	session.mu.Unlock()

	session.saveState()
	session.appendEvent(models.AuditEvent{
		Type:             models.EventCompaction,
		SummaryTokens:    resp.Usage.OutputTokens,
		RemovedMessages:  len(oldMessages),
		CompactionNumber: count,
		Summary:          truncate(summary, compactionTruncationLimit),
	})

	if session.log != nil {
		session.log.Info("compacted session", "session", session.ID, "removed", len(oldMessages), "recent", len(recentMessages))
	}
	return nil
}

func buildConversationText(messages []models.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		text := msg.TextContent()
		if text == "" {
			text = msg.Text
		}
		if msg.Role != "" && text != "" {
			fmt.Fprintf(&b, "%s: %s\n\n", msg.Role, text)
		}
		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&b, "assistant [tool_call]: %s(%s)\n\n", tc.Name, truncate(argsString(tc.Arguments), compactionTruncationLimit))
		}
		if msg.Role == models.RoleToolResult {
			for _, r := range msg.Results {
				fmt.Fprintf(&b, "tool_result: %s\n\n", truncate(r.Content, compactionTruncationLimit))
			}
		}
	}
	return b.String()
}

func argsString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

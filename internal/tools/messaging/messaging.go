// Package messaging implements the "message"/"react" tools: channel-agnostic
// outbound delivery, grounded on original_source/tools/messaging.py.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nicolasforstinger/lucyd-sub001/internal/tools"
	"github.com/nicolasforstinger/lucyd-sub001/internal/tools/files"
)

// Channel is the minimum a messaging channel must expose for these tools
// to deliver through it.
type Channel interface {
	Send(ctx context.Context, target, text string, attachments []string) error
	SendReaction(ctx context.Context, target, emoji string, timestamp string) error
}

// TimestampLookup returns the last inbound message timestamp recorded for
// a contact, or "" if none is known.
type TimestampLookup func(contact string) string

// ReactionEmojis is the Telegram-allowed reaction set the "react" tool's
// schema advertises.
var ReactionEmojis = []string{
	"❤", "👍", "👎", "🔥", "🥰", "👏", "😁", "🤔", "🤯", "😱",
	"🤬", "😢", "🎉", "🤩", "🤮", "💩", "🙏", "👌", "🕊", "🤡",
	"🥱", "🥴", "😍", "🐳", "❤‍🔥", "🌚", "🌭", "💯", "🤣", "⚡",
	"🍌", "🏆", "💔", "🤨", "😐", "🍓", "🍾", "💋", "🖕", "😈",
	"😴", "😭", "🤓", "👻", "👨‍💻", "👀", "🎃", "🙈", "😇", "😨",
	"🤝", "✍", "🤗", "🫡", "🎅", "🎄", "☃", "💅", "🤪", "🗿",
	"🆒", "💘", "🙉", "🦄", "😘", "💊", "🙊", "😎", "👾",
	"🤷‍♂", "🤷", "🤷‍♀", "😡",
}

// registrar holds the deployment-specific wiring these tools need, set
// once at daemon startup (mirrors the source module's set_channel /
// set_timestamp_getter / configure globals, as per-Registry state instead
// of package globals so multiple daemons in one process don't collide).
type registrar struct {
	channel      Channel
	getTimestamp TimestampLookup
	checker      files.Checker
	targetDesc   string
}

// Register adds the "message" and "react" tools to reg, wired to channel
// and contacts.
func Register(reg *tools.Registry, channel Channel, getTimestamp TimestampLookup, allowedAttachmentPaths []string, contactNames []string) {
	r := &registrar{
		channel:      channel,
		getTimestamp: getTimestamp,
		checker:      files.Checker{Allowed: allowedAttachmentPaths},
		targetDesc:   targetDescription(contactNames),
	}

	messageSchema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"target": map[string]any{"type": "string", "description": r.targetDesc},
			"text":   map[string]any{"type": "string", "description": "Message text to send"},
			"attachments": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "List of absolute file paths to send as attachments",
			},
		},
		"required": []string{"target"},
	})

	reg.Register("message",
		"Send a message (text and/or file attachments) to a contact. "+
			"In system/HTTP sessions, your text replies are NOT delivered — "+
			"this tool is the only way to notify the operator.",
		messageSchema, r.handleMessage)

	reactSchema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"target": map[string]any{"type": "string", "description": r.targetDesc},
			"emoji": map[string]any{
				"type":        "string",
				"description": "Telegram-allowed reaction emoji.",
				"enum":        ReactionEmojis,
			},
			"sender": map[string]any{"type": "string", "description": "Contact who sent the message to react to. Leave empty to react to target's last message (most common)."},
		},
		"required": []string{"target", "emoji"},
	})

	reg.Register("react", "Send an emoji reaction to the last message from a contact.", reactSchema, r.handleReact)
}

func targetDescription(contactNames []string) string {
	if len(contactNames) == 0 {
		return "Recipient contact name. No contacts configured — check deployment config."
	}
	return fmt.Sprintf("Recipient contact name (case-insensitive). Available contacts: %s. Self-sends are blocked.", strings.Join(contactNames, ", "))
}

type messageArgs struct {
	Target      string   `json:"target"`
	Text        string   `json:"text"`
	Attachments []string `json:"attachments"`
}

func (r *registrar) handleMessage(ctx context.Context, arguments json.RawMessage) (string, error) {
	var a messageArgs
	if err := json.Unmarshal(arguments, &a); err != nil {
		return "", tools.InvalidArguments(err)
	}
	if r.channel == nil {
		return "Error: No channel configured", nil
	}
	if a.Text == "" && len(a.Attachments) == 0 {
		return "Error: Must provide text or attachments", nil
	}
	for _, path := range a.Attachments {
		if errMsg := r.checker.Check(path); errMsg != "" {
			return fmt.Sprintf("Error: Attachment path not allowed: %s", path), nil
		}
	}
	if err := r.channel.Send(ctx, a.Target, a.Text, a.Attachments); err != nil {
		return fmt.Sprintf("Error: Message delivery failed: %T", err), nil
	}

	var parts []string
	if a.Text != "" {
		parts = append(parts, "text")
	}
	if len(a.Attachments) > 0 {
		parts = append(parts, fmt.Sprintf("%d attachment(s)", len(a.Attachments)))
	}
	return fmt.Sprintf("Sent %s to %s", strings.Join(parts, " + "), a.Target), nil
}

type reactArgs struct {
	Target string `json:"target"`
	Emoji  string `json:"emoji"`
	Sender string `json:"sender"`
}

func (r *registrar) handleReact(ctx context.Context, arguments json.RawMessage) (string, error) {
	var a reactArgs
	if err := json.Unmarshal(arguments, &a); err != nil {
		return "", tools.InvalidArguments(err)
	}
	if r.channel == nil {
		return "Error: No channel configured", nil
	}
	if r.getTimestamp == nil {
		return "Error: Timestamp tracking not configured", nil
	}
	key := a.Sender
	if key == "" {
		key = a.Target
	}
	ts := r.getTimestamp(key)
	if ts == "" {
		return fmt.Sprintf("Error: No recent message timestamp for %s", key), nil
	}
	if err := r.channel.SendReaction(ctx, a.Target, a.Emoji, ts); err != nil {
		return fmt.Sprintf("Error: Reaction failed — %v", err), nil
	}
	return fmt.Sprintf("Reacted with %s to %s's last message", a.Emoji, a.Target), nil
}

package main

import (
	"context"

	"github.com/nicolasforstinger/lucyd-sub001/internal/observability"
)

// logChannel is the default outbound channel when no real transport is
// wired: it logs what would have been sent instead of silently dropping
// it. A real deployment replaces this with a transport adapter that
// satisfies dispatcher.Channel / messaging.Channel — out of this module's
// scope (spec.md §1 Non-goals: "the transport channel").
type logChannel struct {
	log *observability.Logger
}

func (c *logChannel) Send(ctx context.Context, target, text string, attachments []string) error {
	if c.log != nil {
		c.log.Info("outbound message (no transport wired)", "target", target, "text", text, "attachments", attachments)
	}
	return nil
}

func (c *logChannel) SendReaction(ctx context.Context, target, emoji, timestamp string) error {
	if c.log != nil {
		c.log.Info("outbound reaction (no transport wired)", "target", target, "emoji", emoji, "timestamp", timestamp)
	}
	return nil
}

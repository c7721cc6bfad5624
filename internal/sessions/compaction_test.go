package sessions

import (
	"context"
	"testing"

	"github.com/nicolasforstinger/lucyd-sub001/internal/providers"
	"github.com/nicolasforstinger/lucyd-sub001/pkg/models"
)

type fakeProvider struct{ summary string }

func (f *fakeProvider) FormatTools(tools []providers.ToolSchema) any    { return nil }
func (f *fakeProvider) FormatSystem(blocks []providers.SystemBlock) any { return nil }
func (f *fakeProvider) FormatMessages(messages []models.Message) any    { return nil }
func (f *fakeProvider) Name() string                                    { return "fake" }
func (f *fakeProvider) Complete(ctx context.Context, system, messages, tools any) (*providers.Response, error) {
	return &providers.Response{Text: f.summary, StopReason: providers.StopEndTurn}, nil
}

func TestCompactLeavesShortSessionsAlone(t *testing.T) {
	m := NewManager(t.TempDir(), "test", nil)
	s := m.GetOrCreate("alice", "claude-sonnet")
	s.AddUserMessage("hi", "alice", "http")

	before := len(s.Session.Messages)
	if err := Compact(context.Background(), s, &fakeProvider{summary: "summary"}, "Summarize:"); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if len(s.Session.Messages) != before {
		t.Fatalf("expected short session untouched, had %d now has %d", before, len(s.Session.Messages))
	}
}

func TestCompactSummarizesOldestTwoThirds(t *testing.T) {
	m := NewManager(t.TempDir(), "test", nil)
	s := m.GetOrCreate("bob", "claude-sonnet")
	for i := 0; i < 9; i++ {
		s.AddUserMessage("message", "bob", "http")
	}

	if err := Compact(context.Background(), s, &fakeProvider{summary: "the gist"}, "Summarize:"); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	msgs := s.Session.Messages
	if len(msgs) != 2+3 {
		t.Fatalf("expected summary+marker+recent third (5), got %d", len(msgs))
	}
	if msgs[0].Content == "" {
		t.Fatal("expected a non-empty summary message")
	}
	if msgs[1].Content != CompactionMarker {
		t.Fatalf("expected compaction marker at index 1, got %q", msgs[1].Content)
	}
	if s.Session.CompactionCount != 1 {
		t.Fatalf("expected CompactionCount 1, got %d", s.Session.CompactionCount)
	}
}

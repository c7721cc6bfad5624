package agent

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nicolasforstinger/lucyd-sub001/internal/cost"
	"github.com/nicolasforstinger/lucyd-sub001/internal/providers"
	"github.com/nicolasforstinger/lucyd-sub001/pkg/models"
)

// scriptedProvider returns one canned Response per Complete call, in order.
type scriptedProvider struct {
	responses []*providers.Response
	calls     int
}

func (p *scriptedProvider) FormatTools(tools []providers.ToolSchema) any    { return tools }
func (p *scriptedProvider) FormatSystem(blocks []providers.SystemBlock) any { return blocks }
func (p *scriptedProvider) FormatMessages(messages []models.Message) any    { return messages }
func (p *scriptedProvider) Name() string                                    { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, system, messages, tools any) (*providers.Response, error) {
	r := p.responses[p.calls]
	p.calls++
	return r, nil
}

type fakeExecutor struct{ calls []string }

func (e *fakeExecutor) Execute(ctx context.Context, name string, arguments json.RawMessage) string {
	e.calls = append(e.calls, name)
	return "ok:" + name
}

func TestRunStopsAtEndTurn(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.Response{
		{Text: "hello", StopReason: providers.StopEndTurn},
	}}
	messages := []models.Message{{Role: models.RoleUser, Content: "hi"}}

	resp, err := Run(context.Background(), Options{Provider: provider, MaxTurns: 5}, &messages)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Text != "hello" {
		t.Fatalf("expected text %q, got %q", "hello", resp.Text)
	}
	if provider.calls != 1 {
		t.Fatalf("expected exactly 1 Complete call, got %d", provider.calls)
	}
	if len(messages) != 2 {
		t.Fatalf("expected user+assistant messages, got %d", len(messages))
	}
}

func TestRunExecutesToolCallsThenStops(t *testing.T) {
	exec := &fakeExecutor{}
	provider := &scriptedProvider{responses: []*providers.Response{
		{
			ToolCalls:  []models.ToolCall{{ID: "1", Name: "lookup", Arguments: json.RawMessage(`{}`)}},
			StopReason: providers.StopToolUse,
		},
		{Text: "done", StopReason: providers.StopEndTurn},
	}}
	messages := []models.Message{{Role: models.RoleUser, Content: "find it"}}

	resp, err := Run(context.Background(), Options{Provider: provider, ToolExecutor: exec, MaxTurns: 5}, &messages)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Text != "done" {
		t.Fatalf("expected final text %q, got %q", "done", resp.Text)
	}
	if len(exec.calls) != 1 || exec.calls[0] != "lookup" {
		t.Fatalf("expected one call to 'lookup', got %v", exec.calls)
	}
	// user, assistant(tool_use), tool_results, assistant(final)
	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}
}

func TestRunCostLimitReturnsWithoutAppendingOrNotifying(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.Response{
		{Text: "expensive", StopReason: providers.StopEndTurn,
			Usage: models.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}},
	}}
	messages := []models.Message{{Role: models.RoleUser, Content: "go wild"}}

	ledger, err := cost.Open(filepath.Join(t.TempDir(), "costs.db"))
	if err != nil {
		t.Fatalf("cost.Open: %v", err)
	}
	defer ledger.Close()

	var onResponseCalls int
	opts := Options{
		Provider:  provider,
		MaxTurns:  5,
		Ledger:    ledger,
		ModelName: "claude",
		CostRates: cost.CostRates{1000, 1000, 0},
		MaxCost:   0.01,
		OnResponse: func(*providers.Response) {
			onResponseCalls++
		},
	}

	resp, err := Run(context.Background(), opts, &messages)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(resp.Text, "Cost limit reached") {
		t.Fatalf("expected cost-limit marker in response text, got %q", resp.Text)
	}
	if len(messages) != 1 {
		t.Fatalf("expected the over-budget turn to never join the message list, got %d messages", len(messages))
	}
	if onResponseCalls != 0 {
		t.Fatalf("expected OnResponse to be skipped for a turn that never persisted, got %d calls", onResponseCalls)
	}
}

func TestRunStopsAtMaxTurns(t *testing.T) {
	exec := &fakeExecutor{}
	provider := &scriptedProvider{responses: []*providers.Response{
		{ToolCalls: []models.ToolCall{{ID: "1", Name: "loop", Arguments: json.RawMessage(`{}`)}}, StopReason: providers.StopToolUse},
		{ToolCalls: []models.ToolCall{{ID: "2", Name: "loop", Arguments: json.RawMessage(`{}`)}}, StopReason: providers.StopToolUse},
	}}
	messages := []models.Message{{Role: models.RoleUser, Content: "keep going"}}

	_, err := Run(context.Background(), Options{Provider: provider, ToolExecutor: exec, MaxTurns: 2}, &messages)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("expected exactly MaxTurns Complete calls, got %d", provider.calls)
	}
}

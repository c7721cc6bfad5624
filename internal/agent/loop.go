// Package agent implements the provider-agnostic agentic tool-use loop:
// the core control flow that calls a provider, executes any requested
// tools, and repeats until the model stops — grounded on
// original_source/agentic.py.
//
// Text generated alongside tool calls ("thinking out loud") is persisted
// to the session and normally not surfaced to callers: Response.Text is the
// final turn's text, and only when that text is empty does the loop fill it
// with the intermediate texts joined by blank lines. Deliberate outbound
// messages go through the message tool.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nicolasforstinger/lucyd-sub001/internal/cost"
	"github.com/nicolasforstinger/lucyd-sub001/internal/observability"
	"github.com/nicolasforstinger/lucyd-sub001/internal/providers"
	"github.com/nicolasforstinger/lucyd-sub001/internal/tools"
	"github.com/nicolasforstinger/lucyd-sub001/pkg/models"
)

// ErrAPITimeout is returned when a single Complete call exceeds its
// per-call timeout; the loop does not retry — callers decide.
var ErrAPITimeout = errors.New("agent: API call timed out")

// Options configures one run of the loop.
type Options struct {
	Provider     providers.Provider
	System       any // already provider.FormatSystem'd
	Tools        []providers.ToolSchema
	ToolExecutor tools.Executor

	MaxTurns int
	Timeout  time.Duration

	Ledger    *cost.Ledger
	SessionID string
	ModelName string
	CostRates cost.CostRates
	MaxCost   float64

	OnResponse    func(*providers.Response)
	OnToolResults func(models.Message)

	Log     *observability.Logger
	Metrics *observability.Metrics
}

// Run executes the agentic loop against messages (mutated in place: every
// assistant and tool_results turn is appended, matching the source's
// mutate-the-list contract so the final session history includes
// everything the loop produced).
func Run(ctx context.Context, opts Options, messages *[]models.Message) (*providers.Response, error) {
	maxTurns := opts.MaxTurns
	if maxTurns < 1 {
		maxTurns = 1
	}

	var fmtTools any
	if len(opts.Tools) > 0 {
		fmtTools = opts.Provider.FormatTools(opts.Tools)
	}

	var accumulatedCost float64
	var fallbackText []string
	var response *providers.Response

	for turn := 0; turn < maxTurns; turn++ {
		fmtMessages := opts.Provider.FormatMessages(*messages)

		resp, err := completeWithTimeout(ctx, opts, fmtMessages, fmtTools)
		if err != nil {
			if opts.Log != nil {
				opts.Log.Error("API call failed", "turn", turn, "error", err)
			}
			return nil, err
		}
		response = resp

		if opts.Ledger != nil && len(opts.CostRates) > 0 {
			spent := opts.Ledger.Record(opts.SessionID, opts.ModelName, response.Usage, opts.CostRates)
			accumulatedCost += spent
			if opts.Metrics != nil {
				opts.Metrics.CostUSDTotal.WithLabelValues(opts.ModelName).Add(spent)
			}
		}

		if opts.MaxCost > 0 && accumulatedCost > opts.MaxCost {
			if opts.Log != nil {
				opts.Log.Warn("cost limit reached", "accumulated", accumulatedCost, "limit", opts.MaxCost, "turn", turn)
			}
			marker := fmt.Sprintf("\n[Cost limit reached: $%.4f]", accumulatedCost)
			if response.Text != "" {
				response.Text += marker
			} else {
				response.Text = strings.TrimPrefix(marker, "\n")
			}
			// Matches the source's circuit breaker: return before the
			// turn joins the session's message list, so a turn that
			// never persisted is never handed to OnResponse either.
			return response, nil
		}

		*messages = append(*messages, response.ToInternalMessage())

		if opts.OnResponse != nil {
			opts.OnResponse(response)
		}

		if response.Text != "" && len(response.ToolCalls) > 0 {
			fallbackText = append(fallbackText, response.Text)
		}

		if response.StopReason == providers.StopMaxTokens && opts.Log != nil {
			opts.Log.Warn("response truncated (max_tokens)", "turn", turn)
		}

		// Execute any complete tool calls even on max_tokens: a truncated
		// response may still contain valid tool_use blocks generated before
		// the cutoff, and discarding them leaves a dangling tool_use with no
		// tool_result in the session.
		if len(response.ToolCalls) == 0 || response.StopReason == providers.StopEndTurn {
			if response.Text == "" && len(fallbackText) > 0 {
				response.Text = strings.Join(fallbackText, "\n\n")
			}
			if opts.Metrics != nil {
				opts.Metrics.TurnsTotal.WithLabelValues("end_turn").Inc()
			}
			return response, nil
		}
		if opts.Metrics != nil {
			opts.Metrics.TurnsTotal.WithLabelValues("tool_use").Inc()
		}

		resultsMsg := executeToolCalls(ctx, opts, response.ToolCalls)
		*messages = append(*messages, resultsMsg)

		if opts.OnToolResults != nil {
			opts.OnToolResults(resultsMsg)
		}
	}

	if opts.Log != nil {
		opts.Log.Warn("max turns reached", "max_turns", maxTurns)
	}
	if opts.Metrics != nil {
		opts.Metrics.TurnsTotal.WithLabelValues("max_turns").Inc()
	}
	if response != nil && response.Text == "" && len(fallbackText) > 0 {
		response.Text = strings.Join(fallbackText, "\n\n")
	}
	return response, nil
}

func completeWithTimeout(ctx context.Context, opts Options, fmtMessages, fmtTools any) (*providers.Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := opts.Provider.Complete(callCtx, opts.System, fmtMessages, fmtTools)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, ErrAPITimeout
		}
		return nil, err
	}
	return resp, nil
}

// executeToolCalls runs every requested tool call concurrently, isolating
// each one's panic/error so a single bad call can't abort the turn.
func executeToolCalls(ctx context.Context, opts Options, calls []models.ToolCall) models.Message {
	results := make([]models.ToolResultEntry, len(calls))
	var wg sync.WaitGroup
	wg.Add(len(calls))

	for i, tc := range calls {
		go func(i int, tc models.ToolCall) {
			defer wg.Done()
			if opts.Log != nil {
				opts.Log.Info("tool call", "name", tc.Name, "args", truncateForLog(string(tc.Arguments), 200))
			}
			content := opts.ToolExecutor.Execute(ctx, tc.Name, tc.Arguments)
			results[i] = models.ToolResultEntry{ToolCallID: tc.ID, Content: content}
		}(i, tc)
	}

	wg.Wait()
	return models.Message{Role: models.RoleToolResult, Results: results}
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

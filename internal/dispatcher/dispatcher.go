// Package dispatcher implements the single-consumer queue that drives
// every inbound message through session resolution, the agentic loop,
// persistence, and reply delivery — grounded on spec.md §4.8's
// nine-step algorithm, with the monitor's atomic-write idiom grounded on
// haasonsaas-nexus/internal/artifacts/local_store.go.
package dispatcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nicolasforstinger/lucyd-sub001/internal/agent"
	"github.com/nicolasforstinger/lucyd-sub001/internal/config"
	"github.com/nicolasforstinger/lucyd-sub001/internal/cost"
	"github.com/nicolasforstinger/lucyd-sub001/internal/httpapi"
	"github.com/nicolasforstinger/lucyd-sub001/internal/observability"
	"github.com/nicolasforstinger/lucyd-sub001/internal/providers"
	"github.com/nicolasforstinger/lucyd-sub001/internal/sessions"
	"github.com/nicolasforstinger/lucyd-sub001/internal/tools"
	"github.com/nicolasforstinger/lucyd-sub001/internal/tools/subagent"
	"github.com/nicolasforstinger/lucyd-sub001/pkg/models"
)

// WorkItem is the shared queue's element type: whatever an ingress (HTTP,
// a chat transport, a system notifier) places on the queue for the
// dispatcher to consume. It mirrors httpapi.QueueItem's shape but is
// transport-agnostic — httpapi is just one producer.
type WorkItem = httpapi.QueueItem

// ContextBuilder builds a system prompt as a pure function of tier and
// session state — an external dependency the dispatcher treats as opaque.
type ContextBuilder func(tier string, session *sessions.Session) []providers.SystemBlock

// Channel is the minimal outbound-delivery surface a transport exposes
// for replies and webhook echoes.
type Channel interface {
	Send(ctx context.Context, target, text string, attachments []string) error
}

// NotifyWebhook echoes a /notify reply back out, keyed by the original
// notify_meta.
type NotifyWebhook func(ctx context.Context, meta map[string]any, replyText string)

// Dispatcher is the single consumer draining the shared work queue.
type Dispatcher struct {
	Queue <-chan WorkItem

	Sessions     *sessions.Manager
	Registry     *tools.Registry
	Cfg          *config.Config
	Ledger       *cost.Ledger
	Log          *observability.Logger
	Metrics      *observability.Metrics
	BuildContext ContextBuilder
	// ResolveModel turns a resolved model key into a cached provider
	// instance, the underlying model name, and its cost rates.
	ResolveModel func(modelKey string) (providers.Provider, string, cost.CostRates, error)
	Channel      Channel
	Webhook      NotifyWebhook

	// ErrorReplyText is produced on loop timeout/error as the
	// operator-visible reply, configurable per deployment.
	ErrorReplyText string

	stateDir string
}

// New builds a Dispatcher. stateDir is where the live-monitor JSON file
// is written.
func New(queue <-chan WorkItem, stateDir string) *Dispatcher {
	errText := "Sorry, something went wrong processing that message."
	return &Dispatcher{Queue: queue, stateDir: stateDir, ErrorReplyText: errText}
}

// Run drains the queue until ctx is canceled. Single goroutine by
// contract — the agentic loop for any one session is never run
// concurrently with itself.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-d.Queue:
			if !ok {
				return
			}
			if d.Metrics != nil {
				d.Metrics.QueueDepth.Set(float64(len(d.Queue)))
				d.Metrics.ActiveSessions.Set(float64(len(d.Sessions.ActiveSessions())))
			}
			d.process(ctx, item)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, item WorkItem) {
	// 1 & 2. Resolve session by sender; choose a model by routing the
	// item's source label (defaults to "primary"), then resolve a
	// provider for it.
	modelKey, _, err := d.Cfg.ModelForSource(item.Type)
	if err != nil {
		d.recordError("resolve_model")
		d.reply(ctx, item, "Error: no model configured", fmt.Errorf("resolve model for source %q: %w", item.Type, err))
		return
	}
	session := d.Sessions.GetOrCreate(item.Sender, modelKey)

	provider, modelName, rates, err := d.ResolveModel(modelKey)
	if err != nil {
		d.recordError("resolve_model")
		d.reply(ctx, item, "Error: no provider available", fmt.Errorf("resolve provider for model %q: %w", modelKey, err))
		return
	}

	// 3. Build the system prompt (pure function of tier + session).
	var systemBlocks []providers.SystemBlock
	if d.BuildContext != nil {
		systemBlocks = d.BuildContext(item.Tier, session)
	}
	fmtSystem := provider.FormatSystem(systemBlocks)

	// Inject any one-shot warning a prior turn marked pending (e.g. the
	// context-size notice below) before this turn's own message.
	if warning := session.Session.PendingSystemWarning; warning != "" {
		session.Session.PendingSystemWarning = ""
		session.AddUserMessage("[system: "+warning+"]", item.Sender, item.Type)
	}

	// 4. Compose the inbound user message: text plus neutral image/document
	// content blocks for any attachments.
	blocks := attachmentBlocks(item.Attachments)
	session.AddUserMessageWithBlocks(item.Text, blocks, item.Sender, item.Type)

	monitor := newMonitor(d.stateDir, item.Sender, modelName, session.ID)

	// 5. Write initial live-monitor state before invoking the loop.
	monitor.writeThinking(1)

	opts := agent.Options{
		Provider:     provider,
		System:       fmtSystem,
		Tools:        d.Registry.Schemas(),
		ToolExecutor: d.Registry,
		MaxTurns:     d.Cfg.MaxTurns,
		Timeout:      d.Cfg.PerCallTimeout,
		Ledger:       d.Ledger,
		SessionID:    session.ID,
		ModelName:    modelName,
		CostRates:    rates,
		MaxCost:      d.Cfg.MaxCostPerMessage,
		Log:          d.Log,
		Metrics:      d.Metrics,
		OnResponse: func(resp *providers.Response) {
			monitor.writeTools(resp)
			session.PersistAssistantMessage(resp.ToInternalMessage())
		},
		OnToolResults: func(msg models.Message) {
			monitor.incrementTurn()
			monitor.writeThinking(monitor.turn)
			session.PersistToolResults(msg.Results)
		},
	}

	messages := append([]models.Message(nil), session.Session.Messages...)

	// 6. Run the agentic loop. The sub-agent spawner reads the parent
	// session id back out of ctx rather than trusting a model-supplied
	// argument for its cost-ledger segregation.
	runCtx := subagent.WithParentSessionID(ctx, session.ID)
	resp, runErr := agent.Run(runCtx, opts, &messages)
	monitor.writeIdle()

	if runErr != nil {
		if d.Log != nil {
			d.Log.Error("agentic loop failed", "session", session.ID, "error", runErr)
		}
		d.recordError("loop")
		d.reply(ctx, item, d.ErrorReplyText, runErr)
		return
	}

	// 7. The loop already appended every assistant and tool_results turn
	// in place; OnResponse/OnToolResults persisted their audit events as
	// they happened. Reconcile the session's in-memory slice with what
	// the loop actually produced and flush the final snapshot.
	session.Session.Messages = messages
	session.Save()

	// 8. If the session is still over threshold on its first crossing,
	// mark a pending warning for next turn; if it was already warned (the
	// warning never got the chance to bring it back under threshold),
	// compact now instead of warning again.
	if session.NeedsCompaction(d.Cfg.CompactionThresholdTokens) {
		if !session.WarnedAboutCompaction {
			session.Session.WarnedAboutCompaction = true
			session.Session.PendingSystemWarning = "Context is getting large; this conversation will be compacted soon."
			session.Save()
		} else if err := sessions.Compact(ctx, session, provider, d.Cfg.CompactionPrompt); err != nil && d.Log != nil {
			d.Log.Error("compaction failed", "session", session.ID, "error", err)
		}
	}

	// 9. Dispatch the reply.
	d.reply(ctx, item, resp.Text, nil)
}

// attachmentBlocks converts decoded HTTP attachments into neutral content
// blocks. Only image types are forwarded as image blocks; everything else
// is described inline as a text note, since not every provider accepts
// arbitrary document attachments the same way.
func attachmentBlocks(attachments []httpapi.Attachment) []models.ContentBlock {
	if len(attachments) == 0 {
		return nil
	}
	var blocks []models.ContentBlock
	for _, a := range attachments {
		if strings.HasPrefix(a.ContentType, "image/") {
			data, err := os.ReadFile(a.LocalPath)
			if err != nil {
				continue
			}
			blocks = append(blocks, models.ContentBlock{
				Type:      models.ContentImage,
				MediaType: a.ContentType,
				Data:      base64.StdEncoding.EncodeToString(data),
			})
			continue
		}
		blocks = append(blocks, models.ContentBlock{
			Type: models.ContentText,
			Text: fmt.Sprintf("[attachment: %s, %s, %d bytes]", a.Filename, a.ContentType, a.Size),
		})
	}
	return blocks
}

func (d *Dispatcher) recordError(stage string) {
	if d.Metrics != nil {
		d.Metrics.DispatchErrorsTotal.WithLabelValues(stage).Inc()
	}
}

func (d *Dispatcher) reply(ctx context.Context, item WorkItem, text string, err error) {
	switch item.Type {
	case "http":
		if item.ResponseCh == nil {
			return
		}
		result := httpapi.ChatResult{Reply: text}
		if err != nil {
			result.Error = err.Error()
		}
		select {
		case item.ResponseCh <- result:
		case <-time.After(time.Second):
		}
	case "system":
		if item.NotifyMeta != nil && d.Webhook != nil {
			d.Webhook(ctx, item.NotifyMeta, text)
		}
	default:
		if d.Channel != nil {
			_ = d.Channel.Send(ctx, item.Sender, text, nil)
		}
	}
}

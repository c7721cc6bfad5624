// Package subagent implements the "sessions_spawn" tool: a scoped,
// ephemeral sub-agent run through the same agentic loop as the top-level
// daemon, grounded on original_source/tools/agents.py.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nicolasforstinger/lucyd-sub001/internal/agent"
	"github.com/nicolasforstinger/lucyd-sub001/internal/cost"
	"github.com/nicolasforstinger/lucyd-sub001/internal/observability"
	"github.com/nicolasforstinger/lucyd-sub001/internal/providers"
	"github.com/nicolasforstinger/lucyd-sub001/internal/sessions"
	"github.com/nicolasforstinger/lucyd-sub001/internal/tools"
	"github.com/nicolasforstinger/lucyd-sub001/pkg/models"
)

// parentSessionIDKey is the context key the dispatcher uses to pass the
// dispatching session's ID down to the sessions_spawn handler. It is never
// taken from model-supplied tool arguments — original_source/tools/agents.py's
// parent_session_id is a host-injected function parameter, not part of the
// tool's input_schema, and the model never sends it.
type parentSessionIDKey struct{}

// WithParentSessionID attaches the dispatching session's ID to ctx.
func WithParentSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, parentSessionIDKey{}, sessionID)
}

func parentSessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(parentSessionIDKey{}).(string)
	return id
}

// DefaultDeny is the tool set a sub-agent never receives unless the
// deployment config overrides it.
var DefaultDeny = []string{"sessions_spawn", "tts", "react", "schedule_message"}

// ModelResolver looks up the runtime dependencies a named model needs:
// its provider instance, display name, and cost rates.
type ModelResolver func(model string) (provider providers.Provider, modelName string, rates cost.CostRates, ok bool)

// Config wires the spawner to the daemon's runtime state.
type Config struct {
	Registry       *tools.Registry
	ResolveModel   ModelResolver
	Ledger         *cost.Ledger
	Sessions       *sessions.Manager
	Deny           []string
	DefaultModel   string
	DefaultTurns   int
	DefaultTimeout time.Duration
	ContactNames   []string
	AllowedPaths   []string
	Log            *observability.Logger
}

// Schema is the "sessions_spawn" tool's input_schema.
var Schema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"prompt": {"type": "string", "description": "Task description / instructions for the sub-agent"},
		"model": {"type": "string", "description": "Model name from config (default: primary)"},
		"tools": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Tool names to make available (default: all except sessions_spawn, tts, react, schedule_message)"
		},
		"timeout": {"type": "number", "description": "Timeout per API call in seconds (default: the configured sub-agent timeout)"}
	},
	"required": ["prompt"]
}`)

const Description = "Spawn a sub-agent for delegated work. Same model and tools as you, but ephemeral — " +
	"context is discarded after the task. Use for heavy tool work (document editing, " +
	"bulk file operations) to keep your main session clean."

// Register adds "sessions_spawn" to reg (the parent's registry — the tool
// dispatches into cfg.Registry, which is typically the same instance).
func Register(reg *tools.Registry, cfg Config) {
	// nil means the deployment never set Deny at all, so the documented
	// default applies; an explicitly configured empty list is honored as
	// "denial disabled" rather than silently falling back to the default.
	deny := cfg.Deny
	if deny == nil {
		deny = DefaultDeny
	}
	s := &spawner{cfg: cfg, deny: set(deny)}
	reg.Register("sessions_spawn", Description, Schema, s.handle)
}

type spawner struct {
	cfg  Config
	deny map[string]bool
}

func set(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, i := range items {
		m[i] = true
	}
	return m
}

type spawnArgs struct {
	Prompt   string   `json:"prompt"`
	Model    string   `json:"model"`
	Tools    []string `json:"tools"`
	MaxTurns int      `json:"max_turns"`
	Timeout  float64  `json:"timeout"`
}

func (s *spawner) handle(ctx context.Context, arguments json.RawMessage) (string, error) {
	var a spawnArgs
	if err := json.Unmarshal(arguments, &a); err != nil {
		return "", tools.InvalidArguments(err)
	}

	model := a.Model
	if model == "" {
		model = s.cfg.DefaultModel
		if model == "" {
			model = "primary"
		}
	}
	maxTurns := a.MaxTurns
	if maxTurns <= 0 {
		maxTurns = s.cfg.DefaultTurns
		if maxTurns <= 0 {
			maxTurns = 50
		}
	}
	timeout := s.cfg.DefaultTimeout
	if a.Timeout > 0 {
		timeout = time.Duration(a.Timeout * float64(time.Second))
	}
	if timeout <= 0 {
		timeout = 600 * time.Second
	}

	if s.cfg.ResolveModel == nil {
		return "Error: Agent system not initialized", nil
	}
	provider, modelName, rates, ok := s.cfg.ResolveModel(model)
	if !ok {
		return fmt.Sprintf("Error: No provider configured for model '%s'", model), nil
	}

	available := s.cfg.Registry.Schemas()
	scoped, deniedNames := scopeTools(available, a.Tools, s.deny)

	preamble := buildPreamble(scoped, deniedNames, maxTurns, s.cfg.ContactNames, s.cfg.AllowedPaths)
	systemBlocks := []providers.SystemBlock{{Text: preamble + a.Prompt, Tier: providers.TierStable}}
	fmtSystem := provider.FormatSystem(systemBlocks)

	messages := []models.Message{{Role: models.RoleUser, Content: a.Prompt}}

	// Cost segregation relies on the host-injected parent session id, never
	// a model-supplied argument — the model cannot forge which session's
	// spend a sub-agent run is charged against.
	sessionID := ""
	if s.cfg.Sessions != nil {
		parentID := parentSessionIDFrom(ctx)
		sessionID = s.cfg.Sessions.CreateSubagentSession(parentID, modelName).ID
	}

	scopedExecutor := &filteredExecutor{registry: s.cfg.Registry, allowed: namesOf(scoped)}

	opts := agent.Options{
		Provider:     provider,
		System:       fmtSystem,
		Tools:        scoped,
		ToolExecutor: scopedExecutor,
		MaxTurns:     maxTurns,
		Timeout:      timeout,
		Ledger:       s.cfg.Ledger,
		SessionID:    sessionID,
		ModelName:    modelName,
		CostRates:    rates,
		Log:          s.cfg.Log,
	}

	start := time.Now()
	resp, err := agent.Run(ctx, opts, &messages)
	if err != nil {
		if err == agent.ErrAPITimeout {
			return fmt.Sprintf("Error: Sub-agent timed out after %gs", timeout.Seconds()), nil
		}
		return fmt.Sprintf("Error: Sub-agent failed: %v", err), nil
	}

	result := resp.Text
	if result == "" {
		result = "(no output)"
	}
	if s.cfg.Log != nil {
		elapsed := time.Since(start)
		s.cfg.Log.Info("sub-agent completed",
			"elapsed_s", elapsed.Seconds(),
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens)
	}
	return result, nil
}

// filteredExecutor enforces the sub-agent's tool allowlist at dispatch
// time, not just in the schemas handed to the provider — a model can
// still ask for a denied tool by name, and this refuses it the same way
// an unknown tool is refused.
type filteredExecutor struct {
	registry *tools.Registry
	allowed  map[string]bool
}

func (f *filteredExecutor) Execute(ctx context.Context, name string, arguments json.RawMessage) string {
	if !f.allowed[name] {
		return fmt.Sprintf("Error: Unknown tool '%s'", name)
	}
	return f.registry.Execute(ctx, name, arguments)
}

func scopeTools(available []providers.ToolSchema, requested []string, deny map[string]bool) (scoped []providers.ToolSchema, deniedNames []string) {
	var want map[string]bool
	if requested != nil {
		want = set(requested)
	}
	allNames := map[string]bool{}
	scopedNames := map[string]bool{}

	for _, t := range available {
		allNames[t.Name] = true
		if deny[t.Name] {
			continue
		}
		if want != nil && !want[t.Name] {
			continue
		}
		scoped = append(scoped, t)
		scopedNames[t.Name] = true
	}

	for name := range allNames {
		if !scopedNames[name] {
			deniedNames = append(deniedNames, name)
		}
	}
	sort.Strings(deniedNames)
	return scoped, deniedNames
}

func namesOf(schemas []providers.ToolSchema) map[string]bool {
	m := make(map[string]bool, len(schemas))
	for _, s := range schemas {
		m[s.Name] = true
	}
	return m
}

func buildPreamble(scoped []providers.ToolSchema, denied []string, maxTurns int, contactNames, allowedPaths []string) string {
	var b strings.Builder
	now := time.Now().Format("Mon, 02. Jan 2006 - 15:04 MST")

	b.WriteString("You are a sub-agent spawned to complete a specific task. ")
	b.WriteString("Complete the task and return a clear, concise text summary of what you did.\n\n")
	fmt.Fprintf(&b, "Current date/time: %s\n\n", now)
	b.WriteString("## Your Available Tools\n\n")
	for _, t := range scoped {
		fmt.Fprintf(&b, "- **%s**: %s\n", t.Name, t.Description)
	}

	if len(denied) > 0 {
		b.WriteString("\n## Denied Tools (do NOT call these)\n\n")
		for _, name := range denied {
			fmt.Fprintf(&b, "- %s\n", name)
		}
	}

	b.WriteString("\n## Limits\n\n")
	fmt.Fprintf(&b, "- You have **%d tool-use turns**. Work efficiently.\n", maxTurns)
	b.WriteString("- When done, respond with a clear text answer summarizing what you did and the result.\n")

	toolNames := namesOf(scoped)
	if toolNames["message"] && len(contactNames) > 0 {
		fmt.Fprintf(&b, "\n## Contacts: %s\n", strings.Join(contactNames, ", "))
	}
	if (toolNames["read"] || toolNames["write"] || toolNames["edit"]) && len(allowedPaths) > 0 {
		fmt.Fprintf(&b, "\n## Allowed file paths: %s\n", strings.Join(allowedPaths, ", "))
	}

	b.WriteString("\n## Session\n\n")
	b.WriteString("Your session is ephemeral — context is discarded after this task.\n")
	b.WriteString("\n---\n\n## Task\n\n")

	return b.String()
}

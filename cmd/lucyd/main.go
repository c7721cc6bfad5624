// Package main is the daemon entry point: it loads configuration, wires
// providers, the tool registry, session storage, the cost ledger, the
// HTTP ingress, and the dispatcher together, then runs until a shutdown
// signal arrives — grounded on haasonsaas-nexus/cmd/nexus/main.go's
// serve command (config load, signal.NotifyContext, graceful shutdown),
// trimmed to this module's scope: no channel adapters, skills, or MCP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nicolasforstinger/lucyd-sub001/internal/config"
	"github.com/nicolasforstinger/lucyd-sub001/internal/cost"
	"github.com/nicolasforstinger/lucyd-sub001/internal/dispatcher"
	"github.com/nicolasforstinger/lucyd-sub001/internal/httpapi"
	"github.com/nicolasforstinger/lucyd-sub001/internal/observability"
	"github.com/nicolasforstinger/lucyd-sub001/internal/providers"
	"github.com/nicolasforstinger/lucyd-sub001/internal/sessions"
	"github.com/nicolasforstinger/lucyd-sub001/internal/tools"
	"github.com/nicolasforstinger/lucyd-sub001/internal/tools/exec"
	"github.com/nicolasforstinger/lucyd-sub001/internal/tools/files"
	"github.com/nicolasforstinger/lucyd-sub001/internal/tools/messaging"
	"github.com/nicolasforstinger/lucyd-sub001/internal/tools/schedule"
	"github.com/nicolasforstinger/lucyd-sub001/internal/tools/subagent"
	"github.com/nicolasforstinger/lucyd-sub001/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "lucyd",
		Short:        "lucyd - multi-channel conversational agent daemon",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool
	var metricsPort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon: HTTP ingress, dispatcher, and agentic loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug, metricsPort)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "lucyd.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().IntVar(&metricsPort, "metrics-port", 9090, "Port for the Prometheus /metrics diagnostics listener (0 disables it)")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool, metricsPort int) error {
	level := "info"
	if debug {
		level = "debug"
	}
	log := observability.New(observability.Config{Level: level})

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Info("configuration loaded", "state_dir", cfg.StateDir, "models", len(cfg.Models))

	providerCache, err := buildProviders(cfg)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	registry := tools.New()
	registry.Metrics = metrics
	exec.Register(registry)
	files.Register(registry, cfg.FilesystemAllowedPaths)

	channel := &logChannel{log: log}
	messaging.Register(registry, channel, func(contact string) string { return "" }, cfg.FilesystemAllowedPaths, cfg.ContactNames)

	scheduler := schedule.New(channel, log)
	defer scheduler.Stop()
	schedule.Register(registry, scheduler)

	sessionMgr := sessions.NewManager(cfg.StateDir, "lucyd", log)

	ledger, err := cost.Open(cfg.StateDir + "/costs.db")
	if err != nil {
		return fmt.Errorf("open cost ledger: %w", err)
	}
	defer ledger.Close()

	subagent.Register(registry, subagent.Config{
		Registry:       registry,
		ResolveModel:   subagentResolver(cfg, providerCache),
		Ledger:         ledger,
		Sessions:       sessionMgr,
		Deny:           cfg.SubagentDeny,
		DefaultModel:   cfg.SubagentModel,
		DefaultTurns:   cfg.SubagentMaxTurns,
		DefaultTimeout: cfg.SubagentTimeout,
		ContactNames:   cfg.ContactNames,
		AllowedPaths:   cfg.FilesystemAllowedPaths,
		Log:            log,
	})

	queue := make(chan httpapi.QueueItem, 64)

	httpSrv := httpapi.New(httpapi.Config{
		Host:         cfg.HTTP.Host,
		Port:         cfg.HTTP.Port,
		AuthToken:    cfg.APIKeys.HTTPToken,
		AgentTimeout: cfg.HTTP.AgentTimeout,
		DownloadDir:  cfg.HTTP.DownloadDir,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		GetStatus: func() map[string]any {
			return map[string]any{"status": "ok", "version": version}
		},
		GetSessions: func() []map[string]any {
			active := sessionMgr.ActiveSessions()
			out := make([]map[string]any, 0, len(active))
			for _, s := range active {
				out = append(out, map[string]any{
					"contact": s.Contact, "session_id": s.SessionID,
					"model": s.Model, "messages": s.Messages,
				})
			}
			return out
		},
		GetCost: func(period string) map[string]any {
			rows, err := ledger.Rows()
			if err != nil {
				return map[string]any{"period": period, "error": err.Error()}
			}
			return aggregateCost(rows, period)
		},
	}, queue, log)

	if err := httpSrv.Start(); err != nil {
		return fmt.Errorf("start http api: %w", err)
	}

	d := dispatcher.New(queue, cfg.StateDir+"/monitor")
	d.Sessions = sessionMgr
	d.Registry = registry
	d.Cfg = cfg
	d.Ledger = ledger
	d.Log = log
	d.Channel = channel
	d.Metrics = metrics
	d.ResolveModel = dispatcherResolver(cfg, providerCache)

	var diagSrv *http.Server
	if metricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		diagSrv = &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.HTTP.Host, metricsPort), Handler: mux}
		go func() {
			if err := diagSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("diagnostics listener failed", "error", err)
			}
		}()
		log.Info("diagnostics listener started", "addr", diagSrv.Addr)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go d.Run(ctx)

	log.Info("lucyd daemon started", "http_addr", fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port))
	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if diagSrv != nil {
		_ = diagSrv.Shutdown(shutdownCtx)
	}
	return httpSrv.Stop(shutdownCtx)
}

// buildProviders constructs one Provider instance per configured model key,
// cached for the process lifetime so every turn reuses the same HTTP
// client rather than reconnecting.
func buildProviders(cfg *config.Config) (map[string]providers.Provider, error) {
	cache := make(map[string]providers.Provider, len(cfg.Models))
	for key, mc := range cfg.Models {
		p, err := providers.New(mc.Provider, providers.Config{
			APIKey:          cfg.APIKeyFor(mc.Provider),
			Model:           mc.Model,
			BaseURL:         mc.BaseURL,
			MaxTokens:       mc.MaxTokens,
			CacheControl:    mc.CacheControl,
			ThinkingEnabled: mc.ThinkingMode,
			ThinkingBudget:  mc.ThinkingBudget,
		})
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", key, err)
		}
		cache[key] = p
	}
	return cache, nil
}

func dispatcherResolver(cfg *config.Config, cache map[string]providers.Provider) func(string) (providers.Provider, string, cost.CostRates, error) {
	return func(modelKey string) (providers.Provider, string, cost.CostRates, error) {
		p, ok := cache[modelKey]
		if !ok {
			return nil, "", nil, fmt.Errorf("no provider cached for model key %q", modelKey)
		}
		mc := cfg.Models[modelKey]
		return p, mc.Model, cost.CostRates(mc.CostPerMtok), nil
	}
}

func subagentResolver(cfg *config.Config, cache map[string]providers.Provider) subagent.ModelResolver {
	return func(modelKey string) (providers.Provider, string, cost.CostRates, bool) {
		p, ok := cache[modelKey]
		if !ok {
			return nil, "", nil, false
		}
		mc := cfg.Models[modelKey]
		return p, mc.Model, cost.CostRates(mc.CostPerMtok), true
	}
}

// modelAggregate accumulates one model's spend across a /cost window,
// matching the fixed response shape documented for GET /api/v1/cost.
type modelAggregate struct {
	Model            string  `json:"model"`
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	CacheReadTokens  int     `json:"cache_read_tokens"`
	CacheWriteTokens int     `json:"cache_write_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

func aggregateCost(rows []models.CostRow, period string) map[string]any {
	cutoff := costCutoff(period)
	var total float64
	order := []string{}
	byModel := map[string]*modelAggregate{}
	for _, r := range rows {
		if r.Timestamp < cutoff {
			continue
		}
		total += r.CostUSD
		agg, ok := byModel[r.Model]
		if !ok {
			agg = &modelAggregate{Model: r.Model}
			byModel[r.Model] = agg
			order = append(order, r.Model)
		}
		agg.InputTokens += r.InputTokens
		agg.OutputTokens += r.OutputTokens
		agg.CacheReadTokens += r.CacheReadTokens
		agg.CacheWriteTokens += r.CacheWriteTokens
		agg.CostUSD += r.CostUSD
	}

	aggregates := make([]modelAggregate, 0, len(order))
	for _, name := range order {
		aggregates = append(aggregates, *byModel[name])
	}
	return map[string]any{"period": period, "total_cost": total, "models": aggregates}
}

func costCutoff(period string) int64 {
	now := time.Now()
	switch period {
	case "today":
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Unix()
	case "week":
		return now.AddDate(0, 0, -7).Unix()
	default:
		return 0
	}
}

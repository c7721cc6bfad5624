// Package config loads the daemon's configuration: a YAML file overlaid by
// environment variables. Config loading itself is out of this module's
// design scope (spec.md §1); this package carries just enough surface to
// wire providers, routing, thresholds, and the secret-filtering rules the
// in-scope subsystems need.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SecretEnvPrefix marks environment variables that must never be forwarded
// to a subprocess (spec §6.4).
const SecretEnvPrefix = "LUCYD_"

// SecretEnvSuffixes are the variable-name suffixes that, combined with
// SecretEnvPrefix-matching, define the subprocess secret filter (spec §6.4).
var SecretEnvSuffixes = []string{
	"_KEY", "_TOKEN", "_SECRET", "_PASSWORD", "_CREDENTIALS", "_ID", "_CODE", "_PASS",
}

// IsSecretEnvName reports whether an environment variable name must be
// excluded from a filtered subprocess environment.
func IsSecretEnvName(name string) bool {
	if strings.HasPrefix(name, SecretEnvPrefix) {
		return true
	}
	for _, suf := range SecretEnvSuffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}

// ModelConfig describes one entry under `models:` in the config file.
type ModelConfig struct {
	Provider       string    `yaml:"provider"` // "anthropic-compat" | "openai-compat"
	Model          string    `yaml:"model"`
	BaseURL        string    `yaml:"base_url"`
	MaxTokens      int       `yaml:"max_tokens"`
	CacheControl   bool      `yaml:"cache_control"`
	ThinkingMode   bool      `yaml:"thinking_enabled"`
	ThinkingBudget int       `yaml:"thinking_budget"`
	CostPerMtok    []float64 `yaml:"cost_per_mtok"` // [input, output, cache_read]
}

// Config is the daemon's resolved configuration surface.
type Config struct {
	StateDir string `yaml:"state_dir"`

	Models  map[string]ModelConfig `yaml:"models"`
	Routing map[string]string      `yaml:"routing"` // source label -> model key

	APIKeys struct {
		Anthropic string
		OpenAI    string
		HTTPToken string
	} `yaml:"-"`

	CompactionThresholdTokens int           `yaml:"compaction_threshold_tokens"`
	CompactionPrompt          string        `yaml:"compaction_prompt"`
	MaxTurns                  int           `yaml:"max_turns"`
	PerCallTimeout            time.Duration `yaml:"per_call_timeout"`
	MaxCostPerMessage         float64       `yaml:"max_cost_per_message"`

	SubagentDeny     []string      `yaml:"subagent_deny"`
	SubagentModel    string        `yaml:"subagent_model"`
	SubagentMaxTurns int           `yaml:"subagent_max_turns"`
	SubagentTimeout  time.Duration `yaml:"subagent_timeout"`

	FilesystemAllowedPaths []string `yaml:"filesystem_allowed_paths"`

	HTTP struct {
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port"`
		AgentTimeout time.Duration `yaml:"agent_timeout"`
		DownloadDir  string        `yaml:"download_dir"`
		MaxBodyBytes int64         `yaml:"max_body_bytes"`
	} `yaml:"http"`

	ContactNames []string `yaml:"contact_names"`
}

// Default returns a Config with the source's documented defaults applied.
func Default() *Config {
	c := &Config{
		StateDir:                  "./state",
		Models:                    map[string]ModelConfig{},
		Routing:                   map[string]string{},
		CompactionThresholdTokens: 150000,
		CompactionPrompt:          "Summarize this conversation, preserving any decisions, facts, and open threads a continuation would need:",
		MaxTurns:                  50,
		PerCallTimeout:            600 * time.Second,
		SubagentDeny:              []string{"sessions_spawn", "tts", "react", "schedule_message"},
		SubagentModel:             "primary",
		SubagentMaxTurns:          50,
		SubagentTimeout:           600 * time.Second,
	}
	c.HTTP.Host = "127.0.0.1"
	c.HTTP.Port = 8080
	c.HTTP.AgentTimeout = 120 * time.Second
	c.HTTP.DownloadDir = "/tmp/lucyd-http"
	c.HTTP.MaxBodyBytes = 10 << 20
	return c
}

// Load reads a YAML file (if path is non-empty and exists) into Default(),
// then overlays environment variables per the LUCYD_* mapping.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("configuration missing: no models configured")
	}
	if _, ok := cfg.Models["primary"]; !ok {
		return nil, fmt.Errorf("configuration missing: no \"primary\" model configured")
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.APIKeys.Anthropic = os.Getenv("LUCYD_ANTHROPIC_KEY")
	cfg.APIKeys.OpenAI = os.Getenv("LUCYD_OPENAI_KEY")
	cfg.APIKeys.HTTPToken = os.Getenv("LUCYD_HTTP_TOKEN")

	if v := os.Getenv("LUCYD_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("LUCYD_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = n
		}
	}
}

// APIKeyFor returns the configured API key for a provider type string.
func (c *Config) APIKeyFor(providerType string) string {
	switch providerType {
	case "anthropic-compat":
		return c.APIKeys.Anthropic
	case "openai-compat":
		return c.APIKeys.OpenAI
	default:
		return ""
	}
}

// ModelForSource resolves a source label to a model config, defaulting to
// "primary" when no explicit route is configured.
func (c *Config) ModelForSource(source string) (string, ModelConfig, error) {
	key := c.Routing[source]
	if key == "" {
		key = "primary"
	}
	mc, ok := c.Models[key]
	if !ok {
		return "", ModelConfig{}, fmt.Errorf("no model configured for key %q", key)
	}
	return key, mc, nil
}

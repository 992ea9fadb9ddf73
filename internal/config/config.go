// Package config loads the runtime configuration from YAML, JSON or JSON5
// files with ${ENV} expansion and $include support.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/internal/agent/providers"
	"github.com/haasonsaas/agentcore/internal/audit"
	"github.com/haasonsaas/agentcore/internal/multiagent"
	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/internal/sessions"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// Config is the main configuration structure.
type Config struct {
	Version       int                     `yaml:"version"`
	Logging       observability.LogConfig `yaml:"logging"`
	Providers     ProvidersConfig         `yaml:"providers"`
	Loop          LoopConfig              `yaml:"loop"`
	Delegation    DelegationConfig        `yaml:"delegation"`
	Agents        []models.Agent          `yaml:"agents"`
	Tools         ToolsConfig             `yaml:"tools"`
	Sessions      sessions.Config         `yaml:"sessions"`
	Audit         audit.Config            `yaml:"audit"`
	Observability ObservabilityConfig     `yaml:"observability"`
}

// ProvidersConfig configures the model transport and per-backend endpoints.
type ProvidersConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	StreamIdleTimeout time.Duration `yaml:"stream_idle_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	// Endpoints is keyed by provider name or alias. Empty API keys fall back
	// to the provider's environment variable.
	Endpoints map[string]EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig overrides one backend's address and credentials.
type EndpointConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// LoopConfig configures the execution loop.
type LoopConfig struct {
	MaxIterations          int           `yaml:"max_iterations"`
	AgentModeMaxIterations int           `yaml:"agent_mode_max_iterations"`
	ScreenSettleDelay      time.Duration `yaml:"screen_settle_delay"`
	Stream                 bool          `yaml:"stream"`
	// AgentMode raises the iteration cap and enables screen refresh.
	AgentMode      bool `yaml:"agent_mode"`
	DesktopControl bool `yaml:"desktop_control"`
	// ModePrompt is prepended to every agent's system prompt.
	ModePrompt    string `yaml:"mode_prompt"`
	ImageMaxSide  int    `yaml:"image_max_side"`
	ImageMaxBytes int    `yaml:"image_max_bytes"`
}

// DelegationConfig bounds hand-offs in group conversations.
type DelegationConfig struct {
	DepthLimit int `yaml:"depth_limit"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	// Enabled lists tool names or group:* names to register. Empty registers all.
	Enabled        []string      `yaml:"enabled"`
	Workspace      string        `yaml:"workspace"`
	AllowedDirs    []string      `yaml:"allowed_dirs"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	MaxReadBytes   int           `yaml:"max_read_bytes"`
	MaxFetchBytes  int           `yaml:"max_fetch_bytes"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// MetricsAddr serves /metrics when set, e.g. ":9090".
	MetricsAddr string                    `yaml:"metrics_addr"`
	Tracing     observability.TraceConfig `yaml:"tracing"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Providers.Timeout == 0 {
		cfg.Providers.Timeout = providers.DefaultTimeout
	}
	if cfg.Loop.MaxIterations == 0 {
		cfg.Loop.MaxIterations = agent.DefaultMaxIterations
	}
	if cfg.Loop.AgentModeMaxIterations == 0 {
		cfg.Loop.AgentModeMaxIterations = agent.AgentModeMaxIterations
	}
	if cfg.Loop.ScreenSettleDelay == 0 {
		cfg.Loop.ScreenSettleDelay = agent.DefaultScreenSettleDelay
	}
	if cfg.Delegation.DepthLimit == 0 {
		cfg.Delegation.DepthLimit = multiagent.DefaultDepthLimit
	}
	if cfg.Tools.Workspace == "" {
		cfg.Tools.Workspace = "."
	}
	if cfg.Tools.CommandTimeout == 0 {
		cfg.Tools.CommandTimeout = 60 * time.Second
	}
	if cfg.Sessions.Backend == "" {
		cfg.Sessions.Backend = sessions.BackendMemory
	}
	auditDefaults := audit.DefaultConfig()
	if cfg.Audit.Level == "" {
		cfg.Audit.Level = auditDefaults.Level
	}
	if cfg.Audit.Format == "" {
		cfg.Audit.Format = auditDefaults.Format
	}
	if cfg.Audit.Output == "" {
		cfg.Audit.Output = auditDefaults.Output
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "agentcore"
	}
	for i := range cfg.Agents {
		if cfg.Agents[i].ID == "" {
			cfg.Agents[i].ID = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(cfg.Agents[i].Name), " ", "-"))
		}
	}
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// Validate checks cross-field constraints. It returns a *ValidationError.
func (cfg *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	var versionErr *VersionError
	if err := ValidateVersion(cfg.Version); errors.As(err, &versionErr) {
		add("version: %v", err)
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level %q must be debug, info, warn or error", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format %q must be json or text", cfg.Logging.Format)
	}

	if cfg.Providers.Timeout < 0 {
		add("providers.timeout must not be negative")
	}
	known := providers.NewDefaultRegistry(nil).Names()
	for name := range cfg.Providers.Endpoints {
		if !slices.Contains(known, providers.CanonicalName(name)) {
			add("providers.endpoints.%s: unknown provider", name)
		}
	}

	if cfg.Loop.MaxIterations < 0 || cfg.Loop.AgentModeMaxIterations < 0 {
		add("loop iteration caps must not be negative")
	}
	if cfg.Loop.ScreenSettleDelay < 0 {
		add("loop.screen_settle_delay must not be negative")
	}
	if cfg.Delegation.DepthLimit < 0 {
		add("delegation.depth_limit must not be negative")
	}

	seen := map[string]bool{}
	for i, a := range cfg.Agents {
		where := fmt.Sprintf("agents[%d]", i)
		if a.ID == "" {
			add("%s: id or name is required", where)
		} else if seen[a.ID] {
			add("%s: duplicate id %q", where, a.ID)
		}
		seen[a.ID] = true
		if a.Configuration.Provider == "" {
			add("%s: configuration.provider is required", where)
		} else if !slices.Contains(known, providers.CanonicalName(a.Configuration.Provider)) {
			add("%s: unknown provider %q", where, a.Configuration.Provider)
		}
		if a.Configuration.Model == "" {
			add("%s: configuration.model is required", where)
		}
		if t := a.Configuration.Temperature; t != nil && (*t < 0 || *t > 2) {
			add("%s: temperature %.2f out of range [0, 2]", where, *t)
		}
	}

	for _, name := range cfg.Tools.Enabled {
		if strings.HasPrefix(name, tools.GroupPrefix) && !tools.IsGroup(name) {
			add("tools.enabled: unknown group %q", name)
		}
	}

	switch strings.ToLower(cfg.Sessions.Backend) {
	case sessions.BackendMemory:
	case sessions.BackendFile, sessions.BackendSQLite:
		if strings.TrimSpace(cfg.Sessions.Path) == "" {
			add("sessions.path is required for the %s backend", cfg.Sessions.Backend)
		}
	case sessions.BackendPostgres:
		if strings.TrimSpace(cfg.Sessions.DSN) == "" {
			add("sessions.dsn is required for the postgres backend")
		}
	default:
		add("sessions.backend %q must be memory, file, sqlite or postgres", cfg.Sessions.Backend)
	}

	if r := cfg.Observability.Tracing.SamplingRate; r < 0 || r > 1 {
		add("observability.tracing.sampling_rate must be within [0, 1]")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// FindAgent returns the agent whose ID or name matches, case-insensitively.
func (cfg *Config) FindAgent(name string) (models.Agent, bool) {
	for _, a := range cfg.Agents {
		if strings.EqualFold(a.ID, name) || strings.EqualFold(a.Name, name) {
			return a.Clone(), true
		}
	}
	return models.Agent{}, false
}

// ProviderEndpoints converts the endpoint overrides for the provider registry.
func (cfg *Config) ProviderEndpoints() map[string]providers.Endpoint {
	out := make(map[string]providers.Endpoint, len(cfg.Providers.Endpoints))
	for name, ep := range cfg.Providers.Endpoints {
		out[providers.CanonicalName(name)] = providers.Endpoint{APIKey: ep.APIKey, BaseURL: ep.BaseURL}
	}
	return out
}

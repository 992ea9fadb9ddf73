package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/internal/multiagent"
	"github.com/haasonsaas/agentcore/internal/sessions"
	"github.com/haasonsaas/agentcore/pkg/models"
)

const minimalAgents = `
agents:
  - name: Research Bot
    configuration:
      provider: anthropic
      model: claude-sonnet
`

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "agentcore.yaml", `
loop:
  max_iterations: 5
  extra: true
`+minimalAgents)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "agentcore.yaml", minimalAgents)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", cfg.Version, CurrentVersion)
	}
	if cfg.Loop.MaxIterations != agent.DefaultMaxIterations {
		t.Errorf("MaxIterations = %d, want %d", cfg.Loop.MaxIterations, agent.DefaultMaxIterations)
	}
	if cfg.Delegation.DepthLimit != multiagent.DefaultDepthLimit {
		t.Errorf("DepthLimit = %d, want %d", cfg.Delegation.DepthLimit, multiagent.DefaultDepthLimit)
	}
	if cfg.Sessions.Backend != sessions.BackendMemory {
		t.Errorf("Sessions.Backend = %q, want memory", cfg.Sessions.Backend)
	}
	if cfg.Tools.CommandTimeout != 60*time.Second {
		t.Errorf("CommandTimeout = %v", cfg.Tools.CommandTimeout)
	}
	if got := cfg.Agents[0].ID; got != "research-bot" {
		t.Errorf("derived agent ID = %q, want research-bot", got)
	}
}

func TestLoadDurationsAndEndpoints(t *testing.T) {
	path := writeConfig(t, "agentcore.yaml", `
providers:
  timeout: 30s
  stream_idle_timeout: 5s
  max_retries: 2
  endpoints:
    claude:
      base_url: http://localhost:8080
loop:
  screen_settle_delay: 750ms
`+minimalAgents)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers.Timeout != 30*time.Second || cfg.Providers.StreamIdleTimeout != 5*time.Second {
		t.Fatalf("provider timeouts = %v / %v", cfg.Providers.Timeout, cfg.Providers.StreamIdleTimeout)
	}
	if cfg.Loop.ScreenSettleDelay != 750*time.Millisecond {
		t.Fatalf("ScreenSettleDelay = %v", cfg.Loop.ScreenSettleDelay)
	}
	eps := cfg.ProviderEndpoints()
	if eps["anthropic"].BaseURL != "http://localhost:8080" {
		t.Fatalf("alias endpoint not canonicalised: %+v", eps)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("AGENTCORE_TEST_MODEL", "gpt-4o")
	path := writeConfig(t, "agentcore.yaml", `
agents:
  - id: writer
    name: Writer
    configuration:
      provider: openai
      model: ${AGENTCORE_TEST_MODEL}
      system_prompt: "${AGENTCORE_TEST_UNSET:-be brief}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	a := cfg.Agents[0]
	if a.Configuration.Model != "gpt-4o" {
		t.Errorf("Model = %q", a.Configuration.Model)
	}
	if a.Configuration.SystemPrompt != "be brief" {
		t.Errorf("SystemPrompt = %q", a.Configuration.SystemPrompt)
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.yaml"), `
logging:
  level: debug
  format: json
loop:
  max_iterations: 7
`)
	path := writeFile(t, filepath.Join(dir, "agentcore.yaml"), `
$include: base.yaml
loop:
  stream: true
`+minimalAgents)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("included logging not applied: %+v", cfg.Logging)
	}
	if cfg.Loop.MaxIterations != 7 || !cfg.Loop.Stream {
		t.Errorf("loop maps not merged: %+v", cfg.Loop)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "$include: b.yaml\n")
	writeFile(t, filepath.Join(dir, "b.yaml"), "$include: a.yaml\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := writeConfig(t, "agentcore.json5", `{
  // comments and trailing commas are allowed
  providers: {timeout: "45s"},
  agents: [
    {id: "g", name: "Gem", configuration: {provider: "gemini", model: "gemini-2.0-flash",},},
  ],
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers.Timeout != 45*time.Second {
		t.Errorf("Timeout = %v", cfg.Providers.Timeout)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].Configuration.Provider != "gemini" {
		t.Errorf("Agents = %+v", cfg.Agents)
	}
}

func TestValidate(t *testing.T) {
	temp := 3.5
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown agent provider", func(c *Config) { c.Agents[0].Configuration.Provider = "nope" }, `unknown provider "nope"`},
		{"duplicate agent", func(c *Config) { c.Agents = append(c.Agents, c.Agents[0]) }, "duplicate id"},
		{"missing model", func(c *Config) { c.Agents[0].Configuration.Model = "" }, "configuration.model is required"},
		{"temperature", func(c *Config) { c.Agents[0].Configuration.Temperature = &temp }, "temperature"},
		{"file backend without path", func(c *Config) { c.Sessions.Backend = sessions.BackendFile }, "sessions.path is required"},
		{"postgres without dsn", func(c *Config) { c.Sessions.Backend = sessions.BackendPostgres }, "sessions.dsn is required"},
		{"unknown backend", func(c *Config) { c.Sessions.Backend = "redis" }, `sessions.backend "redis"`},
		{"unknown endpoint", func(c *Config) {
			c.Providers.Endpoints = map[string]EndpointConfig{"mistral": {}}
		}, "providers.endpoints.mistral"},
		{"unknown tool group", func(c *Config) { c.Tools.Enabled = []string{"group:nope"} }, `unknown group "group:nope"`},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"newer version", func(c *Config) { c.Version = CurrentVersion + 1 }, "version"},
		{"sampling rate", func(c *Config) { c.Observability.Tracing.SamplingRate = 2 }, "sampling_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want it to mention %q", err, tt.want)
			}
		})
	}

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestFindAgent(t *testing.T) {
	cfg := validConfig()
	for _, name := range []string{"helper", "HELPER", "Helper Bot", "helper bot"} {
		if _, ok := cfg.FindAgent(name); !ok {
			t.Errorf("FindAgent(%q) not found", name)
		}
	}
	if _, ok := cfg.FindAgent("missing"); ok {
		t.Error("FindAgent(missing) found an agent")
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	for _, want := range []string{`"agents"`, `"depth_limit"`, `"stream_idle_timeout"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("schema missing %s", want)
		}
	}
}

func TestWatchReloads(t *testing.T) {
	path := writeConfig(t, "agentcore.yaml", minimalAgents)

	changes := make(chan *Config, 4)
	w, err := Watch(context.Background(), path, 20*time.Millisecond, func(cfg *Config, err error) {
		if err == nil {
			changes <- cfg
		}
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	writeFile(t, path, "loop:\n  max_iterations: 3\n"+minimalAgents)

	select {
	case cfg := <-changes:
		if cfg.Loop.MaxIterations != 3 {
			t.Fatalf("MaxIterations = %d, want 3", cfg.Loop.MaxIterations)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after the file changed")
	}
}

func validConfig() *Config {
	cfg := Default()
	cfg.Agents = append(cfg.Agents,
		agentFixture("helper", "Helper Bot", "openai"),
		agentFixture("critic", "Critic", "anthropic"),
	)
	return cfg
}

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	return writeFile(t, filepath.Join(t.TempDir(), name), contents)
}

func writeFile(t *testing.T, path, contents string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func agentFixture(id, name, provider string) models.Agent {
	return models.Agent{
		ID:   id,
		Name: name,
		Configuration: models.AgentConfiguration{
			Provider: provider,
			Model:    "test-model",
		},
	}
}

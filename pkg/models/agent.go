package models

import "slices"

// Agent is a named configuration of provider, model, prompt and tool allowlist.
type Agent struct {
	ID            string             `json:"id" yaml:"id"`
	Name          string             `json:"name" yaml:"name"`
	Configuration AgentConfiguration `json:"configuration" yaml:"configuration"`
}

// AgentConfiguration selects the backend and shapes each request.
type AgentConfiguration struct {
	Provider     string   `json:"provider" yaml:"provider"`
	Model        string   `json:"model" yaml:"model"`
	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	// EnabledTools is the tool allowlist. Empty means every registered tool.
	EnabledTools []string `json:"enabled_tools,omitempty" yaml:"enabled_tools,omitempty"`
}

// Clone returns a deep copy so a running loop is isolated from later edits.
func (a Agent) Clone() Agent {
	out := a
	if a.Configuration.Temperature != nil {
		t := *a.Configuration.Temperature
		out.Configuration.Temperature = &t
	}
	out.Configuration.EnabledTools = slices.Clone(a.Configuration.EnabledTools)
	return out
}

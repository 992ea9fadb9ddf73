package providers

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

var providerAliases = map[string]string{
	"openai":     "openai",
	"anthropic":  "anthropic",
	"claude":     "anthropic",
	"gemini":     "gemini",
	"google":     "gemini",
	"ollama":     "ollama",
	"local":      "ollama",
	"openrouter": "openrouter",
}

var apiKeyEnv = map[string][]string{
	"openai":     {"OPENAI_API_KEY"},
	"anthropic":  {"ANTHROPIC_API_KEY"},
	"gemini":     {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"openrouter": {"OPENROUTER_API_KEY"},
	"ollama":     {"OLLAMA_API_KEY"},
}

// CanonicalName maps a provider name or alias to its canonical form.
// Unknown names are returned lowercased.
func CanonicalName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := providerAliases[n]; ok {
		return canonical
	}
	return n
}

// ResolveAPIKey returns the configured key, falling back to the provider's
// environment variables.
func ResolveAPIKey(provider, configured string) string {
	if key := strings.TrimSpace(configured); key != "" {
		return key
	}
	for _, env := range apiKeyEnv[CanonicalName(provider)] {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return ""
}

// Registry resolves adapters by provider name. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// NewDefaultRegistry registers every supported backend. Endpoints are keyed
// by canonical provider name; API keys left empty are resolved from the
// environment.
func NewDefaultRegistry(endpoints map[string]Endpoint) *Registry {
	endpoint := func(name string) Endpoint {
		ep := endpoints[name]
		ep.APIKey = ResolveAPIKey(name, ep.APIKey)
		return ep
	}
	r := NewRegistry()
	r.Register(NewOpenAIAdapter(endpoint("openai")))
	r.Register(NewAnthropicAdapter(endpoint("anthropic")))
	r.Register(NewGeminiAdapter(endpoint("gemini")))
	r.Register(NewOllamaAdapter(endpoint("ollama")))
	r.Register(newOpenAICompatible("openrouter", endpoint("openrouter"), defaultOpenRouterBaseURL))
	return r
}

// Register adds or replaces the adapter for its canonical name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[CanonicalName(a.Name())] = a
}

// Get resolves name (or an alias) to an adapter.
func (r *Registry) Get(name string) (Adapter, error) {
	canonical := CanonicalName(name)
	r.mu.RLock()
	a, ok := r.adapters[canonical]
	r.mu.RUnlock()
	if !ok {
		return nil, NewProviderError(KindProvider, canonical, "", fmt.Errorf("unknown provider %q", name))
	}
	return a, nil
}

// Names returns the registered canonical names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

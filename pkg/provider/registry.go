package provider

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"
)

// ErrNotFound is returned by Get for an unknown provider id.
var ErrNotFound = errors.New("provider not found")

// catalog is the static, immutable description of every provider this
// engine knows how to call. Runtime state (keys) is loaded separately so
// that a key reload never touches these fields.
var catalog = []Provider{
	{ID: "openai", DisplayName: "OpenAI", Endpoint: "https://api.openai.com/v1", Dialect: DialectOpenAICompat, DefaultModel: "gpt-4o-mini", Tier: TierPremium, RPMPerKey: 500, MinDelay: 120 * time.Millisecond},
	{ID: "anthropic", DisplayName: "Anthropic", Endpoint: "https://api.anthropic.com", Dialect: DialectAnthropic, DefaultModel: "claude-3-5-haiku-latest", Tier: TierPremium, RPMPerKey: 400, MinDelay: 150 * time.Millisecond},
	{ID: "google", DisplayName: "Google Gemini", Endpoint: "", Dialect: DialectGemini, DefaultModel: "gemini-1.5-flash", Tier: TierStandard, RPMPerKey: 300, MinDelay: 200 * time.Millisecond},
	{ID: "ai21", DisplayName: "AI21", Endpoint: "https://api.ai21.com/studio/v1/jamba-mini/completions", Dialect: DialectAI21, DefaultModel: "jamba-mini", Tier: TierStandard, RPMPerKey: 120, MinDelay: 500 * time.Millisecond},
	{ID: "cohere", DisplayName: "Cohere", Endpoint: "https://api.cohere.ai/v1/generate", Dialect: DialectCohere, DefaultModel: "command-r", Tier: TierStandard, RPMPerKey: 200, MinDelay: 300 * time.Millisecond},
	{ID: "perplexity", DisplayName: "Perplexity", Endpoint: "https://api.perplexity.ai", Dialect: DialectOpenAICompat, DefaultModel: "sonar", Tier: TierStandard, RPMPerKey: 200, MinDelay: 300 * time.Millisecond},
	{ID: "groq", DisplayName: "Groq", Endpoint: "https://api.groq.com/openai/v1", Dialect: DialectOpenAICompat, DefaultModel: "llama-3.1-8b-instant", Tier: TierEconomy, RPMPerKey: 1000, MinDelay: 60 * time.Millisecond},
	{ID: "together", DisplayName: "Together AI", Endpoint: "https://api.together.xyz/v1", Dialect: DialectOpenAICompat, DefaultModel: "meta-llama/Llama-3.2-3B-Instruct-Turbo", Tier: TierEconomy, RPMPerKey: 600, MinDelay: 100 * time.Millisecond},
	{ID: "xai", DisplayName: "xAI", Endpoint: "https://api.x.ai/v1", Dialect: DialectOpenAICompat, DefaultModel: "grok-2-mini", Tier: TierStandard, RPMPerKey: 300, MinDelay: 200 * time.Millisecond},
	{ID: "mistral", DisplayName: "Mistral", Endpoint: "https://api.mistral.ai/v1", Dialect: DialectOpenAICompat, DefaultModel: "mistral-small-latest", Tier: TierStandard, RPMPerKey: 300, MinDelay: 200 * time.Millisecond},
	{ID: "deepseek", DisplayName: "DeepSeek", Endpoint: "https://api.deepseek.com/v1", Dialect: DialectOpenAICompat, DefaultModel: "deepseek-chat", Tier: TierEconomy, RPMPerKey: 600, MinDelay: 100 * time.Millisecond},
}

// keyEnvPattern matches both PROVIDER_API_KEY_1 and PROVIDER_API_KEY1 spellings.
var keyEnvPattern = regexp.MustCompile(`^([A-Z0-9]+)_API_KEY_?([0-9]*)$`)

// Registry exposes the immutable provider catalog plus the mutable key pool,
// reloadable independently of in-flight calls.
type Registry struct {
	byID map[string]Provider
	ids  []string // catalog order, stable across reloads
}

// NewRegistry builds a Registry from the static catalog and the process
// environment's <PROVIDER>_API_KEY[_N] variables.
func NewRegistry() *Registry {
	r := &Registry{byID: make(map[string]Provider, len(catalog))}
	for _, p := range catalog {
		r.ids = append(r.ids, p.ID)
		r.byID[p.ID] = p
	}
	r.reloadKeysFromEnv(os.Environ())
	return r
}

// ListEnabled returns providers whose key pool is non-empty, in catalog order.
func (r *Registry) ListEnabled() []Provider {
	out := make([]Provider, 0, len(r.ids))
	for _, id := range r.ids {
		if p := r.byID[id]; p.Enabled() {
			out = append(out, p)
		}
	}
	return out
}

// Get returns the provider record for id, or ErrNotFound.
func (r *Registry) Get(id string) (Provider, error) {
	p, ok := r.byID[id]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// ReloadKeys re-reads the key pool from the process environment. It never
// interrupts in-flight calls: existing Provider values already handed to
// callers are left untouched; only the registry's own map is updated, and
// each subsequent Get/ListEnabled observes the new key set.
func (r *Registry) ReloadKeys() {
	r.reloadKeysFromEnv(os.Environ())
}

func (r *Registry) reloadKeysFromEnv(environ []string) {
	keysByProvider := make(map[string][]string)

	for _, kv := range environ {
		name, value, ok := splitEnv(kv)
		if !ok || value == "" {
			continue
		}
		m := keyEnvPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		prefix := m[1]
		for _, p := range catalog {
			if matchesPrefix(p.ID, prefix) {
				keysByProvider[p.ID] = append(keysByProvider[p.ID], value)
			}
		}
	}

	for id, p := range r.byID {
		keys := keysByProvider[id]
		sort.Strings(keys) // deterministic key order across reloads for round-robin stability
		p.Keys = keys
		r.byID[id] = p
	}
}

func splitEnv(kv string) (name, value string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}

func matchesPrefix(providerID, envPrefix string) bool {
	return upperNoUnderscore(providerID) == envPrefix
}

func upperNoUnderscore(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 32
		}
		out = append(out, c)
	}
	return string(out)
}

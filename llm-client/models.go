package llmclient

// providerDefaults holds the per-provider settings used when the
// configuration leaves them empty.
type providerDefaults struct {
	Model     string
	BaseURL   string
	APIKeyEnv string
}

var defaults = map[Provider]providerDefaults{
	ProviderOpenAI: {
		Model:     "gpt-4o-mini",
		BaseURL:   "https://api.openai.com/v1",
		APIKeyEnv: "OPENAI_API_KEY",
	},
	ProviderAnthropic: {
		Model:     "claude-sonnet-4-5-20250929",
		BaseURL:   "https://api.anthropic.com",
		APIKeyEnv: "ANTHROPIC_API_KEY",
	},
	ProviderGoogle: {
		Model:     "gemini-2.5-flash",
		BaseURL:   "https://generativelanguage.googleapis.com",
		APIKeyEnv: "GEMINI_API_KEY",
	},
	ProviderCohere: {
		Model:     "command-a-03-2025",
		BaseURL:   "https://api.cohere.com",
		APIKeyEnv: "CO_API_KEY",
	},
	ProviderMistral: {
		Model:     "mistral-large-latest",
		BaseURL:   "https://api.mistral.ai/v1",
		APIKeyEnv: "MISTRAL_API_KEY",
	},
}

// Known reports whether p is a supported provider.
func (p Provider) Known() bool {
	_, ok := defaults[p]
	return ok
}

// DefaultModel returns the model used for p when none is configured.
func DefaultModel(p Provider) string { return defaults[p].Model }

// DefaultBaseURL returns the public endpoint for p.
func DefaultBaseURL(p Provider) string { return defaults[p].BaseURL }

// DefaultAPIKeyEnv returns the environment variable holding p's API key.
func DefaultAPIKeyEnv(p Provider) string { return defaults[p].APIKeyEnv }

// Providers lists the supported providers in a stable order.
func Providers() []Provider {
	return []Provider{ProviderOpenAI, ProviderAnthropic, ProviderGoogle, ProviderCohere, ProviderMistral}
}

package llmclient

import (
	"fmt"
	"net/http"
)

// Transport selects how a provider is reached.
type Transport string

const (
	// TransportSDK uses the provider's official SDK when one exists.
	TransportSDK Transport = "sdk"
	// TransportHTTP uses the raw OpenAI-compatible HTTP client.
	TransportHTTP Transport = "http"
)

// Options configures a Client.
type Options struct {
	Provider  Provider
	Model     string
	APIKey    string
	BaseURL   string
	Transport Transport
	Timeouts  Timeouts
	// HTTPClient overrides the transport built from Timeouts.
	HTTPClient *http.Client
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return newHTTPClient(o.Timeouts)
}

// NewClient creates a new client for opts.Provider. The implementation is
// chosen once here: SDK clients for providers that have one, the raw HTTP
// client for Mistral and for the http transport.
func NewClient(opts Options) (Client, error) {
	if opts.Provider == "" {
		opts.Provider = ProviderOpenAI
	}
	if !opts.Provider.Known() {
		return nil, fmt.Errorf("unsupported LLM provider: %s. Supported providers: openai, anthropic, google, cohere, mistral", opts.Provider)
	}

	switch opts.Transport {
	case "", TransportSDK:
	case TransportHTTP:
		return NewHTTPClient(opts), nil
	default:
		return nil, fmt.Errorf("unsupported transport: %s", opts.Transport)
	}

	switch opts.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(opts), nil
	case ProviderAnthropic:
		return NewAnthropicClient(opts), nil
	case ProviderGoogle:
		return NewGoogleClient(opts), nil
	case ProviderCohere:
		return NewCohereClient(opts), nil
	default:
		return NewHTTPClient(opts), nil
	}
}

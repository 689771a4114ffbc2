package llmclient

import (
	"context"
	"strings"
	"time"
)

// Client completes a chat request against one provider.
type Client interface {
	// Complete performs a single non-streaming request. Implementations never
	// retry on their own; wrap with RetryClient for that.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Provider reports the provider name the client talks to.
	Provider() string

	// BaseURL is the endpoint used for reachability probes.
	BaseURL() string

	// SetModel sets the default model used when a request leaves it empty.
	SetModel(model string)
}

// Provider represents the LLM provider type
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
	ProviderCohere    Provider = "cohere"
	ProviderMistral   Provider = "mistral"
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Timeouts bound a single request.
type Timeouts struct {
	// Connect bounds dial and TLS handshake.
	Connect time.Duration `json:"connect" yaml:"connect"`
	// Response bounds the whole call once connected.
	Response time.Duration `json:"response" yaml:"response"`
}

// Request is a provider-neutral completion request.
type Request struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Timeouts  Timeouts  `json:"timeouts"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// Usage counts tokens for one call.
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the text produced by a call plus the provider payload.
type Response struct {
	Text  string `json:"text"`
	Raw   any    `json:"-"`
	Usage Usage  `json:"usage"`
}

// SplitSystem separates system messages from the conversation. Multiple
// system messages are joined with a blank line.
func SplitSystem(msgs []Message) (string, []Message) {
	var sys []string
	rest := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			sys = append(sys, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(sys, "\n\n"), rest
}

// withResponseTimeout applies the response timeout as a context deadline.
func withResponseTimeout(ctx context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	if t.Response <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.Response)
}

func modelOr(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

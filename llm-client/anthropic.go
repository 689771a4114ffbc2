package llmclient

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicClient implements Client for Anthropic Claude
type AnthropicClient struct {
	client  anthropic.Client
	model   string
	baseURL string
}

// NewAnthropicClient creates a new Anthropic client
func NewAnthropicClient(opts Options) *AnthropicClient {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithHTTPClient(opts.httpClient()),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &AnthropicClient{
		client:  anthropic.NewClient(reqOpts...),
		model:   modelOr(opts.Model, DefaultModel(ProviderAnthropic)),
		baseURL: modelOr(opts.BaseURL, DefaultBaseURL(ProviderAnthropic)),
	}
}

// SetModel sets the model to use
func (c *AnthropicClient) SetModel(model string) {
	c.model = model
}

func (c *AnthropicClient) Provider() string { return string(ProviderAnthropic) }

func (c *AnthropicClient) BaseURL() string { return c.baseURL }

// Complete performs a non-streaming Anthropic messages call
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := withResponseTimeout(ctx, req.Timeouts)
	defer cancel()

	system, turns := SplitSystem(req.Messages)
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, m := range turns {
		if m.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
	}

	maxTokens := int64(defaultAnthropicMaxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelOr(req.Model, c.model)),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &StatusError{
				Provider:   c.Provider(),
				StatusCode: apiErr.StatusCode,
				Err:        err,
			}
		}
		return nil, err
	}

	// Concatenate every text block; tool or thinking blocks are ignored.
	var b strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return nil, &ErrEmptyResponse{Provider: c.Provider()}
	}

	return &Response{
		Text: b.String(),
		Raw:  message,
		Usage: Usage{
			PromptTokens: int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}, nil
}

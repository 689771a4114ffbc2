package llmclient

import (
	"context"
	"errors"
	"strings"

	coheregov2 "github.com/cohere-ai/cohere-go/v2"
	"github.com/cohere-ai/cohere-go/v2/client"
	coherecore "github.com/cohere-ai/cohere-go/v2/core"
	cohereoption "github.com/cohere-ai/cohere-go/v2/option"
)

// CohereClient implements Client for Cohere
type CohereClient struct {
	client  *client.Client
	model   string
	baseURL string
}

// NewCohereClient creates a new Cohere client
func NewCohereClient(opts Options) *CohereClient {
	reqOpts := []cohereoption.RequestOption{
		cohereoption.WithToken(opts.APIKey),
		cohereoption.WithHTTPClient(opts.httpClient()),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, cohereoption.WithBaseURL(opts.BaseURL))
	}
	return &CohereClient{
		client:  client.NewClient(reqOpts...),
		model:   modelOr(opts.Model, DefaultModel(ProviderCohere)),
		baseURL: modelOr(opts.BaseURL, DefaultBaseURL(ProviderCohere)),
	}
}

// SetModel sets the model to use
func (c *CohereClient) SetModel(model string) {
	c.model = model
}

func (c *CohereClient) Provider() string { return string(ProviderCohere) }

func (c *CohereClient) BaseURL() string { return c.baseURL }

// Complete performs a non-streaming Cohere chat call
func (c *CohereClient) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := withResponseTimeout(ctx, req.Timeouts)
	defer cancel()

	system, turns := SplitSystem(req.Messages)
	chat := &coheregov2.ChatRequest{
		Model: coheregov2.String(modelOr(req.Model, c.model)),
	}
	if system != "" {
		chat.Preamble = coheregov2.String(system)
	}
	if req.MaxTokens > 0 {
		chat.MaxTokens = coheregov2.Int(req.MaxTokens)
	}
	// Earlier turns (repair rounds) are folded into the message text.
	parts := make([]string, 0, len(turns))
	for _, m := range turns {
		parts = append(parts, m.Content)
	}
	chat.Message = strings.Join(parts, "\n\n")

	resp, err := c.client.Chat(ctx, chat)
	if err != nil {
		var apiErr *coherecore.APIError
		if errors.As(err, &apiErr) {
			return nil, &StatusError{Provider: c.Provider(), StatusCode: apiErr.StatusCode, Err: err}
		}
		return nil, err
	}
	if resp == nil || resp.Text == "" {
		return nil, &ErrEmptyResponse{Provider: c.Provider()}
	}

	out := &Response{Text: resp.Text, Raw: resp}
	if resp.Meta != nil && resp.Meta.BilledUnits != nil {
		if in := resp.Meta.BilledUnits.InputTokens; in != nil {
			out.Usage.PromptTokens = int(*in)
		}
		if o := resp.Meta.BilledUnits.OutputTokens; o != nil {
			out.Usage.OutputTokens = int(*o)
		}
	}
	return out, nil
}

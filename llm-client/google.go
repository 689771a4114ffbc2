package llmclient

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/genai"
)

// GoogleClient implements Client for Google Gemini
type GoogleClient struct {
	opts  Options
	model string

	once   sync.Once
	client *genai.Client
	err    error
}

// NewGoogleClient creates a new Google client. The SDK client is built lazily
// on first use because its constructor needs a context.
func NewGoogleClient(opts Options) *GoogleClient {
	return &GoogleClient{
		opts:  opts,
		model: modelOr(opts.Model, DefaultModel(ProviderGoogle)),
	}
}

// SetModel sets the model to use
func (c *GoogleClient) SetModel(model string) {
	c.model = model
}

func (c *GoogleClient) Provider() string { return string(ProviderGoogle) }

func (c *GoogleClient) BaseURL() string {
	return modelOr(c.opts.BaseURL, DefaultBaseURL(ProviderGoogle))
}

func (c *GoogleClient) sdk(ctx context.Context) (*genai.Client, error) {
	c.once.Do(func() {
		config := &genai.ClientConfig{
			Backend:    genai.BackendGeminiAPI,
			APIKey:     c.opts.APIKey,
			HTTPClient: c.opts.httpClient(),
		}
		if c.opts.BaseURL != "" {
			config.HTTPOptions = genai.HTTPOptions{BaseURL: c.opts.BaseURL}
		}
		c.client, c.err = genai.NewClient(ctx, config)
	})
	return c.client, c.err
}

// Complete performs a non-streaming GenerateContent call
func (c *GoogleClient) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := withResponseTimeout(ctx, req.Timeouts)
	defer cancel()

	client, err := c.sdk(ctx)
	if err != nil {
		return nil, err
	}

	system, turns := SplitSystem(req.Messages)
	contents := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := client.Models.GenerateContent(ctx, modelOr(req.Model, c.model), contents, config)
	if err != nil {
		return nil, c.normalise(err)
	}
	if resp == nil || resp.Text() == "" {
		return nil, &ErrEmptyResponse{Provider: c.Provider()}
	}

	out := &Response{Text: resp.Text(), Raw: resp}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens: int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

func (c *GoogleClient) normalise(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Provider: c.Provider(), StatusCode: apiErr.Code, Code: apiErr.Status, Message: apiErr.Message, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &StatusError{Provider: c.Provider(), StatusCode: apiErrPtr.Code, Code: apiErrPtr.Status, Message: apiErrPtr.Message, Err: err}
	}
	return err
}

package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPClient talks to any OpenAI-compatible chat completions endpoint over
// plain HTTP. It serves Mistral and every provider configured with the http
// transport.
type HTTPClient struct {
	provider string
	model    string
	baseURL  string
	apiKey   string
	client   *http.Client
}

// NewHTTPClient creates a raw HTTP client for opts.Provider.
func NewHTTPClient(opts Options) *HTTPClient {
	p := opts.Provider
	if p == "" {
		p = ProviderMistral
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL(p)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL(ProviderOpenAI)
	}
	return &HTTPClient{
		provider: string(p),
		model:    modelOr(opts.Model, DefaultModel(p)),
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   opts.APIKey,
		client:   opts.httpClient(),
	}
}

// SetModel sets the model to use
func (c *HTTPClient) SetModel(model string) {
	c.model = model
}

func (c *HTTPClient) Provider() string { return c.provider }

func (c *HTTPClient) BaseURL() string { return c.baseURL }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
		Type    string `json:"type"`
	} `json:"error"`
	Message string `json:"message"`
}

// Complete performs a non-streaming chat completions call
func (c *HTTPClient) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := withResponseTimeout(ctx, req.Timeouts)
	defer cancel()

	body := chatRequest{
		Model:     modelOr(req.Model, c.model),
		MaxTokens: req.MaxTokens,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.statusError(resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return nil, &ErrEmptyResponse{Provider: c.provider}
	}

	return &Response{
		Text: parsed.Choices[0].Message.Content,
		Raw:  json.RawMessage(raw),
		Usage: Usage{
			PromptTokens: parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}

func (c *HTTPClient) statusError(status int, raw []byte) *StatusError {
	se := &StatusError{Provider: c.provider, StatusCode: status, Message: strings.TrimSpace(string(raw))}
	var ce chatError
	if json.Unmarshal(raw, &ce) == nil {
		switch {
		case ce.Error.Message != "":
			se.Message = ce.Error.Message
		case ce.Message != "":
			se.Message = ce.Message
		}
		switch code := ce.Error.Code.(type) {
		case string:
			se.Code = code
		case float64:
			se.Code = fmt.Sprintf("%d", int(code))
		}
		if se.Code == "" {
			se.Code = ce.Error.Type
		}
	}
	return se
}

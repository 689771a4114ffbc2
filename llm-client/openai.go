package llmclient

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIClient implements Client for OpenAI
type OpenAIClient struct {
	client  openai.Client
	model   string
	baseURL string
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(opts Options) *OpenAIClient {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithHTTPClient(opts.httpClient()),
		option.WithMaxRetries(0),
	}
	baseURL := modelOr(opts.BaseURL, DefaultBaseURL(ProviderOpenAI))
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &OpenAIClient{
		client:  openai.NewClient(reqOpts...),
		model:   modelOr(opts.Model, DefaultModel(ProviderOpenAI)),
		baseURL: baseURL,
	}
}

// SetModel sets the model to use
func (c *OpenAIClient) SetModel(model string) {
	c.model = model
}

func (c *OpenAIClient) Provider() string { return string(ProviderOpenAI) }

func (c *OpenAIClient) BaseURL() string { return c.baseURL }

// Complete performs a non-streaming chat completion call
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := withResponseTimeout(ctx, req.Timeouts)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(m.Content),
					},
				},
			})
		case RoleAssistant:
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openai.String(m.Content),
					},
				},
			})
		default:
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(m.Content),
					},
				},
			})
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    modelOr(req.Model, c.model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &StatusError{
				Provider:   c.Provider(),
				StatusCode: apiErr.StatusCode,
				Code:       apiErr.Code,
				Message:    apiErr.Message,
				Err:        err,
			}
		}
		return nil, err
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, &ErrEmptyResponse{Provider: c.Provider()}
	}

	return &Response{
		Text: resp.Choices[0].Message.Content,
		Raw:  resp,
		Usage: Usage{
			PromptTokens: int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

package rag

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	DefaultLLMBaseURL = "https://api.groq.com/openai/v1"
	DefaultLLMModel   = "llama3-8b-8192"
)

// OpenAIChatClient talks to any OpenAI-compatible chat completions API
// (Groq by default).
type OpenAIChatClient struct {
	client openai.Client
	model  string
}

// NewOpenAIChatClient returns a client for baseURL. httpClient may be nil;
// opts are passed to the underlying SDK client after the defaults.
func NewOpenAIChatClient(apiKey, baseURL, model string, httpClient *http.Client, opts ...option.RequestOption) *OpenAIChatClient {
	if baseURL == "" {
		baseURL = DefaultLLMBaseURL
	}
	if model == "" {
		model = DefaultLLMModel
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	}
	if httpClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(httpClient))
	}
	clientOpts = append(clientOpts, opts...)

	return &OpenAIChatClient{
		client: openai.NewClient(clientOpts...),
		model:  model,
	}
}

func (c *OpenAIChatClient) Complete(ctx context.Context, system, user string) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	return completion.Choices[0].Message.Content, nil
}

func (c *OpenAIChatClient) Model() string { return c.model }

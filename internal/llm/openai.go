package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	// DefaultTemperature is the default generation temperature.
	// Kept low for factual, grounded answers.
	DefaultTemperature = 0.1

	// DefaultMaxTokens is the default completion budget.
	DefaultMaxTokens = 1024
)

// OpenAIClient implements the LLM interface against any OpenAI-compatible
// chat completions endpoint (vLLM, TGI, llama.cpp server, LiteLLM).
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// OpenAIOption is a functional option for configuring OpenAIClient.
type OpenAIOption func(*openaiSettings)

type openaiSettings struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float32
	maxTokens   int
	httpClient  *http.Client
}

// WithBaseURL sets the API base URL, e.g. http://vllm:8000/v1.
func WithBaseURL(url string) OpenAIOption {
	return func(s *openaiSettings) {
		s.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) OpenAIOption {
	return func(s *openaiSettings) {
		s.apiKey = key
	}
}

// WithModel sets the default model for the client.
func WithModel(model string) OpenAIOption {
	return func(s *openaiSettings) {
		s.model = model
	}
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float32) OpenAIOption {
	return func(s *openaiSettings) {
		s.temperature = t
	}
}

// WithMaxTokens sets the default completion budget.
func WithMaxTokens(n int) OpenAIOption {
	return func(s *openaiSettings) {
		s.maxTokens = n
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(s *openaiSettings) {
		s.httpClient = client
	}
}

// NewOpenAIClient creates a new chat client with the given options.
func NewOpenAIClient(opts ...OpenAIOption) *OpenAIClient {
	s := openaiSettings{
		apiKey:      "dummy",
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&s)
	}

	clientConfig := openai.DefaultConfig(s.apiKey)
	if s.baseURL != "" {
		clientConfig.BaseURL = s.baseURL
	}
	if s.httpClient != nil {
		clientConfig.HTTPClient = s.httpClient
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       s.model,
		temperature: s.temperature,
		maxTokens:   s.maxTokens,
	}
}

// Generate sends the prompt as a single user turn and returns the first choice.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = c.temperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if opts.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: opts.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Ensure OpenAIClient implements LLM interface.
var _ LLM = (*OpenAIClient)(nil)

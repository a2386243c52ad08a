package llm

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Client abstracts an OpenAI-compatible chat completion API.
type Client interface {
	// ChatCompletion sends a chat completion request and returns the response.
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest is a single system + user exchange with sampling parameters.
// Unset values fall back to the client defaults, then to the server defaults.
type ChatRequest struct {
	Model         string
	SystemMessage string
	UserMessage   string
	Temperature   *float64
	TopP          *float64
	MaxTokens     int
}

// ChatResponse holds the result of a chat completion.
type ChatResponse struct {
	Content          string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// OpenAIClient implements Client on top of go-openai. It works against
// OpenAI, Azure OpenAI and any server speaking the same protocol.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature *float64
}

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(opts ...Option) *OpenAIClient {
	cfg := &clientConfig{
		baseURL: "https://api.openai.com/v1",
		apiKey:  "not-needed",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	var config openai.ClientConfig
	if cfg.azureAPIVersion != "" {
		config = openai.DefaultAzureConfig(cfg.apiKey, strings.TrimSuffix(cfg.baseURL, "/"))
		config.APIVersion = cfg.azureAPIVersion
	} else {
		config = openai.DefaultConfig(cfg.apiKey)
		config.BaseURL = cfg.baseURL
	}
	if cfg.httpClient != nil {
		config.HTTPClient = cfg.httpClient
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(config),
		model:       cfg.model,
		temperature: cfg.temperature,
	}
}

// ChatCompletion sends a non-streaming chat completion request.
func (c *OpenAIClient) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req = c.applyDefaults(req)
	if req.Model == "" {
		return nil, fmt.Errorf("no model specified")
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemMessage},
			{Role: openai.ChatMessageRoleUser, Content: req.UserMessage},
		},
		Temperature: samplingValue(req.Temperature),
		TopP:        samplingValue(req.TopP),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	return &ChatResponse{
		Content:          resp.Choices[0].Message.Content,
		FinishReason:     string(resp.Choices[0].FinishReason),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// applyDefaults applies client-level defaults to a request where
// the request does not specify its own values.
func (c *OpenAIClient) applyDefaults(req ChatRequest) ChatRequest {
	if req.Model == "" && c.model != "" {
		req.Model = c.model
	}
	if req.Temperature == nil && c.temperature != nil {
		t := *c.temperature
		req.Temperature = &t
	}
	return req
}

// samplingValue converts an optional sampling parameter for the wire.
// go-openai omits zero values, so an explicit 0 is sent as the smallest
// non-zero float32 instead.
func samplingValue(v *float64) float32 {
	if v == nil {
		return 0
	}
	if *v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(*v)
}

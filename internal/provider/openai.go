package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// GroqBaseURL is the OpenAI-compatible endpoint of the Groq API.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// OpenAIProvider talks to OpenAI or any OpenAI-compatible chat
// completions API (Groq, vLLM, ...).
type OpenAIProvider struct {
	name   string
	client openai.Client
}

// NewOpenAIProvider creates a provider against the OpenAI API, or an
// OpenAI-compatible endpoint when baseURL is non-empty.
func NewOpenAIProvider(baseURL, apiKey string) *OpenAIProvider {
	return newCompatible("openai", baseURL, apiKey)
}

// NewGroqProvider creates a provider against the Groq API.
func NewGroqProvider(apiKey string) *OpenAIProvider {
	return newCompatible("groq", GroqBaseURL, apiKey)
}

func newCompatible(name, baseURL, apiKey string) *OpenAIProvider {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		name:   name,
		client: openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Generate sends a single-message chat completion request.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	model := opts.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}

	params := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(opts.MaxTokens)
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", p.name, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%s chat completion: no choices returned", p.name)
	}
	return completion.Choices[0].Message.Content, nil
}

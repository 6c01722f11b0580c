package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

// Generator produces a reply from a prompt.
type Generator interface {
	Generate(ctx context.Context, p *Prompt) (string, error)
}

// OpenAIGenerator answers with an OpenAI chat completion.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// OpenAIOption configures an OpenAIGenerator.
type OpenAIOption func(*openai.ClientConfig)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openai.ClientConfig) { c.BaseURL = url }
}

// NewOpenAIGenerator creates a chat completion generator.
func NewOpenAIGenerator(apiKey, model string, temperature float32, maxTokens int, opts ...OpenAIOption) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai generator: missing API key")
	}
	cfg := openai.DefaultConfig(apiKey)
	for _, opt := range opts {
		opt(&cfg)
	}
	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}, nil
}

// Messages lays the prompt out as chat messages: system, earlier turns, then the rendered query.
func Messages(p *Prompt) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(p.History)+2)
	if p.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	}
	for _, t := range p.History {
		role := openai.ChatMessageRoleUser
		if t.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.UserContent()})
}

// Generate sends the prompt and returns the first choice.
func (g *OpenAIGenerator) Generate(ctx context.Context, p *Prompt) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    Messages(p),
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ExtractiveGenerator replies with the closest grounding answer. It needs no network
// and is deterministic.
type ExtractiveGenerator struct {
	// Fallback is returned when there is nothing to extract.
	Fallback string
}

func (g *ExtractiveGenerator) Generate(ctx context.Context, p *Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for _, r := range p.Grounding {
		if strings.TrimSpace(r.Answer) != "" {
			return r.Answer, nil
		}
	}
	return g.Fallback, nil
}

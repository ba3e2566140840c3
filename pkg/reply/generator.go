// Package reply generates the agent's spoken replies from caller utterances.
package reply

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultSystemPrompt = "You are a helpful voice assistant on a live phone call. " +
	"Keep responses brief and conversational. Speak naturally, avoid markdown, " +
	"and expand numbers and abbreviations for speech."

// Exchange is one completed utterance/reply pair, kept as conversation
// memory for the duration of a call.
type Exchange struct {
	Utterance string
	Reply     string
}

// Prompt is the full input for one generation turn.
type Prompt struct {
	// Utterance is the caller's finalized transcript for this turn.
	Utterance string

	// Memory holds the call's prior exchanges, oldest first.
	Memory []Exchange

	// CallContext is optional metadata recorded when the call was placed
	// (who is being called and why). It is given to the model as an
	// additional system message.
	CallContext string
}

// Generator produces reply text for a finalized caller utterance.
// An empty reply with a nil error means the agent stays silent this turn.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// OpenAIGenerator implements Generator over a chat-completion API.
type OpenAIGenerator struct {
	client       *openai.Client
	model        string
	systemPrompt string
}

// GeneratorConfig configures an OpenAIGenerator.
type GeneratorConfig struct {
	APIKey       string
	Model        string
	BaseURL      string // optional, for compatible endpoints and tests
	SystemPrompt string // optional, defaults to a phone-call prompt
}

// NewOpenAIGenerator creates a chat-completion reply generator.
func NewOpenAIGenerator(cfg GeneratorConfig) (*OpenAIGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIGenerator{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        model,
		systemPrompt: prompt,
	}, nil
}

// Generate produces the reply text for one utterance. Memory, when present,
// is replayed as alternating user/assistant turns ahead of the utterance.
func (g *OpenAIGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2*len(p.Memory)+3)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: g.systemPrompt,
	})
	if strings.TrimSpace(p.CallContext) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Context for this call: " + p.CallContext,
		})
	}
	for _, ex := range p.Memory {
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: ex.Utterance},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: ex.Reply},
		)
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: p.Utterance,
	})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

package openai_compat

import (
	"context"
	"math"
	"strings"

	"github.com/sashabaranov/go-openai"

	"flowair/internal/providers"
)

type ChatConfig struct {
	Config
	MaxTokens int
	// Temperature is sent as given; zero means deterministic sampling.
	Temperature float64
}

// ChatClient sends one system + user exchange to /chat/completions.
type ChatClient struct {
	cfg ChatConfig
	api *openai.Client
}

func NewChat(cfg ChatConfig) *ChatClient {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	return &ChatClient{cfg: cfg, api: newAPI(cfg.Config)}
}

var _ providers.Provider = (*ChatClient)(nil)

func (c *ChatClient) Family() providers.Family { return providers.TextCompletion }

func (c *ChatClient) Invoke(ctx context.Context, req providers.Request) (providers.Result, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	temperature := float32(c.cfg.Temperature)
	if temperature == 0 {
		// the request field is omitempty, so a literal zero would never be sent
		temperature = math.SmallestNonzeroFloat32
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return providers.Result{}, classify(providers.TextCompletion, err)
	}

	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	tokens := resp.Usage.TotalTokens
	if tokens == 0 && text != "" {
		// some compatible servers omit usage
		tokens = estimateTokens(req.SystemPrompt, req.Prompt, text)
	}
	return providers.Result{Kind: providers.KindText, Text: text, TokensUsed: tokens}, nil
}

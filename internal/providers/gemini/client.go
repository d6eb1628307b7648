// Package gemini is the alternate text-completion backend.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/option"

	"flowair/internal/providers"
)

type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

type Client struct {
	cfg    Config
	client *genai.Client
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash-latest"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{cfg: cfg, client: client}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Family() providers.Family { return providers.TextCompletion }

func (c *Client) Invoke(ctx context.Context, req providers.Request) (providers.Result, error) {
	name := req.Model
	if name == "" || !strings.HasPrefix(name, "gemini") {
		name = c.cfg.Model
	}
	// models carry per-request settings, so one is built per call
	model := c.client.GenerativeModel(name)
	model.SetTemperature(float32(c.cfg.Temperature))
	model.SetMaxOutputTokens(int32(c.cfg.MaxTokens))
	if strings.TrimSpace(req.SystemPrompt) != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.SystemPrompt)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return providers.Result{Kind: providers.KindText}, nil
		}
		return providers.Result{}, classify(err)
	}

	res := providers.Result{Kind: providers.KindText, Text: collectText(resp)}
	if resp.UsageMetadata != nil {
		res.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return res, nil
}

func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}

func classify(err error) *providers.UpstreamError {
	var ae *apierror.APIError
	if errors.As(err, &ae) && ae.HTTPCode() > 0 {
		return providers.StatusError(providers.TextCompletion, ae.HTTPCode(), err)
	}
	return providers.AsUpstream(providers.TextCompletion, err)
}

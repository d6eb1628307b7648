package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"flowair/internal/providers"
)

func TestCollectTextJoinsParts(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("Hello, "), genai.Text("world")}},
		}},
	}
	if got := collectText(resp); got != "Hello, world" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestCollectTextEmpty(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
	}{
		{"nil response", nil},
		{"no candidates", &genai.GenerateContentResponse{}},
		{"nil content", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := collectText(tc.resp); got != "" {
				t.Fatalf("expected empty text, got %q", got)
			}
		})
	}
}

func TestClassifyTransportError(t *testing.T) {
	ue := classify(context.DeadlineExceeded)
	if ue.Provider != providers.TextCompletion || ue.StatusCode != 0 || !ue.Timeout() {
		t.Fatalf("unexpected classification %+v", ue)
	}
	if !errors.Is(ue, context.DeadlineExceeded) {
		t.Fatalf("cause must stay reachable through Unwrap")
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestNewKeepsZeroTemperature(t *testing.T) {
	c, err := New(context.Background(), Config{APIKey: "test-key", Temperature: 0})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()
	if c.cfg.Temperature != 0 {
		t.Fatalf("zero temperature must not be replaced, got %v", c.cfg.Temperature)
	}
	if c.cfg.MaxTokens != 2000 {
		t.Fatalf("expected default max tokens, got %d", c.cfg.MaxTokens)
	}
}

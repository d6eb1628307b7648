// Package openai_compat talks to OpenAI and OpenAI-compatible servers for the
// text-completion and text-to-speech families.
package openai_compat

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"flowair/internal/providers"
)

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

func newAPI(cfg Config) *openai.Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		oc.BaseURL = strings.TrimSuffix(base, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	} else {
		oc.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return openai.NewClientWithConfig(oc)
}

// classify maps go-openai errors onto UpstreamError, keeping the status code.
func classify(f providers.Family, err error) *providers.UpstreamError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return providers.StatusError(f, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return providers.StatusError(f, reqErr.HTTPStatusCode, err)
	}
	return providers.AsUpstream(f, err)
}

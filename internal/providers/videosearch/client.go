// Package videosearch runs a keyword search against a Pexels-compatible
// video API and lists the hits as text.
package videosearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"flowair/internal/providers"
)

type Config struct {
	BaseURL    string
	APIKey     string
	Limit      int
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	return &Client{cfg: cfg}
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Family() providers.Family { return providers.VideoSearch }

type searchResponse struct {
	TotalResults int `json:"total_results"`
	Videos       []struct {
		ID       int64  `json:"id"`
		URL      string `json:"url"`
		Duration int    `json:"duration"`
	} `json:"videos"`
}

func (c *Client) Invoke(ctx context.Context, req providers.Request) (providers.Result, error) {
	query := strings.TrimSpace(req.Prompt)
	endpoint, err := c.searchURL(query)
	if err != nil {
		return providers.Result{}, providers.AsUpstream(providers.VideoSearch, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return providers.Result{}, providers.AsUpstream(providers.VideoSearch, fmt.Errorf("build search request: %w", err))
	}
	if strings.TrimSpace(c.cfg.APIKey) != "" {
		httpReq.Header.Set("Authorization", c.cfg.APIKey)
	}

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return providers.Result{}, providers.AsUpstream(providers.VideoSearch, err)
	}
	defer resp.Body.Close()

	b, err := providers.ReadBody(resp.Body)
	if err != nil {
		return providers.Result{}, providers.AsUpstream(providers.VideoSearch, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return providers.Result{}, providers.StatusError(providers.VideoSearch, resp.StatusCode, nil)
	}

	var sr searchResponse
	if err := json.Unmarshal(b, &sr); err != nil {
		return providers.Result{}, providers.AsUpstream(providers.VideoSearch, fmt.Errorf("decode search response: %w", err))
	}
	return providers.Result{Kind: providers.KindText, Text: c.format(query, sr)}, nil
}

func (c *Client) searchURL(query string) (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if base == "" {
		return "", fmt.Errorf("video search base url is empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/videos/search"
	q := u.Query()
	q.Set("query", query)
	q.Set("per_page", strconv.Itoa(c.cfg.Limit))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) format(query string, sr searchResponse) string {
	videos := sr.Videos
	if len(videos) > c.cfg.Limit {
		videos = videos[:c.cfg.Limit]
	}
	if len(videos) == 0 {
		return fmt.Sprintf("No videos found for %q.", query)
	}
	lines := []string{fmt.Sprintf("Found %d videos for %q:", len(videos), query)}
	for i, v := range videos {
		lines = append(lines, fmt.Sprintf("%d. %s (%s)", i+1, v.URL, formatDuration(v.Duration)))
	}
	return strings.Join(lines, "\n")
}

func formatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// Package imagegen submits asynchronous image-generation jobs. The upstream
// answers with a job id; polling for the finished asset is left to the caller.
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"flowair/internal/providers"
)

const defaultBodyTemplate = `{"model":{{json .Model}},"input":{"prompt":{{json .Prompt}}}}`

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// BodyTemplate is a text/template rendered with .Model, .Prompt and
	// .SystemPrompt; use {{json .Prompt}} to embed values safely.
	BodyTemplate string
	HTTPClient   *http.Client
}

type Client struct {
	cfg Config
	tpl *template.Template
}

func New(cfg Config) (*Client, error) {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if strings.TrimSpace(cfg.BodyTemplate) == "" {
		cfg.BodyTemplate = defaultBodyTemplate
	}
	tpl, err := template.New("image_job").
		Funcs(template.FuncMap{"json": toJSON}).
		Option("missingkey=zero").
		Parse(cfg.BodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse image body template: %w", err)
	}
	return &Client{cfg: cfg, tpl: tpl}, nil
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Family() providers.Family { return providers.ImageGeneration }

func (c *Client) Invoke(ctx context.Context, req providers.Request) (providers.Result, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	body, err := c.renderBody(model, req)
	if err != nil {
		return providers.Result{}, providers.AsUpstream(providers.ImageGeneration, err)
	}

	url := strings.TrimSuffix(strings.TrimSpace(c.cfg.BaseURL), "/") + "/predictions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return providers.Result{}, providers.AsUpstream(providers.ImageGeneration, fmt.Errorf("build image request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.cfg.APIKey) != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return providers.Result{}, providers.AsUpstream(providers.ImageGeneration, err)
	}
	defer resp.Body.Close()

	b, err := providers.ReadBody(resp.Body)
	if err != nil {
		return providers.Result{}, providers.AsUpstream(providers.ImageGeneration, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return providers.Result{}, providers.StatusError(providers.ImageGeneration, resp.StatusCode, nil)
	}

	job := parseJob(b)
	if job.id == "" {
		return providers.Result{Kind: providers.KindText}, nil
	}
	return providers.Result{
		Kind:  providers.KindPending,
		JobID: job.id,
		Text:  describeJob(job, req.Prompt),
	}, nil
}

func (c *Client) renderBody(model string, req providers.Request) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.tpl.Execute(&buf, map[string]any{
		"Model":        model,
		"Prompt":       req.Prompt,
		"SystemPrompt": req.SystemPrompt,
	}); err != nil {
		return nil, fmt.Errorf("execute image body template: %w", err)
	}
	return buf.Bytes(), nil
}

type jobInfo struct {
	id     string
	status string
}

func parseJob(body []byte) jobInfo {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return jobInfo{}
	}
	var out jobInfo
	for _, key := range []string{"id", "job_id", "task_id"} {
		if v, ok := m[key].(string); ok && strings.TrimSpace(v) != "" {
			out.id = v
			break
		}
	}
	if v, ok := m["status"].(string); ok {
		out.status = v
	}
	if out.status == "" {
		out.status = "submitted"
	}
	return out
}

func describeJob(job jobInfo, prompt string) string {
	return fmt.Sprintf("Image generation job %s is %s for prompt %q. The image will be available once the job completes.", job.id, job.status, prompt)
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

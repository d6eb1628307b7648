package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"flowair/internal/providers"
)

func TestInvokeReturnsPendingJob(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/predictions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"job-77","status":"starting"}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "flux"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := c.Invoke(context.Background(), providers.Request{Prompt: `a "neon" fox`})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Kind != providers.KindPending || res.JobID != "job-77" {
		t.Fatalf("expected pending job-77, got %+v", res)
	}
	if !strings.Contains(res.Text, "job-77") || !strings.Contains(res.Text, "neon") {
		t.Fatalf("status text should name job and prompt, got %q", res.Text)
	}

	input, _ := payload["input"].(map[string]any)
	if payload["model"] != "flux" || input["prompt"] != `a "neon" fox` {
		t.Fatalf("unexpected payload %#v", payload)
	}
}

func TestInvokeCustomTemplate(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_, _ = w.Write([]byte(`{"task_id":"t1"}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, BodyTemplate: `{"text":{{json .Prompt}},"n":1}`})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := c.Invoke(context.Background(), providers.Request{Prompt: "sunset"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.JobID != "t1" || raw["text"] != "sunset" {
		t.Fatalf("unexpected result %+v payload %#v", res, raw)
	}
}

func TestInvokeMissingJobIDIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL})
	res, err := c.Invoke(context.Background(), providers.Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !res.Empty() {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestInvokeUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL})
	_, err := c.Invoke(context.Background(), providers.Request{Prompt: "x"})
	var ue *providers.UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != http.StatusBadGateway || ue.Provider != providers.ImageGeneration {
		t.Fatalf("expected 502 image UpstreamError, got %v", err)
	}
}

func TestNewRejectsBrokenTemplate(t *testing.T) {
	if _, err := New(Config{BodyTemplate: "{{"}); err == nil {
		t.Fatalf("expected template parse error")
	}
}

package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/credix/creditgate/ports"
)

func TestUpstreamClient_Forward(t *testing.T) {
	var gotMethod, gotPath, gotQuery, gotForwardedFor string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotForwardedFor = r.Header.Get("X-Forwarded-For")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client, err := NewUpstreamClient(UpstreamConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	resp, err := client.Forward(context.Background(), ports.Request{
		Method:   "POST",
		Path:     "/api/v1/credential/issue",
		Query:    "persist=true",
		Headers:  map[string]string{"Content-Type": "application/json"},
		Body:     []byte(`{"persist":true}`),
		RemoteIP: "10.0.0.9",
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	if gotMethod != "POST" || gotPath != "/api/v1/credential/issue" || gotQuery != "persist=true" {
		t.Errorf("upstream saw %s %s?%s", gotMethod, gotPath, gotQuery)
	}
	if gotForwardedFor != "10.0.0.9" {
		t.Errorf("X-Forwarded-For = %q", gotForwardedFor)
	}
	if string(gotBody) != `{"persist":true}` {
		t.Errorf("body = %s", gotBody)
	}
	if resp.Status != http.StatusCreated {
		t.Errorf("status = %d", resp.Status)
	}
	if resp.Headers["X-Upstream"] != "yes" {
		t.Errorf("response headers not passed through: %v", resp.Headers)
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Errorf("response body = %s", resp.Body)
	}
}

func TestUpstreamClient_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("health probe hit %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewUpstreamClient(UpstreamConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("health check: %v", err)
	}
}

func TestUpstreamClient_BadBaseURL(t *testing.T) {
	if _, err := NewUpstreamClient(UpstreamConfig{BaseURL: "://not-a-url"}); err == nil {
		t.Error("expected error for malformed base URL")
	}
}

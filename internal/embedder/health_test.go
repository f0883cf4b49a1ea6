package embedder

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func Test_OllamaHealthCheck(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/tags" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func Test_OpenAIHealthCheck_Headers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		azure   bool
		header  string
		want    string
		wantQry string
	}{
		{name: "openai", header: "Authorization", want: "Bearer sk-test"},
		{name: "azure", azure: true, header: "api-key", want: "sk-test", wantQry: "2024-02-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/models" {
					t.Errorf("path = %s, want /models", r.URL.Path)
				}
				if got := r.Header.Get(tt.header); got != tt.want {
					t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
				}
				if got := r.URL.Query().Get("api-version"); got != tt.wantQry {
					t.Errorf("api-version = %q, want %q", got, tt.wantQry)
				}
				_, _ = w.Write([]byte(`{"data":[]}`))
			}))
			defer srv.Close()

			e := NewOpenAIEmbedder(&OpenAIConfig{
				BaseURL: srv.URL, APIKey: "sk-test", Model: "m", Azure: tt.azure, APIVersion: "2024-02-01",
			})
			if err := e.HealthCheck(context.Background()); err != nil {
				t.Fatalf("HealthCheck: %v", err)
			}
		})
	}
}

func Test_HealthCheck_NonSuccessStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "bad", Model: "m"})
	err := e.HealthCheck(context.Background())
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("got %v, want HTTPStatusError 401", err)
	}
}

func Test_ProviderPing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewProvider(NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "m"}), ProviderOptions{Dimensions: 3})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Name() != "embedder/ollama" {
		t.Errorf("Name = %q", p.Name())
	}
	if err := p.Ping(context.Background()); err == nil {
		t.Error("Ping succeeded against a 503 backend")
	}

	// Backends without a health check are assumed healthy.
	plain, err := NewProvider(&scriptedBackend{}, ProviderOptions{Dimensions: 3})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if err := plain.Ping(context.Background()); err != nil {
		t.Errorf("Ping without HealthChecker: %v", err)
	}
}

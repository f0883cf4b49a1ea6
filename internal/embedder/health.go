package embedder

import (
	"context"
	"fmt"
	"net/http"
)

// HealthChecker is implemented by backends that can report reachability
// without spending tokens.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheck lists the local models via GET /api/tags.
func (e *OllamaEmbedder) HealthCheck(ctx context.Context) error {
	return probe(ctx, e.client, e.Name(), e.host+"/api/tags", nil)
}

// HealthCheck lists the available models via GET /models.
func (e *OpenAIEmbedder) HealthCheck(ctx context.Context) error {
	url := e.baseURL + "/models"
	hdr := http.Header{}
	if e.azure {
		url += "?api-version=" + e.apiVersion
		hdr.Set("api-key", e.apiKey)
	} else {
		hdr.Set("Authorization", "Bearer "+e.apiKey)
	}
	return probe(ctx, e.client, e.Name(), url, hdr)
}

// HealthCheck fetches the embedding model's metadata.
func (e *GeminiEmbedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.Models.Get(ctx, e.model, nil); err != nil {
		return fmt.Errorf("gemini embedder: get model %s: %w", e.model, err)
	}
	return nil
}

// probe issues a GET and treats any 2xx as healthy.
func probe(ctx context.Context, client *http.Client, backend, url string, hdr http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%s embedder: create health request: %w", backend, err)
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s embedder: health request failed: %w", backend, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPStatusError{Backend: backend, StatusCode: resp.StatusCode}
	}
	return nil
}

// Ping implements the server readiness contract. Backends without a
// HealthChecker are reported healthy; probing them would cost tokens.
func (p *Provider) Ping(ctx context.Context) error {
	hc, ok := p.backend.(HealthChecker)
	if !ok {
		return nil
	}
	return hc.HealthCheck(ctx)
}

// Name returns the readiness label, e.g. "embedder/openai".
func (p *Provider) Name() string { return "embedder/" + p.backend.Name() }

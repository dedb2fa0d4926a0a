package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"creative-matrix/internal/models"
)

// Request asks the render backend to produce one media artifact for a
// combination's asset set. Progress, completion, and failure come back
// asynchronously to the callback URL; delivery is at-least-once.
type Request struct {
	CombinationID string                   `json:"combination_id"`
	Assets        map[string]*models.Asset `json:"assets"`
	CallbackURL   string                   `json:"callback_url"`
}

// Backend submits render requests to the external rendering service.
type Backend interface {
	Submit(ctx context.Context, req Request) error
}

// HTTPBackend posts render requests to an HTTP rendering service.
type HTTPBackend struct {
	endpoint string
	client   *http.Client
}

// NewHTTPBackend builds a backend client for the given endpoint.
func NewHTTPBackend(endpoint string, timeout time.Duration) *HTTPBackend {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPBackend{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Submit sends one render request. A non-2xx response is an error; the
// dispatch queue's lease handles redelivery.
func (b *HTTPBackend) Submit(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal render request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build render request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("submit render request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("render backend rejected request: status %d", resp.StatusCode)
	}
	return nil
}

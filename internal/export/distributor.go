package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Distributor schedules or performs publication of one combination to a
// platform placement. Publication itself happens elsewhere; the pipeline only
// cares about the per-call success flag.
type Distributor interface {
	Publish(ctx context.Context, combinationID, platform, placement string, assetIDs []string) (bool, error)
}

// HTTPDistributor posts publish requests to the distribution service.
type HTTPDistributor struct {
	endpoint string
	client   *http.Client
}

// NewHTTPDistributor builds a distributor client for the given endpoint.
func NewHTTPDistributor(endpoint string, timeout time.Duration) *HTTPDistributor {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDistributor{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type publishRequest struct {
	CombinationID string   `json:"combination_id"`
	Platform      string   `json:"platform"`
	Placement     string   `json:"placement"`
	AssetIDs      []string `json:"asset_ids"`
}

type publishResponse struct {
	Success bool `json:"success"`
}

// Publish sends one publish request and decodes the success flag.
func (d *HTTPDistributor) Publish(ctx context.Context, combinationID, platform, placement string, assetIDs []string) (bool, error) {
	body, err := json.Marshal(publishRequest{
		CombinationID: combinationID,
		Platform:      platform,
		Placement:     placement,
		AssetIDs:      assetIDs,
	})
	if err != nil {
		return false, fmt.Errorf("marshal publish request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("publish: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return false, fmt.Errorf("publish: status %d", resp.StatusCode)
	}
	var out publishResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&out); err != nil {
		return false, fmt.Errorf("decode publish response: %w", err)
	}
	return out.Success, nil
}

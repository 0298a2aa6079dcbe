package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/shieldlabs/txshield/internal/ledgerclient"
)

// BundleResult is the relay's acknowledgement of a submitted bundle.
type BundleResult struct {
	BundleID   string   `json:"bundleId"`
	Signatures []string `json:"signatures"`
}

// Relay is the private submission channel. It withholds payloads from the
// public pending pool until inclusion. Absence or failure degrades to
// direct submission; it is never fatal on its own.
type Relay interface {
	SubmitBundle(ctx context.Context, payloads [][]byte, feeMultiplier float64) (*BundleResult, error)
	BundleStatus(ctx context.Context, bundleID string) (ledgerclient.Status, error)
}

// HTTPRelay talks to a bundle relay over its JSON HTTP API. The embedded
// http.Client is safe for concurrent use across intents.
type HTTPRelay struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRelay creates a relay client for the given endpoint.
func NewHTTPRelay(baseURL string) *HTTPRelay {
	return &HTTPRelay{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type bundleRequest struct {
	Payloads              []string `json:"payloads"` // hex-encoded
	PriorityFeeMultiplier float64  `json:"priorityFeeMultiplier,omitempty"`
}

// SubmitBundle posts the payloads as a single bundle.
func (r *HTTPRelay) SubmitBundle(ctx context.Context, payloads [][]byte, feeMultiplier float64) (*BundleResult, error) {
	req := bundleRequest{PriorityFeeMultiplier: feeMultiplier}
	for _, p := range payloads {
		req.Payloads = append(req.Payloads, hexutil.Encode(p))
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("relay: encode bundle: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/bundles", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("relay: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, &ledgerclient.NetworkError{Op: "relay submit", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &ledgerclient.NetworkError{Op: "relay submit", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("relay: bundle rejected with status %d", resp.StatusCode)
	}

	var result BundleResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("relay: decode response: %w", err)
	}
	if result.BundleID == "" {
		return nil, fmt.Errorf("relay: response missing bundle id")
	}
	return &result, nil
}

type bundleStatusResponse struct {
	Status string `json:"status"` // pending | included | failed
}

// BundleStatus queries the relay for a bundle's inclusion status.
func (r *HTTPRelay) BundleStatus(ctx context.Context, bundleID string) (ledgerclient.Status, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/v1/bundles/"+bundleID, nil)
	if err != nil {
		return ledgerclient.StatusNotFound, fmt.Errorf("relay: create request: %w", err)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return ledgerclient.StatusNotFound, &ledgerclient.NetworkError{Op: "relay status", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ledgerclient.StatusNotFound, nil
	}
	if resp.StatusCode != http.StatusOK {
		return ledgerclient.StatusNotFound, &ledgerclient.NetworkError{Op: "relay status", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var body bundleStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ledgerclient.StatusNotFound, fmt.Errorf("relay: decode status: %w", err)
	}

	switch body.Status {
	case "included":
		return ledgerclient.StatusConfirmed, nil
	case "failed":
		return ledgerclient.StatusFailed, nil
	default:
		return ledgerclient.StatusPending, nil
	}
}

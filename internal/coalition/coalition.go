// Package coalition lets the protection engine ask an external
// coordinator whether other parties want to execute alongside an
// intent (shared decoy traffic, aligned delay windows).
//
// The coordinator is purely advisory: a nil plan, an error, or an
// absent coordinator all mean "proceed solo". The engine never blocks
// on coalition formation and never shares instruction payloads with
// the coordinator, only the intent's tier and rough size.
package coalition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// IntentSummary is the non-sensitive shape of an intent shared with
// the coordinator. Instruction payloads are deliberately excluded.
type IntentSummary struct {
	Tier         string    `json:"tier"`
	AmountDigits int       `json:"amountDigits"` // order of magnitude, not the exact amount
	Deadline     time.Time `json:"deadline"`
}

// Plan is advisory guidance from a formed coalition.
type Plan struct {
	CoalitionID     string `json:"coalitionId"`
	Members         int    `json:"members"`
	ExtraDelaySlots uint64 `json:"extraDelaySlots"`
	ShareDecoys     bool   `json:"shareDecoys"`
}

// Coordinator is consumed by the protection engine. A nil *Plan with a
// nil error means no coalition formed; the caller proceeds solo.
type Coordinator interface {
	RequestJoinProtection(ctx context.Context, summary IntentSummary) (*Plan, error)
}

// HTTPCoordinator talks to a coalition coordinator service over HTTP.
type HTTPCoordinator struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPCoordinator creates a coordinator client. The request timeout
// is kept short so a slow coordinator cannot delay protection.
func NewHTTPCoordinator(baseURL string, logger *slog.Logger) *HTTPCoordinator {
	return &HTTPCoordinator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 2 * time.Second},
		logger:  logger,
	}
}

func (h *HTTPCoordinator) RequestJoinProtection(ctx context.Context, summary IntentSummary) (*Plan, error) {
	body, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("coalition: marshal summary: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/coalitions/join", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("coalition: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coalition: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		// No coalition available right now.
		return nil, nil
	default:
		return nil, fmt.Errorf("coalition: coordinator returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("coalition: read response: %w", err)
	}

	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("coalition: decode plan: %w", err)
	}
	if plan.CoalitionID == "" {
		return nil, nil
	}

	h.logger.Debug("joined coalition",
		"coalition_id", plan.CoalitionID,
		"members", plan.Members)
	return &plan, nil
}

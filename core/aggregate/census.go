package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CensusEnricher augments a computed summary with reference statistics.
// When an endpoint is configured it proxies summary and request to the
// external census API; without one it annotates the summary locally so
// the pipeline behaves the same in both setups.
type CensusEnricher struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewCensusEnricher builds an enricher. An empty endpoint selects the
// local annotation mode.
func NewCensusEnricher(endpoint, apiKey string) *CensusEnricher {
	return &CensusEnricher{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Enrich combines the summary with the enrichment request.
func (e *CensusEnricher) Enrich(ctx context.Context, summary, request json.RawMessage) (json.RawMessage, error) {
	if len(request) == 0 {
		return summary, nil
	}
	if e.endpoint == "" {
		return e.enrichLocal(summary, request)
	}
	return e.enrichRemote(ctx, summary, request)
}

func (e *CensusEnricher) enrichLocal(summary, request json.RawMessage) (json.RawMessage, error) {
	var base map[string]any
	if err := json.Unmarshal(summary, &base); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	var req any
	if err := json.Unmarshal(request, &req); err != nil {
		return nil, fmt.Errorf("decode enrichment request: %w", err)
	}
	base["enrichment"] = map[string]any{
		"request":   req,
		"source":    "local",
		"appliedAt": time.Now().UTC().Format(time.RFC3339),
	}
	out, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("encode enriched summary: %w", err)
	}
	return out, nil
}

func (e *CensusEnricher) enrichRemote(ctx context.Context, summary, request json.RawMessage) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]json.RawMessage{
		"summary": summary,
		"request": request,
	})
	if err != nil {
		return nil, fmt.Errorf("encode enrichment call: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build enrichment request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("X-API-Key", e.apiKey)
	}
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("census call: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read census response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("census status %d: %s", resp.StatusCode, truncate(payload, 200))
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("census returned invalid JSON")
	}
	return payload, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Package uploader is the client side of the ingestion pipeline: it
// picks a strategy for a document, splits oversized payloads into
// chunks, and drives the upload and polling loop against the gateway.
package uploader

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/geoscope/geoscope/core/pipeline"
)

const (
	defaultChunkSizeBytes = int(1.5 * (1 << 20))
	defaultPollInterval   = 250 * time.Millisecond
)

// Client talks to the gateway's HTTP surface.
type Client struct {
	BaseURL      string
	APIKey       string
	HTTPClient   *http.Client
	ChunkSize    int
	PollInterval time.Duration

	// OnProgress, when set, observes every polled status during
	// WaitForCompletion, terminal states included.
	OnProgress func(JobStatus)
}

// New returns a client with default timeouts and chunk size.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		ChunkSize:    defaultChunkSizeBytes,
		PollInterval: defaultPollInterval,
	}
}

// Document is one processing request: the payload plus its optional
// geographic boundaries and enrichment request, all raw bytes.
type Document struct {
	Payload           []byte
	GeoDocument       []byte
	EnrichmentRequest []byte
}

// JobStatus mirrors the gateway's job view.
type JobStatus struct {
	JobID          string          `json:"job_id"`
	Status         string          `json:"status"`
	Progress       float64         `json:"progress"`
	ChunksExpected int             `json:"chunks_expected"`
	ChunksReceived int             `json:"chunks_received"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// StrategyAdvice is the gateway's answer to a strategy query.
type StrategyAdvice struct {
	Strategy           string `json:"strategy"`
	ChunkSizeBytes     int    `json:"chunkSizeBytes"`
	SyncMaxBytes       int64  `json:"syncMaxBytes"`
	BackgroundMaxBytes int64  `json:"backgroundMaxBytes"`
}

// Strategy asks the gateway which execution path fits a payload size.
func (c *Client) Strategy(ctx context.Context, sizeBytes int64) (StrategyAdvice, error) {
	var advice StrategyAdvice
	path := fmt.Sprintf("/strategy?sizeBytes=%d", sizeBytes)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &advice); err != nil {
		return StrategyAdvice{}, err
	}
	return advice, nil
}

// Process submits a document along the gateway-advised strategy and
// blocks until a result is available. Synchronous documents return
// immediately; background and chunked ones are polled to completion.
func (c *Client) Process(ctx context.Context, doc Document) (json.RawMessage, error) {
	advice, err := c.Strategy(ctx, int64(len(doc.Payload)))
	if err != nil {
		return nil, err
	}
	switch advice.Strategy {
	case "sync":
		return c.ProcessSync(ctx, doc)
	case "background":
		jobID, err := c.ProcessBackground(ctx, doc)
		if err != nil {
			return nil, err
		}
		return c.awaitResult(ctx, jobID)
	default:
		chunkSize := advice.ChunkSizeBytes
		if chunkSize <= 0 {
			chunkSize = c.chunkSize()
		}
		jobID, err := c.UploadChunked(ctx, doc, chunkSize)
		if err != nil {
			return nil, err
		}
		return c.awaitResult(ctx, jobID)
	}
}

// ProcessSync runs the small-payload synchronous path.
func (c *Client) ProcessSync(ctx context.Context, doc Document) (json.RawMessage, error) {
	var summary json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, "/process/sync", processBody(doc), &summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// ProcessBackground submits the whole document in one request and
// returns the job id to poll.
func (c *Client) ProcessBackground(ctx context.Context, doc Document) (string, error) {
	var out struct {
		JobID string `json:"jobId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/process/background", processBody(doc), &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// UploadChunked starts a job, uploads the document's chunks sequentially,
// and finalizes. Chunk order does not matter to the server; sequential
// submission just keeps client resource usage flat.
func (c *Client) UploadChunked(ctx context.Context, doc Document, chunkSize int) (string, error) {
	if chunkSize <= 0 {
		chunkSize = c.chunkSize()
	}
	chunks, err := pipeline.Split("client", doc.Payload, chunkSize)
	if err != nil {
		return "", fmt.Errorf("split document: %w", err)
	}

	start := map[string]any{
		"totalChunks": len(chunks),
		"totalSize":   len(doc.Payload),
	}
	if len(doc.GeoDocument) > 0 {
		start["geoDocument"] = base64.StdEncoding.EncodeToString(doc.GeoDocument)
	}
	if len(doc.EnrichmentRequest) > 0 {
		start["enrichmentRequest"] = base64.StdEncoding.EncodeToString(doc.EnrichmentRequest)
	}
	var started struct {
		JobID string `json:"jobId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/job/start", start, &started); err != nil {
		return "", fmt.Errorf("start job: %w", err)
	}

	for _, chunk := range chunks {
		body := map[string]any{
			"jobId":        started.JobID,
			"chunkIndex":   chunk.Index,
			"payloadChunk": base64.StdEncoding.EncodeToString(chunk.Payload),
		}
		if err := c.doJSON(ctx, http.MethodPost, "/job/chunk", body, nil); err != nil {
			return "", fmt.Errorf("upload chunk %d: %w", chunk.Index, err)
		}
	}

	finalize := map[string]any{"jobId": started.JobID}
	if err := c.doJSON(ctx, http.MethodPost, "/job/finalize", finalize, nil); err != nil {
		return "", fmt.Errorf("finalize job: %w", err)
	}
	return started.JobID, nil
}

// Status fetches the current job state.
func (c *Client) Status(ctx context.Context, jobID string) (JobStatus, error) {
	var status JobStatus
	if err := c.doJSON(ctx, http.MethodGet, "/job/status?jobId="+jobID, nil, &status); err != nil {
		return JobStatus{}, err
	}
	return status, nil
}

// WaitForCompletion polls the job until it reaches a terminal state.
func (c *Client) WaitForCompletion(ctx context.Context, jobID string) (JobStatus, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastProgress := -1.0
	for {
		status, err := c.Status(ctx, jobID)
		if err != nil {
			return JobStatus{}, err
		}
		if c.OnProgress != nil {
			c.OnProgress(status)
		}
		if status.Progress < lastProgress {
			return JobStatus{}, fmt.Errorf("server reported regressing progress for job %s", jobID)
		}
		lastProgress = status.Progress
		switch status.Status {
		case string(pipeline.JobStatusCompleted):
			return status, nil
		case string(pipeline.JobStatusError):
			return status, fmt.Errorf("job %s failed: %s", jobID, status.Error)
		}
		select {
		case <-ctx.Done():
			return JobStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) awaitResult(ctx context.Context, jobID string) (json.RawMessage, error) {
	status, err := c.WaitForCompletion(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return status.Result, nil
}

func (c *Client) chunkSize() int {
	if c.ChunkSize > 0 {
		return c.ChunkSize
	}
	return defaultChunkSizeBytes
}

func processBody(doc Document) map[string]any {
	body := map[string]any{
		"document": base64.StdEncoding.EncodeToString(doc.Payload),
	}
	if len(doc.GeoDocument) > 0 {
		body["geoDocument"] = base64.StdEncoding.EncodeToString(doc.GeoDocument)
	}
	if len(doc.EnrichmentRequest) > 0 {
		body["enrichmentRequest"] = base64.StdEncoding.EncodeToString(doc.EnrichmentRequest)
	}
	return body
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		payload = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), payload)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

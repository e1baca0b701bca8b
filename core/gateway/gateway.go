// Package gateway exposes the ingestion pipeline over HTTP: chunk
// uploads, job lifecycle, synchronous processing, result retrieval, and
// a websocket event stream.
package gateway

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/geoscope/geoscope/core/infra/bus"
	infraMetrics "github.com/geoscope/geoscope/core/infra/metrics"
	"github.com/geoscope/geoscope/core/pipeline"
	"github.com/geoscope/geoscope/core/resultstore"
)

const (
	// maxBodyBytes bounds any single request body. Large enough for a
	// 50 MiB background document after base64 expansion.
	maxBodyBytes = 80 << 20

	defaultRecentJobsLimit = 50
	envAllowedOrigins      = "GEOSCOPE_ALLOWED_ORIGINS"
)

// EventSource is the subscription side of the event bus. Both the local
// and the NATS bus satisfy it.
type EventSource interface {
	Subscribe(subject string, buffer int) (*bus.Subscription, error)
}

// Options carries the collaborators the server is composed from.
type Options struct {
	Chunks         *pipeline.ChunkStore
	Registry       *pipeline.Registry
	Orchestrator   *pipeline.Orchestrator
	Thresholds     pipeline.Thresholds
	ChunkSizeBytes int
	Results        resultstore.Store
	Events         EventSource
	Metrics        infraMetrics.GatewayMetrics
	PipelineStats  pipeline.Metrics
}

// Server is the HTTP surface over the pipeline. It owns no pipeline
// state; everything is delegated to the injected collaborators.
type Server struct {
	chunks       *pipeline.ChunkStore
	registry     *pipeline.Registry
	orchestrator *pipeline.Orchestrator
	thresholds   pipeline.Thresholds
	chunkSize    int
	results      resultstore.Store
	events       EventSource
	metrics      infraMetrics.GatewayMetrics
	stats        pipeline.Metrics
	started      time.Time
}

// New builds a server around the given collaborators.
func New(opts Options) *Server {
	thresholds := opts.Thresholds
	if thresholds.SyncMaxBytes <= 0 || thresholds.BackgroundMaxBytes <= thresholds.SyncMaxBytes {
		thresholds = pipeline.DefaultThresholds()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = infraMetrics.Noop{}
	}
	var stats pipeline.Metrics = infraMetrics.Noop{}
	if opts.PipelineStats != nil {
		stats = opts.PipelineStats
	}
	return &Server{
		chunks:       opts.Chunks,
		registry:     opts.Registry,
		orchestrator: opts.Orchestrator,
		thresholds:   thresholds,
		chunkSize:    opts.ChunkSizeBytes,
		results:      opts.Results,
		events:       opts.Events,
		metrics:      metrics,
		stats:        stats,
		started:      time.Now(),
	}
}

// Handler returns the routed HTTP handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /upload/chunk", s.instrumented("/upload/chunk", s.handleUploadChunk))
	mux.HandleFunc("GET /upload/status", s.instrumented("/upload/status", s.handleUploadStatus))

	mux.HandleFunc("POST /job/start", s.instrumented("/job/start", s.handleJobStart))
	mux.HandleFunc("POST /job/chunk", s.instrumented("/job/chunk", s.handleJobChunk))
	mux.HandleFunc("POST /job/finalize", s.instrumented("/job/finalize", s.handleJobFinalize))
	mux.HandleFunc("GET /job/status", s.instrumented("/job/status", s.handleJobStatus))
	mux.HandleFunc("GET /jobs/recent", s.instrumented("/jobs/recent", s.handleRecentJobs))
	mux.HandleFunc("GET /jobs/{id}/events", s.instrumented("/jobs/{id}/events", s.handleJobEvents))

	mux.HandleFunc("POST /process/sync", s.instrumented("/process/sync", s.handleProcessSync))
	mux.HandleFunc("POST /process/background", s.instrumented("/process/background", s.handleProcessBackground))

	mux.HandleFunc("GET /strategy", s.instrumented("/strategy", s.handleStrategy))
	mux.HandleFunc("GET /results/{id}", s.instrumented("/results/{id}", s.handleGetResult))

	return corsMiddleware(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack forwards websocket hijacking support to the underlying writer when available.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijacker not supported")
	}
	return hj.Hijack()
}

// Flush preserves streaming support if the wrapped writer implements it.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrumented wraps handlers to record request metrics.
func (s *Server) instrumented(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		s.metrics.ObserveRequest(r.Method, route, fmt.Sprintf("%d", rec.status), time.Since(start).Seconds())
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			if !isAllowedOrigin(r) {
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isAllowedOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		// Non-browser clients often omit Origin; treat as allowed.
		return true
	}

	raw := strings.TrimSpace(os.Getenv(envAllowedOrigins))
	if raw == "*" {
		return true
	}
	if raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == origin {
				return true
			}
		}
		return false
	}

	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Hostname()) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return isAllowedOrigin(r) },
}

// statusForError maps the pipeline error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrIncompleteUpload):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNotFound), errors.Is(err, resultstore.ErrResultNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrUploadExpired):
		return http.StatusGone
	case errors.Is(err, pipeline.ErrJobAlreadyFinalized), errors.Is(err, pipeline.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, pipeline.ErrProcessingFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

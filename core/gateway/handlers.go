package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/geoscope/geoscope/core/infra/buildinfo"
	"github.com/geoscope/geoscope/core/infra/logging"
	"github.com/geoscope/geoscope/core/infra/schema"
	"github.com/geoscope/geoscope/core/pipeline"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"version":         buildinfo.Version,
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
		"pending_uploads": s.chunks.PendingCount(),
	})
}

type chunkRequest struct {
	UploadID    string              `json:"uploadId"`
	Index       int                 `json:"chunkIndex"`
	TotalChunks int                 `json:"totalChunks"`
	TotalSize   int64               `json:"totalSize,omitempty"`
	Payload     string              `json:"chunk"`
	Metadata    *pipeline.ChunkMeta `json:"metadata,omitempty"`
}

func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := schema.ValidateChunk(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req chunkRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "malformed chunk body", http.StatusBadRequest)
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		http.Error(w, "payload must be base64", http.StatusBadRequest)
		return
	}

	meta := req.Metadata
	if req.TotalSize > 0 {
		if meta == nil {
			meta = &pipeline.ChunkMeta{}
		}
		meta.TotalSize = req.TotalSize
	}
	res, err := s.chunks.Receive(pipeline.Chunk{
		UploadID:    req.UploadID,
		Index:       req.Index,
		TotalChunks: req.TotalChunks,
		Payload:     payload,
		Meta:        meta,
	})
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"complete":      res.Complete,
		"receivedCount": res.ReceivedCount,
		"totalChunks":   res.TotalChunks,
	})
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	uploadID := r.URL.Query().Get("uploadId")
	if uploadID == "" {
		http.Error(w, "missing uploadId", http.StatusBadRequest)
		return
	}
	status, err := s.chunks.Status(uploadID)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type jobStartRequest struct {
	TotalChunks       int    `json:"totalChunks"`
	TotalSize         int64  `json:"totalSize,omitempty"`
	GeoDocument       string `json:"geoDocument,omitempty"`
	EnrichmentRequest string `json:"enrichmentRequest,omitempty"`
}

func (s *Server) handleJobStart(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := schema.ValidateJobStart(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req jobStartRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "malformed job start body", http.StatusBadRequest)
		return
	}
	geoDoc, err := decodeOptionalDocument(req.GeoDocument, "geoDocument")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	enrichReq, err := decodeOptionalDocument(req.EnrichmentRequest, "enrichmentRequest")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := s.registry.Create(req.TotalChunks, geoDoc, enrichReq)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	logging.Info("gateway", "job started", "job_id", job.ID, "total_chunks", req.TotalChunks)
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":  job.ID,
		"status": "pending",
	})
}

type jobChunkRequest struct {
	JobID   string `json:"jobId"`
	Index   int    `json:"chunkIndex"`
	Payload string `json:"payloadChunk"`
}

func (s *Server) handleJobChunk(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := schema.ValidateJobChunk(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req jobChunkRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "malformed chunk body", http.StatusBadRequest)
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		http.Error(w, "payload must be base64", http.StatusBadRequest)
		return
	}

	job, err := s.registry.Get(req.JobID)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	res, err := s.chunks.Receive(pipeline.Chunk{
		UploadID:    job.ID,
		Index:       req.Index,
		TotalChunks: job.ChunksExpected,
		Payload:     payload,
	})
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	// Resent chunks overwrite their slot without advancing the count; the
	// registry only records chunks the store counted as new. Stored is
	// decided under the upload's lock, so concurrent resends of the same
	// index cannot both record.
	progress := job.Progress
	if res.Stored {
		progress, err = s.registry.RecordChunk(job.ID)
		if err != nil {
			http.Error(w, err.Error(), statusForError(err))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":          job.ID,
		"progress":       progress,
		"chunksReceived": res.ReceivedCount,
		"totalChunks":    res.TotalChunks,
	})
}

type jobFinalizeRequest struct {
	JobID string `json:"jobId"`
}

func (s *Server) handleJobFinalize(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req jobFinalizeRequest
	if err := json.Unmarshal(body, &req); err != nil || req.JobID == "" {
		http.Error(w, "jobId required", http.StatusBadRequest)
		return
	}

	job, err := s.registry.Get(req.JobID)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	// BeginProcessing rejects an incomplete upload and leaves the job
	// Pending, so a client can keep sending the missing chunks.
	if err := s.registry.BeginProcessing(job.ID); err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	payload, _, err := s.chunks.TakeCompleted(job.ID)
	if err != nil {
		msg := fmt.Sprintf("reassembly failed: %v", err)
		if failErr := s.registry.Fail(job.ID, msg); failErr != nil {
			logging.Error("gateway", "fail after reassembly error rejected", "job_id", job.ID, "error", failErr)
		}
		http.Error(w, msg, statusForError(err))
		return
	}

	s.stats.IncJobsStarted(pipeline.StrategyChunked.String())
	s.orchestrator.RunInBackground(job.ID, payload, job.GeoDocument, job.EnrichmentRequest)
	logging.Info("gateway", "job finalized", "job_id", job.ID, "payload_bytes", len(payload))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":  job.ID,
		"status": "processing",
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		http.Error(w, "missing jobId", http.StatusBadRequest)
		return
	}
	job, err := s.registry.Get(jobID)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRecentJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentJobsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs": s.registry.ListRecent(limit),
	})
}

type processRequest struct {
	Document          string `json:"document"`
	GeoDocument       string `json:"geoDocument,omitempty"`
	EnrichmentRequest string `json:"enrichmentRequest,omitempty"`
}

func (s *Server) decodeProcessRequest(body []byte) (document, geoDoc, enrichReq []byte, err error) {
	if err := schema.ValidateProcessRequest(body); err != nil {
		return nil, nil, nil, err
	}
	var req processRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, nil, nil, fmt.Errorf("malformed process body")
	}
	document, err = base64.StdEncoding.DecodeString(req.Document)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("document must be base64")
	}
	geoDoc, err = decodeOptionalDocument(req.GeoDocument, "geoDocument")
	if err != nil {
		return nil, nil, nil, err
	}
	enrichReq, err = decodeOptionalDocument(req.EnrichmentRequest, "enrichmentRequest")
	if err != nil {
		return nil, nil, nil, err
	}
	return document, geoDoc, enrichReq, nil
}

func (s *Server) handleProcessSync(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	document, geoDoc, enrichReq, err := s.decodeProcessRequest(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if int64(len(document)) > s.thresholds.SyncMaxBytes {
		http.Error(w, fmt.Sprintf("document exceeds synchronous limit of %d bytes, use /process/background", s.thresholds.SyncMaxBytes), http.StatusBadRequest)
		return
	}

	s.stats.IncJobsStarted(pipeline.StrategySync.String())
	summary, err := s.orchestrator.RunSynchronous(r.Context(), document, geoDoc, enrichReq)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeRawJSON(w, http.StatusOK, summary)
}

func (s *Server) handleProcessBackground(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	document, geoDoc, enrichReq, err := s.decodeProcessRequest(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if int64(len(document)) > s.thresholds.BackgroundMaxBytes {
		http.Error(w, fmt.Sprintf("document exceeds background limit of %d bytes, use the chunked upload", s.thresholds.BackgroundMaxBytes), http.StatusBadRequest)
		return
	}

	job, err := s.registry.Create(0, geoDoc, enrichReq)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	if err := s.registry.BeginProcessing(job.ID); err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	s.stats.IncJobsStarted(pipeline.StrategyBackground.String())
	s.orchestrator.RunInBackground(job.ID, document, geoDoc, enrichReq)
	logging.Info("gateway", "background job accepted", "job_id", job.ID, "document_bytes", len(document))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":  job.ID,
		"status": "processing",
	})
}

func (s *Server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("sizeBytes")
	size, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || size < 0 {
		http.Error(w, "sizeBytes must be a non-negative integer", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"strategy":           s.thresholds.Select(size),
		"chunkSizeBytes":     s.chunkSize,
		"syncMaxBytes":       s.thresholds.SyncMaxBytes,
		"backgroundMaxBytes": s.thresholds.BackgroundMaxBytes,
	})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		http.Error(w, "missing job id", http.StatusBadRequest)
		return
	}
	if s.results == nil {
		http.Error(w, "result store not configured", http.StatusNotFound)
		return
	}
	rec, err := s.results.GetResult(r.Context(), jobID)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty request body")
	}
	return body, nil
}

func decodeOptionalDocument(raw, field string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be base64", field)
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRawJSON(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

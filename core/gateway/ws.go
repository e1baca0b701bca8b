package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/geoscope/geoscope/core/infra/logging"
	"github.com/geoscope/geoscope/core/pipeline"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsEventBuffer  = 32
)

// handleJobEvents streams a job's lifecycle events over a websocket. The
// current state is sent first so a late subscriber does not miss the
// terminal event, then bus events follow until the job finishes or the
// client goes away. A client that cannot keep up is disconnected rather
// than allowed to stall the stream.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		http.Error(w, "missing job id", http.StatusBadRequest)
		return
	}
	if s.events == nil {
		http.Error(w, "event stream not configured", http.StatusNotFound)
		return
	}
	job, err := s.registry.Get(jobID)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	// Subscribe before upgrading so no event between snapshot and
	// subscription is lost.
	sub, err := s.events.Subscribe(pipeline.EventSubject(jobID), wsEventBuffer)
	if err != nil {
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer sub.Cancel()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("gateway", "websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer ws.Close()

	snapshot := pipeline.JobEvent{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Error:    job.ErrorMessage,
	}
	if !writeEvent(ws, snapshot) {
		return
	}
	if job.Status.IsTerminal() {
		return
	}

	for {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			if !writeEvent(ws, evt) {
				return
			}
			if evt.Status.IsTerminal() {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(ws *websocket.Conn, evt pipeline.JobEvent) bool {
	data, err := json.Marshal(evt)
	if err != nil {
		logging.Error("gateway", "event marshal failed", "job_id", evt.JobID, "error", err)
		return false
	}
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return ws.WriteMessage(websocket.TextMessage, data) == nil
}

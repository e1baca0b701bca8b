package pipeline

import "errors"

var (
	// ErrInvalidInput indicates a malformed request shape.
	ErrInvalidInput = errors.New("invalid_input")
	// ErrIncompleteUpload indicates finalize/reassemble before all chunks arrived.
	ErrIncompleteUpload = errors.New("incomplete_upload")
	// ErrNotFound indicates an unknown uploadId/jobId, or a double take of a completed upload.
	ErrNotFound = errors.New("not_found")
	// ErrJobAlreadyFinalized indicates a duplicate terminal transition.
	ErrJobAlreadyFinalized = errors.New("job_already_finalized")
	// ErrInvalidTransition indicates a state change the job's current state forbids.
	ErrInvalidTransition = errors.New("invalid_transition")
	// ErrUploadExpired indicates a stale pending upload was swept.
	ErrUploadExpired = errors.New("upload_expired")
	// ErrProcessingFailed indicates a collaborator error during aggregation or enrichment.
	ErrProcessingFailed = errors.New("processing_failed")
	// ErrTimeout indicates a watchdog-forced failure.
	ErrTimeout = errors.New("timeout")
)

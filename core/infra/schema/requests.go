package schema

import (
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Request body schemas for the gateway. Compiled once on first use.

const processRequestSchema = `{
	"type": "object",
	"properties": {
		"document": {"type": "string", "minLength": 1},
		"geoDocument": {"type": "string"},
		"enrichmentRequest": {"type": "string"}
	},
	"required": ["document"],
	"additionalProperties": false
}`

const jobStartSchema = `{
	"type": "object",
	"properties": {
		"totalChunks": {"type": "integer", "minimum": 1},
		"totalSize": {"type": "integer", "minimum": 1},
		"geoDocument": {"type": "string"},
		"enrichmentRequest": {"type": "string"}
	},
	"required": ["totalChunks"],
	"additionalProperties": false
}`

const chunkSchema = `{
	"type": "object",
	"properties": {
		"uploadId": {"type": "string", "minLength": 1},
		"chunkIndex": {"type": "integer", "minimum": 0},
		"totalChunks": {"type": "integer", "minimum": 1},
		"totalSize": {"type": "integer", "minimum": 0},
		"chunk": {"type": "string", "minLength": 1},
		"metadata": {"type": "object"}
	},
	"required": ["uploadId", "chunkIndex", "totalChunks", "chunk"],
	"additionalProperties": false
}`

const jobChunkSchema = `{
	"type": "object",
	"properties": {
		"jobId": {"type": "string", "minLength": 1},
		"chunkIndex": {"type": "integer", "minimum": 0},
		"payloadChunk": {"type": "string", "minLength": 1}
	},
	"required": ["jobId", "chunkIndex", "payloadChunk"],
	"additionalProperties": false
}`

var (
	compileOnce sync.Once
	compileErr  error
	compiled    map[string]*jsonschema.Schema
)

// Validators look schemas up by name after the once-guarded compile so a
// caller can never observe a schema that is not compiled yet.
func compileAll() {
	defs := map[string]string{
		"process-request": processRequestSchema,
		"job-start":       jobStartSchema,
		"chunk":           chunkSchema,
		"job-chunk":       jobChunkSchema,
	}
	compiled = make(map[string]*jsonschema.Schema, len(defs))
	for id, doc := range defs {
		s, err := jsonschema.CompileString(schemaID(id), doc)
		if err != nil {
			compileErr = fmt.Errorf("compile %s: %w", id, err)
			return
		}
		compiled[id] = s
	}
}

func validateAgainst(name string, body []byte) error {
	compileOnce.Do(compileAll)
	if compileErr != nil {
		return compileErr
	}
	s, ok := compiled[name]
	if !ok {
		return fmt.Errorf("unknown request schema %q", name)
	}
	payload, err := normalizeValue(body)
	if err != nil {
		return err
	}
	if err := s.Validate(payload); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// ValidateProcessRequest checks a /process request body.
func ValidateProcessRequest(body []byte) error {
	return validateAgainst("process-request", body)
}

// ValidateJobStart checks a /job/start request body.
func ValidateJobStart(body []byte) error {
	return validateAgainst("job-start", body)
}

// ValidateChunk checks a chunk upload request body.
func ValidateChunk(body []byte) error {
	return validateAgainst("chunk", body)
}

// ValidateJobChunk checks a job-bound chunk request body.
func ValidateJobChunk(body []byte) error {
	return validateAgainst("job-chunk", body)
}

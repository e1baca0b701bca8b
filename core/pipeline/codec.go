package pipeline

import "fmt"

// Split slices payload into ordered, size-bounded chunks. The last chunk
// may be shorter. Chunks reference but do not copy the payload.
func Split(uploadID string, payload []byte, chunkSizeBytes int) ([]Chunk, error) {
	if chunkSizeBytes <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidInput, chunkSizeBytes)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidInput)
	}
	total := (len(payload) + chunkSizeBytes - 1) / chunkSizeBytes
	meta := &ChunkMeta{TotalSize: int64(len(payload))}
	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSizeBytes
		end := start + chunkSizeBytes
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, Chunk{
			UploadID:    uploadID,
			Index:       i,
			TotalChunks: total,
			Payload:     payload[start:end],
			Meta:        meta,
		})
	}
	return chunks, nil
}

// Reassemble concatenates parts in strict index order regardless of the
// order they were stored in. Every index in [0, totalChunks) must be present.
func Reassemble(parts map[int][]byte, totalChunks int) ([]byte, error) {
	if totalChunks <= 0 {
		return nil, fmt.Errorf("%w: total chunks must be positive, got %d", ErrInvalidInput, totalChunks)
	}
	size := 0
	for i := 0; i < totalChunks; i++ {
		part, ok := parts[i]
		if !ok {
			return nil, fmt.Errorf("%w: missing chunk %d of %d", ErrIncompleteUpload, i, totalChunks)
		}
		size += len(part)
	}
	out := make([]byte, 0, size)
	for i := 0; i < totalChunks; i++ {
		out = append(out, parts[i]...)
	}
	return out, nil
}

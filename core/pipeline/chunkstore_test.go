package pipeline

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestChunkStore(t *testing.T) (*ChunkStore, *time.Time) {
	t.Helper()
	store := NewChunkStore(time.Minute, time.Minute, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	return store, &now
}

func TestChunkStoreReceiveAndTake(t *testing.T) {
	store, _ := newTestChunkStore(t)
	payload := bytes.Repeat([]byte("record,"), 100)
	chunks, err := Split("up-1", payload, 64)
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	// Arrival order is arbitrary; push the last chunk first.
	order := []int{len(chunks) - 1}
	for i := 0; i < len(chunks)-1; i++ {
		order = append(order, i)
	}
	var res ReceiveResult
	for n, i := range order {
		res, err = store.Receive(chunks[i])
		if err != nil {
			t.Fatalf("receive chunk %d: %v", i, err)
		}
		if res.ReceivedCount != n+1 {
			t.Fatalf("expected %d received, got %d", n+1, res.ReceivedCount)
		}
		wantComplete := n == len(order)-1
		if res.Complete != wantComplete {
			t.Fatalf("chunk %d: complete=%v, want %v", i, res.Complete, wantComplete)
		}
	}

	got, meta, err := store.TakeCompleted("up-1")
	if err != nil {
		t.Fatalf("take completed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reassembled payload mismatch")
	}
	if meta == nil || meta.TotalSize != int64(len(payload)) {
		t.Fatalf("unexpected meta: %#v", meta)
	}

	// At-most-once: the entry is gone.
	if _, _, err := store.TakeCompleted("up-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second take, got %v", err)
	}
}

func TestChunkStoreDuplicateChunkIdempotent(t *testing.T) {
	store, _ := newTestChunkStore(t)
	chunks, err := Split("up-dup", []byte("aaaabbbbcc"), 4)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	first, err := store.Receive(chunks[0])
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !first.Stored {
		t.Fatalf("first receive of an index must report stored")
	}
	res, err := store.Receive(chunks[0])
	if err != nil {
		t.Fatalf("duplicate receive: %v", err)
	}
	if res.Stored {
		t.Fatalf("duplicate receive must not report stored")
	}
	if res.ReceivedCount != 1 {
		t.Fatalf("duplicate chunk double counted: %d", res.ReceivedCount)
	}
	if res.Complete {
		t.Fatalf("upload cannot be complete with one distinct chunk of three")
	}
}

func TestChunkStoreConcurrentDuplicatesStoreOnce(t *testing.T) {
	store, _ := newTestChunkStore(t)
	chunks, err := Split("up-race", []byte("aaaabbbbcc"), 4)
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	const resends = 32
	stored := make(chan bool, resends)
	var wg sync.WaitGroup
	for i := 0; i < resends; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Receive(chunks[0])
			if err != nil {
				t.Errorf("receive: %v", err)
				return
			}
			stored <- res.Stored
		}()
	}
	wg.Wait()
	close(stored)

	wins := 0
	for s := range stored {
		if s {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one resend to report stored, got %d", wins)
	}
}

func TestChunkStoreRejectsMalformedChunks(t *testing.T) {
	store, _ := newTestChunkStore(t)
	cases := []Chunk{
		{UploadID: "", Index: 0, TotalChunks: 2, Payload: []byte("x")},
		{UploadID: "u", Index: -1, TotalChunks: 2, Payload: []byte("x")},
		{UploadID: "u", Index: 2, TotalChunks: 2, Payload: []byte("x")},
		{UploadID: "u", Index: 0, TotalChunks: 0, Payload: []byte("x")},
	}
	for i, c := range cases {
		if _, err := store.Receive(c); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}

	if _, err := store.Receive(Chunk{UploadID: "u2", Index: 0, TotalChunks: 3, Payload: []byte("x")}); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if _, err := store.Receive(Chunk{UploadID: "u2", Index: 1, TotalChunks: 4, Payload: []byte("x")}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected total-chunks mismatch to be invalid input, got %v", err)
	}
}

func TestChunkStoreTakeIncomplete(t *testing.T) {
	store, _ := newTestChunkStore(t)
	if _, err := store.Receive(Chunk{UploadID: "u3", Index: 0, TotalChunks: 2, Payload: []byte("x")}); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if _, _, err := store.TakeCompleted("u3"); !errors.Is(err, ErrIncompleteUpload) {
		t.Fatalf("expected incomplete upload, got %v", err)
	}
	// The entry survives a rejected take.
	st, err := store.Status("u3")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.ReceivedCount != 1 || st.TotalChunks != 2 {
		t.Fatalf("unexpected status: %#v", st)
	}
}

func TestChunkStoreSweepExpiresStaleUploads(t *testing.T) {
	store, now := newTestChunkStore(t)
	if _, err := store.Receive(Chunk{UploadID: "stale", Index: 0, TotalChunks: 2, Payload: []byte("x")}); err != nil {
		t.Fatalf("receive: %v", err)
	}

	*now = now.Add(2 * time.Minute)
	if expired := store.Sweep(); expired != 1 {
		t.Fatalf("expected 1 expired upload, got %d", expired)
	}

	if _, err := store.Status("stale"); !errors.Is(err, ErrUploadExpired) {
		t.Fatalf("expected upload expired, got %v", err)
	}
	if _, _, err := store.TakeCompleted("stale"); !errors.Is(err, ErrUploadExpired) {
		t.Fatalf("expected upload expired on take, got %v", err)
	}
	if _, err := store.Receive(Chunk{UploadID: "stale", Index: 1, TotalChunks: 2, Payload: []byte("x")}); !errors.Is(err, ErrUploadExpired) {
		t.Fatalf("expected upload expired on receive, got %v", err)
	}

	// Tombstones decay too.
	*now = now.Add(2 * time.Minute)
	store.Sweep()
	if _, err := store.Status("stale"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after tombstone decay, got %v", err)
	}
}

func TestChunkStoreStatusUnknown(t *testing.T) {
	store, _ := newTestChunkStore(t)
	if _, err := store.Status("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

package pipeline

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestSplitReassembleRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("x"),
		[]byte("hello world"),
		bytes.Repeat([]byte("abcdefgh"), 1000),
	}
	sizes := []int{1, 3, 7, 64, 8192}

	for _, payload := range payloads {
		for _, size := range sizes {
			chunks, err := Split("up-1", payload, size)
			if err != nil {
				t.Fatalf("split size=%d: %v", size, err)
			}
			want := (len(payload) + size - 1) / size
			if len(chunks) != want {
				t.Fatalf("expected %d chunks, got %d", want, len(chunks))
			}
			parts := make(map[int][]byte, len(chunks))
			for _, c := range chunks {
				if c.TotalChunks != want {
					t.Fatalf("chunk %d declares total %d, want %d", c.Index, c.TotalChunks, want)
				}
				parts[c.Index] = c.Payload
			}
			got, err := Reassemble(parts, want)
			if err != nil {
				t.Fatalf("reassemble: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("round trip mismatch at size %d", size)
			}
		}
	}
}

func TestSplitRejectsBadInput(t *testing.T) {
	if _, err := Split("up-1", []byte("data"), 0); err == nil {
		t.Fatalf("expected error for zero chunk size")
	}
	if _, err := Split("up-1", []byte("data"), -5); err == nil {
		t.Fatalf("expected error for negative chunk size")
	}
	if _, err := Split("up-1", nil, 10); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestReassembleArrivalOrderIrrelevant(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 321)
	chunks, err := Split("up-2", payload, 100)
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 10; trial++ {
		order := rng.Perm(len(chunks))
		parts := make(map[int][]byte, len(chunks))
		for _, i := range order {
			parts[chunks[i].Index] = chunks[i].Payload
		}
		got, err := Reassemble(parts, len(chunks))
		if err != nil {
			t.Fatalf("reassemble trial %d: %v", trial, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("payload mismatch on trial %d", trial)
		}
	}
}

func TestReassembleMissingChunk(t *testing.T) {
	chunks, err := Split("up-3", bytes.Repeat([]byte("z"), 50), 10)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	parts := make(map[int][]byte)
	for _, c := range chunks {
		if c.Index == 2 {
			continue
		}
		parts[c.Index] = c.Payload
	}
	if _, err := Reassemble(parts, len(chunks)); !errors.Is(err, ErrIncompleteUpload) {
		t.Fatalf("expected incomplete upload, got %v", err)
	}
}

func TestReassembleBadTotal(t *testing.T) {
	if _, err := Reassemble(map[int][]byte{0: []byte("a")}, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

package pipeline

import (
	"context"
	"testing"
	"time"
)

func TestWatchdogTick(t *testing.T) {
	clock := time.Now()
	now := func() time.Time { return clock }

	reg := NewRegistry(DefaultReceiveShare, time.Minute, nil, nil)
	reg.now = now
	chunks := NewChunkStore(time.Minute, time.Minute, nil)
	chunks.now = now

	job, err := reg.Create(0, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := reg.BeginProcessing(job.ID); err != nil {
		t.Fatalf("begin processing: %v", err)
	}
	if _, err := chunks.Receive(Chunk{UploadID: "u-1", Index: 0, TotalChunks: 2, Payload: []byte("x")}); err != nil {
		t.Fatalf("receive: %v", err)
	}

	w := NewWatchdog(reg, chunks, time.Second, 30*time.Second)

	// Nothing stale yet.
	w.tick()
	if got, err := reg.Get(job.ID); err != nil || got.Status != JobStatusProcessing {
		t.Fatalf("job should still be processing: %v %v", got.Status, err)
	}

	clock = clock.Add(2 * time.Minute)
	w.tick()

	got, err := reg.Get(job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != JobStatusError {
		t.Fatalf("expected watchdog to force ERROR, got %s", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatalf("expected timeout message on job")
	}
	if chunks.PendingCount() != 0 {
		t.Fatalf("expected stale upload swept")
	}
}

func TestWatchdogStartStops(t *testing.T) {
	w := NewWatchdog(NewRegistry(DefaultReceiveShare, time.Minute, nil, nil), nil, time.Millisecond, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("watchdog did not stop on cancel")
	}
}

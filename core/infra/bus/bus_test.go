package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/geoscope/geoscope/core/pipeline"
)

func TestLocalPublishSubscribe(t *testing.T) {
	b := NewLocal()
	sub, err := b.Subscribe(pipeline.EventSubject("job-1"), 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	evt := pipeline.JobEvent{JobID: "job-1", Status: pipeline.JobStatusProcessing, Progress: 60}
	if err := b.Publish(pipeline.EventSubject("job-1"), evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-sub.C:
		if got.JobID != "job-1" || got.Progress != 60 {
			t.Fatalf("unexpected event: %#v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestLocalSubjectIsolation(t *testing.T) {
	b := NewLocal()
	sub, err := b.Subscribe(pipeline.EventSubject("job-a"), 1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	if err := b.Publish(pipeline.EventSubject("job-b"), pipeline.JobEvent{JobID: "job-b"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-sub.C:
		t.Fatalf("event leaked across subjects: %#v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalWildcard(t *testing.T) {
	b := NewLocal()
	sub, err := b.Subscribe("job.events.>", 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	if err := b.Publish(pipeline.EventSubject("anything"), pipeline.JobEvent{JobID: "anything"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-sub.C:
		if got.JobID != "anything" {
			t.Fatalf("unexpected event: %#v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("wildcard subscription missed event")
	}
}

func TestLocalSlowSubscriberDropsNotBlocks(t *testing.T) {
	b := NewLocal()
	sub, err := b.Subscribe("job.events.slow", 1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = b.Publish("job.events.slow", pipeline.JobEvent{Progress: float64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publisher blocked on slow subscriber")
	}
}

func TestEventGateDeliverRacesClose(t *testing.T) {
	gate := newEventGate(4)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				gate.deliver(pipeline.JobEvent{Progress: float64(n)})
			}
		}(i)
	}
	time.Sleep(time.Millisecond)
	gate.close()
	gate.close()
	wg.Wait()

	for range gate.ch {
	}
}

func TestEventGateDropsWhenFull(t *testing.T) {
	gate := newEventGate(1)
	gate.deliver(pipeline.JobEvent{Progress: 1})
	gate.deliver(pipeline.JobEvent{Progress: 2})
	gate.close()

	got := 0
	for range gate.ch {
		got++
	}
	if got != 1 {
		t.Fatalf("expected full gate to drop, got %d events", got)
	}
}

func TestLocalCancelIdempotent(t *testing.T) {
	b := NewLocal()
	sub, err := b.Subscribe("job.events.x", 1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub.Cancel()
	sub.Cancel()
	if err := b.Publish("job.events.x", pipeline.JobEvent{}); err != nil {
		t.Fatalf("publish after cancel: %v", err)
	}
}

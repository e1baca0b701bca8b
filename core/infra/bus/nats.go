package bus

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/geoscope/geoscope/core/pipeline"
)

// NatsBus publishes job events over NATS so multiple gateway instances
// can share one event stream. Events are JSON-encoded pipeline.JobEvents.
type NatsBus struct {
	nc *nats.Conn
}

// NewNatsBus dials NATS at the provided URL.
func NewNatsBus(url string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("geoscope-bus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("[BUS] disconnected from NATS: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[BUS] reconnected to NATS at %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Printf("[BUS] connection closed")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBus{nc: nc}, nil
}

// Close shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b != nil && b.nc != nil {
		b.nc.Close()
	}
}

// Publish sends a JSON-encoded event on the given subject.
func (b *NatsBus) Publish(subject string, evt pipeline.JobEvent) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.nc.Publish(subject, data)
}

// Subscribe attaches a subscription that decodes events and feeds them to
// a channel with the same contract as the local bus.
func (b *NatsBus) Subscribe(subject string, buffer int) (*Subscription, error) {
	if b == nil || b.nc == nil {
		return nil, errNilBus
	}
	if subject == "" {
		return nil, errEmptyTopic
	}
	if buffer <= 0 {
		buffer = 16
	}
	gate := newEventGate(buffer)
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var evt pipeline.JobEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			log.Printf("[BUS] bad event payload on %s: %v", msg.Subject, err)
			return
		}
		gate.deliver(evt)
	})
	if err != nil {
		return nil, err
	}
	cancel := func() {
		_ = sub.Unsubscribe()
		gate.close()
	}
	return &Subscription{C: gate.ch, cancel: cancel}, nil
}

// eventGate guards the subscriber channel against handlers that are still
// in flight when the subscription is cancelled. Unsubscribe can return
// while an async handler is mid-dispatch, so deliver and close share one
// mutex, the same discipline Local applies to its subscriber set.
type eventGate struct {
	mu     sync.Mutex
	closed bool
	ch     chan pipeline.JobEvent
}

func newEventGate(buffer int) *eventGate {
	return &eventGate{ch: make(chan pipeline.JobEvent, buffer)}
}

func (g *eventGate) deliver(evt pipeline.JobEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	select {
	case g.ch <- evt:
	default:
	}
}

func (g *eventGate) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	close(g.ch)
}

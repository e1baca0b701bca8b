package bus

import (
	"errors"
	"strings"
	"sync"

	"github.com/geoscope/geoscope/core/pipeline"
)

var (
	errNilBus     = errors.New("bus not initialized")
	errEmptyTopic = errors.New("empty subject")
)

// Subscription receives events until cancelled.
type Subscription struct {
	C      <-chan pipeline.JobEvent
	cancel func()
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}

// Local is an in-process fanout bus. Publishes never block: a subscriber
// whose buffer is full misses the event, matching at-most-once bus
// semantics. Subjects match exactly, or by prefix when the subscription
// subject ends with ">".
type Local struct {
	mu   sync.Mutex
	subs map[*localSub]struct{}
}

type localSub struct {
	subject string
	ch      chan pipeline.JobEvent
}

// NewLocal constructs an empty in-process bus.
func NewLocal() *Local {
	return &Local{subs: make(map[*localSub]struct{})}
}

// Publish delivers the event to every matching subscriber.
func (b *Local) Publish(subject string, evt pipeline.JobEvent) error {
	if b == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if !subjectMatches(sub.subject, subject) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribe attaches a buffered subscription for the subject.
func (b *Local) Subscribe(subject string, buffer int) (*Subscription, error) {
	if b == nil {
		return nil, errNilBus
	}
	if subject == "" {
		return nil, errEmptyTopic
	}
	if buffer <= 0 {
		buffer = 16
	}
	sub := &localSub{subject: subject, ch: make(chan pipeline.JobEvent, buffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return &Subscription{C: sub.ch, cancel: cancel}, nil
}

func subjectMatches(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	if strings.HasSuffix(pattern, ">") {
		return strings.HasPrefix(subject, strings.TrimSuffix(pattern, ">"))
	}
	return false
}

package events

import (
	"sync"
	"time"
)

// State is the phase a run is in.
type State string

const (
	StateInit       State = "init"
	StateLoading    State = "loading_document"
	StateResuming   State = "resuming"
	StateProcessing State = "processing_chunk"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Event describes a progress update for a run.
type Event struct {
	RunID string `json:"run_id"`
	State State  `json:"state"`
	// Chunk is one-based; zero when the event is not about a chunk.
	Chunk   int       `json:"chunk,omitempty"`
	Total   int       `json:"total,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	Found   int       `json:"found,omitempty"`
	Added   int       `json:"added,omitempty"`
	Records int       `json:"records"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// Publisher receives run events.
type Publisher interface {
	Publish(evt Event)
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Broker manages SSE subscribers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroker constructs a broker instance.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe returns a channel that receives events.
func (b *Broker) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel from the broker.
func (b *Broker) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// Publish fan-outs the event to all subscribers.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	for ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			// drop if subscriber is slow
		}
	}
	b.mu.RUnlock()
}

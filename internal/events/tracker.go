package events

import (
	"sync"
	"time"
)

// Status is the aggregated view of a run served by the status endpoint.
type Status struct {
	RunID     string    `json:"run_id"`
	State     State     `json:"state"`
	Total     int       `json:"total_chunks"`
	Current   int       `json:"current_chunk"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Records   int       `json:"records"`
	LastError string    `json:"last_error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker folds events into a Status and forwards them to an optional broker.
type Tracker struct {
	mu     sync.RWMutex
	status Status
	next   Publisher
}

// NewTracker returns a tracker forwarding to next, which may be nil.
func NewTracker(next Publisher) *Tracker {
	return &Tracker{next: next, status: Status{State: StateInit}}
}

// Publish records evt and passes it on.
func (t *Tracker) Publish(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}

	t.mu.Lock()
	s := &t.status
	if evt.RunID != "" && evt.RunID != s.RunID {
		*s = Status{RunID: evt.RunID, StartedAt: evt.Time}
	}
	s.State = evt.State
	s.UpdatedAt = evt.Time
	if evt.Total > 0 {
		s.Total = evt.Total
	}
	if evt.Chunk > 0 {
		s.Current = evt.Chunk
	}
	switch evt.Outcome {
	case "processed":
		s.Processed++
	case "failed":
		s.Failed++
	case "skipped":
		s.Skipped++
	}
	s.Records = evt.Records
	if evt.Error != "" {
		s.LastError = evt.Error
	}
	t.mu.Unlock()

	if t.next != nil {
		t.next.Publish(evt)
	}
}

// Snapshot returns a copy of the current status.
func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

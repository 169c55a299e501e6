package tests

import (
	"sync"
	"sync/atomic"

	"github.com/code-payments/premium-server/event"
)

// Recorder is a listener that records every notification as an event. It
// also detects overlapping notifications.
type Recorder struct {
	*event.Emitter

	inFlight   atomic.Int32
	overlapped atomic.Bool

	mu     sync.Mutex
	events []*event.Event
}

func NewRecorder() *Recorder {
	r := &Recorder{}
	r.Emitter = event.NewEmitter("recorder", event.HandlerFunc[string, *event.Event](r.record))
	return r
}

func (r *Recorder) record(_ string, e *event.Event) {
	if r.inFlight.Add(1) > 1 {
		r.overlapped.Store(true)
	}
	defer r.inFlight.Add(-1)

	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]*event.Event, len(r.events))
	copy(events, r.events)
	return events
}

func (r *Recorder) Kinds() []event.Kind {
	var kinds []event.Kind
	for _, e := range r.Events() {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func (r *Recorder) Last() *event.Event {
	events := r.Events()
	if len(events) == 0 {
		return nil
	}
	return events[len(events)-1]
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Overlapped reports whether two notifications were ever delivered at the
// same time.
func (r *Recorder) Overlapped() bool {
	return r.overlapped.Load()
}

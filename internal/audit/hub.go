package audit

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"marketmaker/internal/bus"
)

const (
	defaultBufferLimit = 1024
	defaultQueueSize   = 256
)

// Sink persists or forwards important events. Sinks run on the hub
// goroutine and never reach back into engine state.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
	Close() error
}

// Hub collects important events. Record appends to a buffer the observer
// drains and forwards a copy to every sink asynchronously.
type Hub struct {
	mu     sync.Mutex
	buffer []Event
	limit  int

	queue *bus.Queue[Event]
	sinks []Sink
	now   func() time.Time
}

// NewHub creates a hub. limit bounds the undrained buffer; the oldest events
// are discarded past it.
func NewHub(limit int, sinks ...Sink) *Hub {
	if limit <= 0 {
		limit = defaultBufferLimit
	}

	return &Hub{
		limit: limit,
		queue: bus.NewQueue[Event](defaultQueueSize),
		sinks: sinks,
		now:   time.Now,
	}
}

// Record stores an event. It never blocks.
func (h *Hub) Record(kind Kind, details string) {
	ev := Event{Time: h.now(), Kind: kind, Details: details}

	h.mu.Lock()
	h.buffer = append(h.buffer, ev)
	if over := len(h.buffer) - h.limit; over > 0 {
		h.buffer = append(h.buffer[:0], h.buffer[over:]...)
	}
	h.mu.Unlock()

	if len(h.sinks) == 0 {
		return
	}

	if err := h.queue.TryPublish(ev); err != nil {
		logs.Warnf("audit queue rejected %s event, err: %+v", kind, err)
	}
}

// Drain returns and clears the buffered events.
func (h *Hub) Drain() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.buffer) == 0 {
		return nil
	}

	out := h.buffer
	h.buffer = nil
	return out
}

// Run dispatches events to the sinks until ctx is done or the hub is closed.
func (h *Hub) Run(ctx context.Context) {
	h.queue.Run(ctx, func(ev Event) {
		for _, s := range h.sinks {
			if err := s.Handle(ctx, ev); err != nil {
				logs.Errorf("audit sink %s failed, err: %+v", s.Name(), err)
			}
		}
	})
}

// Close stops accepting events and closes every sink.
func (h *Hub) Close() {
	h.queue.Close()
	for _, s := range h.sinks {
		if err := s.Close(); err != nil {
			logs.Errorf("close audit sink %s, err: %+v", s.Name(), err)
		}
	}
}

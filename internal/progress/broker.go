// Package progress fans reconstruction progress events out to connected
// browsers.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State describes what an event reports.
type State string

const (
	StateStarted  State = "started"
	StateFinished State = "finished"
	StateFailed   State = "failed"
	StateLog      State = "log"
	StateDone     State = "done"
)

// Event is one progress update.
type Event struct {
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage,omitempty"`
	Label      string    `json:"label,omitempty"`
	Step       int       `json:"step,omitempty"`
	Steps      int       `json:"steps,omitempty"`
	State      State     `json:"state"`
	Message    string    `json:"message,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Time       time.Time `json:"time"`
}

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// DefaultHistory is how many recent stage events, and separately how many
// recent log lines, are kept for replay.
const DefaultHistory = 200

// Broker distributes events to subscribers. Slow subscribers miss events
// rather than block the publisher.
type Broker struct {
	mu          sync.Mutex
	subscribers map[string]chan Event
	seq         uint64
	stages      []recorded
	logs        []recorded
	maxHistory  int
	buffer      int
	closed      bool
}

type recorded struct {
	seq uint64
	Event
}

// NewBroker creates a broker with the default buffer and history sizes.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string]chan Event),
		maxHistory:  DefaultHistory,
		buffer:      DefaultBuffer,
	}
}

// Subscribe registers a new subscriber. The returned channel is closed by
// Unsubscribe or Close.
func (b *Broker) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Publish sends e to every subscriber and records it in the history.
func (b *Broker) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.seq++
	if e.State == StateLog {
		b.logs = b.record(b.logs, e)
	} else {
		b.stages = b.record(b.stages, e)
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			// skip full subscribers so as not to block the pipeline
		}
	}
}

func (b *Broker) record(ring []recorded, e Event) []recorded {
	ring = append(ring, recorded{seq: b.seq, Event: e})
	if len(ring) > b.maxHistory {
		ring = ring[len(ring)-b.maxHistory:]
	}
	return ring
}

// Recent returns the recorded events for runID in publish order, or all of
// them when runID is empty. Log lines never push stage events out.
func (b *Broker) Recent(runID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, 0, len(b.stages)+len(b.logs))
	i, j := 0, 0
	for i < len(b.stages) || j < len(b.logs) {
		var r recorded
		if j == len(b.logs) || (i < len(b.stages) && b.stages[i].seq < b.logs[j].seq) {
			r, i = b.stages[i], i+1
		} else {
			r, j = b.logs[j], j+1
		}
		if runID == "" || r.RunID == runID {
			out = append(out, r.Event)
		}
	}
	return out
}

// Subscribers returns the number of live subscribers.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

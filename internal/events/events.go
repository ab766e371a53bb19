// Package events fans job lifecycle events out to in-process subscribers such
// as the websocket stream and push notifications.
package events

import (
	"sync"
	"time"
)

// Type classifies an event.
type Type string

const (
	JobCreated        Type = "job_created"
	StateChanged      Type = "state_changed"
	ApprovalRequested Type = "approval_requested"
	MetadataEdited    Type = "metadata_edited"
	JobPublished      Type = "job_published"
	JobFailed         Type = "job_failed"
	JobRejected       Type = "job_rejected"
)

// Event is one job lifecycle change.
type Event struct {
	Sequence  uint64    `json:"seq"`
	Type      Type      `json:"type"`
	JobID     string    `json:"job_id"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Publisher accepts events. A nil *Bus is a valid no-op publisher.
type Publisher interface {
	Publish(evt Event)
}

const subscriberBuffer = 64

// Bus keeps a short history and delivers each event to every subscriber.
// Slow subscribers lose events rather than blocking publishers.
type Bus struct {
	mu       sync.Mutex
	capacity int
	history  []Event
	nextSeq  uint64
	subs     map[int]chan Event
	nextSub  int
}

// NewBus returns a bus retaining the last capacity events.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	return &Bus{capacity: capacity, subs: make(map[int]chan Event)}
}

// Publish stamps and distributes evt.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSeq++
	evt.Sequence = b.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if len(b.history) == b.capacity {
		copy(b.history, b.history[1:])
		b.history = b.history[:b.capacity-1]
	}
	b.history = append(b.history, evt)
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe registers a subscriber. The returned cancel function closes the
// channel and must be called once the subscriber is done.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	if b == nil {
		close(ch)
		return ch, func() {}
	}
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Since returns retained events with a sequence greater than since.
func (b *Bus) Since(since uint64) []Event {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, 0, len(b.history))
	for _, evt := range b.history {
		if evt.Sequence > since {
			out = append(out, evt)
		}
	}
	return out
}

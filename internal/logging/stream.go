package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogEvent represents a structured log line published to the streaming hub.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     time.Time         `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	Stage         string            `json:"stage,omitempty"`
	JobID         string            `json:"job_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// LogQuery selects events from a StreamHub.
type LogQuery struct {
	// Since is the last sequence the caller has seen.
	Since uint64
	Limit int
	// JobPrefix keeps only events whose job id starts with it, so short ids
	// from the CLI match.
	JobPrefix string
	// Wait blocks until a matching event arrives or the context ends.
	Wait bool
}

func (q LogQuery) matches(evt LogEvent) bool {
	return evt.Sequence > q.Since && (q.JobPrefix == "" || strings.HasPrefix(evt.JobID, q.JobPrefix))
}

// StreamHub keeps the most recent log events in a ring so the API can serve
// tails and long-poll follows without touching log files.
type StreamHub struct {
	mu      sync.Mutex
	ring    []LogEvent
	start   int
	count   int
	nextSeq uint64
	// changed is closed and replaced on every publish.
	changed chan struct{}
}

// NewStreamHub constructs a hub holding at most capacity events.
func NewStreamHub(capacity int) *StreamHub {
	if capacity <= 0 {
		capacity = 512
	}
	return &StreamHub{ring: make([]LogEvent, capacity), changed: make(chan struct{})}
}

// Publish stamps evt with the next sequence and stores it, evicting the
// oldest event when the ring is full.
func (h *StreamHub) Publish(evt LogEvent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if h.count < len(h.ring) {
		h.ring[(h.start+h.count)%len(h.ring)] = evt
		h.count++
	} else {
		h.ring[h.start] = evt
		h.start = (h.start + 1) % len(h.ring)
	}
	close(h.changed)
	h.changed = make(chan struct{})
	h.mu.Unlock()
}

// Fetch returns up to q.Limit matching events in sequence order together with
// the hub's latest sequence, which callers pass back as the next Since.
func (h *StreamHub) Fetch(ctx context.Context, q LogQuery) ([]LogEvent, uint64, error) {
	if h == nil {
		return nil, q.Since, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		h.mu.Lock()
		events := h.collectLocked(q)
		next, changed := h.nextSeq, h.changed
		h.mu.Unlock()
		if len(events) > 0 || !q.Wait {
			return events, next, ctx.Err()
		}
		select {
		case <-ctx.Done():
			return nil, next, ctx.Err()
		case <-changed:
		}
	}
}

// Tail returns the newest limit events matching jobPrefix without blocking.
func (h *StreamHub) Tail(limit int, jobPrefix string) ([]LogEvent, uint64) {
	if h == nil {
		return nil, 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > h.count {
		limit = h.count
	}
	q := LogQuery{JobPrefix: jobPrefix}
	out := make([]LogEvent, 0, limit)
	for i := h.count - 1; i >= 0 && len(out) < limit; i-- {
		if evt := h.at(i); q.matches(evt) {
			out = append(out, evt)
		}
	}
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out, h.nextSeq
}

func (h *StreamHub) at(i int) LogEvent {
	return h.ring[(h.start+i)%len(h.ring)]
}

func (h *StreamHub) collectLocked(q LogQuery) []LogEvent {
	limit := q.Limit
	if limit <= 0 || limit > len(h.ring) {
		limit = len(h.ring)
	}
	var out []LogEvent
	for i := 0; i < h.count && len(out) < limit; i++ {
		if evt := h.at(i); q.matches(evt) {
			out = append(out, evt)
		}
	}
	return out
}

// streamHandler mirrors every record into the hub before passing it on.
type streamHandler struct {
	next   slog.Handler
	hub    *StreamHub
	attrs  []slog.Attr
	prefix string
}

func newStreamHandler(next slog.Handler, hub *StreamHub) slog.Handler {
	if hub == nil || next == nil {
		return next
	}
	return &streamHandler{next: next, hub: hub}
}

func (h *streamHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *streamHandler) Handle(ctx context.Context, record slog.Record) error {
	evt := LogEvent{
		Timestamp: record.Time,
		Level:     strings.ToUpper(record.Level.String()),
		Message:   strings.TrimSpace(record.Message),
	}
	for _, attr := range h.attrs {
		evt.apply("", attr)
	}
	// Call-site attrs override logger attrs.
	record.Attrs(func(attr slog.Attr) bool {
		evt.apply(h.prefix, attr)
		return true
	})
	h.hub.Publish(evt)
	return h.next.Handle(ctx, record.Clone())
}

func (h *streamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, attr := range attrs {
		if h.prefix != "" {
			attr.Key = h.prefix + attr.Key
		}
		merged = append(merged, attr)
	}
	return &streamHandler{next: h.next.WithAttrs(attrs), hub: h.hub, attrs: merged, prefix: h.prefix}
}

func (h *streamHandler) WithGroup(name string) slog.Handler {
	prefix := h.prefix
	if name != "" {
		prefix += name + "."
	}
	return &streamHandler{next: h.next.WithGroup(name), hub: h.hub, attrs: h.attrs, prefix: prefix}
}

// apply routes the well-known keys to their own fields; everything else is
// flattened into Fields with group names joined by dots.
func (e *LogEvent) apply(prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	key := strings.TrimSpace(attr.Key)
	if attr.Value.Kind() == slog.KindGroup {
		if key != "" {
			prefix += key + "."
		}
		for _, child := range attr.Value.Group() {
			e.apply(prefix, child)
		}
		return
	}
	if key == "" {
		return
	}
	value := attrString(attr.Value)
	switch prefix + key {
	case FieldJobID:
		e.JobID = value
	case FieldStage:
		e.Stage = value
	case FieldCorrelationID:
		e.CorrelationID = value
	case FieldComponent:
		e.Component = value
	default:
		if e.Fields == nil {
			e.Fields = make(map[string]string)
		}
		e.Fields[prefix+key] = value
	}
}

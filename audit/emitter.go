package audit

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Emitter receives committed events.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans each event out to every wrapped emitter in order.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(e Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(e)
		}
	}
}

// Buffer holds the events of one in-flight invocation. The owner flushes it
// after the invocation commits and drops it otherwise, so a reverted
// invocation never reaches a downstream emitter.
type Buffer struct {
	events []Event
}

func (b *Buffer) Emit(e Event) {
	b.events = append(b.events, e)
}

// Events returns the buffered events in emission order.
func (b *Buffer) Events() []Event {
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

func (b *Buffer) Len() int {
	return len(b.events)
}

// Flush forwards every buffered event to dst and empties the buffer.
func (b *Buffer) Flush(dst Emitter) {
	events := b.events
	b.events = nil
	if dst == nil {
		return
	}
	for _, e := range events {
		dst.Emit(e)
	}
}

// Reset drops every buffered event.
func (b *Buffer) Reset() {
	b.events = nil
}

// LogEmitter writes each event as a structured log line.
type LogEmitter struct {
	logger *zap.Logger
}

func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (l *LogEmitter) Emit(e Event) {
	attrs := e.Attributes()
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys)+1)
	fields = append(fields, zap.String("type", e.EventType()))
	for _, k := range keys {
		fields = append(fields, zap.String(k, attrs[k]))
	}
	l.logger.Info("Audit event", fields...)
}

// Recorder keeps every emitted event in memory. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

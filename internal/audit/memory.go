package audit

import (
	"context"
	"sync"
)

// Event is one recorded audit entry.
type Event struct {
	Kind    string
	Payload map[string]any
}

// Memory records events in order. Intended for tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Emit implements Sink.
func (m *Memory) Emit(_ context.Context, kind string, payload map[string]any) {
	cp := make(map[string]any, len(payload))
	for k, v := range payload {
		cp[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{Kind: kind, Payload: cp})
}

// Events returns a snapshot of recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Kinds returns just the event kinds, in emission order.
func (m *Memory) Kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Kind)
	}
	return out
}

package events

import (
	"context"
	"sync"
)

// InMemorySink records events for tests and single-process deployments.
type InMemorySink struct {
	mu     sync.RWMutex
	events []Event
}

func NewInMemorySink() *InMemorySink {
	return &InMemorySink{}
}

func (s *InMemorySink) Publish(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// All returns every published event in publication order.
func (s *InMemorySink) All() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events...)
}

// ByType filters published events by type, preserving order.
func (s *InMemorySink) ByType(t Type) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (s *InMemorySink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

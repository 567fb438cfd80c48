// Package memory provides in-memory adapter implementations, used in tests
// and when no external sink is configured.
package memory

import (
	"context"
	"sync"

	"github.com/beaconops/oracle-updater/internal/ports/outbound"
)

// Compile-time check that EventSink implements outbound.EventSink
var _ outbound.EventSink = (*EventSink)(nil)

// EventSink stores published checkpoint events in memory.
type EventSink struct {
	mu     sync.Mutex
	events []outbound.CheckpointEvent
}

func NewEventSink() *EventSink {
	return &EventSink{}
}

func (s *EventSink) Publish(ctx context.Context, event outbound.CheckpointEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of all published events.
func (s *EventSink) Events() []outbound.CheckpointEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbound.CheckpointEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *EventSink) Close() error {
	return nil
}

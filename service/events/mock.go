package events

import (
	"context"
	"sync"

	"github.com/Web3Novalabs/Nixo/service/transfer"
)

// MockPublisher records published events for tests.
type MockPublisher struct {
	mu     sync.RWMutex
	events []*transfer.Event
	err    error
	closed bool
}

// NewMockPublisher creates an empty mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// SetPublishError makes subsequent publishes fail with err.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// PublishTransferEvent records the event and returns any configured error.
func (m *MockPublisher) PublishTransferEvent(_ context.Context, event *transfer.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	copied := *event
	m.events = append(m.events, &copied)
	return nil
}

// Events returns all recorded events.
func (m *MockPublisher) Events() []*transfer.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*transfer.Event, len(m.events))
	copy(out, m.events)
	return out
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *MockPublisher) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

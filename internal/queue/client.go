package queue

import (
	"context"
	"sync"
)

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// MemoryClient records messages in memory.
type MemoryClient struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

// NewMemoryClient returns an empty in-memory queue. A non-nil err is returned from every Send.
func NewMemoryClient(err error) *MemoryClient {
	return &MemoryClient{err: err}
}

// Send records msg.
func (m *MemoryClient) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns a copy of the recorded messages.
func (m *MemoryClient) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

var _ Client = (*MemoryClient)(nil)

// Package memory keeps published frontier messages in process, for local
// runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// DefaultCapacity bounds the retained messages when none is given.
const DefaultCapacity = 10000

// Publisher retains the most recent published payloads.
type Publisher struct {
	mu       sync.RWMutex
	capacity int
	total    int
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// New returns a memory Publisher holding up to DefaultCapacity messages.
func New() *Publisher {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity returns a Publisher that drops the oldest message once
// capacity is exceeded.
func NewWithCapacity(capacity int) *Publisher {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Publisher{capacity: capacity}
}

// Publish records the message and returns a sequential pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total++
	id := fmt.Sprintf("memory-%d", p.total)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	if over := len(p.messages) - p.capacity; over > 0 {
		p.messages = append(p.messages[:0:0], p.messages[over:]...)
	}
	return id, nil
}

// Messages returns the retained messages, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Total reports how many messages were ever published.
func (p *Publisher) Total() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.total
}

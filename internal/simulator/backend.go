package simulator

import (
	"context"
	"sync"
)

// DeliverFunc receives a message for a subscribed topic.
type DeliverFunc func(topic, message string)

// Backend is the cloud broker behind the emulated module.
type Backend interface {
	// Connect opens a broker session for one module.
	Connect(ctx context.Context, host string, port int, user, key string) (Session, error)
}

// Session is one module's broker session.
type Session interface {
	Subscribe(topic string, deliver DeliverFunc) error
	Publish(topic, message string) error
	Close() error
}

// Message is a publish seen by MemoryBackend.
type Message struct {
	Topic   string
	Message string
}

// MemoryBackend is an in-process broker.
//
// Publishes fan out to every session subscribed to the exact topic,
// including the publisher's own session, as Adafruit IO does.
type MemoryBackend struct {
	mu        sync.Mutex
	accounts  map[string]string
	sessions  map[*memorySession]struct{}
	published []Message
}

// NewMemoryBackend creates a backend that accepts any account until
// AddAccount is called.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		accounts: make(map[string]string),
		sessions: make(map[*memorySession]struct{}),
	}
}

// AddAccount restricts Connect to known user/key pairs.
func (b *MemoryBackend) AddAccount(user, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[user] = key
}

// Connect implements Backend.
func (b *MemoryBackend) Connect(_ context.Context, _ string, _ int, user, key string) (Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.accounts) > 0 {
		if want, ok := b.accounts[user]; !ok || want != key {
			return nil, ErrAuthRejected
		}
	}

	s := &memorySession{backend: b, subs: make(map[string]DeliverFunc)}
	b.sessions[s] = struct{}{}
	return s, nil
}

// Inject publishes a message as if another client had sent it.
// Returns the number of sessions it was delivered to.
func (b *MemoryBackend) Inject(topic, message string) int {
	return b.publish(topic, message, false)
}

// Published returns every publish made by module sessions.
func (b *MemoryBackend) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.published...)
}

// Sessions returns the number of open sessions.
func (b *MemoryBackend) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

func (b *MemoryBackend) publish(topic, message string, record bool) int {
	b.mu.Lock()
	if record {
		b.published = append(b.published, Message{Topic: topic, Message: message})
	}
	var targets []DeliverFunc
	for s := range b.sessions {
		if fn := s.handler(topic); fn != nil {
			targets = append(targets, fn)
		}
	}
	b.mu.Unlock()

	// Deliver outside the lock; handlers write to the serial side.
	for _, fn := range targets {
		fn(topic, message)
	}
	return len(targets)
}

func (b *MemoryBackend) remove(s *memorySession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, s)
}

type memorySession struct {
	backend *MemoryBackend

	mu     sync.Mutex
	subs   map[string]DeliverFunc
	closed bool
}

func (s *memorySession) handler(topic string) DeliverFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.subs[topic]
}

func (s *memorySession) Subscribe(topic string, deliver DeliverFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.subs[topic] = deliver
	return nil
}

func (s *memorySession) Publish(topic, message string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	s.backend.publish(topic, message, true)
	return nil
}

func (s *memorySession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.backend.remove(s)
	return nil
}

package obloq

import (
	"strings"
	"sync"
)

// Handler receives the text of one payload line for a subscribed feed.
//
// Handlers run on the connection's receive goroutine, one at a time and in
// arrival order. They may call IsConnected and Publish but should not block
// for long: the next line is not read until the handler returns.
type Handler func(payload string)

// Dispatcher routes payload lines to feed handlers.
//
// The module reports inbound messages in two shapes:
//   - topic-tagged frames (|4|1|5|{topic}|{message}|), routed by exact topic
//   - bare lines carrying only the message text, routed to the feed that
//     was subscribed most recently
//
// Bare lines carry no topic, so with several feeds subscribed only the most
// recent one receives them. This is a limitation of the reply stream, not
// something the dispatcher can recover.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	last     string
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register associates a handler with a topic and makes the topic the target
// for bare payload lines. A later registration for the same topic replaces
// the earlier handler.
func (d *Dispatcher) Register(topic string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[topic] = handler
	d.last = topic
}

// Route picks the handler for a payload line.
//
// Returns:
//   - Handler: The handler to invoke (nil when ok is false)
//   - string: The topic the payload was attributed to
//   - bool: false for empty payloads and payloads with no matching handler
func (d *Dispatcher) Route(line Line) (Handler, string, bool) {
	if line.Kind != KindPayload || strings.TrimSpace(line.Text) == "" {
		return nil, "", false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	topic := line.Topic
	if topic == "" {
		topic = d.last
	}
	if topic == "" {
		return nil, "", false
	}

	handler, ok := d.handlers[topic]
	if !ok || handler == nil {
		return nil, topic, false
	}
	return handler, topic, true
}

// Topics returns the topics with a registered handler.
func (d *Dispatcher) Topics() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.handlers))
	for topic := range d.handlers {
		out = append(out, topic)
	}
	return out
}

// ActiveTopic returns the topic that bare payload lines are routed to.
func (d *Dispatcher) ActiveTopic() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}

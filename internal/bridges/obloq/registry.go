package obloq

// MaxSubscriptions is the number of topics the module firmware can hold.
const MaxSubscriptions = 5

// Registry is the ordered, deduplicated set of subscribed topics that is
// replayed after every reconnect.
//
// Registry stores topic strings rather than feed names, so a later change
// of broker user does not rewrite existing entries. There is no removal:
// the module protocol has no unsubscribe command.
//
// Registry is not safe for concurrent use on its own; Connection guards it
// with its state mutex.
type Registry struct {
	topics   []string
	capacity int
}

// NewRegistry creates an empty registry bounded at MaxSubscriptions.
func NewRegistry() *Registry {
	return &Registry{
		topics:   make([]string, 0, MaxSubscriptions),
		capacity: MaxSubscriptions,
	}
}

// Add appends a topic. It returns false without changing anything when the
// topic is already present or the registry is full.
func (r *Registry) Add(topic string) bool {
	if r.Contains(topic) {
		return false
	}
	if len(r.topics) >= r.capacity {
		return false
	}
	r.topics = append(r.topics, topic)
	return true
}

// Contains reports whether a topic is registered.
func (r *Registry) Contains(topic string) bool {
	for _, t := range r.topics {
		if t == topic {
			return true
		}
	}
	return false
}

// All returns the registered topics in insertion order.
// The returned slice is a copy.
func (r *Registry) All() []string {
	out := make([]string, len(r.topics))
	copy(out, r.topics)
	return out
}

// Len returns the number of registered topics.
func (r *Registry) Len() int {
	return len(r.topics)
}

// Full reports whether another distinct topic would be refused.
func (r *Registry) Full() bool {
	return len(r.topics) >= r.capacity
}

// Package registry maps queue names to the handlers that consume them.
// The worker builds one Registry at startup; the consumer subscribes every entry.
package registry

import (
	"sort"
	"sync"

	"vn.io.arda/greeting/internal/queue"
)

// Registry binds queue names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]queue.Handler
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]queue.Handler)}
}

// Register binds a handler to a queue.
// Panics on duplicate registration to catch config mistakes early.
func (r *Registry) Register(queueName string, h queue.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if queueName == "" {
		panic("registry: empty queue name")
	}
	if _, exists := r.handlers[queueName]; exists {
		panic("registry: duplicate handler registered for queue: " + queueName)
	}
	r.handlers[queueName] = h
}

// Handler returns the handler bound to queueName.
func (r *Registry) Handler(queueName string) (queue.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[queueName]
	return h, ok
}

// Queues lists the registered queue names in sorted order.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

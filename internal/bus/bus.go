package bus

import "sync"

// Bus is a simple in-process fan-out publisher: every subscriber receives
// every broadcast event, filtering being the subscriber's own concern (the
// gateway's per-client subscription filters by event name before forwarding
// over the socket).
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[string]EventHandler)}
}

func (b *Bus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Broadcast delivers event to every current subscriber synchronously. It
// takes a read lock only for the duration of the snapshot, not the
// delivery loop, so a handler that re-subscribes or unsubscribes during
// its own callback cannot deadlock the bus.
func (b *Bus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

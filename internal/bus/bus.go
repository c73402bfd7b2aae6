// Package bus routes engine events to connected WebSocket clients.
// Every event is addressed to exactly one client; there is no broadcast.
package bus

import (
	"sync"

	"github.com/terminuslabs/terminus/pkg/protocol"
)

// Handler consumes events for one client. Handlers are invoked in
// publish order; the gateway's handler enqueues onto the client's send
// channel, so per-client FIFO delivery is preserved end to end.
type Handler func(protocol.Event)

// Publisher abstracts addressed event delivery.
// Decouples the workflow engine from the concrete gateway transport.
type Publisher interface {
	Subscribe(id string, handler Handler)
	Unsubscribe(id string)
	Publish(id string, event protocol.Event) bool
}

// Bus is the in-process Publisher implementation.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[string]Handler)}
}

// Subscribe registers the handler for a client id, replacing any
// previous registration.
func (b *Bus) Subscribe(id string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

// Unsubscribe drops the handler for a client id. Safe to call for ids
// that were never subscribed.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Publish delivers the event to the client's handler, synchronously.
// Returns false when the client is gone; events for departed clients
// are dropped, not queued.
func (b *Bus) Publish(id string, event protocol.Event) bool {
	b.mu.RLock()
	handler, ok := b.handlers[id]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	handler(event)
	return true
}

package ami

import (
	"sync"

	"github.com/google/uuid"
	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/logging"
)

// EventHandler receives parsed event messages. Handlers run synchronously on
// the session read loop and must hand long work off to another goroutine.
type EventHandler func(msg *Message)

// Router fans parsed events out to subscribers in wire order. Responses are
// never routed here; the session hands those to the Correlator exclusively.
type Router struct {
	log *logging.Logger

	mu       sync.RWMutex
	order    []string
	handlers map[string]EventHandler
}

// NewRouter creates an empty Router.
func NewRouter(log *logging.Logger) *Router {
	return &Router{
		log:      log.Sub("router"),
		handlers: make(map[string]EventHandler),
	}
}

// Subscribe registers a handler and returns a token for Unsubscribe.
// Handlers are invoked in subscription order.
func (r *Router) Subscribe(h EventHandler) string {
	id := uuid.New().String()
	r.mu.Lock()
	r.handlers[id] = h
	r.order = append(r.order, id)
	r.mu.Unlock()
	return id
}

// Unsubscribe removes a previously registered handler.
func (r *Router) Unsubscribe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[id]; !ok {
		return
	}
	delete(r.handlers, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Dispatch delivers one event to every subscriber, synchronously and in
// subscription order. Duplicate events from the server are delivered as-is.
func (r *Router) Dispatch(msg *Message) {
	r.mu.RLock()
	handlers := make([]EventHandler, 0, len(r.order))
	for _, id := range r.order {
		handlers = append(handlers, r.handlers[id])
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}

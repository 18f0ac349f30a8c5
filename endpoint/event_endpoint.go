package endpoint

import (
	"log"
	"sync"
)

// EventEndpoint broadcasts event text to TCP subscribers on its own port and
// to in-process subscribers. Messages sent to it by TCP clients are routed to
// the dispatch function set with DispatchThrough.
type EventEndpoint struct {
	server *TCPServer
	logger *log.Logger

	mu          sync.Mutex
	subscribers map[int]func(string)
	nextID      int
	dispatch    func(string)
}

// NewEventEndpoint prepares the event port at addr.
func NewEventEndpoint(addr string, logger *log.Logger) *EventEndpoint {
	if logger == nil {
		logger = log.Default()
	}
	e := &EventEndpoint{
		server:      NewTCPServer(addr, logger),
		logger:      logger,
		subscribers: make(map[int]func(string)),
	}
	e.server.OnMessage(func(msg MessageArgs) {
		e.mu.Lock()
		fn := e.dispatch
		e.mu.Unlock()
		if fn != nil {
			fn(msg.Message)
		}
	})
	return e
}

// Start opens the event port.
func (e *EventEndpoint) Start() error {
	if err := e.server.Start(); err != nil {
		return err
	}
	e.logger.Printf("event endpoint listening on %s", e.server.Addr())
	return nil
}

// Stop closes the event port.
func (e *EventEndpoint) Stop() error {
	return e.server.Stop()
}

// Port returns the bound event port.
func (e *EventEndpoint) Port() int {
	return e.server.Port()
}

// Addr returns the bound event address.
func (e *EventEndpoint) Addr() string {
	return e.server.Addr()
}

// DispatchThrough routes messages received on the event port to fn.
func (e *EventEndpoint) DispatchThrough(fn func(string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatch = fn
}

// Subscribe registers fn for every sent event. The returned function removes it.
func (e *EventEndpoint) Subscribe(fn func(string)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.subscribers[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subscribers, id)
	}
}

// Send publishes body. In-process subscribers run synchronously, in no
// particular order, before the TCP broadcast.
func (e *EventEndpoint) Send(body string) {
	e.mu.Lock()
	subs := make([]func(string), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		subs = append(subs, fn)
	}
	e.mu.Unlock()
	for _, fn := range subs {
		fn(body)
	}
	e.server.Send(body)
}

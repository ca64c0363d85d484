// Package hub carries named events between sketches and the host.
//
// A transport (WebSocket, MQTT) decodes inbound frames and hands them to a
// Mux, which runs the handler registered for the event on its own goroutine.
// Handlers answer through the Client they were given; there is no broadcast.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Client is one connected sketch, the unit of message addressing.
type Client interface {
	ID() string
	// Send delivers an event to this client only. It fails once the
	// client is gone; callers are free to ignore that.
	Send(event string, data any) error
}

// HandlerFunc handles one inbound event. ctx is the hub's context, not the
// connection's: a disconnect does not cancel it.
type HandlerFunc func(ctx context.Context, data json.RawMessage, c Client)

type Hub interface {
	On(event string, h HandlerFunc)
}

// Mux is the event registry shared by all transports.
type Mux struct {
	ctx      context.Context
	log      *slog.Logger
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	closed   bool
	inflight sync.WaitGroup
}

func NewMux(ctx context.Context, logger *slog.Logger) *Mux {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mux{
		ctx:      ctx,
		log:      logger,
		handlers: make(map[string]HandlerFunc),
	}
}

func (m *Mux) On(event string, h HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = h
}

// Dispatch starts the handler for event and returns immediately.
// It reports whether a handler was started; events arriving after Close
// are dropped.
func (m *Mux) Dispatch(event string, data json.RawMessage, c Client) bool {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		m.log.Debug("mux closed, dropping event", "event", event, "client", c.ID())
		return false
	}
	h, ok := m.handlers[event]
	if ok {
		m.inflight.Add(1)
	}
	m.mu.RUnlock()
	if !ok {
		m.log.Debug("no handler for event", "event", event, "client", c.ID())
		return false
	}

	go func() {
		defer m.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				m.log.Error("event handler panicked",
					"event", event,
					"client", c.ID(),
					"error", fmt.Errorf("%v", r),
					"stack", string(debug.Stack()),
				)
			}
		}()
		h(m.ctx, data, c)
	}()
	return true
}

// Close stops dispatching. Handlers already started keep running; call
// Wait to drain them.
func (m *Mux) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// Wait blocks until every dispatched handler has returned.
func (m *Mux) Wait() {
	m.inflight.Wait()
}

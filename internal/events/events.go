// Package events is the outbound notification port of the dispatcher.
// Emitters are fire-and-forget: the engine never waits on, or reacts to,
// what an emitter does with an event.
package events

import (
	"log"
	"sync"
	"time"
)

const (
	SupportSessionStarted = "supportSessionStarted"
	AgentAssigned         = "agentAssigned"
	SessionTransferred    = "sessionTransferred"
	SessionEscalated      = "sessionEscalated"
	SLAViolation          = "slaViolation"
	SessionEnded          = "sessionEnded"
	SessionQueued         = "sessionQueued"
)

type Payload struct {
	SessionID       string    `json:"sessionId"`
	UserID          string    `json:"userId,omitempty"`
	AgentID         string    `json:"agentId,omitempty"`
	FromAgentID     string    `json:"fromAgentId,omitempty"`
	Priority        string    `json:"priority,omitempty"`
	Status          string    `json:"status,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Category        string    `json:"category,omitempty"`
	QueuePosition   int       `json:"queuePosition,omitempty"`
	EstimatedWait   int       `json:"estimatedWaitMinutes,omitempty"`
	WaitTimeSeconds float64   `json:"waitTimeSeconds,omitempty"`
	Satisfaction    int       `json:"satisfaction,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

type Event struct {
	Name    string  `json:"event"`
	Payload Payload `json:"payload"`
}

type Emitter interface {
	Emit(name string, payload Payload)
}

type EmitterFunc func(name string, payload Payload)

func (f EmitterFunc) Emit(name string, payload Payload) { f(name, payload) }

type nop struct{}

func (nop) Emit(string, Payload) {}

func Nop() Emitter { return nop{} }

// Multi forwards every event to each emitter in order.
type Multi []Emitter

func (m Multi) Emit(name string, payload Payload) {
	for _, e := range m {
		if e != nil {
			e.Emit(name, payload)
		}
	}
}

type Handler func(Event)

// Bus is an in-process dispatcher. Handlers run synchronously in the
// emitting goroutine; a panicking handler is logged and skipped.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

const AllEvents = "*"

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers h for name, or for every event when name is AllEvents.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

func (b *Bus) Emit(name string, payload Payload) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[name]...)
	handlers = append(handlers, b.handlers[AllEvents]...)
	b.mu.RUnlock()

	evt := Event{Name: name, Payload: payload}
	for _, h := range handlers {
		b.dispatch(h, evt)
	}
}

func (b *Bus) dispatch(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[EVENTS] handler panic on %s: %v", evt.Name, r)
		}
	}()
	h(evt)
}

// Recorder keeps every emitted event; used by tests and debugging tools.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(name string, payload Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: name, Payload: payload})
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0)
	for _, evt := range r.events {
		if evt.Name == name {
			out = append(out, evt)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

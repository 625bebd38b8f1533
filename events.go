package mdns

import (
	"net"
	"sync"
)

// EventKind identifies what an Event reports.
type EventKind int

const (
	EventReady EventKind = iota
	EventPacket
	EventQuery
	EventResponse
	EventWarning
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventPacket:
		return "packet"
	case EventQuery:
		return "query"
	case EventResponse:
		return "response"
	case EventWarning:
		return "warning"
	}
	return "unknown"
}

// Event is delivered to every Listener of a Transport.
//
// Packet, Addr and Raw are set for EventPacket, EventQuery and
// EventResponse; Err is set for EventWarning.
type Event struct {
	Kind   EventKind
	Packet *Packet
	Addr   *net.UDPAddr
	Raw    []byte
	Err    error
}

// Listener receives transport events. Listeners are called one event at a
// time, in the order they were registered.
type Listener func(Event)

type emitter struct {
	mu        sync.Mutex
	listeners []*Listener

	// dispatch serializes delivery so events never interleave.
	dispatch sync.Mutex
}

func (e *emitter) subscribe(l Listener) func() {
	p := &l
	e.mu.Lock()
	e.listeners = append(e.listeners, p)
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, q := range e.listeners {
			if q == p {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

func (e *emitter) emit(ev Event) {
	e.dispatch.Lock()
	defer e.dispatch.Unlock()

	e.mu.Lock()
	ls := make([]*Listener, len(e.listeners))
	copy(ls, e.listeners)
	e.mu.Unlock()

	for _, l := range ls {
		(*l)(ev)
	}
}

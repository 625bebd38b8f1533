package mdns

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/net/dns/dnsmessage"
)

// State is the lifecycle state of a Transport.
type State int32

const (
	StateStarting State = iota
	StateReady
	StateActive
	StateDestroying
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateDestroying:
		return "destroying"
	case StateDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// Transport represents a mDNS transport: a receive socket bound to the
// multicast port and a send socket bound on first use.
type Transport struct {
	cfg    *settings
	log    log.Interface
	events emitter
	state  atomic.Int32
	ready  chan struct{}

	recv   *socket
	send   *socket
	sendCh *sendChannel

	destroyOnce sync.Once
	destroyed   chan struct{}
	destroyErr  error
}

// New creates the transport and starts binding the receive socket. It only
// fails on an invalid configuration; socket errors are delivered to the
// listeners as EventWarning.
//
// Listeners passed to New are registered before any socket exists, so they
// observe EventReady and every warning.
func New(config *Config, listeners ...Listener) (*Transport, error) {
	cfg, err := config.resolve()
	if err != nil {
		return nil, err
	}

	t := newTransport(cfg, listeners)
	t.log.WithFields(log.Fields{
		"network": cfg.network,
		"addr":    cfg.listenAddr,
		"group":   cfg.dstAddr,
	}).Debug("receive socket bind")
	go t.start()
	return t, nil
}

func newTransport(cfg *settings, listeners []Listener) *Transport {
	t := &Transport{
		cfg:       cfg,
		log:       cfg.log,
		ready:     make(chan struct{}),
		destroyed: make(chan struct{}),
	}
	for _, l := range listeners {
		t.events.subscribe(l)
	}
	t.events.subscribe(t.grabbed)

	t.recv = newSocket(t, roleReceive)
	t.send = newSocket(t, roleSend)
	t.sendCh = newSendChannel(t.bindSend)
	return t
}

func (t *Transport) start() {
	warnings, err := t.recv.bind(t.cfg.listenAddr)
	if err != nil {
		if !t.isDestroyed() {
			t.warn(err)
		}
		return
	}
	for _, w := range warnings {
		if t.isDestroyed() {
			return
		}
		t.warn(w)
	}

	if !t.state.CompareAndSwap(int32(StateStarting), int32(StateReady)) {
		return
	}
	close(t.ready)
	t.events.emit(Event{Kind: EventReady})
	t.state.CompareAndSwap(int32(StateReady), int32(StateActive))

	t.recv.serve()
}

func (t *Transport) bindSend() (*socket, error) {
	warnings, err := t.send.bind(t.cfg.sendAddr)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		t.warn(w)
	}
	return t.send, nil
}

// Subscribe registers l for all future events and returns a function that
// removes it.
func (t *Transport) Subscribe(l Listener) func() {
	return t.events.subscribe(l)
}

// Ready is closed once the receive socket is bound.
func (t *Transport) Ready() <-chan struct{} {
	return t.ready
}

// State returns the current lifecycle state.
func (t *Transport) State() State {
	return State(t.state.Load())
}

func (t *Transport) isDestroyed() bool {
	return t.State() >= StateDestroying
}

// Send encodes p and transmits it to the multicast group. cb receives the
// encode, bind or write error, or nil once the datagram is written. A nil cb
// is allowed.
func (t *Transport) Send(p *Packet, cb func(error)) {
	if cb == nil {
		cb = func(error) {}
	}
	if t.isDestroyed() {
		cb(ErrClosed)
		return
	}

	b, err := t.cfg.codec.Encode(p)
	if err != nil {
		var ee *EncodeError
		if !errors.As(err, &ee) {
			err = &EncodeError{Err: err}
		}
		cb(err)
		return
	}

	t.sendCh.ensureReady(func(s *socket, err error) {
		if err != nil {
			cb(err)
			return
		}
		t.log.WithFields(log.Fields{
			"addr": t.cfg.dstAddr,
			"type": p.Type,
			"size": len(b),
		}).Debug("emit message")
		cb(s.writeTo(b, t.cfg.dstAddr))
	})
}

// Query sends p as a query.
func (t *Transport) Query(p *Packet, cb func(error)) {
	q := Packet{}
	if p != nil {
		q = *p
	}
	q.Type = TypeQuery
	t.log.Debug("send query")
	t.Send(&q, cb)
}

// QueryName sends a query with a single question for name. A zero qtype
// asks for any record type.
func (t *Transport) QueryName(name string, qtype dnsmessage.Type, cb func(error)) {
	if qtype == 0 {
		qtype = TypeANY
	}
	n, err := dnsmessage.NewName(fqdn(name))
	if err != nil {
		if cb != nil {
			cb(&EncodeError{Err: errors.Wrapf(err, "question %q", name)})
		}
		return
	}
	t.QueryQuestions([]dnsmessage.Question{{
		Name:  n,
		Type:  qtype,
		Class: dnsmessage.ClassINET,
	}}, cb)
}

// QueryQuestions sends one query carrying qs in order.
func (t *Transport) QueryQuestions(qs []dnsmessage.Question, cb func(error)) {
	t.Query(&Packet{Message: dnsmessage.Message{Questions: qs}}, cb)
}

// Respond sends p as a response.
func (t *Transport) Respond(p *Packet, cb func(error)) {
	r := Packet{}
	if p != nil {
		r = *p
	}
	r.Type = TypeResponse
	t.log.Debug("send response")
	t.Send(&r, cb)
}

// RespondAnswers sends a response whose answer section is answers.
func (t *Transport) RespondAnswers(answers []dnsmessage.Resource, cb func(error)) {
	t.Respond(&Packet{Message: dnsmessage.Message{Answers: answers}}, cb)
}

// Destroy closes the send socket, then the receive socket, then calls cb
// with any close errors. It does not block; cb runs on another goroutine.
// Every call's cb fires once teardown has finished.
func (t *Transport) Destroy(cb func(error)) {
	t.destroyOnce.Do(func() {
		t.state.Store(int32(StateDestroying))
		go t.destroy()
	})
	go func() {
		<-t.destroyed
		if cb != nil {
			cb(t.destroyErr)
		}
	}()
}

// Close is the blocking form of Destroy. It must not be called from a
// Listener.
func (t *Transport) Close() error {
	done := make(chan error, 1)
	t.Destroy(func(err error) { done <- err })
	return <-done
}

func (t *Transport) destroy() {
	t.log.Debug("destroy send socket")
	err := t.send.close()

	t.log.Debug("destroy receive socket")
	err = multierr.Append(err, t.recv.close())

	t.destroyErr = err
	t.state.Store(int32(StateDestroyed))
	close(t.destroyed)
}

func (t *Transport) warn(err error) {
	t.log.WithError(err).Warn("transport warning")
	t.events.emit(Event{Kind: EventWarning, Err: err})
}

// handleMessage turns one inbound datagram into events.
func (t *Transport) handleMessage(raw []byte, src *net.UDPAddr) {
	p, err := t.cfg.codec.Decode(raw)
	if err != nil {
		var de *DecodeError
		if !errors.As(err, &de) {
			err = &DecodeError{Err: err}
		}
		t.warn(err)
		return
	}

	ev := Event{Kind: EventPacket, Packet: p, Addr: src, Raw: raw}
	t.events.emit(ev)

	switch p.Type {
	case TypeQuery:
		ev.Kind = EventQuery
	case TypeResponse:
		ev.Kind = EventResponse
	default:
		return
	}
	t.events.emit(ev)
}

func (t *Transport) grabbed(ev Event) {
	switch ev.Kind {
	case EventQuery:
		t.log.WithFields(log.Fields{"from": ev.Addr, "questions": len(ev.Packet.Questions)}).Debug("grabbed a query")
	case EventResponse:
		t.log.WithFields(log.Fields{"from": ev.Addr, "answers": len(ev.Packet.Answers)}).Debug("grabbed a response")
	}
}

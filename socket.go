package mdns

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	roleReceive = "receive"
	roleSend    = "send"
)

// Delay between reads after a read error, doubled per consecutive error.
const (
	minReadBackoff = 5 * time.Millisecond
	maxReadBackoff = time.Second
)

type socketState int

const (
	socketUnbound socketState = iota
	socketBound
	socketClosed
)

// multicastConn is the part of ipv4.PacketConn and ipv6.PacketConn used
// once a socket is bound.
type multicastConn interface {
	JoinGroup(ifi *net.Interface, group net.Addr) error
	SetMulticastLoopback(on bool) error
	setTTL(ttl int) error
}

type packetReader interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
}

type ipv4Conn struct{ *ipv4.PacketConn }

func (c ipv4Conn) setTTL(ttl int) error { return c.SetMulticastTTL(ttl) }

type ipv6Conn struct{ *ipv6.PacketConn }

func (c ipv6Conn) setTTL(ttl int) error { return c.SetMulticastHopLimit(ttl) }

// socket wraps one UDP socket owned by a single Transport.
type socket struct {
	t    *Transport
	role string
	log  log.Interface

	mu    sync.Mutex
	state socketState
	conn  *net.UDPConn

	// serving is closed when the read loop exits; nil for sockets that do
	// not read.
	serving chan struct{}
	closing chan struct{}
}

// newSocket returns an unbound socket for t.
func newSocket(t *Transport, role string) *socket {
	return &socket{
		t:    t,
		role: role,
		log:  t.log.WithField("socket", role),
	}
}

// bind binds the socket to address and applies the multicast options. Errors
// from the multicast options are returned separately: they are warnings,
// the socket stays bound.
func (s *socket) bind(address string) (warnings []error, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case socketClosed:
		return nil, &SocketError{Op: "bind", Role: s.role, Err: errSocketClosed}
	case socketBound:
		return nil, &SocketError{Op: "bind", Role: s.role, Err: errSocketBound}
	}

	cfg := s.t.cfg
	lc := net.ListenConfig{}
	if cfg.reuseAddr {
		lc.Control = reuseAddrControl
	}
	pc, err := lc.ListenPacket(context.Background(), cfg.network.String(), address)
	if err != nil {
		return nil, &SocketError{Op: "bind", Role: s.role, Err: err}
	}
	s.conn = pc.(*net.UDPConn)
	s.state = socketBound
	s.log.WithField("addr", s.conn.LocalAddr()).Debug("socket bound")

	return s.listening(), nil
}

// listening joins the group and sets TTL and loopback. It must only run on
// a bound socket.
func (s *socket) listening() []error {
	cfg := s.t.cfg
	if !cfg.multicast {
		return nil
	}

	var mc multicastConn
	if cfg.network == IPv6 {
		mc = ipv6Conn{ipv6.NewPacketConn(s.conn)}
	} else {
		mc = ipv4Conn{ipv4.NewPacketConn(s.conn)}
	}

	var warnings []error
	warn := func(op string, err error) {
		warnings = append(warnings, &SocketError{Op: op, Role: s.role, Err: err})
	}

	ifi, err := lookupInterface(cfg.iface)
	if err != nil {
		warn("join group", err)
	} else if err := mc.JoinGroup(ifi, &net.UDPAddr{IP: cfg.group}); err != nil {
		warn("join group", err)
	}
	if err := mc.setTTL(cfg.ttl); err != nil {
		warn("set multicast ttl", err)
	}
	if err := mc.SetMulticastLoopback(cfg.loopback); err != nil {
		warn("set multicast loopback", err)
	}
	return warnings
}

func (s *socket) writeTo(b []byte, dst *net.UDPAddr) error {
	s.mu.Lock()
	conn, state := s.conn, s.state
	s.mu.Unlock()

	if state != socketBound {
		return &SocketError{Op: "send", Role: s.role, Err: errSocketClosed}
	}
	n, err := conn.WriteToUDP(b, dst)
	if err != nil {
		return &SocketError{Op: "send", Role: s.role, Err: err}
	}
	if n != len(b) {
		return &SocketError{Op: "send", Role: s.role, Err: errors.Errorf("partial write: %d/%d bytes", n, len(b))}
	}
	return nil
}

// serve starts the read loop, decoding every datagram into events.
func (s *socket) serve() {
	s.mu.Lock()
	if s.state != socketBound || s.serving != nil {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.serving = make(chan struct{})
	s.closing = make(chan struct{})
	s.mu.Unlock()

	go s.readLoop(conn)
}

// readLoop must be started with serving and closing set.
func (s *socket) readLoop(conn packetReader) {
	defer close(s.serving)

	var backoff time.Duration
	b := make([]byte, inboundBufferSize)
	for {
		n, src, err := conn.ReadFromUDP(b)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.isClosed() {
				return
			}
			s.t.warn(&SocketError{Op: "receive", Role: s.role, Err: err})

			if backoff == 0 {
				backoff = minReadBackoff
			} else if backoff *= 2; backoff > maxReadBackoff {
				backoff = maxReadBackoff
			}
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-s.closing:
				timer.Stop()
				return
			}
			continue
		}
		backoff = 0

		raw := make([]byte, n)
		copy(raw, b[:n])
		s.t.handleMessage(raw, src)
	}
}

func (s *socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == socketClosed
}

// close closes the socket and waits for its read loop, if any, to exit.
// Closing an unbound socket only marks it closed.
func (s *socket) close() error {
	s.mu.Lock()
	if s.state == socketClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = socketClosed
	conn, serving := s.conn, s.serving
	if s.closing != nil {
		close(s.closing)
	}
	s.mu.Unlock()

	var err error
	if conn != nil {
		if cerr := conn.Close(); cerr != nil {
			err = &SocketError{Op: "close", Role: s.role, Err: cerr}
		}
	}
	if serving != nil {
		<-serving
	}
	s.log.Debug("socket closed")
	return err
}

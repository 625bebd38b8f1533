package mdns

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/apex/log/handlers/memory"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"
)

const testTimeout = 5 * time.Second

func freePort(t *testing.T) int {
	t.Helper()
	c, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer c.Close()
	return c.LocalAddr().(*net.UDPAddr).Port
}

// loopbackConfig sends to the transport's own receive socket over unicast
// loopback, which works without multicast routing.
func loopbackConfig(t *testing.T, logger log.Interface) *Config {
	if logger == nil {
		logger = &log.Logger{Handler: discard.Default}
	}
	return &Config{
		Port:             freePort(t),
		IP:               "127.0.0.1",
		DisableMulticast: true,
		Logger:           logger,
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Event, 256)}
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.ch <- ev
}

func (r *recorder) next(t *testing.T, kind EventKind) Event {
	t.Helper()
	for {
		select {
		case ev := <-r.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-time.After(testTimeout):
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func newLoopback(t *testing.T, logger log.Interface) (*Transport, *recorder) {
	t.Helper()
	rec := newRecorder()
	tr, err := New(loopbackConfig(t, logger), rec.listen)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	select {
	case <-tr.Ready():
	case <-time.After(testTimeout):
		t.Fatal("transport never became ready")
	}
	return tr, rec
}

func sendAndWait(t *testing.T, send func(cb func(error))) {
	t.Helper()
	errc := make(chan error, 1)
	send(func(err error) { errc <- err })
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("send callback never fired")
	}
}

func TestTransportReadyOnce(t *testing.T) {
	tr, rec := newLoopback(t, nil)

	sendAndWait(t, func(cb func(error)) { tr.QueryName("foo.local", 0, cb) })
	rec.next(t, EventQuery)

	kinds := rec.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, EventReady, kinds[0])
	ready := 0
	for _, k := range kinds {
		if k == EventReady {
			ready++
		}
	}
	assert.Equal(t, 1, ready)
	assert.Equal(t, StateActive, tr.State())
}

func TestTransportQueryName(t *testing.T) {
	tr, rec := newLoopback(t, nil)

	sendAndWait(t, func(cb func(error)) { tr.QueryName("foo.local", 0, cb) })

	pkt := rec.next(t, EventPacket)
	q := rec.next(t, EventQuery)
	assert.Same(t, pkt.Packet, q.Packet)
	assert.Equal(t, TypeQuery, q.Packet.Type)
	require.Len(t, q.Packet.Questions, 1)
	assert.Equal(t, "foo.local.", q.Packet.Questions[0].Name.String())
	assert.Equal(t, TypeANY, q.Packet.Questions[0].Type)
	assert.NotNil(t, q.Addr)
	assert.NotEmpty(t, q.Raw)
}

func TestTransportQueryQuestions(t *testing.T) {
	tr, rec := newLoopback(t, nil)

	qs := []dnsmessage.Question{
		{Name: dnsmessage.MustNewName("a.local."), Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET},
		{Name: dnsmessage.MustNewName("b.local."), Type: dnsmessage.TypeSRV, Class: dnsmessage.ClassINET},
	}
	sendAndWait(t, func(cb func(error)) { tr.QueryQuestions(qs, cb) })

	q := rec.next(t, EventQuery)
	assert.Equal(t, qs, q.Packet.Questions)
}

func TestTransportRespondAnswers(t *testing.T) {
	tr, rec := newLoopback(t, nil)

	name := dnsmessage.MustNewName("foo.local.")
	answers := []dnsmessage.Resource{
		{
			Header: dnsmessage.ResourceHeader{Name: name, Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET, TTL: 120},
			Body:   &dnsmessage.AResource{A: [4]byte{192, 168, 1, 5}},
		},
		{
			Header: dnsmessage.ResourceHeader{Name: name, Type: dnsmessage.TypeTXT, Class: dnsmessage.ClassINET, TTL: 120},
			Body:   &dnsmessage.TXTResource{TXT: []string{"path=/"}},
		},
	}

	sendAndWait(t, func(cb func(error)) { tr.RespondAnswers(answers, cb) })
	viaList := rec.next(t, EventResponse)

	sendAndWait(t, func(cb func(error)) {
		tr.Respond(&Packet{Message: dnsmessage.Message{Answers: answers}}, cb)
	})
	viaPacket := rec.next(t, EventResponse)

	for _, ev := range []Event{viaList, viaPacket} {
		assert.Equal(t, TypeResponse, ev.Packet.Type)
		require.Len(t, ev.Packet.Answers, 2)
		assert.Equal(t, answers[0].Body, ev.Packet.Answers[0].Body)
		assert.Equal(t, answers[1].Body, ev.Packet.Answers[1].Body)
	}
	assert.Equal(t, viaList.Raw, viaPacket.Raw)
}

func TestTransportDecodeFailureWarns(t *testing.T) {
	tr, rec := newLoopback(t, nil)

	c, err := net.Dial("udp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(tr.cfg.port)))
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Write([]byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)

	w := rec.next(t, EventWarning)
	var de *DecodeError
	assert.ErrorAs(t, w.Err, &de)

	// A valid packet afterwards is the next inbound event; the bad datagram
	// produced nothing else.
	sendAndWait(t, func(cb func(error)) { tr.QueryName("after.local", 0, cb) })
	rec.next(t, EventQuery)

	var warnings, packets int
	for _, k := range rec.kinds() {
		switch k {
		case EventWarning:
			warnings++
		case EventPacket:
			packets++
		}
	}
	assert.Equal(t, 1, warnings)
	assert.Equal(t, 1, packets)
}

func TestTransportConcurrentSendsBindOnce(t *testing.T) {
	h := memory.New()
	tr, _ := newLoopback(t, &log.Logger{Handler: h, Level: log.DebugLevel})

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			done := make(chan struct{})
			tr.QueryName("foo.local", dnsmessage.TypePTR, func(err error) {
				errs <- err
				close(done)
			})
			<-done
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	require.NoError(t, tr.Close())

	binds := 0
	for _, e := range h.Entries {
		if e.Message == "socket bound" && e.Fields["socket"] == roleSend {
			binds++
		}
	}
	assert.Equal(t, 1, binds)
}

func TestTransportDestroyOrder(t *testing.T) {
	h := memory.New()
	tr, _ := newLoopback(t, &log.Logger{Handler: h, Level: log.DebugLevel})

	sendAndWait(t, func(cb func(error)) { tr.QueryName("foo.local", 0, cb) })
	// Pending sends must not hold up teardown.
	for i := 0; i < 5; i++ {
		tr.QueryName("foo.local", 0, nil)
	}

	done := make(chan error, 1)
	tr.Destroy(func(err error) { done <- err })
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("destroy callback never fired")
	}
	assert.Equal(t, StateDestroyed, tr.State())

	var closed []interface{}
	for _, e := range h.Entries {
		if e.Message == "socket closed" {
			closed = append(closed, e.Fields["socket"])
		}
	}
	assert.Equal(t, []interface{}{roleSend, roleReceive}, closed)

	// Destroy again still reports completion.
	require.NoError(t, tr.Close())
}

func TestTransportDestroyBeforeSend(t *testing.T) {
	tr, _ := newLoopback(t, nil)
	require.NoError(t, tr.Close())

	errc := make(chan error, 1)
	tr.QueryName("foo.local", 0, func(err error) { errc <- err })
	assert.ErrorIs(t, <-errc, ErrClosed)
}

func TestTransportEncodeErrorToCallback(t *testing.T) {
	tr, _ := newLoopback(t, nil)

	errc := make(chan error, 1)
	tr.Respond(&Packet{Message: dnsmessage.Message{
		Answers: []dnsmessage.Resource{{Header: dnsmessage.ResourceHeader{
			Name: dnsmessage.MustNewName("foo.local."),
			Type: dnsmessage.TypeA,
		}}},
	}}, func(err error) { errc <- err })

	var ee *EncodeError
	assert.ErrorAs(t, <-errc, &ee)
}

func TestTransportBindFailureWarns(t *testing.T) {
	// Hold the port without address reuse so the receive bind fails.
	c, err := net.ListenPacket("udp4", "0.0.0.0:0")
	require.NoError(t, err)
	defer c.Close()

	rec := newRecorder()
	tr, err := New(&Config{
		Port:             c.LocalAddr().(*net.UDPAddr).Port,
		IP:               "127.0.0.1",
		DisableMulticast: true,
		DisableReuseAddr: true,
		Logger:           &log.Logger{Handler: discard.Default},
	}, rec.listen)
	require.NoError(t, err)
	defer tr.Close()

	w := rec.next(t, EventWarning)
	var se *SocketError
	require.ErrorAs(t, w.Err, &se)
	assert.Equal(t, "bind", se.Op)
	assert.Equal(t, roleReceive, se.Role)
	assert.Equal(t, StateStarting, tr.State())
}

func multicastConfig(t *testing.T, iface string) *Config {
	return &Config{
		Port:      freePort(t),
		Interface: iface,
		Logger:    &log.Logger{Handler: discard.Default},
	}
}

func socketErrors(events []Event, op string) []*SocketError {
	var out []*SocketError
	for _, ev := range events {
		var se *SocketError
		if ev.Kind == EventWarning && errors.As(ev.Err, &se) && se.Op == op {
			out = append(out, se)
		}
	}
	return out
}

func TestTransportUnknownInterfaceWarns(t *testing.T) {
	rec := newRecorder()
	tr, err := New(multicastConfig(t, "nosuchif0"), rec.listen)
	require.NoError(t, err)
	defer tr.Close()

	w := rec.next(t, EventWarning)
	var se *SocketError
	require.ErrorAs(t, w.Err, &se)
	assert.Equal(t, "join group", se.Op)
	assert.Equal(t, roleReceive, se.Role)
	assert.ErrorIs(t, w.Err, errUnknownInterface)
	var oe *net.OpError
	assert.ErrorAs(t, w.Err, &oe)

	rec.next(t, EventReady)

	rec.mu.Lock()
	joins := socketErrors(rec.events, "join group")
	rec.mu.Unlock()
	assert.Len(t, joins, 1)
	assert.NotEqual(t, StateStarting, tr.State())
}

func TestTransportMulticastLoopback(t *testing.T) {
	rec := newRecorder()
	tr, err := New(multicastConfig(t, ""), rec.listen)
	require.NoError(t, err)
	defer tr.Close()

	select {
	case <-tr.Ready():
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for ready")
	}
	rec.mu.Lock()
	joins := socketErrors(rec.events, "join group")
	rec.mu.Unlock()
	if len(joins) > 0 {
		t.Skipf("multicast group unavailable: %v", joins[0])
	}

	errc := make(chan error, 1)
	tr.QueryName("loopback.local", dnsmessage.TypeA, func(err error) { errc <- err })
	select {
	case err := <-errc:
		if err != nil {
			t.Skipf("multicast send unavailable: %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("send callback never fired")
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-rec.ch:
			if ev.Kind != EventQuery {
				continue
			}
			require.Len(t, ev.Packet.Questions, 1)
			assert.Equal(t, "loopback.local.", ev.Packet.Questions[0].Name.String())
			return
		case <-deadline:
			t.Skip("no multicast loopback delivery on this host")
		}
	}
}

func TestTransportNoWarningsAfterDestroy(t *testing.T) {
	cfg, err := multicastConfig(t, "nosuchif0").resolve()
	require.NoError(t, err)

	rec := newRecorder()
	tr := newTransport(cfg, []Listener{rec.listen})
	tr.state.Store(int32(StateDestroying))
	tr.start()

	assert.Empty(t, rec.kinds())
	select {
	case <-tr.Ready():
		t.Fatal("ready after destroy")
	default:
	}
	require.NoError(t, tr.recv.close())
}

type failingReader struct {
	reads atomic.Int32
}

func (r *failingReader) ReadFromUDP([]byte) (int, *net.UDPAddr, error) {
	r.reads.Add(1)
	return 0, nil, errors.New("connection refused")
}

func TestSocketReadErrorBacksOff(t *testing.T) {
	tr, rec := newLoopback(t, nil)

	s := newSocket(tr, roleReceive)
	s.state = socketBound
	s.serving = make(chan struct{})
	s.closing = make(chan struct{})
	r := &failingReader{}
	go s.readLoop(r)

	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	require.NoError(t, s.close())
	assert.Less(t, time.Since(start), maxReadBackoff/2)

	reads := int(r.reads.Load())
	assert.GreaterOrEqual(t, reads, 1)
	assert.LessOrEqual(t, reads, 8)

	rec.mu.Lock()
	warned := socketErrors(rec.events, "receive")
	rec.mu.Unlock()
	assert.Len(t, warned, reads)
}

package mdns

import (
	"sync"
)

type sendState int

const (
	sendNotStarted sendState = iota
	sendBinding
	sendReady
	sendFailed
)

// sendChannel binds the send socket on first use. Exactly one bind is
// attempted per transport; callers arriving while it runs are queued and all
// receive the same outcome, in arrival order.
type sendChannel struct {
	bind func() (*socket, error)

	mu      sync.Mutex
	state   sendState
	waiters []func(*socket, error)
	sock    *socket
	err     error
}

func newSendChannel(bind func() (*socket, error)) *sendChannel {
	return &sendChannel{bind: bind}
}

// ensureReady calls onReady with the bound send socket, or with the bind
// error. onReady runs on the caller's goroutine when the outcome is already
// known, otherwise on the goroutine that performed the bind.
func (c *sendChannel) ensureReady(onReady func(*socket, error)) {
	c.mu.Lock()
	switch c.state {
	case sendReady, sendFailed:
		sock, err := c.sock, c.err
		c.mu.Unlock()
		onReady(sock, err)
		return
	case sendBinding:
		c.waiters = append(c.waiters, onReady)
		c.mu.Unlock()
		return
	}
	c.state = sendBinding
	c.waiters = append(c.waiters, onReady)
	c.mu.Unlock()

	go c.run()
}

func (c *sendChannel) run() {
	sock, err := c.bind()
	if err != nil {
		err = &SendChannelBindError{Err: err}
		sock = nil
	}

	c.mu.Lock()
	c.sock, c.err = sock, err
	// Stay in sendBinding until the queue drains so late arrivals cannot
	// overtake waiters that are still being released.
	for len(c.waiters) > 0 {
		waiters := c.waiters
		c.waiters = nil
		c.mu.Unlock()
		for _, w := range waiters {
			w(sock, err)
		}
		c.mu.Lock()
	}
	if err != nil {
		c.state = sendFailed
	} else {
		c.state = sendReady
	}
	c.mu.Unlock()
}

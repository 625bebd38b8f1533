package mdns

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrIPv6Config is wrapped by the ConfigError returned for an IPv6
	// transport without a multicast group or interface.
	ErrIPv6Config = errors.New("mdns: for IPv6 multicast you must specify IP and Interface")

	// ErrClosed is reported to operations issued after Destroy.
	ErrClosed = errors.New("mdns: transport destroyed")

	errSocketClosed     = errors.New("mdns: socket closed")
	errNilPacket        = errors.New("mdns: nil packet")
	errSocketBound      = errors.New("mdns: socket already bound")
	errUnknownInterface = errors.New("mdns: interface not found")
)

// ConfigError is returned by New when the configuration cannot produce a
// working transport. No socket has been created when it is returned.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mdns: invalid config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// SocketError describes a socket-level failure. These are surfaced as
// warnings and do not stop the transport.
type SocketError struct {
	Op   string
	Role string
	Err  error
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("mdns: %s socket: %s: %v", e.Role, e.Op, e.Err)
}

func (e *SocketError) Unwrap() error { return e.Err }

// DecodeError is emitted as a warning when an inbound datagram is not a
// valid DNS message.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("mdns: decode packet: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError is reported to the send callback when a packet cannot be
// encoded.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("mdns: encode packet: %v", e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// SendChannelBindError is delivered to every send waiting on, or issued
// after, a failed bind of the send socket.
type SendChannelBindError struct {
	Err error
}

func (e *SendChannelBindError) Error() string {
	return fmt.Sprintf("mdns: bind send socket: %v", e.Err)
}

func (e *SendChannelBindError) Unwrap() error { return e.Err }

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd

package mdns

import (
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// reuseAddrControl sets SO_REUSEADDR and SO_REUSEPORT so several responders
// on one host can share the mDNS port.
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			opErr = errors.Wrap(err, "set SO_REUSEADDR")
			return
		}
		// Not every kernel has SO_REUSEPORT; SO_REUSEADDR alone is enough there.
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}

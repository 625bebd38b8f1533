//go:build windows

package mdns

import (
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if err := windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); err != nil {
			opErr = errors.Wrap(err, "set SO_REUSEADDR")
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

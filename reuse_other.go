//go:build !(darwin || dragonfly || freebsd || linux || netbsd || openbsd || windows)

package mdns

import "syscall"

func reuseAddrControl(_, _ string, _ syscall.RawConn) error {
	return nil
}

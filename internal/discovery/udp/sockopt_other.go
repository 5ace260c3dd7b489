//go:build !unix

package udp

import "syscall"

// socketControl is a no-op on platforms without golang.org/x/sys/unix.
func socketControl(Options) func(network, address string, rc syscall.RawConn) error {
	return nil
}

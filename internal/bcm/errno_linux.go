//go:build linux

package bcm

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func kindOf(err error) TransportKind {
	switch {
	case errors.Is(err, unix.ENOTCONN):
		return NotConnected
	case errors.Is(err, unix.EINVAL):
		return InvalidArgument
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK),
		errors.Is(err, unix.ETIMEDOUT), errors.Is(err, os.ErrDeadlineExceeded):
		return WouldBlock
	default:
		return SocketError
	}
}

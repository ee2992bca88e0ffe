//go:build !linux

package bcm

import (
	"errors"
	"os"
)

// Non-linux builds have no BCM socket; only deadline errors from fakes are classified.
func kindOf(err error) TransportKind {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return WouldBlock
	}
	return SocketError
}

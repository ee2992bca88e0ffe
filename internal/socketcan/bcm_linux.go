//go:build linux

package socketcan

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// BCMSocket is a connected CAN_BCM datagram socket. Each Write carries one
// complete bcm message and each Read returns one.
type BCMSocket struct {
	fd    int
	iface string
}

// OpenBCM opens a broadcast manager socket on iface. An empty iface connects
// to all CAN interfaces (ifindex 0), which only RX subscriptions can use.
func OpenBCM(iface string) (*BCMSocket, error) {
	idx := 0
	if iface != "" {
		ifi, err := net.InterfaceByName(iface)
		if err != nil {
			return nil, fmt.Errorf("if %q: %w", iface, err)
		}
		idx = ifi.Index
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.CAN_BCM)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN, CAN_BCM): %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrCAN{Ifindex: idx}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("connect(bcm@%s): %w", iface, err)
	}
	return &BCMSocket{fd: fd, iface: iface}, nil
}

// Interface returns the name the socket was opened on.
func (s *BCMSocket) Interface() string { return s.iface }

func (s *BCMSocket) Read(b []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, b)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

func (s *BCMSocket) Write(b []byte) (int, error) {
	n, err := unix.Write(s.fd, b)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SetReadTimeout bounds blocking reads; a read that times out fails with
// EAGAIN. Zero disables the timeout.
func (s *BCMSocket) SetReadTimeout(d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return fmt.Errorf("SO_RCVTIMEO: %w", err)
	}
	return nil
}

// SetNonblock switches the socket between blocking and non-blocking mode.
func (s *BCMSocket) SetNonblock(on bool) error { return unix.SetNonblock(s.fd, on) }

// Close closes the socket. The kernel removes every task and subscription
// that was created through it.
func (s *BCMSocket) Close() error { return unix.Close(s.fd) }

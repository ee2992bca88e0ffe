//go:build linux

package cgw

import (
	"fmt"
	"time"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// recvBufSize covers the largest datagram the kernel builds for a dump batch.
const recvBufSize = 64 * 1024

// socket is a blocking NETLINK_ROUTE socket that returns one datagram per
// Receive, which is what lets Dump walk a reply batch by batch.
type socket struct {
	fd  int
	buf []byte
}

var _ netlink.Socket = (*socket)(nil)

func openSocket() (*socket, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_ROUTE)
	if err != nil {
		return nil, fmt.Errorf("netlink socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("netlink bind: %w", err)
	}
	return &socket{fd: fd, buf: make([]byte, recvBufSize)}, nil
}

// Dial opens a gateway client on the kernel's routing netlink socket. A
// positive timeout bounds every receive.
func Dial(timeout time.Duration, opts ...ClientOption) (*Client, error) {
	s, err := openSocket()
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		tv := unix.NsecToTimeval(timeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("netlink SO_RCVTIMEO: %w", err)
		}
	}
	return NewClient(s, opts...), nil
}

func (s *socket) Send(m netlink.Message) error { return s.SendMessages([]netlink.Message{m}) }

func (s *socket) SendMessages(msgs []netlink.Message) error {
	return unix.Sendto(s.fd, marshalMessages(msgs), 0, &unix.SockaddrNetlink{Family: unix.AF_NETLINK})
}

func (s *socket) Receive() ([]netlink.Message, error) {
	for {
		n, _, err := unix.Recvfrom(s.fd, s.buf, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		return parseMessages(s.buf[:n])
	}
}

func (s *socket) Close() error { return unix.Close(s.fd) }

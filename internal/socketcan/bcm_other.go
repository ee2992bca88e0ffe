//go:build !linux

package socketcan

import (
	"errors"
	"time"
)

// ErrUnsupported is returned on platforms without SocketCAN.
var ErrUnsupported = errors.New("socketcan: CAN_BCM requires linux")

// BCMSocket is a placeholder so callers compile on other platforms.
type BCMSocket struct{}

func OpenBCM(iface string) (*BCMSocket, error) { return nil, ErrUnsupported }

func (s *BCMSocket) Interface() string                    { return "" }
func (s *BCMSocket) Read(b []byte) (int, error)           { return 0, ErrUnsupported }
func (s *BCMSocket) Write(b []byte) (int, error)          { return 0, ErrUnsupported }
func (s *BCMSocket) SetReadTimeout(d time.Duration) error { return ErrUnsupported }
func (s *BCMSocket) SetNonblock(on bool) error            { return ErrUnsupported }
func (s *BCMSocket) Close() error                         { return nil }

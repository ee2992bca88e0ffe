//go:build !linux

package cgw

import (
	"errors"
	"time"
)

// Dial is only available on Linux.
func Dial(timeout time.Duration, opts ...ClientOption) (*Client, error) {
	return nil, errors.New("cgw: CAN gateway requires linux")
}

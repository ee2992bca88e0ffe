package bcm

import (
	"fmt"
	"math"
	"time"
)

// Interval mirrors struct bcm_timeval: seconds plus microseconds.
// The zero value means "no interval".
type Interval struct {
	Sec  int64
	Usec int64
}

// IntervalOf converts a duration with microsecond resolution; negative
// durations produce an interval that fails Validate.
func IntervalOf(d time.Duration) Interval {
	us := d.Microseconds()
	return Interval{Sec: us / 1_000_000, Usec: us % 1_000_000}
}

// Duration converts the interval back to a time.Duration.
func (iv Interval) Duration() time.Duration {
	return time.Duration(iv.Sec)*time.Second + time.Duration(iv.Usec)*time.Microsecond
}

// IsZero reports whether the interval is (0,0).
func (iv Interval) IsZero() bool { return iv.Sec == 0 && iv.Usec == 0 }

// Validate checks both components are non-negative and usec is below one second.
func (iv Interval) Validate() error {
	if iv.Sec < 0 || iv.Usec < 0 || iv.Usec > 999_999 {
		return fmt.Errorf("%w: %w: {%d s, %d us}", ErrValidation, ErrInvalidInterval, iv.Sec, iv.Usec)
	}
	return nil
}

// fits32 reports whether the interval is representable by a 32-bit timeval.
func (iv Interval) fits32() bool {
	return iv.Sec <= math.MaxInt32 && iv.Usec <= math.MaxInt32
}

func (iv Interval) String() string {
	return fmt.Sprintf("%ds%dus", iv.Sec, iv.Usec)
}

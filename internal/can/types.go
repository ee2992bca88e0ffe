package can

import (
	"errors"
	"fmt"
)

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// CAN FD frame flags (struct canfd_frame.flags).
const (
	CANFD_BRS = 0x01 // bit rate switch
	CANFD_ESI = 0x02 // error state indicator of the transmitting node
	CANFD_FDF = 0x04 // mark CAN FD for dual use of struct canfd_frame
)

const (
	ClassicMaxLen = 8
	FDMaxLen      = 64

	ClassicRecordSize = 16 // struct can_frame
	FDRecordSize      = 72 // struct canfd_frame
)

// ErrMalformedFrame is returned when a frame record cannot be decoded or a
// frame does not fit its variant.
var ErrMalformedFrame = errors.New("can: malformed frame")

// ErrInvalidID is returned when an identifier exceeds the range of its format.
var ErrInvalidID = errors.New("can: invalid identifier")

// Variant selects the frame record layout: classic can_frame or canfd_frame.
type Variant uint8

const (
	Classic Variant = iota
	FD
)

func (v Variant) String() string {
	switch v {
	case Classic:
		return "classic"
	case FD:
		return "fd"
	default:
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
}

// RecordSize is the fixed on-wire size of one frame record.
func (v Variant) RecordSize() int {
	if v == FD {
		return FDRecordSize
	}
	return ClassicRecordSize
}

// MaxLen is the payload capacity of the variant.
func (v Variant) MaxLen() int {
	if v == FD {
		return FDMaxLen
	}
	return ClassicMaxLen
}

// Frame is a CAN / CAN FD frame holder.
// CANID contains EFF/RTR/ERR flags in its upper bits like SocketCAN.
// Len is payload length; only the first Len bytes of Data are valid.
// Flags carries CANFD_* bits and is ignored for classic frames.
type Frame struct {
	CANID uint32
	Len   uint8
	Flags uint8
	Data  [64]byte
}

// NewFrame builds a classic frame. Payloads longer than 8 bytes are truncated.
func NewFrame(id uint32, data []byte) Frame {
	var f Frame
	f.CANID = id
	n := copy(f.Data[:ClassicMaxLen], data)
	f.Len = uint8(n)
	return f
}

// NewFDFrame builds a CAN FD frame. Payloads longer than 64 bytes are truncated;
// the length is not rounded to a valid FD length, Validate reports that.
func NewFDFrame(id uint32, data []byte, flags uint8) Frame {
	var f Frame
	f.CANID = id
	n := copy(f.Data[:], data)
	f.Len = uint8(n)
	f.Flags = flags
	return f
}

// Payload returns a copy of the valid data bytes.
func (f Frame) Payload() []byte {
	n := int(f.Len)
	if n > len(f.Data) {
		n = len(f.Data)
	}
	out := make([]byte, n)
	copy(out, f.Data[:n])
	return out
}

// ID returns the numeric identifier without flag bits.
func (f Frame) ID() uint32 { return ID(f.CANID) }

func (f Frame) Extended() bool   { return f.CANID&CAN_EFF_FLAG != 0 }
func (f Frame) Remote() bool     { return f.CANID&CAN_RTR_FLAG != 0 }
func (f Frame) ErrorFrame() bool { return f.CANID&CAN_ERR_FLAG != 0 }

// Validate reports whether f is representable as variant v.
func (f Frame) Validate(v Variant) error {
	if int(f.Len) > v.MaxLen() {
		return fmt.Errorf("%w: len %d exceeds %s max %d", ErrMalformedFrame, f.Len, v, v.MaxLen())
	}
	if v == FD && !ValidFDLen(int(f.Len)) {
		return fmt.Errorf("%w: len %d is not a CAN FD length", ErrMalformedFrame, f.Len)
	}
	return ValidateID(f.CANID)
}

// ID masks off the flag bits of a can_id.
func ID(canID uint32) uint32 { return canID & CAN_EFF_MASK }

// ValidateID checks that the identifier value fits its format: 11 bits for
// standard frames, 29 bits for extended frames.
func ValidateID(canID uint32) error {
	v := canID & CAN_EFF_MASK
	if canID&CAN_EFF_FLAG == 0 && v > CAN_SFF_MASK {
		return fmt.Errorf("%w: standard id 0x%X exceeds 11 bits", ErrInvalidID, v)
	}
	return nil
}

var fdLens = [...]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// ValidFDLen reports whether n is one of the 16 lengths a CAN FD DLC can express.
func ValidFDLen(n int) bool { return n >= 0 && n <= FDMaxLen && fdLens[LenToDLC(n)] == n }

// DLCToLen maps a 4-bit DLC to a payload length.
func DLCToLen(dlc uint8) int { return fdLens[dlc&0x0F] }

// LenToDLC maps a payload length to the smallest DLC that can carry it.
func LenToDLC(n int) uint8 {
	for dlc, l := range fdLens {
		if n <= l {
			return uint8(dlc)
		}
	}
	return 15
}

// Filter mirrors struct can_filter.
type Filter struct {
	CANID uint32
	Mask  uint32
}

// Match reports whether the filter accepts the given can_id.
func (f Filter) Match(canID uint32) bool { return canID&f.Mask == f.CANID&f.Mask }

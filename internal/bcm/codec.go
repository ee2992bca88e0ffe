package bcm

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/kstaniek/go-canbcm/internal/can"
)

// ABI selects the struct bcm_msg_head layout. The kernel lays the header out
// with native long/timeval sizes, so a 32-bit process and a 64-bit process
// exchange differently sized messages.
type ABI uint8

const (
	ABIWide   ABI = iota // 64-bit long: 8-byte timeval fields, 56-byte header
	ABINarrow            // 32-bit long: 4-byte timeval fields, 40-byte header
)

func (a ABI) String() string {
	if a == ABINarrow {
		return "narrow"
	}
	return "wide"
}

// HostABI returns the layout used by the running process.
func HostABI() ABI {
	if strconv.IntSize == 32 {
		return ABINarrow
	}
	return ABIWide
}

// ParseABI maps "auto", "wide"/"64" and "narrow"/"32".
func ParseABI(s string) (ABI, error) {
	switch s {
	case "", "auto":
		return HostABI(), nil
	case "wide", "64":
		return ABIWide, nil
	case "narrow", "32":
		return ABINarrow, nil
	default:
		return ABIWide, fmt.Errorf("unknown abi %q (use auto|wide|narrow)", s)
	}
}

// HeaderSize is the size of bcm_msg_head including the tail padding that
// aligns the first frame record to 8 bytes.
func (a ABI) HeaderSize() int {
	if a == ABINarrow {
		return 40
	}
	return 56
}

// Header is a decoded bcm_msg_head.
type Header struct {
	Opcode    Opcode
	Flags     Flags
	Count     uint32   // number of frames sent at Interval1 before switching to Interval2
	Interval1 Interval // initial burst / RX timeout
	Interval2 Interval // steady-state cadence / RX rate limit
	CANID     uint32
	NFrames   uint32
}

// Variant returns the frame record layout implied by the flags.
func (h Header) Variant() can.Variant { return ClassifyVariant(h.Flags) }

// Message is a header plus its trailing frame records.
type Message struct {
	Header Header
	Frames []can.Frame
}

// ClassifyVariant is a pure function of the CAN_FD_FRAME bit.
func ClassifyVariant(f Flags) can.Variant {
	if f&CAN_FD_FRAME != 0 {
		return can.FD
	}
	return can.Classic
}

// MessageSize is the encoded length of a message with n frames.
func MessageSize(abi ABI, v can.Variant, n int) int {
	return abi.HeaderSize() + n*v.RecordSize()
}

// Codec encodes/decodes BCM messages for one ABI. Stateless and safe for concurrent use.
type Codec struct {
	ABI ABI
}

// Encode serializes m. NFrames must equal len(Frames).
func (c *Codec) Encode(m Message) ([]byte, error) {
	v := m.Header.Variant()
	return c.AppendEncode(make([]byte, 0, MessageSize(c.ABI, v, len(m.Frames))), m)
}

// AppendEncode appends the encoding of m to dst.
func (c *Codec) AppendEncode(dst []byte, m Message) ([]byte, error) {
	h := m.Header
	if int(h.NFrames) != len(m.Frames) {
		return dst, validationErr(ErrCountMismatch, "header declares %d frames, %d supplied", h.NFrames, len(m.Frames))
	}
	if err := h.Interval1.Validate(); err != nil {
		return dst, err
	}
	if err := h.Interval2.Validate(); err != nil {
		return dst, err
	}
	if c.ABI == ABINarrow && (!h.Interval1.fits32() || !h.Interval2.fits32()) {
		return dst, validationErr(ErrInvalidInterval, "interval exceeds 32-bit timeval")
	}

	var hb [56]byte
	le := binary.LittleEndian
	le.PutUint32(hb[0:4], uint32(h.Opcode))
	le.PutUint32(hb[4:8], uint32(h.Flags))
	le.PutUint32(hb[8:12], h.Count)
	switch c.ABI {
	case ABINarrow:
		le.PutUint32(hb[12:16], uint32(h.Interval1.Sec))
		le.PutUint32(hb[16:20], uint32(h.Interval1.Usec))
		le.PutUint32(hb[20:24], uint32(h.Interval2.Sec))
		le.PutUint32(hb[24:28], uint32(h.Interval2.Usec))
		le.PutUint32(hb[28:32], h.CANID)
		le.PutUint32(hb[32:36], h.NFrames)
	default:
		// hb[12:16] is padding before the 8-byte aligned timeval
		le.PutUint64(hb[16:24], uint64(h.Interval1.Sec))
		le.PutUint64(hb[24:32], uint64(h.Interval1.Usec))
		le.PutUint64(hb[32:40], uint64(h.Interval2.Sec))
		le.PutUint64(hb[40:48], uint64(h.Interval2.Usec))
		le.PutUint32(hb[48:52], h.CANID)
		le.PutUint32(hb[52:56], h.NFrames)
	}
	dst = append(dst, hb[:c.ABI.HeaderSize()]...)

	v := h.Variant()
	for _, f := range m.Frames {
		dst = can.AppendFrame(dst, f, v)
	}
	return dst, nil
}

// DecodeHeader parses only the fixed header.
func (c *Codec) DecodeHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < c.ABI.HeaderSize() {
		return h, decodeErr(ErrTruncatedMessage, "%s header needs %d bytes, have %d", c.ABI, c.ABI.HeaderSize(), len(b))
	}
	le := binary.LittleEndian
	h.Opcode = Opcode(le.Uint32(b[0:4]))
	h.Flags = Flags(le.Uint32(b[4:8]))
	h.Count = le.Uint32(b[8:12])
	switch c.ABI {
	case ABINarrow:
		h.Interval1 = Interval{Sec: int64(int32(le.Uint32(b[12:16]))), Usec: int64(int32(le.Uint32(b[16:20])))}
		h.Interval2 = Interval{Sec: int64(int32(le.Uint32(b[20:24]))), Usec: int64(int32(le.Uint32(b[24:28])))}
		h.CANID = le.Uint32(b[28:32])
		h.NFrames = le.Uint32(b[32:36])
	default:
		h.Interval1 = Interval{Sec: int64(le.Uint64(b[16:24])), Usec: int64(le.Uint64(b[24:32]))}
		h.Interval2 = Interval{Sec: int64(le.Uint64(b[32:40])), Usec: int64(le.Uint64(b[40:48]))}
		h.CANID = le.Uint32(b[48:52])
		h.NFrames = le.Uint32(b[52:56])
	}
	return h, nil
}

// Decode parses one complete message. The payload after the header must hold
// exactly NFrames records of the variant selected by CAN_FD_FRAME.
func (c *Codec) Decode(b []byte) (Message, error) {
	h, err := c.DecodeHeader(b)
	if err != nil {
		return Message{}, err
	}
	v := h.Variant()
	rest := b[c.ABI.HeaderSize():]
	size := v.RecordSize()
	if uint64(len(rest)) != uint64(h.NFrames)*uint64(size) {
		return Message{}, decodeErr(ErrFrameCountMismatch, "%d %s frames need %d bytes, have %d",
			h.NFrames, v, uint64(h.NFrames)*uint64(size), len(rest))
	}
	m := Message{Header: h}
	if h.NFrames > 0 {
		m.Frames = make([]can.Frame, 0, h.NFrames)
	}
	for off := 0; off < len(rest); off += size {
		f, err := can.DecodeFrame(rest[off:off+size], v)
		if err != nil {
			return Message{}, fmt.Errorf("%w: frame %d: %w", ErrDecode, off/size, err)
		}
		m.Frames = append(m.Frames, f)
	}
	return m, nil
}

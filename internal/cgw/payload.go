package cgw

import (
	"github.com/kstaniek/go-canbcm/internal/can"
	"github.com/mdlayher/netlink/nlenc"
)

// Gateway payloads are C structs in host byte order, like every other
// netlink integer, so they go through nlenc rather than a fixed endianness.

// Payload sizes of the typed attributes.
const (
	ModSize      = can.ClassicRecordSize + 1 // struct cgw_frame_mod
	FDModSize    = can.FDRecordSize + 1      // struct cgw_fdframe_mod
	XORSize      = 4                         // struct cgw_csum_xor
	CRC8Size     = 282                       // struct cgw_csum_crc8
	FilterSize   = 8                         // struct can_filter
	IfIndexSize  = 4
	UIDSize      = 4
	CounterSize  = 4
	HopLimitSize = 1

	crc8ProfileDataLen = 20
)

// ModType selects which frame fields a modification touches (CGW_MOD_*).
type ModType uint8

const (
	ModID    ModType = 0x01
	ModLen   ModType = 0x02
	ModData  ModType = 0x04
	ModFlags ModType = 0x08 // CAN FD flags, FD modifications only
)

// Modification is the operand of a MOD_* / FDMOD_* attribute. Frame is a
// raw operand, not a message: every Data byte is significant (AND masks
// usually keep 0xFF past Len), so it is encoded without length truncation.
type Modification struct {
	Frame  can.Frame
	Fields ModType
}

func encodeMod(m Modification, v can.Variant) []byte {
	size := v.RecordSize()
	b := make([]byte, size+1)
	nlenc.PutUint32(b[0:4], m.Frame.CANID)
	b[4] = m.Frame.Len
	if v == can.FD {
		b[5] = m.Frame.Flags
	}
	copy(b[8:size], m.Frame.Data[:v.MaxLen()])
	b[size] = uint8(m.Fields)
	return b
}

func decodeMod(t AttrType, b []byte, v can.Variant) (Modification, error) {
	size := v.RecordSize()
	if len(b) != size+1 {
		return Modification{}, decodeErr(ErrPayloadSize, "%s: %d bytes, want %d", t, len(b), size+1)
	}
	var m Modification
	m.Frame.CANID = nlenc.Uint32(b[0:4])
	m.Frame.Len = b[4]
	if v == can.FD {
		m.Frame.Flags = b[5]
	}
	copy(m.Frame.Data[:], b[8:size])
	m.Fields = ModType(b[size])
	return m, nil
}

// XORChecksum computes the XOR of data[From..To] into data[Result].
// Negative indices count from the end of the payload.
type XORChecksum struct {
	From, To, Result int8
	Init             uint8
}

func (x XORChecksum) encode() []byte {
	return []byte{uint8(x.From), uint8(x.To), uint8(x.Result), x.Init}
}

func decodeXOR(b []byte) (XORChecksum, error) {
	if len(b) != XORSize {
		return XORChecksum{}, decodeErr(ErrPayloadSize, "%s: %d bytes, want %d", CS_XOR, len(b), XORSize)
	}
	return XORChecksum{From: int8(b[0]), To: int8(b[1]), Result: int8(b[2]), Init: b[3]}, nil
}

// CRC8Profile selects the extra input the kernel mixes into a CRC8 checksum.
type CRC8Profile uint8

const (
	CRC8ProfileUnspec   CRC8Profile = iota
	CRC8Profile1U8                  // one u8 value taken from ProfileData[0]
	CRC8Profile16U8                 // u8 value table selected by data[1] & 0xF
	CRC8ProfileSFFIDXOR             // CAN id XOR of the standard frame format
)

// CRC8Checksum computes a table driven CRC8 of data[From..To] into data[Result].
type CRC8Checksum struct {
	From, To, Result int8
	Init             uint8
	FinalXOR         uint8
	Table            [256]byte
	Profile          CRC8Profile
	ProfileData      [crc8ProfileDataLen]byte
}

// CRC8Table builds the lookup table for a normal (MSB first) polynomial.
func CRC8Table(poly uint8) [256]byte {
	var t [256]byte
	for i := range t {
		c := uint8(i)
		for range 8 {
			if c&0x80 != 0 {
				c = c<<1 ^ poly
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}

func (c CRC8Checksum) encode() []byte {
	b := make([]byte, CRC8Size)
	b[0], b[1], b[2] = uint8(c.From), uint8(c.To), uint8(c.Result)
	b[3], b[4] = c.Init, c.FinalXOR
	copy(b[5:261], c.Table[:])
	b[261] = uint8(c.Profile)
	copy(b[262:], c.ProfileData[:])
	return b
}

func decodeCRC8(b []byte) (CRC8Checksum, error) {
	if len(b) != CRC8Size {
		return CRC8Checksum{}, decodeErr(ErrPayloadSize, "%s: %d bytes, want %d", CS_CRC8, len(b), CRC8Size)
	}
	var c CRC8Checksum
	c.From, c.To, c.Result = int8(b[0]), int8(b[1]), int8(b[2])
	c.Init, c.FinalXOR = b[3], b[4]
	copy(c.Table[:], b[5:261])
	c.Profile = CRC8Profile(b[261])
	copy(c.ProfileData[:], b[262:])
	return c, nil
}

func encodeFilter(f can.Filter) []byte {
	b := make([]byte, FilterSize)
	nlenc.PutUint32(b[0:4], f.CANID)
	nlenc.PutUint32(b[4:8], f.Mask)
	return b
}

func decodeFilter(b []byte) (can.Filter, error) {
	if len(b) != FilterSize {
		return can.Filter{}, decodeErr(ErrPayloadSize, "%s: %d bytes, want %d", FILTER, len(b), FilterSize)
	}
	return can.Filter{CANID: nlenc.Uint32(b[0:4]), Mask: nlenc.Uint32(b[4:8])}, nil
}

func decodeU32(t AttrType, b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, decodeErr(ErrPayloadSize, "%s: %d bytes, want 4", t, len(b))
	}
	return nlenc.Uint32(b), nil
}

func decodeU8(t AttrType, b []byte) (uint8, error) {
	if len(b) != 1 {
		return 0, decodeErr(ErrPayloadSize, "%s: %d bytes, want 1", t, len(b))
	}
	return b[0], nil
}

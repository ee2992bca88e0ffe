package can

import (
	"encoding/binary"
	"fmt"
)

// EncodeFrame serializes f as one fixed-size record of variant v.
//
//	classic: can_id u32 | len u8 | pad 3B | data[8]
//	fd:      can_id u32 | len u8 | flags u8 | res 2B | data[64]
//
// Bytes past Len are always emitted as zero.
func EncodeFrame(f Frame, v Variant) []byte {
	return AppendFrame(make([]byte, 0, v.RecordSize()), f, v)
}

// AppendFrame appends the record for f to dst and returns the extended slice.
func AppendFrame(dst []byte, f Frame, v Variant) []byte {
	var rec [FDRecordSize]byte
	size := v.RecordSize()
	binary.LittleEndian.PutUint32(rec[0:4], f.CANID)
	n := int(f.Len)
	if n > v.MaxLen() {
		n = v.MaxLen()
	}
	rec[4] = uint8(n)
	if v == FD {
		rec[5] = f.Flags
	}
	copy(rec[8:8+n], f.Data[:n])
	return append(dst, rec[:size]...)
}

// DecodeFrame parses one record of variant v from the start of b.
func DecodeFrame(b []byte, v Variant) (Frame, error) {
	var f Frame
	size := v.RecordSize()
	if len(b) < size {
		return f, fmt.Errorf("%w: %s record needs %d bytes, have %d", ErrMalformedFrame, v, size, len(b))
	}
	n := int(b[4])
	if n > v.MaxLen() {
		return f, fmt.Errorf("%w: len %d exceeds %s max %d", ErrMalformedFrame, n, v, v.MaxLen())
	}
	if v == FD && !ValidFDLen(n) {
		return f, fmt.Errorf("%w: len %d is not a CAN FD length", ErrMalformedFrame, n)
	}
	f.CANID = binary.LittleEndian.Uint32(b[0:4])
	f.Len = uint8(n)
	if v == FD {
		f.Flags = b[5]
	}
	copy(f.Data[:n], b[8:8+n])
	return f, nil
}

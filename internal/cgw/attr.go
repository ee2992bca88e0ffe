// Package cgw speaks the CAN gateway netlink protocol: attribute framing,
// the typed payloads the kernel understands, the routing Rule model and a
// client for adding, removing and dumping gateway jobs.
package cgw

import (
	"errors"
	"fmt"

	"github.com/mdlayher/netlink"
)

// AttrType is the nlattr type of a gateway attribute (enum cgw_attr_type).
type AttrType uint16

const (
	MOD_AND   AttrType = iota + 1 // CAN frame modification binary AND
	MOD_OR                        // CAN frame modification binary OR
	MOD_XOR                       // CAN frame modification binary XOR
	MOD_SET                       // CAN frame modification set alternate values
	CS_XOR                        // set data[] XOR checksum into data[index]
	CS_CRC8                       // set data[] CRC8 checksum into data[index]
	HANDLED                       // number of handled CAN frames
	DROPPED                       // number of dropped CAN frames
	SRC_IF                        // ifindex of source network interface
	DST_IF                        // ifindex of destination network interface
	FILTER                        // specify struct can_filter on source CAN device
	DELETED                       // number of deleted CAN frames (see max_hops param)
	LIM_HOPS                      // limit the number of hops of this specific rule
	MOD_UID                       // user defined identifier for modification updates
	FDMOD_AND                     // CAN FD frame modification binary AND
	FDMOD_OR                      // CAN FD frame modification binary OR
	FDMOD_XOR                     // CAN FD frame modification binary XOR
	FDMOD_SET                     // CAN FD frame modification set alternate values
)

var attrNames = [...]string{
	MOD_AND:   "MOD_AND",
	MOD_OR:    "MOD_OR",
	MOD_XOR:   "MOD_XOR",
	MOD_SET:   "MOD_SET",
	CS_XOR:    "CS_XOR",
	CS_CRC8:   "CS_CRC8",
	HANDLED:   "HANDLED",
	DROPPED:   "DROPPED",
	SRC_IF:    "SRC_IF",
	DST_IF:    "DST_IF",
	FILTER:    "FILTER",
	DELETED:   "DELETED",
	LIM_HOPS:  "LIM_HOPS",
	MOD_UID:   "MOD_UID",
	FDMOD_AND: "FDMOD_AND",
	FDMOD_OR:  "FDMOD_OR",
	FDMOD_XOR: "FDMOD_XOR",
	FDMOD_SET: "FDMOD_SET",
}

// attrFlags are the nlattr type bits that are not part of the type number.
const attrFlags = AttrType(netlink.Nested | netlink.NetByteOrder)

// Base strips NLA_F_NESTED and NLA_F_NET_BYTEORDER, as the kernel does before
// dispatching on the type.
func (t AttrType) Base() AttrType { return t &^ attrFlags }

func (t AttrType) String() string {
	if t >= MOD_AND && t <= FDMOD_SET {
		return attrNames[t]
	}
	return fmt.Sprintf("CGW_ATTR(%d)", uint16(t))
}

// Attribute is one gateway attribute. Data is the payload exactly as it
// appears on the wire, without alignment padding.
type Attribute struct {
	Type AttrType
	Data []byte
}

// maxAttrPayload keeps the nlattr length (payload + 4 byte header) within 16 bits.
const maxAttrPayload = 0xFFFF - 4

var (
	// ErrDecode is the family of every gateway decode failure.
	ErrDecode = errors.New("cgw: decode")

	ErrTruncatedAttribute = errors.New("truncated attribute")
	ErrPayloadSize        = errors.New("unexpected payload size")
	ErrAttributeTooLarge  = errors.New("attribute payload too large")
)

func decodeErr(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrDecode, sentinel, fmt.Sprintf(format, args...))
}

// Parse splits a flat attribute stream. The cursor advances to the next
// 4-byte boundary after every attribute; a length reaching past the end of b
// fails the whole stream with ErrTruncatedAttribute. Types keep their flag
// bits, so Build(Parse(b)) reproduces b. A header-only attribute is an entry
// with empty Data.
func Parse(b []byte) ([]Attribute, error) {
	ad, err := netlink.NewAttributeDecoder(b)
	if err != nil {
		return nil, decodeErr(ErrTruncatedAttribute, "%v", err)
	}
	if ad.Len() == 0 && len(b) == 0 {
		return nil, nil
	}
	attrs := make([]Attribute, 0, ad.Len())
	for ad.Next() {
		attrs = append(attrs, Attribute{Type: AttrType(ad.Type() | ad.TypeFlags()), Data: ad.Bytes()})
	}
	if err := ad.Err(); err != nil {
		return nil, decodeErr(ErrTruncatedAttribute, "after %d attributes: %v", len(attrs), err)
	}
	return attrs, nil
}

// Build is the inverse of Parse: each payload is zero padded to 4 bytes and
// the emitted length covers header plus payload only.
func Build(attrs []Attribute) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	for _, a := range attrs {
		if len(a.Data) > maxAttrPayload {
			return nil, fmt.Errorf("%w: %s carries %d bytes", ErrAttributeTooLarge, a.Type, len(a.Data))
		}
		ae.Bytes(uint16(a.Type), a.Data)
	}
	return ae.Encode()
}

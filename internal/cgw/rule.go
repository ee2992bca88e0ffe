package cgw

import (
	"errors"
	"fmt"

	"github.com/kstaniek/go-canbcm/internal/can"
	"github.com/mdlayher/netlink/nlenc"
)

const (
	afCAN     = 29 // AF_CAN
	gwCANCAN  = 1  // CGW_TYPE_CAN_CAN
	rtMsgSize = 4  // struct rtcanmsg
)

// RuleFlags are the rtcanmsg flags (CGW_FLAGS_CAN_*).
type RuleFlags uint16

const (
	FlagEcho      RuleFlags = 0x01 // mark routed frames as echo for the source socket
	FlagSrcTstamp RuleFlags = 0x02 // keep the source timestamp
	FlagIIFTxOK   RuleFlags = 0x04 // allow routing back to the incoming interface
	FlagFD        RuleFlags = 0x08 // CAN FD job, uses FDMOD_* attributes
)

// RtCanMsg is the fixed header in front of the attribute stream.
type RtCanMsg struct {
	Family uint8
	GwType uint8
	Flags  RuleFlags
}

func (h RtCanMsg) marshal() []byte {
	b := make([]byte, rtMsgSize)
	b[0], b[1] = h.Family, h.GwType
	nlenc.PutUint16(b[2:4], uint16(h.Flags))
	return b
}

func unmarshalRtCanMsg(b []byte) (RtCanMsg, error) {
	if len(b) < rtMsgSize {
		return RtCanMsg{}, decodeErr(ErrTruncatedAttribute, "rtcanmsg needs %d bytes, have %d", rtMsgSize, len(b))
	}
	return RtCanMsg{Family: b[0], GwType: b[1], Flags: RuleFlags(nlenc.Uint16(b[2:4]))}, nil
}

// Validation errors for rules, raised before anything is sent.
var (
	ErrValidation       = errors.New("cgw: validation")
	ErrMissingInterface = errors.New("source and destination interface required")
	ErrRoutingLoop      = errors.New("source equals destination without IIF_TX_OK")
)

// Rule is one CAN-to-CAN gateway job. Zero values mean "not set": the kernel
// treats an unset filter, uid or hop limit the same way.
type Rule struct {
	Flags RuleFlags
	SrcIf uint32
	DstIf uint32

	Filter *can.Filter

	// Frame modifications, applied by the kernel in AND, OR, XOR, SET order.
	// Their variant follows FlagFD.
	And, Or, Xor, Set *Modification

	XOR  *XORChecksum
	CRC8 *CRC8Checksum

	HopLimit uint8
	UID      uint32

	// Statistics reported by dumps.
	Handled, Dropped, Deleted uint32

	// Extra keeps attributes this package does not model, in stream order.
	Extra []Attribute
}

// Variant is the frame layout of the rule's modifications.
func (r Rule) Variant() can.Variant {
	if r.Flags&FlagFD != 0 {
		return can.FD
	}
	return can.Classic
}

// Validate checks what the kernel refuses for RTM_NEWROUTE.
func (r Rule) Validate() error {
	if r.SrcIf == 0 || r.DstIf == 0 {
		return fmt.Errorf("%w: %w: src=%d dst=%d", ErrValidation, ErrMissingInterface, r.SrcIf, r.DstIf)
	}
	if r.SrcIf == r.DstIf && r.Flags&FlagIIFTxOK == 0 {
		return fmt.Errorf("%w: %w: ifindex %d", ErrValidation, ErrRoutingLoop, r.SrcIf)
	}
	return nil
}

// Attributes renders the rule in the order the kernel dumps jobs.
func (r Rule) Attributes() []Attribute {
	var attrs []Attribute
	u32 := func(t AttrType, v uint32) {
		if v != 0 {
			attrs = append(attrs, Attribute{Type: t, Data: nlenc.Uint32Bytes(v)})
		}
	}
	u32(HANDLED, r.Handled)
	u32(DROPPED, r.Dropped)
	u32(DELETED, r.Deleted)
	if r.HopLimit != 0 {
		attrs = append(attrs, Attribute{Type: LIM_HOPS, Data: []byte{r.HopLimit}})
	}

	v := r.Variant()
	base := MOD_AND
	if v == can.FD {
		base = FDMOD_AND
	}
	for i, m := range []*Modification{r.And, r.Or, r.Xor, r.Set} {
		if m != nil {
			attrs = append(attrs, Attribute{Type: base + AttrType(i), Data: encodeMod(*m, v)})
		}
	}
	u32(MOD_UID, r.UID)
	if r.CRC8 != nil {
		attrs = append(attrs, Attribute{Type: CS_CRC8, Data: r.CRC8.encode()})
	}
	if r.XOR != nil {
		attrs = append(attrs, Attribute{Type: CS_XOR, Data: r.XOR.encode()})
	}
	if r.Filter != nil {
		attrs = append(attrs, Attribute{Type: FILTER, Data: encodeFilter(*r.Filter)})
	}
	u32(SRC_IF, r.SrcIf)
	u32(DST_IF, r.DstIf)
	return append(attrs, r.Extra...)
}

// RuleFromAttributes rebuilds a rule from a parsed stream. flags come from
// the rtcanmsg header and decide how FD and classic modifications are read.
func RuleFromAttributes(flags RuleFlags, attrs []Attribute) (Rule, error) {
	r := Rule{Flags: flags}
	var err error
	for _, a := range attrs {
		switch t := a.Type.Base(); t {
		case MOD_AND, MOD_OR, MOD_XOR, MOD_SET:
			err = r.setMod(t-MOD_AND, a, can.Classic)
		case FDMOD_AND, FDMOD_OR, FDMOD_XOR, FDMOD_SET:
			err = r.setMod(t-FDMOD_AND, a, can.FD)
		case CS_XOR:
			var x XORChecksum
			if x, err = decodeXOR(a.Data); err == nil {
				r.XOR = &x
			}
		case CS_CRC8:
			var c CRC8Checksum
			if c, err = decodeCRC8(a.Data); err == nil {
				r.CRC8 = &c
			}
		case FILTER:
			var f can.Filter
			if f, err = decodeFilter(a.Data); err == nil {
				r.Filter = &f
			}
		case SRC_IF:
			r.SrcIf, err = decodeU32(a.Type, a.Data)
		case DST_IF:
			r.DstIf, err = decodeU32(a.Type, a.Data)
		case MOD_UID:
			r.UID, err = decodeU32(a.Type, a.Data)
		case HANDLED:
			r.Handled, err = decodeU32(a.Type, a.Data)
		case DROPPED:
			r.Dropped, err = decodeU32(a.Type, a.Data)
		case DELETED:
			r.Deleted, err = decodeU32(a.Type, a.Data)
		case LIM_HOPS:
			r.HopLimit, err = decodeU8(a.Type, a.Data)
		default:
			r.Extra = append(r.Extra, a)
		}
		if err != nil {
			return Rule{}, err
		}
	}
	return r, nil
}

func (r *Rule) setMod(slot AttrType, a Attribute, v can.Variant) error {
	m, err := decodeMod(a.Type, a.Data, v)
	if err != nil {
		return err
	}
	if v == can.FD {
		r.Flags |= FlagFD
	}
	switch slot {
	case 0:
		r.And = &m
	case 1:
		r.Or = &m
	case 2:
		r.Xor = &m
	default:
		r.Set = &m
	}
	return nil
}

// MarshalRule encodes the rtnetlink payload: rtcanmsg followed by attributes.
func MarshalRule(r Rule) ([]byte, error) {
	attrs, err := Build(r.Attributes())
	if err != nil {
		return nil, err
	}
	hdr := RtCanMsg{Family: afCAN, GwType: gwCANCAN, Flags: r.Flags}.marshal()
	return append(hdr, attrs...), nil
}

// UnmarshalRule decodes an RTM_NEWROUTE payload. Non CAN-to-CAN jobs are
// reported with ErrUnsupportedGateway.
func UnmarshalRule(b []byte) (Rule, error) {
	h, err := unmarshalRtCanMsg(b)
	if err != nil {
		return Rule{}, err
	}
	if h.Family != afCAN || h.GwType != gwCANCAN {
		return Rule{}, fmt.Errorf("%w: family %d type %d", ErrUnsupportedGateway, h.Family, h.GwType)
	}
	attrs, err := Parse(b[rtMsgSize:])
	if err != nil {
		return Rule{}, err
	}
	return RuleFromAttributes(h.Flags, attrs)
}

// ErrUnsupportedGateway marks a job that is not AF_CAN / CGW_TYPE_CAN_CAN.
var ErrUnsupportedGateway = errors.New("cgw: unsupported gateway type")

package cgw

import (
	"bytes"
	"testing"

	"github.com/kstaniek/go-canbcm/internal/can"
	"github.com/stretchr/testify/require"
)

func fullRule() Rule {
	and := Modification{Frame: can.NewFrame(0x7FF, []byte{0xFF, 0xFF, 0, 0, 0, 0, 0, 0}), Fields: ModData}
	set := Modification{Frame: can.NewFrame(0x222, nil), Fields: ModID}
	crc := CRC8Checksum{From: 0, To: 6, Result: 7, Init: 0xFF, FinalXOR: 0xFF, Table: CRC8Table(0x1D), Profile: CRC8Profile1U8}
	crc.ProfileData[0] = 0x42
	return Rule{
		Flags:    FlagEcho | FlagSrcTstamp,
		SrcIf:    3,
		DstIf:    4,
		Filter:   &can.Filter{CANID: 0x100, Mask: 0x700},
		And:      &and,
		Set:      &set,
		XOR:      &XORChecksum{From: 0, To: -2, Result: -1, Init: 0x5A},
		CRC8:     &crc,
		HopLimit: 2,
		UID:      0xCAFE,
		Handled:  10,
		Dropped:  1,
		Extra:    []Attribute{{Type: AttrType(42), Data: []byte{1, 2, 3, 4}}},
	}
}

func TestRuleRoundTrip(t *testing.T) {
	r := fullRule()
	b, err := MarshalRule(r)
	require.NoError(t, err)
	require.Zero(t, len(b)%4)
	require.Equal(t, []byte{afCAN, gwCANCAN}, b[0:2])

	got, err := UnmarshalRule(b)
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestRuleFD_UsesFDMods(t *testing.T) {
	xor := Modification{Frame: can.NewFDFrame(0, bytes.Repeat([]byte{0xAA}, 64), can.CANFD_BRS), Fields: ModData | ModFlags}
	r := Rule{Flags: FlagFD, SrcIf: 1, DstIf: 2, Xor: &xor}
	attrs := r.Attributes()
	var found bool
	for _, a := range attrs {
		require.NotEqual(t, MOD_XOR, a.Type)
		if a.Type == FDMOD_XOR {
			found = true
			require.Len(t, a.Data, FDModSize)
		}
	}
	require.True(t, found)

	got, err := RuleFromAttributes(FlagFD, attrs)
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestModification_KeepsMaskBytesPastLen(t *testing.T) {
	m := Modification{Fields: ModData}
	m.Frame.Len = 0
	for i := range 8 {
		m.Frame.Data[i] = 0xFF
	}
	b := encodeMod(m, can.Classic)
	require.Len(t, b, ModSize)
	require.Equal(t, bytes.Repeat([]byte{0xFF}, 8), b[8:16])
	got, err := decodeMod(MOD_AND, b, can.Classic)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestPayloadSizeChecks(t *testing.T) {
	cases := []Attribute{
		{Type: MOD_AND, Data: make([]byte, ModSize-1)},
		{Type: FDMOD_SET, Data: make([]byte, ModSize)},
		{Type: CS_XOR, Data: make([]byte, 5)},
		{Type: CS_CRC8, Data: make([]byte, CRC8Size+1)},
		{Type: FILTER, Data: make([]byte, 4)},
		{Type: SRC_IF, Data: []byte{1}},
		{Type: LIM_HOPS, Data: []byte{1, 0}},
	}
	for _, a := range cases {
		_, err := RuleFromAttributes(0, []Attribute{a})
		require.ErrorIs(t, err, ErrPayloadSize, "type %s", a.Type)
		require.ErrorIs(t, err, ErrDecode)
	}
}

func TestCRC8Size(t *testing.T) {
	require.Len(t, CRC8Checksum{}.encode(), CRC8Size)
	require.Len(t, XORChecksum{}.encode(), XORSize)
}

func TestCRC8Table(t *testing.T) {
	tab := CRC8Table(0x07)
	require.Equal(t, byte(0x00), tab[0])
	require.Equal(t, byte(0x07), tab[1])
	require.Equal(t, byte(0x0E), tab[2])
	require.Equal(t, byte(0x89), tab[0x80])
}

func TestRuleValidate(t *testing.T) {
	require.ErrorIs(t, Rule{SrcIf: 1}.Validate(), ErrMissingInterface)
	require.ErrorIs(t, Rule{SrcIf: 1, DstIf: 1}.Validate(), ErrRoutingLoop)
	require.NoError(t, Rule{SrcIf: 1, DstIf: 1, Flags: FlagIIFTxOK}.Validate())
	require.ErrorIs(t, Rule{}.Validate(), ErrValidation)
}

func TestUnmarshalRule_Unsupported(t *testing.T) {
	_, err := UnmarshalRule([]byte{afCAN, 2, 0, 0})
	require.ErrorIs(t, err, ErrUnsupportedGateway)
	_, err = UnmarshalRule([]byte{afCAN})
	require.ErrorIs(t, err, ErrTruncatedAttribute)
}

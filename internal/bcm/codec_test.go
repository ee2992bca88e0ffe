package bcm

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/kstaniek/go-canbcm/internal/can"
	"github.com/stretchr/testify/require"
)

func classicTask(id uint32) CyclicTxTask {
	return CyclicTxTask{
		ID:          id,
		Frames:      []can.Frame{can.NewFrame(id, []byte{1, 2, 3, 4})},
		Interval2:   IntervalOf(100 * time.Millisecond),
		SetInterval: true,
		StartTimer:  true,
	}
}

func TestMessageLengths(t *testing.T) {
	fdTask := classicTask(0x200)
	fdTask.Variant = can.FD
	fdTask.Frames = []can.Frame{can.NewFDFrame(0x200, make([]byte, 24), can.CANFD_BRS)}

	send, err := TxSend(can.NewFrame(0x300, []byte{0xAA}), can.Classic)
	require.NoError(t, err)

	build := func(t *testing.T, b interface{ Message() (Message, error) }) Message {
		t.Helper()
		m, err := b.Message()
		require.NoError(t, err)
		return m
	}

	cases := []struct {
		name string
		msg  Message
		wide int
	}{
		{"tx_setup_classic", build(t, classicTask(0x100)), 72},
		{"tx_setup_fd", build(t, fdTask), 128},
		{"rx_setup_no_frames", build(t, RxFilter{ID: 0x123}), 56},
		{"tx_delete", TxDelete(0x100, can.Classic), 56},
		{"tx_send_classic", send, 72},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wide, err := (&Codec{ABI: ABIWide}).Encode(tc.msg)
			require.NoError(t, err)
			require.Len(t, wide, tc.wide)
			narrow, err := (&Codec{ABI: ABINarrow}).Encode(tc.msg)
			require.NoError(t, err)
			require.Len(t, narrow, tc.wide-16)
		})
	}
}

func TestEncode_WideHeaderLayout(t *testing.T) {
	m := Message{Header: Header{
		Opcode:    TX_SETUP,
		Flags:     SETTIMER | STARTTIMER,
		Count:     3,
		Interval1: Interval{Sec: 1, Usec: 500},
		Interval2: Interval{Sec: 0, Usec: 250000},
		CANID:     0x123,
		NFrames:   1,
	}, Frames: []can.Frame{can.NewFrame(0x123, []byte{0x11})}}
	b, err := (&Codec{ABI: ABIWide}).Encode(m)
	require.NoError(t, err)
	le := binary.LittleEndian
	require.Equal(t, uint32(TX_SETUP), le.Uint32(b[0:]))
	require.Equal(t, uint32(SETTIMER|STARTTIMER), le.Uint32(b[4:]))
	require.Equal(t, uint32(3), le.Uint32(b[8:]))
	require.Equal(t, []byte{0, 0, 0, 0}, b[12:16], "alignment padding")
	require.Equal(t, uint64(1), le.Uint64(b[16:]))
	require.Equal(t, uint64(500), le.Uint64(b[24:]))
	require.Equal(t, uint64(0), le.Uint64(b[32:]))
	require.Equal(t, uint64(250000), le.Uint64(b[40:]))
	require.Equal(t, uint32(0x123), le.Uint32(b[48:]))
	require.Equal(t, uint32(1), le.Uint32(b[52:]))
	require.Equal(t, uint32(0x123), le.Uint32(b[56:]), "first frame starts after header")
}

func TestEncode_NarrowHeaderLayout(t *testing.T) {
	m := Message{Header: Header{
		Opcode:    RX_SETUP,
		Flags:     RX_FILTER_ID,
		Interval1: Interval{Sec: 2, Usec: 7},
		Interval2: Interval{Sec: 3, Usec: 9},
		CANID:     0x7FF,
	}}
	b, err := (&Codec{ABI: ABINarrow}).Encode(m)
	require.NoError(t, err)
	require.Len(t, b, 40)
	le := binary.LittleEndian
	require.Equal(t, uint32(2), le.Uint32(b[12:]))
	require.Equal(t, uint32(7), le.Uint32(b[16:]))
	require.Equal(t, uint32(3), le.Uint32(b[20:]))
	require.Equal(t, uint32(9), le.Uint32(b[24:]))
	require.Equal(t, uint32(0x7FF), le.Uint32(b[28:]))
	require.Equal(t, uint32(0), le.Uint32(b[32:]))
}

func TestCodecRoundTrip(t *testing.T) {
	frames := []can.Frame{
		can.NewFrame(0x10, []byte{1}),
		can.NewFrame(0x10, []byte{1, 2, 3, 4, 5, 6, 7, 8}),
	}
	fdFrames := []can.Frame{
		can.NewFDFrame(0x1234|can.CAN_EFF_FLAG, make([]byte, 64), can.CANFD_BRS),
	}
	msgs := []Message{
		{Header: Header{Opcode: TX_SETUP, Flags: SETTIMER, Count: 5, Interval1: Interval{0, 10000}, Interval2: Interval{1, 0}, CANID: 0x10, NFrames: 2}, Frames: frames},
		{Header: Header{Opcode: RX_CHANGED, Flags: CAN_FD_FRAME, CANID: 0x1234 | can.CAN_EFF_FLAG, NFrames: 1}, Frames: fdFrames},
		{Header: Header{Opcode: RX_TIMEOUT, CANID: 0x55}},
	}
	for _, abi := range []ABI{ABIWide, ABINarrow} {
		c := &Codec{ABI: abi}
		for _, m := range msgs {
			b, err := c.Encode(m)
			require.NoError(t, err)
			got, err := c.Decode(b)
			require.NoError(t, err)
			require.Equal(t, m, got, "abi=%s opcode=%s", abi, m.Header.Opcode)
		}
	}
}

func TestEncode_CountMismatch(t *testing.T) {
	m := Message{Header: Header{Opcode: TX_SETUP, CANID: 1, NFrames: 2}, Frames: []can.Frame{can.NewFrame(1, nil)}}
	_, err := (&Codec{}).Encode(m)
	if !errors.Is(err, ErrCountMismatch) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected count mismatch validation error, got %v", err)
	}
}

func TestEncode_NarrowRejectsWideInterval(t *testing.T) {
	m := Message{Header: Header{Opcode: RX_SETUP, CANID: 1, Interval1: Interval{Sec: 1 << 40}}}
	_, err := (&Codec{ABI: ABINarrow}).Encode(m)
	require.ErrorIs(t, err, ErrInvalidInterval)
	_, err = (&Codec{ABI: ABIWide}).Encode(m)
	require.NoError(t, err)
}

func TestDecode_Truncated(t *testing.T) {
	for _, abi := range []ABI{ABIWide, ABINarrow} {
		_, err := (&Codec{ABI: abi}).Decode(make([]byte, abi.HeaderSize()-1))
		if !errors.Is(err, ErrTruncatedMessage) || !errors.Is(err, ErrDecode) {
			t.Fatalf("abi %s: expected truncated, got %v", abi, err)
		}
	}
}

func TestDecode_FrameCountMismatch(t *testing.T) {
	c := &Codec{ABI: ABIWide}
	b, err := c.Encode(Message{Header: Header{Opcode: RX_CHANGED, CANID: 1, NFrames: 1}, Frames: []can.Frame{can.NewFrame(1, []byte{1})}})
	require.NoError(t, err)

	// declared 2, carries 1
	binary.LittleEndian.PutUint32(b[52:], 2)
	_, err = c.Decode(b)
	require.ErrorIs(t, err, ErrFrameCountMismatch)

	// FD flag set: the classic record no longer fits
	binary.LittleEndian.PutUint32(b[52:], 1)
	binary.LittleEndian.PutUint32(b[4:], uint32(CAN_FD_FRAME))
	_, err = c.Decode(b)
	require.ErrorIs(t, err, ErrFrameCountMismatch)

	// trailing garbage
	binary.LittleEndian.PutUint32(b[4:], 0)
	_, err = c.Decode(append(b, 0))
	require.ErrorIs(t, err, ErrFrameCountMismatch)
}

func TestDecode_HugeFrameCount(t *testing.T) {
	b := make([]byte, ABIWide.HeaderSize())
	binary.LittleEndian.PutUint32(b[52:], 0xFFFFFFFF)
	_, err := (&Codec{ABI: ABIWide}).Decode(b)
	require.ErrorIs(t, err, ErrFrameCountMismatch)
}

func TestDecode_BadFrameLength(t *testing.T) {
	c := &Codec{ABI: ABIWide}
	b, err := c.Encode(Message{Header: Header{Opcode: RX_CHANGED, CANID: 1, NFrames: 1}, Frames: []can.Frame{can.NewFrame(1, nil)}})
	require.NoError(t, err)
	b[56+4] = 9 // classic len > 8
	_, err = c.Decode(b)
	require.ErrorIs(t, err, ErrDecode)
	require.ErrorIs(t, err, can.ErrMalformedFrame)
}

func TestClassifyVariant(t *testing.T) {
	require.Equal(t, can.Classic, ClassifyVariant(SETTIMER|RX_FILTER_ID))
	require.Equal(t, can.FD, ClassifyVariant(CAN_FD_FRAME))
	require.Equal(t, can.FD, ClassifyVariant(CAN_FD_FRAME|STARTTIMER))
}

func TestParseABI(t *testing.T) {
	for in, want := range map[string]ABI{"wide": ABIWide, "64": ABIWide, "narrow": ABINarrow, "32": ABINarrow, "auto": HostABI(), "": HostABI()} {
		got, err := ParseABI(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseABI("16")
	require.Error(t, err)
}

func TestFlagsString(t *testing.T) {
	require.Equal(t, "0", Flags(0).String())
	require.Equal(t, "SETTIMER|CAN_FD_FRAME", (SETTIMER | CAN_FD_FRAME).String())
	require.Equal(t, "STARTTIMER|0x10000", (STARTTIMER | 0x10000).String())
	require.Equal(t, "OPCODE(13)", Opcode(13).String())
	require.Equal(t, "RX_CHANGED", RX_CHANGED.String())
}

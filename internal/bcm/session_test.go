package bcm

import (
	"errors"
	"io"
	"os"
	"testing"

	"github.com/kstaniek/go-canbcm/internal/can"
	"github.com/stretchr/testify/require"
)

// fakeChannel records written datagrams and replays queued reads.
type fakeChannel struct {
	writes   [][]byte
	reads    [][]byte
	writeErr error
	short    bool
}

func (c *fakeChannel) Write(b []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), b...))
	if c.short {
		return len(b) - 1, nil
	}
	return len(b), nil
}

func (c *fakeChannel) Read(b []byte) (int, error) {
	if len(c.reads) == 0 {
		return 0, os.ErrDeadlineExceeded
	}
	n := copy(b, c.reads[0])
	c.reads = c.reads[1:]
	return n, nil
}

func (c *fakeChannel) queue(t *testing.T, abi ABI, m Message) {
	t.Helper()
	b, err := (&Codec{ABI: abi}).Encode(m)
	require.NoError(t, err)
	c.reads = append(c.reads, b)
}

func TestSession_SetupTaskWritesAndRecords(t *testing.T) {
	ch := &fakeChannel{}
	s := NewSession(ch, WithABI(ABINarrow))
	task := classicTask(0x100)
	require.NoError(t, s.SetupTask(task))
	require.Len(t, ch.writes, 1)
	require.Len(t, ch.writes[0], 56)

	m, err := (&Codec{ABI: ABINarrow}).Decode(ch.writes[0])
	require.NoError(t, err)
	require.Equal(t, TX_SETUP, m.Header.Opcode)

	k, ok := s.Registry().Task(0x100, can.Classic)
	require.True(t, ok)
	require.Equal(t, Submitted, k.Source)
	require.Equal(t, task, k.Config)

	require.NoError(t, s.DeleteTask(0x100, can.Classic))
	_, ok = s.Registry().Task(0x100, can.Classic)
	require.False(t, ok)
}

func TestSession_ValidationNeverWrites(t *testing.T) {
	ch := &fakeChannel{}
	s := NewSession(ch)
	err := s.SetupTask(CyclicTxTask{ID: 1})
	require.ErrorIs(t, err, ErrEmptyFrameSet)
	err = s.SetupFilter(RxFilter{ID: 1, ReplyToRTR: true})
	require.ErrorIs(t, err, ErrTooManyFramesForRTRReply)
	require.Empty(t, ch.writes)
	require.Empty(t, s.Registry().TaskKeys())
	require.Empty(t, s.Registry().FilterKeys())
}

func TestSession_ShortWrite(t *testing.T) {
	s := NewSession(&fakeChannel{short: true})
	err := s.SendFrame(can.NewFrame(1, nil), can.Classic)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	require.ErrorIs(t, err, io.ErrShortWrite)
	require.Equal(t, TX_SEND, te.Code)
	require.Equal(t, SocketError, te.Kind)
}

func TestSession_ReceiveTimeoutIsWouldBlock(t *testing.T) {
	s := NewSession(&fakeChannel{})
	_, err := s.Receive()
	require.True(t, IsKind(err, WouldBlock), "got %v", err)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	require.True(t, te.Timeout())
}

func TestSession_ReadTaskKeepsNotificationsInOrder(t *testing.T) {
	ch := &fakeChannel{}
	s := NewSession(ch, WithABI(ABIWide))
	changed := Message{Header: Header{Opcode: RX_CHANGED, CANID: 0x200, NFrames: 1}, Frames: []can.Frame{can.NewFrame(0x200, []byte{9})}}
	timeout := Message{Header: Header{Opcode: RX_TIMEOUT, CANID: 0x300}}
	task := classicTask(0x100)
	status, err := task.Message()
	require.NoError(t, err)
	status.Header.Opcode = TX_STATUS

	ch.queue(t, ABIWide, changed)
	ch.queue(t, ABIWide, timeout)
	ch.queue(t, ABIWide, status)

	got, err := s.ReadTask(0x100, can.Classic)
	require.NoError(t, err)
	require.Equal(t, task, got)
	require.Equal(t, 2, s.Pending())

	k, ok := s.Registry().Task(0x100, can.Classic)
	require.True(t, ok)
	require.Equal(t, ReadBack, k.Source)

	r, err := s.Receive()
	require.NoError(t, err)
	require.Equal(t, KindRxChanged, r.Kind())
	r, err = s.Receive()
	require.NoError(t, err)
	require.Equal(t, KindRxTimeout, r.Kind())
	require.Zero(t, s.Pending())
}

func TestSession_ReadFilterRTR(t *testing.T) {
	ch := &fakeChannel{}
	s := NewSession(ch, WithABI(ABIWide))
	f := RxFilter{ID: 0x321, ReplyToRTR: true, Frames: []can.Frame{can.NewFrame(0x321, []byte{1})}}
	require.NoError(t, s.SetupFilter(f))
	status, err := f.Message()
	require.NoError(t, err)
	status.Header.Opcode = RX_STATUS
	ch.queue(t, ABIWide, status)

	got, err := s.ReadFilter(0x321, can.Classic)
	require.NoError(t, err)
	require.Equal(t, f, got)
	require.Equal(t, []Key{{0x321, can.Classic}}, s.Registry().FilterKeys())
}

func (c *fakeChannel) written(t *testing.T, abi ABI) []Header {
	t.Helper()
	out := make([]Header, len(c.writes))
	for i, b := range c.writes {
		m, err := (&Codec{ABI: abi}).Decode(b)
		require.NoError(t, err)
		out[i] = m.Header
	}
	return out
}

func TestSession_RTRReplyFilterDeleteAndRead(t *testing.T) {
	ch := &fakeChannel{}
	s := NewSession(ch, WithABI(ABIWide))
	f := RxFilter{ID: 0x321, ReplyToRTR: true, Frames: []can.Frame{can.NewFrame(0x321, []byte{1})}}
	require.NoError(t, s.SetupFilter(f))
	require.NoError(t, s.RequestFilter(0x321, can.Classic))
	require.NoError(t, s.DeleteFilter(0x321, can.Classic))

	hs := ch.written(t, ABIWide)
	require.Len(t, hs, 3)
	for i, op := range []Opcode{RX_SETUP, RX_READ, RX_DELETE} {
		require.Equal(t, op, hs[i].Opcode)
		require.Equal(t, uint32(0x321)|can.CAN_RTR_FLAG, hs[i].CANID, "%s", op)
	}
	require.Empty(t, s.Registry().FilterKeys())
}

func TestSession_RTRReplyFilterDeleteByWireID(t *testing.T) {
	ch := &fakeChannel{}
	s := NewSession(ch, WithABI(ABIWide))
	f := RxFilter{ID: 0x321, ReplyToRTR: true, Frames: []can.Frame{can.NewFrame(0x321, []byte{1})}}
	require.NoError(t, s.SetupFilter(f))
	require.NoError(t, s.DeleteFilter(0x321|can.CAN_RTR_FLAG, can.Classic))

	hs := ch.written(t, ABIWide)
	require.Equal(t, uint32(0x321)|can.CAN_RTR_FLAG, hs[1].CANID)
	require.Empty(t, s.Registry().FilterKeys())
}

func TestSession_UnknownFilterUsesGivenID(t *testing.T) {
	ch := &fakeChannel{}
	s := NewSession(ch, WithABI(ABIWide))
	require.NoError(t, s.DeleteFilter(0x55, can.Classic))
	require.Equal(t, uint32(0x55), ch.written(t, ABIWide)[0].CANID)
}

func TestSession_RegistrySeparatesVariants(t *testing.T) {
	s := NewSession(&fakeChannel{}, WithABI(ABIWide))
	classic := classicTask(0x100)
	fd := CyclicTxTask{
		ID:      0x100,
		Variant: can.FD,
		Frames:  []can.Frame{can.NewFDFrame(0x100, make([]byte, 12), 0)},
	}
	require.NoError(t, s.SetupTask(classic))
	require.NoError(t, s.SetupTask(fd))
	require.Equal(t, []Key{{0x100, can.Classic}, {0x100, can.FD}}, s.Registry().TaskKeys())

	require.NoError(t, s.DeleteTask(0x100, can.Classic))
	_, ok := s.Registry().Task(0x100, can.Classic)
	require.False(t, ok)
	k, ok := s.Registry().Task(0x100, can.FD)
	require.True(t, ok)
	require.Equal(t, fd, k.Config)
}

func TestSession_DecodeErrorSurfaces(t *testing.T) {
	ch := &fakeChannel{reads: [][]byte{make([]byte, 10)}}
	s := NewSession(ch, WithABI(ABIWide))
	_, err := s.Receive()
	require.ErrorIs(t, err, ErrTruncatedMessage)

	ch.queue(t, ABIWide, Message{Header: Header{Opcode: TX_SETUP}})
	_, err = s.Receive()
	require.ErrorIs(t, err, ErrUnknownOpcode)
}

func TestSession_WriteErrorWrapped(t *testing.T) {
	boom := errors.New("boom")
	s := NewSession(&fakeChannel{writeErr: boom})
	err := s.RequestTask(1, can.Classic)
	require.ErrorIs(t, err, boom)
	require.True(t, IsKind(err, SocketError))
}

package bcm

import (
	"testing"

	"github.com/kstaniek/go-canbcm/internal/can"
	"github.com/stretchr/testify/require"
)

func TestClassify_RxTimeout(t *testing.T) {
	r, err := Classify(Message{Header: Header{Opcode: RX_TIMEOUT, CANID: 0x123}})
	require.NoError(t, err)
	to, ok := r.(RxTimeout)
	require.True(t, ok, "got %T", r)
	require.Equal(t, KindRxTimeout, to.Kind())
	require.Equal(t, uint32(0x123), to.CANID())
}

func TestClassify_RxChanged(t *testing.T) {
	f := can.NewFrame(0x123, []byte{1, 2, 3})
	m := Message{Header: Header{Opcode: RX_CHANGED, CANID: 0x123, NFrames: 1}, Frames: []can.Frame{f}}
	r, err := Classify(m)
	require.NoError(t, err)
	ch, ok := r.(RxChanged)
	require.True(t, ok, "got %T", r)
	got, ok := ch.Frame()
	require.True(t, ok)
	require.Equal(t, f, got)

	// the response owns its frames
	m.Frames[0].Data[0] = 0xEE
	got, _ = ch.Frame()
	require.Equal(t, byte(1), got.Data[0])
}

func TestClassify_FrameCountRules(t *testing.T) {
	_, err := Classify(Message{Header: Header{Opcode: RX_TIMEOUT, NFrames: 1}, Frames: []can.Frame{can.NewFrame(1, nil)}})
	require.ErrorIs(t, err, ErrFrameCountMismatch)
	_, err = Classify(Message{Header: Header{Opcode: RX_CHANGED}})
	require.ErrorIs(t, err, ErrFrameCountMismatch)
}

func TestClassify_StatusReplies(t *testing.T) {
	task := classicTask(0x55)
	m, err := task.Message()
	require.NoError(t, err)
	m.Header.Opcode = TX_STATUS
	r, err := Classify(m)
	require.NoError(t, err)
	require.Equal(t, TxTaskStatus{Task: task}, r)

	filter := RxFilter{ID: 0x66, FilterByIDOnly: true}
	fm, err := filter.Message()
	require.NoError(t, err)
	fm.Header.Opcode = RX_STATUS
	r, err = Classify(fm)
	require.NoError(t, err)
	require.Equal(t, KindRxFilterStatus, r.Kind())
	require.Equal(t, filter, r.(RxFilterStatus).Filter)

	r, err = Classify(Message{Header: Header{Opcode: TX_EXPIRED, CANID: 0x55}})
	require.NoError(t, err)
	require.Equal(t, TxExpired{Header: Header{Opcode: TX_EXPIRED, CANID: 0x55}}, r)
}

func TestClassify_RejectsRequestsAndUnknown(t *testing.T) {
	for _, op := range []Opcode{TX_SETUP, TX_DELETE, TX_READ, TX_SEND, RX_SETUP, RX_DELETE, RX_READ, 0, 13, 0xFFFF} {
		_, err := Classify(Message{Header: Header{Opcode: op}})
		require.ErrorIs(t, err, ErrUnknownOpcode, "opcode %s", op)
		require.ErrorIs(t, err, ErrDecode)
	}
}

func TestClassify_Idempotent(t *testing.T) {
	m := Message{Header: Header{Opcode: RX_CHANGED, CANID: 7, NFrames: 2}, Frames: []can.Frame{can.NewFrame(7, []byte{1}), can.NewFrame(7, []byte{2})}}
	a, err := Classify(m)
	require.NoError(t, err)
	b, err := Classify(m)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestResponseKindString(t *testing.T) {
	require.Equal(t, "tx_status", KindTxTaskStatus.String())
	require.Equal(t, "rx_changed", KindRxChanged.String())
	require.Equal(t, "unknown", ResponseKind(0).String())
}

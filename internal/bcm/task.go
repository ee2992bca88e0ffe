package bcm

import (
	"github.com/kstaniek/go-canbcm/internal/can"
)

// MaxFrames is the kernel's per-task frame limit (MAX_NFRAMES).
const MaxFrames = 256

// CyclicTxTask describes a kernel-side cyclic transmission of one or more
// frames for a CAN id. It is the last configuration submitted (or read back),
// not the live kernel state.
type CyclicTxTask struct {
	ID      uint32 // task id, a can_id including EFF/RTR flags
	Variant can.Variant
	Frames  []can.Frame // sent in order, one per interval tick

	// Count frames are sent at Interval1, then the task continues at Interval2.
	Count     uint32
	Interval1 Interval
	Interval2 Interval

	StartTimer                  bool // STARTTIMER
	SetInterval                 bool // SETTIMER
	CopyCANID                   bool // TX_CP_CAN_ID
	NotifyFirstIntervalComplete bool // TX_COUNTEVT
	ResetMultiIndex             bool // TX_RESET_MULTI_IDX
	AnnounceUpdate              bool // TX_ANNOUNCE: send changed frames immediately
}

// ImmediatelyQueueNewFrame reports whether the kernel queues the first frame
// right away. It always equals StartTimer.
func (t CyclicTxTask) ImmediatelyQueueNewFrame() bool { return t.StartTimer }

// Flags returns the bcm flags encoding the task's intents.
func (t CyclicTxTask) Flags() Flags {
	var f Flags
	f = f.set(SETTIMER, t.SetInterval)
	f = f.set(STARTTIMER, t.StartTimer)
	f = f.set(TX_COUNTEVT, t.NotifyFirstIntervalComplete)
	f = f.set(TX_ANNOUNCE, t.AnnounceUpdate)
	f = f.set(TX_CP_CAN_ID, t.CopyCANID)
	f = f.set(TX_RESET_MULTI_IDX, t.ResetMultiIndex)
	f = f.set(CAN_FD_FRAME, t.Variant == can.FD)
	return f
}

// Validate checks the invariants the kernel rejects for every TX_SETUP.
func (t CyclicTxTask) Validate() error {
	if len(t.Frames) == 0 {
		return validationErr(ErrEmptyFrameSet, "tx task 0x%X has no frames", t.ID)
	}
	if len(t.Frames) > MaxFrames {
		return validationErr(ErrTooManyFrames, "tx task 0x%X has %d frames (max %d)", t.ID, len(t.Frames), MaxFrames)
	}
	if err := t.Interval1.Validate(); err != nil {
		return err
	}
	if err := t.Interval2.Validate(); err != nil {
		return err
	}
	return validateFrames(t.Frames, t.Variant)
}

// Message builds the TX_SETUP request for the task.
func (t CyclicTxTask) Message() (Message, error) {
	if err := t.Validate(); err != nil {
		return Message{}, err
	}
	frames := make([]can.Frame, len(t.Frames))
	copy(frames, t.Frames)
	return Message{
		Header: Header{
			Opcode:    TX_SETUP,
			Flags:     t.Flags(),
			Count:     t.Count,
			Interval1: t.Interval1,
			Interval2: t.Interval2,
			CANID:     t.ID,
			NFrames:   uint32(len(frames)),
		},
		Frames: frames,
	}, nil
}

// TaskFromMessage rebuilds the task model from a TX_SETUP or TX_STATUS message.
func TaskFromMessage(m Message) CyclicTxTask {
	h := m.Header
	var frames []can.Frame
	if len(m.Frames) > 0 {
		frames = make([]can.Frame, len(m.Frames))
		copy(frames, m.Frames)
	}
	return CyclicTxTask{
		ID:                          h.CANID,
		Variant:                     h.Variant(),
		Frames:                      frames,
		Count:                       h.Count,
		Interval1:                   h.Interval1,
		Interval2:                   h.Interval2,
		StartTimer:                  h.Flags.Has(STARTTIMER),
		SetInterval:                 h.Flags.Has(SETTIMER),
		CopyCANID:                   h.Flags.Has(TX_CP_CAN_ID),
		NotifyFirstIntervalComplete: h.Flags.Has(TX_COUNTEVT),
		ResetMultiIndex:             h.Flags.Has(TX_RESET_MULTI_IDX),
		AnnounceUpdate:              h.Flags.Has(TX_ANNOUNCE),
	}
}

// TxSend builds a TX_SEND request transmitting f once.
func TxSend(f can.Frame, v can.Variant) (Message, error) {
	if err := validateFrames([]can.Frame{f}, v); err != nil {
		return Message{}, err
	}
	return Message{
		Header: Header{
			Opcode:  TX_SEND,
			Flags:   Flags(0).set(CAN_FD_FRAME, v == can.FD),
			CANID:   f.CANID,
			NFrames: 1,
		},
		Frames: []can.Frame{f},
	}, nil
}

// TxDelete builds a TX_DELETE request for task id.
func TxDelete(id uint32, v can.Variant) Message { return headerOnly(TX_DELETE, id, v) }

// TxRead builds a TX_READ request; the kernel answers with TX_STATUS.
func TxRead(id uint32, v can.Variant) Message { return headerOnly(TX_READ, id, v) }

// RxDelete builds an RX_DELETE request for subscription id.
func RxDelete(id uint32, v can.Variant) Message { return headerOnly(RX_DELETE, id, v) }

// RxRead builds an RX_READ request; the kernel answers with RX_STATUS.
func RxRead(id uint32, v can.Variant) Message { return headerOnly(RX_READ, id, v) }

func headerOnly(op Opcode, id uint32, v can.Variant) Message {
	return Message{Header: Header{
		Opcode: op,
		Flags:  Flags(0).set(CAN_FD_FRAME, v == can.FD),
		CANID:  id,
	}}
}

func validateFrames(frames []can.Frame, v can.Variant) error {
	for i, f := range frames {
		if err := f.Validate(v); err != nil {
			return validationErr(err, "frame %d", i)
		}
	}
	return nil
}

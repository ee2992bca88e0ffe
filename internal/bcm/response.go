package bcm

import (
	"github.com/kstaniek/go-canbcm/internal/can"
)

// ResponseKind names the logical kind of a kernel notification.
type ResponseKind int

const (
	KindTxTaskStatus ResponseKind = iota + 1
	KindRxFilterStatus
	KindTxExpired
	KindRxTimeout
	KindRxChanged
)

func (k ResponseKind) String() string {
	switch k {
	case KindTxTaskStatus:
		return "tx_status"
	case KindRxFilterStatus:
		return "rx_status"
	case KindTxExpired:
		return "tx_expired"
	case KindRxTimeout:
		return "rx_timeout"
	case KindRxChanged:
		return "rx_changed"
	default:
		return "unknown"
	}
}

// Response is one classified kernel notification. The concrete types are
// TxTaskStatus, RxFilterStatus, TxExpired, RxTimeout and RxChanged.
type Response interface {
	Kind() ResponseKind
	// CANID is the id the notification refers to (flags included).
	CANID() uint32
	isResponse()
}

// TxTaskStatus is the TX_STATUS reply to TX_READ: the task as the kernel holds it.
type TxTaskStatus struct {
	Task CyclicTxTask
}

// RxFilterStatus is the RX_STATUS reply to RX_READ: the subscription as the kernel holds it.
type RxFilterStatus struct {
	Filter RxFilter
}

// TxExpired is sent once the Count frames at Interval1 are done, when
// NotifyFirstIntervalComplete was requested.
type TxExpired struct {
	Header Header
}

// RxTimeout reports that no matching frame arrived within the RX timeout.
// It never carries frames.
type RxTimeout struct {
	Header Header
}

// RxChanged carries the received frame(s) that differ from the last known
// content. It is also sent for the first frame after (re)arming, so it does
// not imply a previous frame existed.
type RxChanged struct {
	Header Header
	Frames []can.Frame
}

func (TxTaskStatus) Kind() ResponseKind   { return KindTxTaskStatus }
func (RxFilterStatus) Kind() ResponseKind { return KindRxFilterStatus }
func (TxExpired) Kind() ResponseKind      { return KindTxExpired }
func (RxTimeout) Kind() ResponseKind      { return KindRxTimeout }
func (RxChanged) Kind() ResponseKind      { return KindRxChanged }

func (r TxTaskStatus) CANID() uint32   { return r.Task.ID }
func (r RxFilterStatus) CANID() uint32 { return r.Filter.ID }
func (r TxExpired) CANID() uint32      { return r.Header.CANID }
func (r RxTimeout) CANID() uint32      { return r.Header.CANID }
func (r RxChanged) CANID() uint32      { return r.Header.CANID }

func (TxTaskStatus) isResponse()   {}
func (RxFilterStatus) isResponse() {}
func (TxExpired) isResponse()      {}
func (RxTimeout) isResponse()      {}
func (RxChanged) isResponse()      {}

// Frame returns the first changed frame.
func (r RxChanged) Frame() (can.Frame, bool) {
	if len(r.Frames) == 0 {
		return can.Frame{}, false
	}
	return r.Frames[0], true
}

// Classify maps a decoded kernel message to its response kind. It keeps no
// state: classifying the same message twice yields equal results.
func Classify(m Message) (Response, error) {
	h := m.Header
	switch h.Opcode {
	case TX_STATUS:
		return TxTaskStatus{Task: TaskFromMessage(m)}, nil
	case RX_STATUS:
		return RxFilterStatus{Filter: FilterFromMessage(m)}, nil
	case TX_EXPIRED:
		return TxExpired{Header: h}, nil
	case RX_TIMEOUT:
		if len(m.Frames) != 0 {
			return nil, decodeErr(ErrFrameCountMismatch, "RX_TIMEOUT with %d frames", len(m.Frames))
		}
		return RxTimeout{Header: h}, nil
	case RX_CHANGED:
		if len(m.Frames) == 0 {
			return nil, decodeErr(ErrFrameCountMismatch, "RX_CHANGED without frames")
		}
		frames := make([]can.Frame, len(m.Frames))
		copy(frames, m.Frames)
		return RxChanged{Header: h, Frames: frames}, nil
	default:
		return nil, decodeErr(ErrUnknownOpcode, "%s is not a kernel notification", h.Opcode)
	}
}

package bcm

import (
	"github.com/kstaniek/go-canbcm/internal/can"
)

// RxFilter subscribes to content changes and reception timeouts for a CAN id.
//
// Frames holds the content masks compared against received frames (a single
// frame, or a multiplex mask followed by up to 256 mux frames). With
// ReplyToRTR it holds the one frame the kernel sends back on an RTR request.
type RxFilter struct {
	ID      uint32
	Variant can.Variant
	Frames  []can.Frame

	Timeout   Interval // RX_TIMEOUT is raised when nothing arrives within this interval
	RateLimit Interval // minimum spacing between RX_CHANGED notifications

	SetTimer       bool // SETTIMER: apply Timeout/RateLimit
	StartTimer     bool // STARTTIMER: start the timeout now
	FilterByIDOnly bool // RX_FILTER_ID: report every frame for the id, no content compare
	CheckDLC       bool // RX_CHECK_DLC: a length change also counts as a change
	NoAutoTimer    bool // RX_NO_AUTOTIMER: do not restart the timeout on reception
	ReplyToRTR     bool // RX_RTR_FRAME: answer RTR requests with Frames[0]
	AnnounceResume bool // RX_ANNOUNCE_RESUME: report the first frame after a timeout
}

// MaxRxFrames is the RX_SETUP limit: one mux mask plus MaxFrames.
const MaxRxFrames = MaxFrames + 1

// Flags returns the bcm flags encoding the subscription's intents.
func (r RxFilter) Flags() Flags {
	var f Flags
	f = f.set(SETTIMER, r.SetTimer)
	f = f.set(STARTTIMER, r.StartTimer)
	f = f.set(RX_FILTER_ID, r.FilterByIDOnly || len(r.Frames) == 0)
	f = f.set(RX_CHECK_DLC, r.CheckDLC)
	f = f.set(RX_NO_AUTOTIMER, r.NoAutoTimer)
	f = f.set(RX_ANNOUNCE_RESUME, r.AnnounceResume)
	f = f.set(RX_RTR_FRAME, r.ReplyToRTR)
	f = f.set(CAN_FD_FRAME, r.Variant == can.FD)
	return f
}

// Validate checks the invariants the kernel rejects for every RX_SETUP.
func (r RxFilter) Validate() error {
	if r.ReplyToRTR {
		if len(r.Frames) != 1 {
			return validationErr(ErrTooManyFramesForRTRReply, "rx filter 0x%X has %d frames", r.ID, len(r.Frames))
		}
		if r.FilterByIDOnly {
			return validationErr(ErrTooManyFramesForRTRReply, "rx filter 0x%X: filter-by-id discards the reply frame", r.ID)
		}
	}
	if len(r.Frames) > MaxRxFrames {
		return validationErr(ErrTooManyFrames, "rx filter 0x%X has %d frames (max %d)", r.ID, len(r.Frames), MaxRxFrames)
	}
	if err := r.Timeout.Validate(); err != nil {
		return err
	}
	if err := r.RateLimit.Validate(); err != nil {
		return err
	}
	return validateFrames(r.Frames, r.Variant)
}

// WireID is the can_id the kernel files the subscription under. RTR-reply
// subscriptions carry CAN_RTR_FLAG, and RX_DELETE/RX_READ must match it.
func (r RxFilter) WireID() uint32 {
	if r.ReplyToRTR {
		return r.ID | can.CAN_RTR_FLAG
	}
	return r.ID
}

// Message builds the RX_SETUP request. Filter-by-id subscriptions carry no
// frames on the wire, matching what the kernel keeps.
func (r RxFilter) Message() (Message, error) {
	if err := r.Validate(); err != nil {
		return Message{}, err
	}
	var frames []can.Frame
	if !r.FilterByIDOnly && len(r.Frames) > 0 {
		frames = make([]can.Frame, len(r.Frames))
		copy(frames, r.Frames)
	}
	return Message{
		Header: Header{
			Opcode:    RX_SETUP,
			Flags:     r.Flags(),
			Interval1: r.Timeout,
			Interval2: r.RateLimit,
			CANID:     r.WireID(),
			NFrames:   uint32(len(frames)),
		},
		Frames: frames,
	}, nil
}

// FilterFromMessage rebuilds the subscription model from an RX_SETUP or
// RX_STATUS message.
func FilterFromMessage(m Message) RxFilter {
	h := m.Header
	var frames []can.Frame
	if len(m.Frames) > 0 {
		frames = make([]can.Frame, len(m.Frames))
		copy(frames, m.Frames)
	}
	id := h.CANID
	if h.Flags.Has(RX_RTR_FRAME) {
		id &^= can.CAN_RTR_FLAG
	}
	return RxFilter{
		ID:             id,
		Variant:        h.Variant(),
		Frames:         frames,
		Timeout:        h.Interval1,
		RateLimit:      h.Interval2,
		SetTimer:       h.Flags.Has(SETTIMER),
		StartTimer:     h.Flags.Has(STARTTIMER),
		FilterByIDOnly: h.Flags.Has(RX_FILTER_ID),
		CheckDLC:       h.Flags.Has(RX_CHECK_DLC),
		NoAutoTimer:    h.Flags.Has(RX_NO_AUTOTIMER),
		ReplyToRTR:     h.Flags.Has(RX_RTR_FRAME),
		AnnounceResume: h.Flags.Has(RX_ANNOUNCE_RESUME),
	}
}

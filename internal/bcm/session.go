package bcm

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/kstaniek/go-canbcm/internal/can"
	"github.com/kstaniek/go-canbcm/internal/logging"
	"github.com/kstaniek/go-canbcm/internal/metrics"
)

// Channel is the duplex datagram channel to the broadcast manager: every
// Write carries one whole message and every Read returns one whole message.
// *socketcan.BCMSocket implements it on Linux; tests use fakes.
type Channel interface {
	io.Reader
	io.Writer
}

// Session drives one BCM channel. It is not safe for concurrent use: the
// kernel offers no request ids, so replies are matched by program order and
// by opcode/id only. Use one Session per goroutine, or one channel per task group.
type Session struct {
	ch      Channel
	codec   Codec
	reg     *Registry
	logger  *slog.Logger
	rbuf    []byte
	backlog []Response
}

type SessionOption func(*Session)

// WithABI overrides the host ABI (useful for 32-bit userspace on 64-bit kernels in tests).
func WithABI(a ABI) SessionOption { return func(s *Session) { s.codec.ABI = a } }

func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRegistry shares a registry between sessions or with an observer.
func WithRegistry(r *Registry) SessionOption {
	return func(s *Session) {
		if r != nil {
			s.reg = r
		}
	}
}

func NewSession(ch Channel, opts ...SessionOption) *Session {
	s := &Session{
		ch:     ch,
		codec:  Codec{ABI: HostABI()},
		reg:    NewRegistry(),
		logger: logging.Component("bcm"),
	}
	for _, o := range opts {
		o(s)
	}
	s.rbuf = make([]byte, MessageSize(s.codec.ABI, can.FD, MaxRxFrames))
	return s
}

// Registry exposes the last known task/filter configurations.
func (s *Session) Registry() *Registry { return s.reg }

// ABI returns the header layout used on the channel.
func (s *Session) ABI() ABI { return s.codec.ABI }

// SetupTask submits (or updates) a cyclic transmission task.
func (s *Session) SetupTask(t CyclicTxTask) error {
	m, err := t.Message()
	if err != nil {
		return err
	}
	if err := s.WriteMessage(m); err != nil {
		return err
	}
	s.reg.putTask(t, Submitted)
	s.logger.Debug("bcm_task_setup", "can_id", fmt.Sprintf("0x%X", t.ID), "frames", len(t.Frames), "flags", m.Header.Flags.String())
	return nil
}

// DeleteTask removes a cyclic transmission task. A missing task surfaces as a
// *TransportError of kind NoSuchTask.
func (s *Session) DeleteTask(id uint32, v can.Variant) error {
	if err := s.WriteMessage(TxDelete(id, v)); err != nil {
		return err
	}
	s.reg.dropTask(Key{id, v})
	s.logger.Debug("bcm_task_delete", "can_id", fmt.Sprintf("0x%X", id))
	return nil
}

// SendFrame transmits f once through the broadcast manager (TX_SEND).
func (s *Session) SendFrame(f can.Frame, v can.Variant) error {
	m, err := TxSend(f, v)
	if err != nil {
		return err
	}
	return s.WriteMessage(m)
}

// SetupFilter submits (or updates) a receive content filter subscription.
func (s *Session) SetupFilter(f RxFilter) error {
	m, err := f.Message()
	if err != nil {
		return err
	}
	if err := s.WriteMessage(m); err != nil {
		return err
	}
	s.reg.putFilter(f, Submitted)
	s.logger.Debug("bcm_filter_setup", "can_id", fmt.Sprintf("0x%X", f.ID), "frames", len(m.Frames), "flags", m.Header.Flags.String())
	return nil
}

// DeleteFilter removes a receive subscription. id may be the bare id of an
// RTR-reply subscription set up through this session; the request then
// carries CAN_RTR_FLAG like the RX_SETUP did.
func (s *Session) DeleteFilter(id uint32, v can.Variant) error {
	key, wire := s.filterID(id, v)
	if err := s.WriteMessage(RxDelete(wire, v)); err != nil {
		return err
	}
	s.reg.dropFilter(key)
	s.logger.Debug("bcm_filter_delete", "can_id", fmt.Sprintf("0x%X", id))
	return nil
}

// RequestTask sends TX_READ without waiting; the TX_STATUS arrives via Receive.
func (s *Session) RequestTask(id uint32, v can.Variant) error { return s.WriteMessage(TxRead(id, v)) }

// RequestFilter sends RX_READ without waiting; the RX_STATUS arrives via Receive.
func (s *Session) RequestFilter(id uint32, v can.Variant) error {
	_, wire := s.filterID(id, v)
	return s.WriteMessage(RxRead(wire, v))
}

// filterID maps a caller's id to the registry key and the can_id on the wire.
func (s *Session) filterID(id uint32, v can.Variant) (Key, uint32) {
	if k, ok := s.reg.Filter(id, v); ok {
		return Key{id, v}, k.Config.WireID()
	}
	if bare := id &^ can.CAN_RTR_FLAG; bare != id {
		if k, ok := s.reg.Filter(bare, v); ok && k.Config.ReplyToRTR {
			return Key{bare, v}, id
		}
	}
	return Key{id, v}, id
}

// ReadTask performs a TX_READ round trip and returns the kernel's view of the
// task. Notifications read while waiting are kept for Receive, in order.
func (s *Session) ReadTask(id uint32, v can.Variant) (CyclicTxTask, error) {
	if err := s.RequestTask(id, v); err != nil {
		return CyclicTxTask{}, err
	}
	for {
		r, err := s.readResponse()
		if err != nil {
			return CyclicTxTask{}, err
		}
		if st, ok := r.(TxTaskStatus); ok && st.Task.ID == id && st.Task.Variant == v {
			return st.Task, nil
		}
		s.backlog = append(s.backlog, r)
	}
}

// ReadFilter performs an RX_READ round trip and returns the kernel's view of
// the subscription.
func (s *Session) ReadFilter(id uint32, v can.Variant) (RxFilter, error) {
	key, wire := s.filterID(id, v)
	if err := s.WriteMessage(RxRead(wire, v)); err != nil {
		return RxFilter{}, err
	}
	for {
		r, err := s.readResponse()
		if err != nil {
			return RxFilter{}, err
		}
		if st, ok := r.(RxFilterStatus); ok && st.Filter.ID == key.ID && st.Filter.Variant == key.Variant {
			return st.Filter, nil
		}
		s.backlog = append(s.backlog, r)
	}
}

// Receive returns the next classified notification. It blocks according to
// the channel's mode; a receive timeout is a *TransportError of kind WouldBlock.
func (s *Session) Receive() (Response, error) {
	if len(s.backlog) > 0 {
		r := s.backlog[0]
		s.backlog[0] = nil
		s.backlog = s.backlog[1:]
		return r, nil
	}
	return s.readResponse()
}

// Pending is the number of notifications buffered by round trips.
func (s *Session) Pending() int { return len(s.backlog) }

// WriteMessage encodes m and writes it as one datagram.
func (s *Session) WriteMessage(m Message) error {
	b, err := s.codec.Encode(m)
	if err != nil {
		return err
	}
	n, err := s.ch.Write(b)
	if err == nil && n != len(b) {
		err = io.ErrShortWrite
	}
	if err != nil {
		terr := wrapTransport("write", m.Header.Opcode, err)
		metrics.IncTransportError(terr.Kind.String())
		return terr
	}
	metrics.IncBCMTx(m.Header.Opcode.String())
	return nil
}

// ReadMessage reads and decodes one raw message.
func (s *Session) ReadMessage() (Message, error) {
	n, err := s.ch.Read(s.rbuf)
	if err != nil {
		terr := wrapTransport("read", 0, err)
		metrics.IncTransportError(terr.Kind.String())
		return Message{}, terr
	}
	m, err := s.codec.Decode(s.rbuf[:n])
	if err != nil {
		metrics.IncDecodeError()
		return Message{}, err
	}
	return m, nil
}

func (s *Session) readResponse() (Response, error) {
	m, err := s.ReadMessage()
	if err != nil {
		return nil, err
	}
	r, err := Classify(m)
	if err != nil {
		metrics.IncDecodeError()
		return nil, err
	}
	switch st := r.(type) {
	case TxTaskStatus:
		s.reg.putTask(st.Task, ReadBack)
	case RxFilterStatus:
		s.reg.putFilter(st.Filter, ReadBack)
	}
	metrics.IncBCMRx(r.Kind().String())
	return r, nil
}

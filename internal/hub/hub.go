package hub

import (
	"fmt"
	"sync"

	"github.com/kstaniek/go-canbcm/internal/bcm"
	"github.com/kstaniek/go-canbcm/internal/can"
	"github.com/kstaniek/go-canbcm/internal/logging"
	"github.com/kstaniek/go-canbcm/internal/metrics"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

func (p BackpressurePolicy) String() string {
	if p == PolicyKick {
		return "kick"
	}
	return "drop"
}

// ParsePolicy maps "drop" or "kick" to a policy.
func ParsePolicy(s string) (BackpressurePolicy, error) {
	switch s {
	case "drop":
		return PolicyDrop, nil
	case "kick":
		return PolicyKick, nil
	}
	return PolicyDrop, fmt.Errorf("unknown backpressure policy %q", s)
}

// Subscriber receives broadcast notifications on Out. With a non-empty IDs
// set it only sees notifications for those CAN ids (flags ignored).
type Subscriber struct {
	Out       chan bcm.Response
	Closed    chan struct{}
	IDs       map[uint32]struct{}
	closeOnce sync.Once
}

// NewSubscriber allocates a subscriber with an outbound buffer of buf.
func NewSubscriber(buf int, ids ...uint32) *Subscriber {
	s := &Subscriber{Out: make(chan bcm.Response, buf), Closed: make(chan struct{})}
	if len(ids) > 0 {
		s.IDs = make(map[uint32]struct{}, len(ids))
		for _, id := range ids {
			s.IDs[can.ID(id)] = struct{}{}
		}
	}
	return s
}

// Close signals the subscriber is closed (idempotent).
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.Closed)
	})
}

func (s *Subscriber) wants(r bcm.Response) bool {
	if len(s.IDs) == 0 {
		return true
	}
	_, ok := s.IDs[can.ID(r.CANID())]
	return ok
}

// Hub fans kernel notifications out to in-process subscribers.
type Hub struct {
	mu         sync.RWMutex
	subs       map[*Subscriber]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{subs: make(map[*Subscriber]struct{}), OutBufSize: 64} }

// Subscribe creates and registers a subscriber using the hub's buffer size.
func (h *Hub) Subscribe(ids ...uint32) *Subscriber {
	s := NewSubscriber(h.OutBufSize, ids...)
	h.Add(s)
	return s
}

// Add registers a subscriber with the hub.
func (h *Hub) Add(s *Subscriber) {
	h.mu.Lock()
	prev := len(h.subs)
	h.subs[s] = struct{}{}
	cur := len(h.subs)
	h.mu.Unlock()
	metrics.SetHubSubscribers(cur)
	if prev == 0 && cur == 1 {
		logging.L().Debug("hub_first_subscriber")
	}
}

// Remove unregisters a subscriber and closes it; safe to call multiple times.
func (h *Hub) Remove(s *Subscriber) {
	h.mu.Lock()
	_, existed := h.subs[s]
	if existed {
		delete(h.subs, s)
	}
	cur := len(h.subs)
	h.mu.Unlock()
	s.Close()
	metrics.SetHubSubscribers(cur)
	if existed && cur == 0 {
		logging.L().Debug("hub_last_subscriber_removed")
	}
}

// Broadcast delivers r to every interested subscriber honoring the
// backpressure policy. It never blocks.
func (h *Hub) Broadcast(r bcm.Response) {
	subs := h.Snapshot()
	for _, s := range subs {
		if !s.wants(r) {
			continue
		}
		select {
		case <-s.Closed:
			continue
		default:
		}
		select {
		case s.Out <- r:
		default:
			if h.Policy == PolicyKick {
				metrics.IncHubKick()
				h.Remove(s)
			} else {
				metrics.IncHubDrop()
			}
		}
	}
}

// Snapshot returns a slice copy of current subscribers (read-only use).
func (h *Hub) Snapshot() []*Subscriber {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	return subs
}

// Count returns the number of active subscribers.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.subs); h.mu.RUnlock(); return n }

// Close removes every subscriber.
func (h *Hub) Close() {
	for _, s := range h.Snapshot() {
		h.Remove(s)
	}
}

package bcm

import (
	"sort"
	"sync"
	"time"

	"github.com/kstaniek/go-canbcm/internal/can"
)

// Source tells where a known configuration came from.
type Source int

const (
	Submitted Source = iota // last TX_SETUP/RX_SETUP written by us
	ReadBack                // last TX_STATUS/RX_STATUS reported by the kernel
)

func (s Source) String() string {
	if s == ReadBack {
		return "read_back"
	}
	return "submitted"
}

// Known is a possibly stale view of a kernel task or subscription. The kernel
// owns the live state; a Known entry is only refreshed by an explicit read.
type Known[T any] struct {
	Config T
	Source Source
	At     time.Time
}

// Key identifies a kernel op. The kernel tells ops apart by can_id and by
// CAN_FD_FRAME, so a classic and an FD task may share an id.
type Key struct {
	ID      uint32
	Variant can.Variant
}

func (k Key) less(o Key) bool {
	if k.ID != o.ID {
		return k.ID < o.ID
	}
	return k.Variant < o.Variant
}

// Registry keeps the last known TX tasks and RX filters of one session, keyed
// by Key. Safe for concurrent use so observers can read while the session
// owner updates it.
type Registry struct {
	mu      sync.RWMutex
	now     func() time.Time
	tasks   map[Key]Known[CyclicTxTask]
	filters map[Key]Known[RxFilter]
}

func NewRegistry() *Registry {
	return &Registry{
		now:     time.Now,
		tasks:   make(map[Key]Known[CyclicTxTask]),
		filters: make(map[Key]Known[RxFilter]),
	}
}

func (r *Registry) putTask(t CyclicTxTask, src Source) {
	r.mu.Lock()
	r.tasks[Key{t.ID, t.Variant}] = Known[CyclicTxTask]{Config: t, Source: src, At: r.now()}
	r.mu.Unlock()
}

func (r *Registry) putFilter(f RxFilter, src Source) {
	r.mu.Lock()
	r.filters[Key{f.ID, f.Variant}] = Known[RxFilter]{Config: f, Source: src, At: r.now()}
	r.mu.Unlock()
}

func (r *Registry) dropTask(k Key)   { r.mu.Lock(); delete(r.tasks, k); r.mu.Unlock() }
func (r *Registry) dropFilter(k Key) { r.mu.Lock(); delete(r.filters, k); r.mu.Unlock() }

// Task returns the last known configuration of TX task id.
func (r *Registry) Task(id uint32, v can.Variant) (Known[CyclicTxTask], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.tasks[Key{id, v}]
	return k, ok
}

// Filter returns the last known configuration of RX subscription id.
func (r *Registry) Filter(id uint32, v can.Variant) (Known[RxFilter], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.filters[Key{id, v}]
	return k, ok
}

// TaskKeys returns the known TX tasks ordered by id, classic before FD.
func (r *Registry) TaskKeys() []Key {
	r.mu.RLock()
	keys := make([]Key, 0, len(r.tasks))
	for k := range r.tasks {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	return keys
}

// FilterKeys returns the known RX subscriptions ordered like TaskKeys.
func (r *Registry) FilterKeys() []Key {
	r.mu.RLock()
	keys := make([]Key, 0, len(r.filters))
	for k := range r.filters {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	return keys
}

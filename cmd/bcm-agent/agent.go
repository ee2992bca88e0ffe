package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-canbcm/internal/bcm"
	"github.com/kstaniek/go-canbcm/internal/hub"
	"github.com/kstaniek/go-canbcm/internal/metrics"
	"github.com/kstaniek/go-canbcm/internal/socketcan"
)

// bcmChannel is what the agent needs from the broadcast manager socket.
type bcmChannel interface {
	bcm.Channel
	SetReadTimeout(time.Duration) error
	Close() error
}

// openBCMSocket is a hook for tests (overridden in unit tests).
var openBCMSocket = func(iface string) (bcmChannel, error) { return socketcan.OpenBCM(iface) }

// agent owns one BCM session. Setup and cleanup run on the caller's
// goroutine; between them only the RX loop touches the session.
type agent struct {
	sess    *bcm.Session
	hub     *hub.Hub
	l       *slog.Logger
	tasks   []bcm.CyclicTxTask
	filters []bcm.RxFilter
	running atomic.Bool
}

func newAgent(ch bcm.Channel, h *hub.Hub, l *slog.Logger, opts ...bcm.SessionOption) *agent {
	opts = append([]bcm.SessionOption{bcm.WithLogger(l.With("component", "bcm"))}, opts...)
	return &agent{sess: bcm.NewSession(ch, opts...), hub: h, l: l}
}

// install submits the filters, then the tasks. On error everything submitted
// so far stays recorded for cleanup.
func (a *agent) install(tasks []bcm.CyclicTxTask, filters []bcm.RxFilter) error {
	for _, f := range filters {
		if err := a.sess.SetupFilter(f); err != nil {
			metrics.IncError(metrics.ErrTaskSetup)
			return fmt.Errorf("rx filter 0x%X: %w", f.ID, err)
		}
		a.filters = append(a.filters, f)
		a.l.Info("rx_filter_setup", "id", fmt.Sprintf("0x%X", f.ID), "variant", f.Variant.String(),
			"frames", len(f.Frames), "timeout", f.Timeout.Duration(), "flags", f.Flags().String())
	}
	for _, t := range tasks {
		if err := a.sess.SetupTask(t); err != nil {
			metrics.IncError(metrics.ErrTaskSetup)
			return fmt.Errorf("tx task 0x%X: %w", t.ID, err)
		}
		a.tasks = append(a.tasks, t)
		a.l.Info("tx_task_setup", "id", fmt.Sprintf("0x%X", t.ID), "variant", t.Variant.String(),
			"frames", len(t.Frames), "interval", t.Interval2.Duration(), "flags", t.Flags().String())
	}
	return nil
}

// run reads notifications until ctx is done or the channel fails.
// Receive timeouts are idle ticks that let the loop notice cancellation; a
// malformed datagram is skipped. Any other transport error ends the loop.
func (a *agent) run(ctx context.Context) error {
	a.running.Store(true)
	defer a.running.Store(false)
	defer a.l.Info("bcm_rx_end")
	for ctx.Err() == nil {
		r, err := a.sess.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			switch {
			case bcm.IsKind(err, bcm.WouldBlock):
				continue
			case errors.Is(err, bcm.ErrDecode):
				a.l.Warn("bcm_decode_error", "error", err)
				continue
			}
			metrics.IncError(metrics.ErrBCMRead)
			return err
		}
		a.hub.Broadcast(r)
	}
	return nil
}

// Running reports whether the RX loop is active.
func (a *agent) Running() bool { return a.running.Load() }

// cleanup deletes every submitted task and filter, tasks first. A task the
// kernel no longer knows (e.g. it expired) is not an error.
func (a *agent) cleanup() {
	for i := len(a.tasks) - 1; i >= 0; i-- {
		t := a.tasks[i]
		if err := a.sess.DeleteTask(t.ID, t.Variant); err != nil && !bcm.IsKind(err, bcm.NoSuchTask) {
			metrics.IncError(metrics.ErrBCMWrite)
			a.l.Warn("tx_task_delete_failed", "id", fmt.Sprintf("0x%X", t.ID), "error", err)
			continue
		}
		a.l.Debug("tx_task_deleted", "id", fmt.Sprintf("0x%X", t.ID))
	}
	for i := len(a.filters) - 1; i >= 0; i-- {
		f := a.filters[i]
		if err := a.sess.DeleteFilter(f.ID, f.Variant); err != nil && !bcm.IsKind(err, bcm.NoSuchTask) {
			metrics.IncError(metrics.ErrBCMWrite)
			a.l.Warn("rx_filter_delete_failed", "id", fmt.Sprintf("0x%X", f.ID), "error", err)
			continue
		}
		a.l.Debug("rx_filter_deleted", "id", fmt.Sprintf("0x%X", f.ID))
	}
	a.tasks, a.filters = nil, nil
}

// startResponseLogger subscribes to the hub and logs every notification.
func startResponseLogger(ctx context.Context, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) {
	sub := h.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer h.Remove(sub)
		for {
			select {
			case r := <-sub.Out:
				logResponse(l, r)
			case <-sub.Closed:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func logResponse(l *slog.Logger, r bcm.Response) {
	id := fmt.Sprintf("0x%X", r.CANID())
	switch v := r.(type) {
	case bcm.RxChanged:
		if f, ok := v.Frame(); ok {
			l.Debug("bcm_rx_changed", "id", id, "len", f.Len, "data", fmt.Sprintf("% X", f.Payload()))
		} else {
			l.Debug("bcm_rx_changed", "id", id, "frames", len(v.Frames))
		}
	case bcm.RxTimeout:
		l.Warn("bcm_rx_timeout", "id", id)
	case bcm.TxExpired:
		l.Info("bcm_tx_expired", "id", id)
	case bcm.TxTaskStatus:
		l.Info("bcm_tx_status", "id", id, "frames", len(v.Task.Frames), "interval", v.Task.Interval2.Duration())
	case bcm.RxFilterStatus:
		l.Info("bcm_rx_status", "id", id, "frames", len(v.Filter.Frames), "timeout", v.Filter.Timeout.Duration())
	}
}

package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-canbcm/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"bcm_tx", snap.BCMTx,
					"bcm_rx", snap.BCMRx,
					"rx_changed", snap.RxChanged,
					"rx_timeouts", snap.RxTimeouts,
					"decode_errors", snap.DecodeErrors,
					"transport_errors", snap.TransportErrors,
					"cgw_requests", snap.CGWRequests,
					"cgw_rules_dumped", snap.CGWRulesDumped,
					"hub_drops", snap.HubDrops,
					"hub_kicks", snap.HubKicks,
					"subscribers", snap.Subscribers,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

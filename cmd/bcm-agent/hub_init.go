package main

import (
	"log/slog"

	"github.com/kstaniek/go-canbcm/internal/hub"
)

// initHub builds the notification fan-out. cfg is validated, so the policy
// parses; an unknown value still falls back to drop.
func initHub(cfg *appConfig, p *plan, l *slog.Logger) *hub.Hub {
	pol, err := hub.ParsePolicy(cfg.hubPolicy)
	if err != nil {
		l.Warn("hub_policy_fallback", "error", err, "used", pol)
	}
	h := hub.New()
	h.OutBufSize = cfg.hubBuffer
	h.Policy = pol
	l.Info("hub_config",
		"policy", pol.String(),
		"buffer", h.OutBufSize,
		"rx_filters", len(p.filters),
		"tx_tasks", len(p.tasks),
	)
	return h
}

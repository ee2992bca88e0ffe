package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kstaniek/go-canbcm/internal/bcm"
	"github.com/kstaniek/go-canbcm/internal/cgw"
	"github.com/kstaniek/go-canbcm/internal/metrics"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("bcm-agent %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	if cfg.listRoutes {
		if err := listRoutes(cfg, l); err != nil {
			l.Error("cgw_list_error", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigCh:
			l.Info("shutdown_signal", "signal", s.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := run(ctx, cfg, l); err != nil {
		l.Error("agent_error", "error", err)
		os.Exit(1)
	}
}

// plan is the validated content of the tasks file.
type plan struct {
	tasks   []bcm.CyclicTxTask
	filters []bcm.RxFilter
	routes  []cgw.Rule
}

func loadPlan(path string) (plan, error) {
	var p plan
	if path == "" {
		return p, nil
	}
	tf, err := loadTaskFile(path)
	if err != nil {
		return p, err
	}
	if p.tasks, err = tf.cyclicTasks(); err != nil {
		return p, err
	}
	if p.filters, err = tf.rxFilters(); err != nil {
		return p, err
	}
	if p.routes, err = tf.gatewayRules(resolveIfIndex); err != nil {
		return p, err
	}
	return p, nil
}

// run installs the configured work, serves notifications until ctx is done
// and removes everything it installed before returning.
func run(ctx context.Context, cfg *appConfig, l *slog.Logger) error {
	p, err := loadPlan(cfg.tasksFile)
	if err != nil {
		metrics.IncError(metrics.ErrTaskFile)
		return fmt.Errorf("tasks file: %w", err)
	}
	abi, err := bcm.ParseABI(cfg.abi)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	h := initHub(cfg, &p, l)
	defer h.Close()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)
	startResponseLogger(ctx, h, l, &wg)
	defer func() { cancel(); wg.Wait() }()

	sock, err := openBCMSocket(cfg.canIf)
	if err != nil {
		return fmt.Errorf("bcm open %s: %w", cfg.canIf, err)
	}
	defer func() { _ = sock.Close() }()
	if err := sock.SetReadTimeout(cfg.recvTimeout); err != nil {
		return fmt.Errorf("bcm recv timeout: %w", err)
	}
	l.Info("bcm_open", "if", cfg.canIf, "abi", abi.String())

	ag := newAgent(sock, h, l, bcm.WithABI(abi))
	defer ag.cleanup()
	if err := ag.install(p.tasks, p.filters); err != nil {
		return err
	}

	if len(p.routes) > 0 {
		gw, err := dialGateway(cfg.recvTimeout, l)
		if err != nil {
			metrics.IncError(metrics.ErrCGW)
			return fmt.Errorf("cgw dial: %w", err)
		}
		defer func() { _ = gw.Close() }()
		installed, err := installRoutes(gw, p.routes, l)
		defer removeRoutes(gw, installed, l)
		if err != nil {
			return err
		}
		if n, err := countRoutes(gw); err != nil {
			l.Warn("cgw_dump_failed", "error", err)
		} else {
			l.Info("cgw_routes_active", "count", n)
		}
	}

	rxErr := make(chan error, 1)
	go func() {
		err := ag.run(ctx)
		if err != nil {
			l.Error("bcm_rx_error", "error", err)
		}
		rxErr <- err
		cancel()
	}()

	metrics.SetReadinessFunc(func() bool { return ag.Running() && ctx.Err() == nil })
	defer metrics.SetReadinessFunc(nil)
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
		if cfg.mdnsEnable {
			startAdvertising(ctx, cfg, l)
		}
	}
	l.Info("agent_ready", "version", version, "commit", commit, "tasks", len(p.tasks), "filters", len(p.filters), "routes", len(p.routes))

	<-ctx.Done()
	// The RX loop must be gone before cleanup reuses the session.
	return <-rxErr
}

func startAdvertising(ctx context.Context, cfg *appConfig, l *slog.Logger) {
	port, err := portOf(cfg.metricsAddr)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	cleanupMDNS, err := startMDNS(ctx, cfg, port)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
	go func() { <-ctx.Done(); cleanupMDNS() }()
}

func listRoutes(cfg *appConfig, l *slog.Logger) error {
	gw, err := dialGateway(cfg.recvTimeout, l)
	if err != nil {
		return err
	}
	defer func() { _ = gw.Close() }()
	n, err := printRoutes(os.Stdout, gw.Rules())
	if err != nil {
		return err
	}
	l.Debug("cgw_routes_listed", "count", n)
	return nil
}

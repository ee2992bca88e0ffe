package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-canbcm/internal/bcm"
	"github.com/kstaniek/go-canbcm/internal/hub"
)

type appConfig struct {
	canIf           string
	abi             string
	tasksFile       string
	recvTimeout     time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
	listRoutes      bool
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	canIf := flag.String("can-if", "can0", "SocketCAN interface for the broadcast manager socket")
	abi := flag.String("abi", "auto", "bcm_msg_head layout: auto|wide|narrow")
	tasksFile := flag.String("tasks", "", "YAML file with tasks, filters and routes to install")
	recvTimeout := flag.Duration("recv-timeout", 500*time.Millisecond, "Receive timeout of the BCM and gateway sockets")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	hubBuf := flag.Int("hub-buffer", 256, "Per-subscriber notification buffer")
	hubPolicy := flag.String("hub-policy", "drop", "Backpressure policy: drop|kick")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Advertise the metrics endpoint via mDNS")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default bcm-agent-<hostname>)")
	listRoutes := flag.Bool("list-routes", false, "Print the kernel's CAN gateway rules and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.canIf = *canIf
	cfg.abi = *abi
	cfg.tasksFile = *tasksFile
	cfg.recvTimeout = *recvTimeout
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.hubBuffer = *hubBuf
	cfg.hubPolicy = *hubPolicy
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.listRoutes = *listRoutes

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs semantic validation of the parsed configuration.
// It does not open sockets or read the tasks file.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if _, err := bcm.ParseABI(c.abi); err != nil {
		return fmt.Errorf("invalid abi: %w", err)
	}
	if _, err := hub.ParsePolicy(c.hubPolicy); err != nil {
		return fmt.Errorf("invalid hub-policy: %w", err)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.recvTimeout <= 0 {
		return fmt.Errorf("recv-timeout must be > 0")
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	if c.canIf == "" && !c.listRoutes {
		return fmt.Errorf("can-if must not be empty")
	}
	if c.mdnsEnable {
		if c.metricsAddr == "" {
			return fmt.Errorf("mdns-enable requires metrics-addr")
		}
		if _, err := portOf(c.metricsAddr); err != nil {
			return fmt.Errorf("mdns-enable: %w", err)
		}
	}
	return nil
}

// applyEnvOverrides maps BCM_AGENT_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored;
// durations use time.ParseDuration.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	str := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	dur := func(flagName, env string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				*dst = d
			} else if firstErr == nil {
				if err == nil {
					err = fmt.Errorf("negative duration %s", v)
				}
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	boolean := func(flagName, env string, dst *bool) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			}
		}
	}

	str("can-if", "BCM_AGENT_IF", &c.canIf)
	str("abi", "BCM_AGENT_ABI", &c.abi)
	str("tasks", "BCM_AGENT_TASKS", &c.tasksFile)
	dur("recv-timeout", "BCM_AGENT_RECV_TIMEOUT", &c.recvTimeout)
	str("log-format", "BCM_AGENT_LOG_FORMAT", &c.logFormat)
	str("log-level", "BCM_AGENT_LOG_LEVEL", &c.logLevel)
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("BCM_AGENT_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["hub-buffer"]; !ok {
		if v, ok := get("BCM_AGENT_HUB_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.hubBuffer = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BCM_AGENT_HUB_BUFFER: %w", err)
			}
		}
	}
	str("hub-policy", "BCM_AGENT_HUB_POLICY", &c.hubPolicy)
	dur("log-metrics-interval", "BCM_AGENT_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	boolean("mdns-enable", "BCM_AGENT_MDNS_ENABLE", &c.mdnsEnable)
	str("mdns-name", "BCM_AGENT_MDNS_NAME", &c.mdnsName)
	return firstErr
}

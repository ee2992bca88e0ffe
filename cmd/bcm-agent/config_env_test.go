package main

import (
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := baseConfig()
	t.Setenv("BCM_AGENT_IF", "vcan1")
	t.Setenv("BCM_AGENT_ABI", "narrow")
	t.Setenv("BCM_AGENT_MDNS_ENABLE", "true")
	t.Setenv("BCM_AGENT_RECV_TIMEOUT", "250ms")
	t.Setenv("BCM_AGENT_LOG_METRICS_INTERVAL", "5s")
	t.Setenv("BCM_AGENT_TASKS", "/etc/bcm-agent/tasks.yaml")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.canIf != "vcan1" || base.abi != "narrow" {
		t.Fatalf("expected if/abi override, got %q/%q", base.canIf, base.abi)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.recvTimeout != 250*time.Millisecond {
		t.Fatalf("expected recvTimeout 250ms got %v", base.recvTimeout)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
	if base.tasksFile != "/etc/bcm-agent/tasks.yaml" {
		t.Fatalf("unexpected tasks file %q", base.tasksFile)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := baseConfig()
	t.Setenv("BCM_AGENT_IF", "vcan9")
	// simulate -can-if passed on the command line
	if err := applyEnvOverrides(base, map[string]struct{}{"can-if": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.canIf != "vcan0" {
		t.Fatalf("expected can-if unchanged, got %q", base.canIf)
	}
}

func TestApplyEnvOverrides_BadValues(t *testing.T) {
	base := baseConfig()
	t.Setenv("BCM_AGENT_HUB_BUFFER", "notint")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}

	base = baseConfig()
	t.Setenv("BCM_AGENT_HUB_BUFFER", "")
	t.Setenv("BCM_AGENT_RECV_TIMEOUT", "soon")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad duration")
	}
}

package main

import (
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/kstaniek/go-canbcm/internal/cgw"
)

// gateway is the part of *cgw.Client the agent uses.
type gateway interface {
	AddRule(cgw.Rule) error
	DeleteRule(cgw.Rule) error
	Rules() iter.Seq2[cgw.Rule, error]
	Close() error
}

// Hooks for tests.
var (
	dialGateway = func(timeout time.Duration, l *slog.Logger) (gateway, error) {
		return cgw.Dial(timeout, cgw.WithLogger(l.With("component", "cgw")))
	}
	resolveIfIndex = cgw.ResolveIfIndex
)

// installRoutes adds rules in order and returns the ones the kernel accepted.
func installRoutes(gw gateway, rules []cgw.Rule, l *slog.Logger) ([]cgw.Rule, error) {
	installed := make([]cgw.Rule, 0, len(rules))
	for i, r := range rules {
		if err := gw.AddRule(r); err != nil {
			return installed, fmt.Errorf("route %d (%d->%d): %w", i, r.SrcIf, r.DstIf, err)
		}
		installed = append(installed, r)
		l.Info("cgw_route_added", "src_if", r.SrcIf, "dst_if", r.DstIf, "uid", r.UID)
	}
	return installed, nil
}

// removeRoutes deletes rules in reverse order, logging failures.
func removeRoutes(gw gateway, rules []cgw.Rule, l *slog.Logger) {
	for i := len(rules) - 1; i >= 0; i-- {
		r := rules[i]
		if err := gw.DeleteRule(r); err != nil {
			l.Warn("cgw_route_delete_failed", "src_if", r.SrcIf, "dst_if", r.DstIf, "error", err)
			continue
		}
		l.Debug("cgw_route_deleted", "src_if", r.SrcIf, "dst_if", r.DstIf)
	}
}

// countRoutes dumps the kernel's gateway jobs and returns how many there are.
func countRoutes(gw gateway) (int, error) {
	n := 0
	for _, err := range gw.Rules() {
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// printRoutes writes one line per rule.
func printRoutes(w io.Writer, rules iter.Seq2[cgw.Rule, error]) (int, error) {
	n := 0
	for r, err := range rules {
		if err != nil {
			return n, err
		}
		if _, err := fmt.Fprintln(w, formatRule(r)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func formatRule(r cgw.Rule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d -> %d", r.SrcIf, r.DstIf)
	if r.Flags&cgw.FlagFD != 0 {
		b.WriteString(" fd")
	}
	if r.Flags&cgw.FlagEcho != 0 {
		b.WriteString(" echo")
	}
	if r.Flags&cgw.FlagSrcTstamp != 0 {
		b.WriteString(" src_tstamp")
	}
	if r.Flags&cgw.FlagIIFTxOK != 0 {
		b.WriteString(" iif_tx_ok")
	}
	if r.Filter != nil {
		fmt.Fprintf(&b, " filter=%X:%X", r.Filter.CANID, r.Filter.Mask)
	}
	for _, m := range []struct {
		name string
		mod  *cgw.Modification
	}{{"and", r.And}, {"or", r.Or}, {"xor", r.Xor}, {"set", r.Set}} {
		if m.mod != nil {
			fmt.Fprintf(&b, " %s=%X/%d/%#x", m.name, m.mod.Frame.CANID, m.mod.Frame.Len, uint8(m.mod.Fields))
		}
	}
	if r.XOR != nil {
		fmt.Fprintf(&b, " xor_csum=%d..%d@%d", r.XOR.From, r.XOR.To, r.XOR.Result)
	}
	if r.CRC8 != nil {
		fmt.Fprintf(&b, " crc8=%d..%d@%d", r.CRC8.From, r.CRC8.To, r.CRC8.Result)
	}
	if r.HopLimit != 0 {
		fmt.Fprintf(&b, " hops=%d", r.HopLimit)
	}
	if r.UID != 0 {
		fmt.Fprintf(&b, " uid=%d", r.UID)
	}
	fmt.Fprintf(&b, " handled=%d dropped=%d deleted=%d", r.Handled, r.Dropped, r.Deleted)
	return b.String()
}

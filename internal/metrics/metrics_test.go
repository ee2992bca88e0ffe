package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSnapMirrorsCounters(t *testing.T) {
	before := Snap()
	IncBCMTx("TX_SETUP")
	IncBCMRx("rx_changed")
	IncBCMRx("rx_timeout")
	IncBCMRx("tx_expired")
	IncDecodeError()
	IncTransportError("would_block")
	IncCGWRequest("add")
	AddCGWRulesDumped(3)
	IncHubDrop()
	IncHubKick()
	SetHubSubscribers(2)
	IncError(ErrCGW)
	after := Snap()

	checks := []struct {
		name      string
		got, want uint64
	}{
		{"bcm_tx", after.BCMTx - before.BCMTx, 1},
		{"bcm_rx", after.BCMRx - before.BCMRx, 3},
		{"rx_changed", after.RxChanged - before.RxChanged, 1},
		{"rx_timeouts", after.RxTimeouts - before.RxTimeouts, 1},
		{"decode", after.DecodeErrors - before.DecodeErrors, 1},
		{"transport", after.TransportErrors - before.TransportErrors, 1},
		{"cgw_requests", after.CGWRequests - before.CGWRequests, 1},
		{"cgw_dumped", after.CGWRulesDumped - before.CGWRulesDumped, 3},
		{"hub_drops", after.HubDrops - before.HubDrops, 1},
		{"hub_kicks", after.HubKicks - before.HubKicks, 1},
		{"subscribers", after.Subscribers, 2},
		{"errors", after.Errors - before.Errors, 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s: got %d want %d", c.name, c.got, c.want)
		}
	}
}

func TestReadiness(t *testing.T) {
	defer SetReadinessFunc(nil)
	SetReadinessFunc(nil)
	if !IsReady() {
		t.Fatalf("no readiness func should report ready")
	}
	ready := false
	SetReadinessFunc(func() bool { return ready })
	if Ready() {
		t.Fatalf("expected not ready")
	}
	ready = true
	if !Ready() {
		t.Fatalf("expected ready")
	}
}

func TestReadyEndpoint(t *testing.T) {
	defer SetReadinessFunc(nil)
	SetReadinessFunc(func() bool { return false })
	srv := StartHTTP("127.0.0.1:0")
	defer func() { _ = srv.Close() }()

	// exercise the handler directly; the listener address is not exposed
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready code = %d", rec.Code)
	}
	SetReadinessFunc(func() bool { return true })
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK || string(body) != "ready\n" {
		t.Fatalf("ready = %d %q", rec.Code, body)
	}

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics code = %d", rec.Code)
	}
}

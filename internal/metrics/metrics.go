package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-canbcm/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors
var (
	BCMTxMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bcm_tx_messages_total",
		Help: "Total BCM requests written to the broadcast manager, by opcode.",
	}, []string{"opcode"})
	BCMRxMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bcm_rx_messages_total",
		Help: "Total BCM notifications read and classified, by kind.",
	}, []string{"kind"})
	BCMDecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bcm_decode_errors_total",
		Help: "Total BCM messages rejected by the decoder or classifier.",
	})
	BCMTransportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bcm_transport_errors_total",
		Help: "Total errors returned by the BCM channel, by kind.",
	}, []string{"kind"})
	CGWRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cgw_requests_total",
		Help: "Total gateway netlink requests, by operation.",
	}, []string{"op"})
	CGWRulesDumped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cgw_rules_dumped_total",
		Help: "Total gateway rules decoded from dump replies.",
	})
	HubDroppedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_responses_total",
		Help: "Total notifications dropped by the hub due to slow subscribers.",
	})
	HubKickedSubscribers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_subscribers_total",
		Help: "Total subscribers removed by the kick backpressure policy.",
	})
	HubActiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_subscribers",
		Help: "Current number of hub subscribers.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrBCMRead   = "bcm_read"
	ErrBCMWrite  = "bcm_write"
	ErrCGW       = "cgw"
	ErrTaskSetup = "task_setup"
	ErrTaskFile  = "task_file"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for periodic logging without scraping.
var (
	localBCMTx       uint64
	localBCMRx       uint64
	localRxChanged   uint64
	localRxTimeout   uint64
	localDecode      uint64
	localTransport   uint64
	localCGWReq      uint64
	localCGWDumped   uint64
	localHubDrop     uint64
	localHubKick     uint64
	localSubscribers uint64
	localErrors      uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	BCMTx           uint64
	BCMRx           uint64
	RxChanged       uint64
	RxTimeouts      uint64
	DecodeErrors    uint64
	TransportErrors uint64
	CGWRequests     uint64
	CGWRulesDumped  uint64
	HubDrops        uint64
	HubKicks        uint64
	Subscribers     uint64
	Errors          uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		BCMTx:           atomic.LoadUint64(&localBCMTx),
		BCMRx:           atomic.LoadUint64(&localBCMRx),
		RxChanged:       atomic.LoadUint64(&localRxChanged),
		RxTimeouts:      atomic.LoadUint64(&localRxTimeout),
		DecodeErrors:    atomic.LoadUint64(&localDecode),
		TransportErrors: atomic.LoadUint64(&localTransport),
		CGWRequests:     atomic.LoadUint64(&localCGWReq),
		CGWRulesDumped:  atomic.LoadUint64(&localCGWDumped),
		HubDrops:        atomic.LoadUint64(&localHubDrop),
		HubKicks:        atomic.LoadUint64(&localHubKick),
		Subscribers:     atomic.LoadUint64(&localSubscribers),
		Errors:          atomic.LoadUint64(&localErrors),
	}
}

// IncBCMTx counts one request written for opcode op.
func IncBCMTx(op string) {
	BCMTxMessages.WithLabelValues(op).Inc()
	atomic.AddUint64(&localBCMTx, 1)
}

// IncBCMRx counts one classified notification of the given kind.
func IncBCMRx(kind string) {
	BCMRxMessages.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localBCMRx, 1)
	switch kind {
	case "rx_changed":
		atomic.AddUint64(&localRxChanged, 1)
	case "rx_timeout":
		atomic.AddUint64(&localRxTimeout, 1)
	}
}

func IncDecodeError() {
	BCMDecodeErrors.Inc()
	atomic.AddUint64(&localDecode, 1)
}

func IncTransportError(kind string) {
	BCMTransportErrors.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localTransport, 1)
}

func IncCGWRequest(op string) {
	CGWRequests.WithLabelValues(op).Inc()
	atomic.AddUint64(&localCGWReq, 1)
}

func AddCGWRulesDumped(n int) {
	CGWRulesDumped.Add(float64(n))
	atomic.AddUint64(&localCGWDumped, uint64(n))
}

func IncHubDrop() {
	HubDroppedResponses.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedSubscribers.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func SetHubSubscribers(n int) {
	HubActiveSubscribers.Set(float64(n))
	atomic.StoreUint64(&localSubscribers, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register error label series so dashboards see zeros before the first error.
	for _, lbl := range []string{ErrBCMRead, ErrBCMWrite, ErrCGW, ErrTaskSetup, ErrTaskFile} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // not set yet: report ready so the endpoint doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }

package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sbmp-io/sbmp-gateway/internal/logging"
)

// Prometheus counters
var (
	FrameRx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sbmp_frame_rx_total",
		Help: "Total frames successfully decoded from the transport.",
	})
	FrameTx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sbmp_frame_tx_total",
		Help: "Total frames successfully transmitted to the transport.",
	})
	FrameRxErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sbmp_frame_rx_errors_total",
		Help: "Framing errors by kind (bad_header_xor, checksum_mismatch, oversized_frame, ...).",
	}, []string{"kind"})
	DatagramRx = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sbmp_datagram_rx_total",
		Help: "Datagrams routed by type.",
	}, []string{"type"})
	HandshakeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sbmp_handshake_outcomes_total",
		Help: "Handshake dialog outcomes (success, conflict).",
	}, []string{"outcome"})
	ListenerTableOccupancy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sbmp_listener_table_occupancy",
		Help: "Current number of occupied listener table slots.",
	})
	ListenerTableRejects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sbmp_listener_table_rejects_total",
		Help: "Total AddListener calls rejected (table full or duplicate session).",
	})
	BusyRejects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sbmp_busy_rejects_total",
		Help: "Total sends rejected because the transmitter or receiver was busy.",
	})
	TapEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sbmp_tap_events_total",
		Help: "Total datagram events fanned out to debug tap clients.",
	})
	TapDroppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sbmp_tap_dropped_events_total",
		Help: "Total tap events dropped due to a slow client's full queue.",
	})
	TapKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sbmp_tap_kicked_clients_total",
		Help: "Total tap clients disconnected by the kick backpressure policy.",
	})
	TapActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sbmp_tap_active_clients",
		Help: "Current number of connected debug tap clients.",
	})
	TapBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sbmp_tap_broadcast_fanout",
		Help: "Number of tap clients targeted in the most recent broadcast.",
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

// Error label constants (stable label values to bound cardinality).
const (
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSerialRead     = "serial_read"
	ErrTapWrite       = "tap_write"
	ErrRedisConnect   = "redis_connect"
	ErrRedisCommand   = "redis_command"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready.
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

// Local mirrored counters for cheap in-process logging without scraping
// Prometheus.
var (
	localFrameRx      uint64
	localFrameTx      uint64
	localRxErrors     uint64
	localDatagramRx   uint64
	localHskSuccess   uint64
	localHskConflict  uint64
	localErrors       uint64
	localTapClients   uint64
	localTapFanout    uint64
	localTapDrops     uint64
	localTapKicks     uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	FrameRx           uint64
	FrameTx           uint64
	FrameRxErrors     uint64
	DatagramRx        uint64
	HandshakeSuccess  uint64
	HandshakeConflict uint64
	Errors            uint64
	TapClients        uint64
	TapFanout         uint64
	TapDrops          uint64
	TapKicks          uint64
}

func Snap() Snapshot {
	return Snapshot{
		FrameRx:           atomic.LoadUint64(&localFrameRx),
		FrameTx:           atomic.LoadUint64(&localFrameTx),
		FrameRxErrors:     atomic.LoadUint64(&localRxErrors),
		DatagramRx:        atomic.LoadUint64(&localDatagramRx),
		HandshakeSuccess:  atomic.LoadUint64(&localHskSuccess),
		HandshakeConflict: atomic.LoadUint64(&localHskConflict),
		Errors:            atomic.LoadUint64(&localErrors),
		TapClients:        atomic.LoadUint64(&localTapClients),
		TapFanout:         atomic.LoadUint64(&localTapFanout),
		TapDrops:          atomic.LoadUint64(&localTapDrops),
		TapKicks:          atomic.LoadUint64(&localTapKicks),
	}
}

// IncFrameRx records one successfully decoded frame.
func IncFrameRx() {
	FrameRx.Inc()
	atomic.AddUint64(&localFrameRx, 1)
}

// IncFrameTx records one successfully transmitted frame.
func IncFrameTx() {
	FrameTx.Inc()
	atomic.AddUint64(&localFrameTx, 1)
}

// IncFrameRxError records a framing error by kind.
func IncFrameRxError(kind string) {
	FrameRxErrors.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localRxErrors, 1)
}

// IncDatagramRx records one routed datagram by type.
func IncDatagramRx(dgType string) {
	DatagramRx.WithLabelValues(dgType).Inc()
	atomic.AddUint64(&localDatagramRx, 1)
}

// IncHandshakeSuccess records a settled handshake.
func IncHandshakeSuccess() {
	HandshakeOutcomes.WithLabelValues("success").Inc()
	atomic.AddUint64(&localHskSuccess, 1)
}

// IncHandshakeConflict records a colliding handshake attempt.
func IncHandshakeConflict() {
	HandshakeOutcomes.WithLabelValues("conflict").Inc()
	atomic.AddUint64(&localHskConflict, 1)
}

// SetListenerTableOccupancy records the current listener table occupancy.
func SetListenerTableOccupancy(n int) { ListenerTableOccupancy.Set(float64(n)) }

// IncListenerTableReject records an AddListener rejection.
func IncListenerTableReject() { ListenerTableRejects.Inc() }

// IncBusyReject records a send rejected due to a busy transmitter.
func IncBusyReject() { BusyRejects.Inc() }

// IncError records an error by subsystem label.
func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// SetTapClients records the current tap client count.
func SetTapClients(n int) {
	TapActiveClients.Set(float64(n))
	atomic.StoreUint64(&localTapClients, uint64(n))
}

// SetTapFanout records the fanout width of the most recent tap broadcast.
func SetTapFanout(n int) {
	TapBroadcastFanout.Set(float64(n))
	atomic.StoreUint64(&localTapFanout, uint64(n))
}

// IncTapDrop records a tap event dropped due to a full client queue.
func IncTapDrop() {
	TapDroppedEvents.Inc()
	atomic.AddUint64(&localTapDrops, 1)
}

// IncTapKick records a tap client disconnected by the kick policy.
func IncTapKick() {
	TapKickedClients.Inc()
	atomic.AddUint64(&localTapKicks, 1)
}

// IncTapEvent records one datagram event fanned out to tap clients.
func IncTapEvent() { TapEvents.Inc() }

// InitBuildInfo sets the build info gauge (call once at startup) and
// pre-registers error label series so the first error of each kind does not
// pay Prometheus's label-registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrSerialWrite, ErrSerialOverflow, ErrSerialRead, ErrTapWrite, ErrRedisConnect, ErrRedisCommand} {
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
	if fn == nil {
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }

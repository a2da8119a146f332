// Package observability — metrics.go
//
// Prometheus metrics for a safetycore node (orchestrator, cooler, or
// telemetry bridge).
//
// Endpoint: GET /metrics on 127.0.0.1:<port> (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: the configured address (loopback by default); a non-loopback
// address is not rejected.
//
// Metric naming convention: safetycore_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process — this is a supervisory concern of the
// host-side Go process and is not excluded by any Non-goal around
// on-device persistence or networking.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric descriptor for one node process.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Event queue (C7) ───────────────────────────────────────────────

	EventQueueDepth         prometheus.Gauge
	EventQueueDroppedTotal  prometheus.Counter
	EventQueueHighWaterMark prometheus.Gauge

	// ─── Monitor fabric (C5) ────────────────────────────────────────────

	// MonitorSeverity reports each monitor's current severity as a gauge
	// (0=Normal .. 3=Critical). Labels: kind.
	MonitorSeverity *prometheus.GaugeVec

	// ─── Lockout (C6) ───────────────────────────────────────────────────

	// ActuatorState reports each actuator's commanded level (0 or 1).
	// Labels: actuator.
	ActuatorState *prometheus.GaugeVec

	// RunOnDelayActive reports whether a run-on-delay machine is
	// currently asserting its output. Labels: name.
	RunOnDelayActive *prometheus.GaugeVec

	// ─── RPC (C8) ───────────────────────────────────────────────────────

	RPCRequestsTotal  *prometheus.CounterVec   // labels: kind
	RPCErrorsTotal    *prometheus.CounterVec   // labels: kind, error_type
	RPCLatencySeconds *prometheus.HistogramVec // labels: kind

	// ─── Telemetry bridge (C9) ──────────────────────────────────────────

	TelemetryEventsForwardedTotal prometheus.Counter
	TelemetryDecodeFailuresTotal  prometheus.Counter

	// ─── Node ────────────────────────────────────────────────────────────

	NodeUptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers every metric on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		EventQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "safetycore", Subsystem: "eventqueue", Name: "depth",
			Help: "Current number of entries in the event queue.",
		}),
		EventQueueDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "safetycore", Subsystem: "eventqueue", Name: "dropped_total",
			Help: "Total events evicted from the event queue due to overflow.",
		}),
		EventQueueHighWaterMark: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "safetycore", Subsystem: "eventqueue", Name: "high_water_mark",
			Help: "Highest event queue occupancy observed since boot.",
		}),

		MonitorSeverity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "safetycore", Subsystem: "monitor", Name: "severity",
			Help: "Current severity of each monitored condition (0=Normal..3=Critical).",
		}, []string{"kind"}),

		ActuatorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "safetycore", Subsystem: "lockout", Name: "actuator_state",
			Help: "Current commanded level of each actuator (0 or 1).",
		}, []string{"actuator"}),

		RunOnDelayActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "safetycore", Subsystem: "lockout", Name: "run_on_delay_active",
			Help: "Whether a run-on-delay machine is currently asserting its output.",
		}, []string{"name"}),

		RPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safetycore", Subsystem: "rpc", Name: "requests_total",
			Help: "Total RPC requests handled, by request kind.",
		}, []string{"kind"}),
		RPCErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safetycore", Subsystem: "rpc", Name: "errors_total",
			Help: "Total RPC handshake errors, by request kind and error type.",
		}, []string{"kind", "error_type"}),
		RPCLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "safetycore", Subsystem: "rpc", Name: "latency_seconds",
			Help:    "End-to-end RPC handshake latency in seconds, by request kind.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"kind"}),

		TelemetryEventsForwardedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "safetycore", Subsystem: "telemetry", Name: "events_forwarded_total",
			Help: "Total events forwarded to the telemetry uplink.",
		}),
		TelemetryDecodeFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "safetycore", Subsystem: "telemetry", Name: "decode_failures_total",
			Help: "Total frames that failed to decode on the telemetry inbound link.",
		}),

		NodeUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "safetycore", Subsystem: "node", Name: "uptime_seconds",
			Help: "Number of seconds since this process started.",
		}),
	}

	reg.MustRegister(
		m.EventQueueDepth,
		m.EventQueueDroppedTotal,
		m.EventQueueHighWaterMark,
		m.MonitorSeverity,
		m.ActuatorState,
		m.RunOnDelayActive,
		m.RPCRequestsTotal,
		m.RPCErrorsTotal,
		m.RPCLatencySeconds,
		m.TelemetryEventsForwardedTotal,
		m.TelemetryDecodeFailuresTotal,
		m.NodeUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on addr and
// blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.NodeUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}

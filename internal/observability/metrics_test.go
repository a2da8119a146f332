package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersWithoutPanic(t *testing.T) {
	m := NewMetrics()
	if m.registry == nil {
		t.Fatalf("registry is nil")
	}
}

func TestMetrics_EventQueueGauges(t *testing.T) {
	m := NewMetrics()
	m.EventQueueDepth.Set(12)
	m.EventQueueHighWaterMark.Set(64)
	m.EventQueueDroppedTotal.Add(6)

	if got := testutil.ToFloat64(m.EventQueueDepth); got != 12 {
		t.Fatalf("EventQueueDepth = %v, want 12", got)
	}
	if got := testutil.ToFloat64(m.EventQueueHighWaterMark); got != 64 {
		t.Fatalf("EventQueueHighWaterMark = %v, want 64", got)
	}
	if got := testutil.ToFloat64(m.EventQueueDroppedTotal); got != 6 {
		t.Fatalf("EventQueueDroppedTotal = %v, want 6", got)
	}
}

func TestMetrics_LabeledVecsRoundTrip(t *testing.T) {
	m := NewMetrics()
	m.MonitorSeverity.WithLabelValues("chassis_intrusion").Set(3)
	m.ActuatorState.WithLabelValues("laser_enable").Set(1)
	m.RunOnDelayActive.WithLabelValues("fume_extraction").Set(1)
	m.RPCRequestsTotal.WithLabelValues("ping").Inc()
	m.RPCErrorsTotal.WithLabelValues("ping", "timeout").Inc()

	if got := testutil.ToFloat64(m.MonitorSeverity.WithLabelValues("chassis_intrusion")); got != 3 {
		t.Fatalf("MonitorSeverity = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.ActuatorState.WithLabelValues("laser_enable")); got != 1 {
		t.Fatalf("ActuatorState = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RPCRequestsTotal.WithLabelValues("ping")); got != 1 {
		t.Fatalf("RPCRequestsTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RPCErrorsTotal.WithLabelValues("ping", "timeout")); got != 1 {
		t.Fatalf("RPCErrorsTotal = %v, want 1", got)
	}
}

func TestMetrics_TelemetryCounters(t *testing.T) {
	m := NewMetrics()
	m.TelemetryEventsForwardedTotal.Inc()
	m.TelemetryDecodeFailuresTotal.Add(2)

	if got := testutil.ToFloat64(m.TelemetryEventsForwardedTotal); got != 1 {
		t.Fatalf("TelemetryEventsForwardedTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TelemetryDecodeFailuresTotal); got != 2 {
		t.Fatalf("TelemetryDecodeFailuresTotal = %v, want 2", got)
	}
}

// Package monitor evaluates one severity per monitored condition and fuses
// them into a single Monitors snapshot, grounded on
// peripheral-controller-firmware/src/logic/safety/monitor/mod.rs's
// observation_task: subscribe to a bounded channel of (kind, severity)
// updates, checked-set each into a shared snapshot, and on a pub-sub lag
// treat it as fatal rather than silently resynchronizing — the firmware
// does this with panic!(...) on WaitResult::Lagged; here the lag is
// detected on the publishing side, where EvaluateTask hands any lag error
// from Publish to the supplied FatalFunc.
package monitor

import (
	"context"

	"github.com/hoshiguma/safetycore/internal/checked"
	"github.com/hoshiguma/safetycore/internal/proto"
	"github.com/hoshiguma/safetycore/internal/pubsub"
)

// Observation is published by a per-monitor task whenever its severity
// changes.
type Observation struct {
	Kind     proto.MonitorKind
	Severity proto.Severity
}

// FatalFunc is invoked when a publish to the monitor topic finds a
// subscriber lagged. Production wiring supplies a function that logs and
// exits the process (the fusion task below is meant to be the topic's
// only subscriber, so any lag there means it has fallen fatally behind);
// tests supply one that records the call instead of exiting.
type FatalFunc func(err error)

// EvaluateTask watches a severity-producing function invoked on every tick
// of a caller-provided input channel, and publishes an Observation to
// topic only when the computed severity changes. T is the sampled input
// type (e.g. a bool for ChassisIntrusion, a float32 for flow rate). A lag
// reported by topic.Publish is handed to onFatal, matching the firmware's
// panic-on-Lagged policy (see this package's doc comment).
func EvaluateTask[T any](ctx context.Context, kind proto.MonitorKind, input <-chan T, evaluate func(T) proto.Severity, topic *pubsub.Topic[Observation], onFatal FatalFunc) {
	var last checked.Update[proto.Severity]
	for {
		select {
		case <-ctx.Done():
			return
		case value, ok := <-input:
			if !ok {
				return
			}
			severity := evaluate(value)
			if last.Store(severity) {
				if err := topic.Publish(Observation{Kind: kind, Severity: severity}); err != nil && onFatal != nil {
					onFatal(err)
				}
			}
		}
	}
}

// FusionTask subscribes to topic, applies each Observation as a
// checked-set into a Monitors snapshot, and on change calls onSnapshot
// with the full snapshot and emits a MonitorsChanged event via emitEvent.
func FusionTask(ctx context.Context, sub *pubsub.Subscription[Observation], onSnapshot func(proto.Monitors), emitEvent func(proto.Event)) {
	var snapshot proto.Monitors
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case obs, ok := <-ch:
			if !ok {
				return
			}
			if snapshot.Set(obs.Kind, obs.Severity) {
				onSnapshot(snapshot)
				if emitEvent != nil {
					emitEvent(proto.NewMonitorsChangedEvent(snapshot))
				}
			}
		}
	}
}

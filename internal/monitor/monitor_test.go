package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hoshiguma/safetycore/internal/proto"
	"github.com/hoshiguma/safetycore/internal/pubsub"
)

func TestEvaluateTask_PublishesOnlyOnSeverityChange(t *testing.T) {
	topic := pubsub.New[Observation](8)
	sub := topic.Subscribe()
	input := make(chan bool, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go EvaluateTask(ctx, proto.MonitorChassisIntrusion, input, func(open bool) proto.Severity {
		if open {
			return proto.SeverityCritical
		}
		return proto.SeverityNormal
	}, topic, nil)

	input <- false // Normal -> Normal, but first value always "changes" from zero-value Update
	obs := recvObs(t, sub)
	if obs.Severity != proto.SeverityNormal {
		t.Fatalf("first observation severity = %v, want Normal", obs.Severity)
	}

	input <- false // no change, must not publish again
	select {
	case v := <-sub.Channel():
		t.Fatalf("unexpected second publish %+v with no severity change", v)
	case <-time.After(20 * time.Millisecond):
	}

	input <- true
	obs = recvObs(t, sub)
	if obs.Severity != proto.SeverityCritical {
		t.Fatalf("observation after change = %v, want Critical", obs.Severity)
	}
}

func TestFusionTask_EmitsExactlyOneMonitorsChangedPerDistinctSnapshot(t *testing.T) {
	topic := pubsub.New[Observation](8)
	sub := topic.Subscribe()

	var snapshots []proto.Monitors
	var emitted []proto.Event
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go FusionTask(ctx, sub, func(m proto.Monitors) { snapshots = append(snapshots, m) }, func(e proto.Event) { emitted = append(emitted, e) })

	topic.Publish(Observation{Kind: proto.MonitorChassisIntrusion, Severity: proto.SeverityCritical})
	topic.Publish(Observation{Kind: proto.MonitorChassisIntrusion, Severity: proto.SeverityCritical}) // duplicate, same kind+severity

	time.Sleep(30 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)

	if len(snapshots) != 1 {
		t.Fatalf("len(snapshots) = %d, want 1 (duplicate severity must not re-trigger)", len(snapshots))
	}
	if len(emitted) != 1 || emitted[0].Kind != proto.EventMonitorsChanged {
		t.Fatalf("emitted events = %+v, want exactly one MonitorsChanged", emitted)
	}
	if !snapshots[0].HasCritical() {
		t.Fatalf("snapshot HasCritical() = false, want true")
	}
}

func TestEvaluateTask_LagInvokesFatal(t *testing.T) {
	topic := pubsub.New[Observation](1)
	// Fill the only subscriber's buffer so the next publish lags it.
	sub := topic.Subscribe()
	topic.Publish(Observation{Kind: proto.MonitorMachinePowerOff, Severity: proto.SeverityNormal})

	input := make(chan bool, 4)
	var fatalErr error
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go EvaluateTask(ctx, proto.MonitorMachinePowerOff, input, func(on bool) proto.Severity {
		if on {
			return proto.SeverityWarning
		}
		return proto.SeverityNormal
	}, topic, func(err error) { fatalErr = err })

	input <- true
	time.Sleep(20 * time.Millisecond)

	if fatalErr == nil {
		t.Fatalf("onFatal was not invoked after subscriber buffer overflow")
	}
	var lagged *pubsub.Lagged
	if !errors.As(fatalErr, &lagged) {
		t.Fatalf("fatal error = %v, want *pubsub.Lagged", fatalErr)
	}
	_ = sub
}

func recvObs(t *testing.T, sub *pubsub.Subscription[Observation]) Observation {
	t.Helper()
	select {
	case obs := <-sub.Channel():
		return obs
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for observation")
		return Observation{}
	}
}

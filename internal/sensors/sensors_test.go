package sensors

import (
	"context"
	"testing"
	"time"

	"github.com/hoshiguma/safetycore/internal/gpio"
	"github.com/hoshiguma/safetycore/internal/proto"
)

func TestFlowTask_ComputesLitresPerMinute(t *testing.T) {
	counter := &gpio.PulseCounter{}
	events := make(chan proto.InputSignal, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1 pulse in one 2ms period at 1 litre/pulse -> 30000 L/min.
	go FlowTask(ctx, counter, 2*time.Millisecond, 1.0, func(sig proto.InputSignal) { events <- sig })

	counter.Pulse()
	sig := recvSignal(t, events)
	if sig.Kind != proto.SignalCoolantFlow {
		t.Fatalf("signal kind = %v, want CoolantFlow", sig.Kind)
	}
	for sig.FlowLitresMin == 0 {
		sig = recvSignal(t, events)
	}
	if sig.FlowLitresMin != 30000 {
		t.Fatalf("FlowLitresMin = %v, want 30000", sig.FlowLitresMin)
	}
}

func TestLevelTask_DecodesAndReportsOnChange(t *testing.T) {
	high := gpio.NewSimPin(false)
	low := gpio.NewSimPin(false)
	events := make(chan proto.InputSignal, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go LevelTask(ctx, high, low, 2*time.Millisecond, proto.SignalCoolantReservoirLevel, func(sig proto.InputSignal) { events <- sig })

	first := recvSignal(t, events)
	if first.FluidLevel != proto.FluidLevelLow {
		t.Fatalf("initial level = %v, want Low (no float wetted)", first.FluidLevel)
	}

	low.Set(true)
	second := recvSignal(t, events)
	if second.FluidLevel != proto.FluidLevelNormal {
		t.Fatalf("level after wetting low float = %v, want Normal", second.FluidLevel)
	}
}

func TestLevelTask_ImpossibleCombinationIsSensorFault(t *testing.T) {
	if got := proto.DecodeFluidLevel(true, false); got != proto.FluidLevelSensorFault {
		t.Fatalf("DecodeFluidLevel(high=true,low=false) = %v, want SensorFault", got)
	}
}

type fakeTempSource struct {
	degrees float32
	fault   bool
}

func (f *fakeTempSource) Read() (float32, bool) { return f.degrees, f.fault }

func TestTemperatureTask_ReportsFaultTransition(t *testing.T) {
	src := &fakeTempSource{degrees: 20}
	events := make(chan proto.InputSignal, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go TemperatureTask(ctx, proto.TemperatureCoolantFlow, src, 2*time.Millisecond, func(sig proto.InputSignal) { events <- sig })

	recvSignal(t, events) // initial reading

	src.fault = true
	sig := recvSignal(t, events)
	if !sig.Temperature.SensorFault {
		t.Fatalf("Temperature.SensorFault = false after source fault, want true")
	}
}

func recvSignal(t *testing.T, ch <-chan proto.InputSignal) proto.InputSignal {
	t.Helper()
	select {
	case sig := <-ch:
		return sig
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for sensor signal")
		return proto.InputSignal{}
	}
}

// Package sensors runs the host-side polling tasks for the three analog
// inputs that cannot be represented as a single debounced digital level:
// the coolant flow pulse counter, the dual-float reservoir level sensors,
// and the independently-polled temperature probes. Each task samples on a
// fixed period and emits an InputSignal only when the decoded value
// changes, using the same checked-update idiom as internal/debounce.
package sensors

import (
	"context"
	"time"

	"github.com/hoshiguma/safetycore/internal/checked"
	"github.com/hoshiguma/safetycore/internal/gpio"
	"github.com/hoshiguma/safetycore/internal/proto"
)

// FlowCounter is the minimal interface a flow pulse source must provide.
type FlowCounter interface {
	TakeCount() uint32
}

// FlowTask samples pulses accumulated over each period and converts them
// to litres/minute using litresPerPulse (an operator-calibrated value per
// SPEC_FULL's calibration note — there is no compiled-in default beyond
// what config supplies). onChange fires only when the computed rate
// changes.
func FlowTask(ctx context.Context, counter FlowCounter, period time.Duration, litresPerPulse float64, onChange func(proto.InputSignal)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var last checked.Update[float32]
	minutesPerPeriod := period.Minutes()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pulses := counter.TakeCount()
			litres := float64(pulses) * litresPerPulse
			rate := float32(litres / minutesPerPeriod)
			if last.Store(rate) {
				onChange(proto.InputSignal{Kind: proto.SignalCoolantFlow, FlowLitresMin: rate})
			}
		}
	}
}

// LevelTask samples two float switches (high, low) on a fixed period and
// reports the decoded proto.FluidLevel on change. kind selects which
// InputSignal variant (CoolantReservoirLevel or HeatExchangeFluidLevel)
// this sensor represents.
func LevelTask(ctx context.Context, high, low gpio.Pin, period time.Duration, kind proto.InputSignalKind, onChange func(proto.InputSignal)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var last checked.Update[proto.FluidLevel]
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			level := proto.DecodeFluidLevel(high.Read(), low.Read())
			if last.Store(level) {
				onChange(proto.InputSignal{Kind: kind, FluidLevel: level})
			}
		}
	}
}

// HeatExchangeLevelTask samples the heat exchanger's single float switch on
// a fixed period and reports the decoded proto.FluidLevel on change. Unlike
// the reservoir's dual-float LevelTask, this sensor is physically a single
// pin with only two states: wetted means the fluid has dropped (Low),
// unwetted means normal (Normal) — there is no Full/Empty/SensorFault
// reading for this sensor.
func HeatExchangeLevelTask(ctx context.Context, pin gpio.Pin, period time.Duration, onChange func(proto.InputSignal)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var last checked.Update[proto.FluidLevel]
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			level := proto.FluidLevelNormal
			if pin.Read() {
				level = proto.FluidLevelLow
			}
			if last.Store(level) {
				onChange(proto.InputSignal{Kind: proto.SignalHeatExchangeFluidLevel, FluidLevel: level})
			}
		}
	}
}

// TemperatureSource reads one temperature channel, returning a fault flag
// in place of a degrees value on sensor failure (e.g. a 1-Wire CRC error
// or missing device), standing in for the firmware's per-sensor 1-Wire
// polling.
type TemperatureSource interface {
	Read() (degreesC float32, fault bool)
}

// TemperatureTask polls source independently of every other sensor task
// (per spec.md §4.4, each temperature probe is its own task) and reports
// change, including transitions into and out of SensorFault.
func TemperatureTask(ctx context.Context, channel proto.TemperatureChannel, source TemperatureSource, period time.Duration, onChange func(proto.InputSignal)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var last checked.Update[proto.TemperatureReading]
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			degrees, fault := source.Read()
			reading := proto.TemperatureReading{Channel: channel, DegreesC: degrees, SensorFault: fault}
			if last.Store(reading) {
				onChange(proto.InputSignal{Kind: proto.SignalTemperatureReading, Temperature: reading})
			}
		}
	}
}

// Package devices runs one task per actuator output: it watches a demand
// channel, writes the commanded level to its gpio.Pin, and emits a Control
// event ahead of each physical write, mirroring the firmware's
// DigitalOutputController::set (peripheral-controller/firmware/src/io_helpers/digital_output.rs)
// which logs before writing. All state mutation here is protected by a
// mutex, in the style of the teacher's escalation.ProcessState.
package devices

import (
	"context"
	"sync"

	"github.com/hoshiguma/safetycore/internal/gpio"
	"github.com/hoshiguma/safetycore/internal/proto"
)

// EventSink receives a Control event ahead of every physical pin write.
type EventSink interface {
	Emit(proto.Event)
}

// Actuator drives a single digital output for one ActuatorSetpointKind,
// with a panic override that forces a fixed safe level regardless of
// demand, matching the firmware's panic handler which drives every
// actuator to its safe state before reporting and halting (C10).
type Actuator struct {
	kind proto.ActuatorSetpointKind
	pin  gpio.Pin
	sink EventSink

	mu            sync.Mutex
	demand        bool
	panicOverride bool
	panicLevel    bool
}

// New constructs an Actuator for kind, driving pin, emitting Control
// events to sink.
func New(kind proto.ActuatorSetpointKind, pin gpio.Pin, sink EventSink) *Actuator {
	return &Actuator{kind: kind, pin: pin, sink: sink}
}

// Set commands a new demand level. Ignored while a panic override is
// active.
func (a *Actuator) Set(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.panicOverride {
		return
	}
	a.demand = on
	a.write(on)
}

// SetPanicOverride forces the actuator to level and locks out further
// Set calls until ClearPanicOverride, implementing C10's fail-safe
// behaviour on a fatal fault.
func (a *Actuator) SetPanicOverride(level bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.panicOverride = true
	a.panicLevel = level
	a.write(level)
}

// ClearPanicOverride releases the override, restoring the last commanded
// demand level. Intended for use by tests and the simulator only; the
// real boot sequence never calls this once a panic override is set.
func (a *Actuator) ClearPanicOverride() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.panicOverride = false
	a.write(a.demand)
}

// write emits the Control event then drives the pin; callers must hold mu.
func (a *Actuator) write(on bool) {
	if a.sink != nil {
		a.sink.Emit(proto.NewControlEvent(proto.ActuatorSetpoint{Kind: a.kind, On: on}))
	}
	a.pin.Write(on)
}

// Current reports the actuator's last commanded level (which may be the
// panic override level).
func (a *Actuator) Current() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pin.Read()
}

// StatusLamp is the tri-colour lamp actuator: it drives three pins
// (green/amber/red). Set lights at most one per StatusLampColour; the
// panic override lights all three.
type StatusLamp struct {
	sink EventSink
	green, amber, red gpio.Pin

	mu    sync.Mutex
	panicOverride bool
}

// NewStatusLamp constructs a StatusLamp over three discrete pins.
func NewStatusLamp(green, amber, red gpio.Pin, sink EventSink) *StatusLamp {
	return &StatusLamp{green: green, amber: amber, red: red, sink: sink}
}

// Set commands a colour, extinguishing the other two channels.
func (l *StatusLamp) Set(colour proto.StatusLampColour) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.panicOverride {
		return
	}
	l.apply(colour)
}

// SetPanicOverride lights all three channels and holds them regardless of
// future Set calls, matching the firmware panic handler's "all status
// indication goes to fault" behaviour. The Control event it emits carries
// Red, as StatusLampColour has no all-on value.
func (l *StatusLamp) SetPanicOverride() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.panicOverride = true
	if l.sink != nil {
		l.sink.Emit(proto.NewControlEvent(proto.ActuatorSetpoint{Kind: proto.ActuatorStatusLamp, Lamp: proto.StatusLampRed}))
	}
	l.green.Write(true)
	l.amber.Write(true)
	l.red.Write(true)
}

func (l *StatusLamp) apply(colour proto.StatusLampColour) {
	if l.sink != nil {
		l.sink.Emit(proto.NewControlEvent(proto.ActuatorSetpoint{Kind: proto.ActuatorStatusLamp, Lamp: colour}))
	}
	l.green.Write(colour == proto.StatusLampGreen)
	l.amber.Write(colour == proto.StatusLampAmber)
	l.red.Write(colour == proto.StatusLampRed)
}

// Task watches a demand channel and applies each received level to the
// actuator until ctx is cancelled.
func Task(ctx context.Context, a *Actuator, demand <-chan bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case on, ok := <-demand:
			if !ok {
				return
			}
			a.Set(on)
		}
	}
}

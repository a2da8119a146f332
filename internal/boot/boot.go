// Package boot implements C10: emitting the boot record at startup and
// capturing a fatal fault by driving every actuator to its safe state,
// forcing the status lamp to all-on, emitting a Panic event, and halting.
// Grounded on koishi/firmware/src/reporting/{mod,postcard}.rs's boot()/
// panic() helpers and the firmware's panic handler, which always drives
// outputs safe before reporting rather than the other way around.
package boot

import (
	"github.com/hoshiguma/safetycore/internal/proto"
)

// Overridable is anything boot.Panic can force into its fail-safe state:
// internal/devices.Actuator and internal/devices.StatusLamp both satisfy
// this via their SetPanicOverride methods.
type Overridable interface {
	SetPanicOverride(level bool)
}

// LampOverridable is the status lamp's panic hook, which takes no level
// argument (devices.StatusLamp's implementation lights all three
// channels).
type LampOverridable interface {
	SetPanicOverride()
}

// Report emits a Boot event carrying SystemInformation, for the node's
// event queue and telemetry stream.
func Report(emit func(proto.Event), info proto.SystemInformation) {
	emit(proto.NewBootEvent(info))
}

// Panic drives every actuator to its documented safe level, forces the
// status lamp, emits a Panic event with the given message and location,
// and invokes halt. Actuators listed in safeOff are forced to false
// (de-energized); actuators in safeOn are forced to true. halt is
// expected to never return (process exit or watchdog-forced reset); it
// is passed in so tests can observe the call instead of exiting.
func Panic(emit func(proto.Event), lamp LampOverridable, safeOff, safeOn []Overridable, message string, loc proto.PanicLocation, halt func()) {
	for _, a := range safeOff {
		a.SetPanicOverride(false)
	}
	for _, a := range safeOn {
		a.SetPanicOverride(true)
	}
	if lamp != nil {
		lamp.SetPanicOverride()
	}
	emit(proto.NewPanicEvent(message, loc))
	halt()
}

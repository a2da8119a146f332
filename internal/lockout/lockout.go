// Package lockout derives actuator setpoints from the current Monitors
// snapshot and debounced inputs, implementing C6 exactly per spec.md
// §4.6's rule table. It sits between the monitor fusion stage (C5) and
// the device tasks (C3): orchestrator.go calls Evaluate for both lockouts
// on every relevant input change and pushes the resulting setpoints
// onward, to its own actuators and to the cooler node over RPC.
package lockout

import (
	"time"

	"github.com/hoshiguma/safetycore/internal/proto"
	"github.com/hoshiguma/safetycore/internal/rundelay"
)

// OrchestratorInputs is everything the orchestrator's lockout rules need
// beyond the current Monitors snapshot.
type OrchestratorInputs struct {
	DoorsClosed      bool
	MachinePowerOn   bool
	MachineRunning   bool
	ExtractionMode   proto.ExtractionMode
	AirAssistDemand  bool
}

// OrchestratorLockout holds the RunOnDelay state needed across calls for
// the fume extraction fan and air-assist pump.
type OrchestratorLockout struct {
	extraction *rundelay.RunOnDelay
	airAssist  *rundelay.RunOnDelay
}

// NewOrchestratorLockout constructs the lockout state machine. extraction
// and airAssist delays are caller-supplied so production (30s/0.5s) and
// simulator (0.5s/0.5s) timings share one implementation, per spec.md
// §4.6 and the original firmware's simulator-vs-production constant split
// (koishi/firmware/src/logic/extraction.rs).
func NewOrchestratorLockout(extractionDelay, airAssistDelay time.Duration) *OrchestratorLockout {
	return &OrchestratorLockout{
		extraction: rundelay.New(extractionDelay),
		airAssist:  rundelay.New(airAssistDelay),
	}
}

// Outputs is the full set of actuator demands the orchestrator lockout
// derives on each evaluation.
type Outputs struct {
	MachineEnable     bool
	LaserEnable       bool
	FumeExtractionFan bool
	AirAssistPump     bool
	Lamp              proto.StatusLampColour
}

// Evaluate derives Outputs from the current monitors snapshot and inputs
// at time now.
func (l *OrchestratorLockout) Evaluate(now time.Time, monitors proto.Monitors, in OrchestratorInputs) Outputs {
	machineEnable := in.DoorsClosed && !monitors.HasCritical() && in.MachinePowerOn

	coolantFlowOK := monitors.Get(proto.MonitorCoolantFlowInsufficient) <= proto.SeverityWarning
	tempOK := monitors.Get(proto.MonitorCoolantFlowTemperature) != proto.SeverityCritical &&
		monitors.Get(proto.MonitorCoolantReservoirTemperature) != proto.SeverityCritical
	laserEnable := machineEnable && coolantFlowOK && tempOK

	extractionDemand := in.MachineRunning || in.ExtractionMode == proto.ExtractionOverrideRun
	l.extraction.Update(now, extractionDemand)

	l.airAssist.Update(now, in.AirAssistDemand)

	return Outputs{
		MachineEnable:     machineEnable,
		LaserEnable:       laserEnable,
		FumeExtractionFan: l.extraction.ShouldRun(),
		AirAssistPump:     l.airAssist.ShouldRun(),
		Lamp:              lampColour(monitors),
	}
}

// lampColour implements spec.md §4.6's status lamp rule: red dominates
// amber, amber dominates green.
func lampColour(monitors proto.Monitors) proto.StatusLampColour {
	switch monitors.Highest() {
	case proto.SeverityCritical:
		return proto.StatusLampRed
	case proto.SeverityWarning:
		return proto.StatusLampAmber
	default:
		return proto.StatusLampGreen
	}
}

// CoolerInputs is everything the cooler node's lockout rules need beyond
// the current Monitors snapshot.
type CoolerInputs struct {
	MachineEnable bool
}

// CoolerLockout holds the RunOnDelay and minimum-off-time state for the
// cooler's four actuators.
type CoolerLockout struct {
	cooldown        *rundelay.RunOnDelay
	compressorOff   minOffTimer
	radiatorFanOff  minOffTimer
}

// NewCoolerLockout constructs the cooler lockout state, with cooldown the
// post-run RunOnDelay window (30s production) and minOff the minimum
// off-time protecting the compressor and radiator fan (≥60s, per
// spec.md §4.6).
func NewCoolerLockout(cooldown, minOff time.Duration) *CoolerLockout {
	return &CoolerLockout{
		cooldown:       rundelay.New(cooldown),
		compressorOff:  minOffTimer{minOff: minOff},
		radiatorFanOff: minOffTimer{minOff: minOff},
	}
}

// CoolerOutputs is the full set of cooler actuator demands.
type CoolerOutputs struct {
	CoolantPump bool
	RadiatorFan bool
	Compressor  bool
	Stirrer     bool
}

// Evaluate derives CoolerOutputs at time now.
func (l *CoolerLockout) Evaluate(now time.Time, in CoolerInputs) CoolerOutputs {
	l.cooldown.Update(now, in.MachineEnable)
	running := l.cooldown.ShouldRun()

	compressor := l.compressorOff.Gate(now, running)
	radiatorFan := l.radiatorFanOff.Gate(now, running)

	return CoolerOutputs{
		CoolantPump: running,
		RadiatorFan: radiatorFan,
		Compressor:  compressor,
		Stirrer:     running,
	}
}

// minOffTimer enforces a minimum elapsed time between a true->false->true
// transition: once turned off, demand is held off until minOff has
// elapsed, protecting compressor/fan hardware from rapid cycling.
type minOffTimer struct {
	minOff   time.Duration
	lastOn   bool
	offSince time.Time
	hasOffSince bool
}

// Gate applies demand through the minimum-off-time rule at time now.
func (g *minOffTimer) Gate(now time.Time, demand bool) bool {
	if !demand {
		if g.lastOn {
			g.offSince = now
			g.hasOffSince = true
		}
		g.lastOn = false
		return false
	}

	if g.hasOffSince && now.Sub(g.offSince) < g.minOff {
		return false
	}
	g.lastOn = true
	return true
}

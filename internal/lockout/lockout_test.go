package lockout

import (
	"testing"
	"time"

	"github.com/hoshiguma/safetycore/internal/proto"
)

func TestOrchestratorLockout_DoorsOpenInhibitsImmediately(t *testing.T) {
	l := NewOrchestratorLockout(30*time.Second, 500*time.Millisecond)
	now := time.Unix(1000, 0)
	var monitors proto.Monitors

	out := l.Evaluate(now, monitors, OrchestratorInputs{DoorsClosed: false, MachinePowerOn: true})
	if out.MachineEnable || out.LaserEnable {
		t.Fatalf("doors open: MachineEnable=%v LaserEnable=%v, want both false", out.MachineEnable, out.LaserEnable)
	}
	if out.Lamp != proto.StatusLampGreen {
		t.Fatalf("lamp with doors open but no Critical monitor = %v, want Green (doors alone is not a monitor)", out.Lamp)
	}
}

func TestOrchestratorLockout_CriticalMonitorForcesRedAndInhibits(t *testing.T) {
	l := NewOrchestratorLockout(30*time.Second, 500*time.Millisecond)
	now := time.Unix(1000, 0)
	var monitors proto.Monitors
	monitors.Set(proto.MonitorChassisIntrusion, proto.SeverityCritical)

	out := l.Evaluate(now, monitors, OrchestratorInputs{DoorsClosed: true, MachinePowerOn: true})
	if out.MachineEnable || out.LaserEnable {
		t.Fatalf("Critical monitor: MachineEnable=%v LaserEnable=%v, want both false", out.MachineEnable, out.LaserEnable)
	}
	if out.Lamp != proto.StatusLampRed {
		t.Fatalf("lamp with Critical monitor = %v, want Red", out.Lamp)
	}
}

func TestOrchestratorLockout_RecoversToGreenWhenClear(t *testing.T) {
	l := NewOrchestratorLockout(30*time.Second, 500*time.Millisecond)
	now := time.Unix(1000, 0)
	var monitors proto.Monitors
	monitors.Set(proto.MonitorChassisIntrusion, proto.SeverityCritical)
	l.Evaluate(now, monitors, OrchestratorInputs{DoorsClosed: false, MachinePowerOn: true})

	monitors.Set(proto.MonitorChassisIntrusion, proto.SeverityNormal)
	out := l.Evaluate(now.Add(time.Second), monitors, OrchestratorInputs{DoorsClosed: true, MachinePowerOn: true})
	if !out.MachineEnable {
		t.Fatalf("after clearing Critical and closing doors: MachineEnable=false, want true")
	}
	if out.Lamp != proto.StatusLampGreen {
		t.Fatalf("lamp after recovery = %v, want Green", out.Lamp)
	}
}

func TestOrchestratorLockout_LaserDisabledOnCoolantFlowCritical(t *testing.T) {
	l := NewOrchestratorLockout(30*time.Second, 500*time.Millisecond)
	now := time.Unix(1000, 0)
	var monitors proto.Monitors
	monitors.Set(proto.MonitorCoolantFlowInsufficient, proto.SeverityCritical)

	out := l.Evaluate(now, monitors, OrchestratorInputs{DoorsClosed: true, MachinePowerOn: true})
	if out.MachineEnable {
		t.Fatalf("MachineEnable with a flow-insufficient Critical = true, want false (any Critical monitor inhibits the machine)")
	}
	if out.LaserEnable {
		t.Fatalf("LaserEnable with coolant-flow Critical = true, want false")
	}
}

func TestOrchestratorLockout_FumeExtractionRunsOnThenHoldsOver(t *testing.T) {
	l := NewOrchestratorLockout(30*time.Second, 500*time.Millisecond)
	now := time.Unix(1000, 0)
	var monitors proto.Monitors

	out := l.Evaluate(now, monitors, OrchestratorInputs{DoorsClosed: true, MachinePowerOn: true, MachineRunning: true})
	if !out.FumeExtractionFan {
		t.Fatalf("FumeExtractionFan with MachineRunning=true = false, want true")
	}

	out = l.Evaluate(now.Add(1*time.Second), monitors, OrchestratorInputs{DoorsClosed: true, MachinePowerOn: true, MachineRunning: false})
	if !out.FumeExtractionFan {
		t.Fatalf("FumeExtractionFan immediately after MachineRunning drops = false, want true (hold-over)")
	}

	out = l.Evaluate(now.Add(32*time.Second), monitors, OrchestratorInputs{DoorsClosed: true, MachinePowerOn: true, MachineRunning: false})
	if out.FumeExtractionFan {
		t.Fatalf("FumeExtractionFan after 32s with no demand = true, want false")
	}
}

func TestCoolerLockout_RunsWhileMachineEnabled(t *testing.T) {
	l := NewCoolerLockout(30*time.Second, 60*time.Second)
	now := time.Unix(2000, 0)

	out := l.Evaluate(now, CoolerInputs{MachineEnable: true})
	if !out.CoolantPump || !out.Stirrer || !out.Compressor || !out.RadiatorFan {
		t.Fatalf("outputs with MachineEnable=true = %+v, want all true", out)
	}
}

func TestCoolerLockout_MinimumOffTimeBlocksRapidRestart(t *testing.T) {
	l := NewCoolerLockout(0, 60*time.Second) // no cooldown hold-over, isolate min-off behaviour
	now := time.Unix(2000, 0)

	l.Evaluate(now, CoolerInputs{MachineEnable: true})                     // Demand: compressor on
	l.Evaluate(now.Add(1*time.Second), CoolerInputs{MachineEnable: false}) // -> RunOn, still running this cycle
	off := l.Evaluate(now.Add(2*time.Second), CoolerInputs{MachineEnable: false}) // delay elapsed -> Idle, compressor off
	if off.Compressor {
		t.Fatalf("Compressor after cooldown elapsed = true, want false")
	}

	out := l.Evaluate(now.Add(12*time.Second), CoolerInputs{MachineEnable: true}) // restart 10s after stopping
	if out.Compressor {
		t.Fatalf("Compressor restarted 10s after stopping = true, want false (min-off not yet elapsed)")
	}

	out = l.Evaluate(now.Add(72*time.Second), CoolerInputs{MachineEnable: true}) // 70s after stopping
	if !out.Compressor {
		t.Fatalf("Compressor after min-off window elapsed = false, want true")
	}
}

// Package main — cmd/simulator/main.go
//
// Headless simulator: runs an orchestrator Node and a cooler Node in one
// process, wired together over in-memory transports instead of real
// serial links, and drives their GPIO inputs through a scripted fault
// scenario. Useful for validating lockout behaviour end-to-end without
// hardware — the same role cmd/octoreflex-sim's scenario runner played
// for OCTOREFLEX, adapted from a math-model dominance check to a
// safety-system fault-injection run.
//
// Output: per-transition CSV to stdout (elapsed_ms, actuator, state).
// Summary: final machine/laser enable state and monitor counts to stderr.
//
// Usage:
//
//	simulator [flags]
//	simulator -duration 30s -seed 1
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"flag"

	"github.com/hoshiguma/safetycore/internal/config"
	"github.com/hoshiguma/safetycore/internal/cooler"
	"github.com/hoshiguma/safetycore/internal/devices"
	"github.com/hoshiguma/safetycore/internal/gpio"
	"github.com/hoshiguma/safetycore/internal/orchestrator"
	"github.com/hoshiguma/safetycore/internal/proto"
	"github.com/hoshiguma/safetycore/internal/rpc"
)

func main() {
	duration := flag.Duration("duration", 30*time.Second, "Total simulated run time")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed for fault injection")
	intrusionRate := flag.Float64("intrusion-rate", 0.02, "Probability per tick of a chassis intrusion pulse")
	doorRate := flag.Float64("door-rate", 0.01, "Probability per tick of a doors-open pulse")
	airAssistRate := flag.Float64("air-assist-rate", 0.05, "Probability per tick of an air-assist demand pulse")
	extractionOverrideRate := flag.Float64("extraction-override-rate", 0.01, "Probability per tick of the fume extraction override switch flipping")
	tick := flag.Duration("tick", 100*time.Millisecond, "Scenario tick period")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))

	cfg := config.Defaults()
	config.SimulatorOverrides(&cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coolerClientSide, coolerServerSide := newMemPipe()

	var coolerNode *cooler.Node
	coolerSink := coolerEventSink{&coolerNode}
	actuators := cooler.Actuators{
		CoolantPump: devices.New(proto.ActuatorCoolantPump, gpio.NewSimPin(false), coolerSink),
		RadiatorFan: devices.New(proto.ActuatorRadiatorFan, gpio.NewSimPin(false), coolerSink),
		Compressor:  devices.New(proto.ActuatorCompressor, gpio.NewSimPin(false), coolerSink),
		Stirrer:     devices.New(proto.ActuatorStirrer, gpio.NewSimPin(false), coolerSink),
	}
	sns := cooler.Sensors{
		FlowCounter:             healthyFlow{},
		FlowGateInterval:        cfg.Sensors.FlowGateInterval,
		LitresPerPulse:          cfg.Sensors.LitresPerPulse,
		ReservoirLevelHigh:      gpio.NewSimPin(false),
		ReservoirLevelLow:       gpio.NewSimPin(true),
		LevelPollInterval:       cfg.Sensors.LevelPollInterval,
		HeatExchangeLevel:       gpio.NewSimPin(false),
		FlowTemperature:         fixedTemperature(22),
		TankTemperature:         fixedTemperature(22),
		TemperaturePollInterval: cfg.Sensors.TemperaturePollInterval,
	}
	coolerNode = cooler.New(coolerServerSide, actuators, sns, cfg.EventQueue.Capacity, proto.SystemInformation{GitRevision: "sim"})
	go coolerNode.Run(ctx)

	chassisIntrusion := gpio.NewSimPin(false)
	machinePower := gpio.NewSimPin(true)
	doorsClosed := gpio.NewSimPin(true)
	machineRunning := gpio.NewSimPin(true)
	airAssistDemand := gpio.NewSimPin(false)
	extractionOverride := gpio.NewSimPin(false)

	rec := &recorder{start: time.Now(), w: csv.NewWriter(os.Stdout)}
	_ = rec.w.Write([]string{"elapsed_ms", "actuator", "state"})

	var orchNode *orchestrator.Node
	orchSink := orchEventSink{&orchNode}
	orchActuators := orchestrator.Actuators{
		MachineEnable:     devices.New(proto.ActuatorMachineEnable, recordingPin(rec, "MachineEnable"), orchSink),
		LaserEnable:       devices.New(proto.ActuatorLaserEnable, recordingPin(rec, "LaserEnable"), orchSink),
		FumeExtractionFan: devices.New(proto.ActuatorFumeExtractionFan, recordingPin(rec, "FumeExtractionFan"), orchSink),
		AirAssistPump:     devices.New(proto.ActuatorAirAssistPump, recordingPin(rec, "AirAssistPump"), orchSink),
		Lamp:              devices.NewStatusLamp(gpio.NewSimPin(false), gpio.NewSimPin(false), gpio.NewSimPin(false), orchSink),
	}

	inputs := orchestrator.Inputs{
		ChassisIntrusion: chassisIntrusion,
		MachinePower:     machinePower,
		DoorsClosed:      doorsClosed,
		MachineRunning:   machineRunning,
		AirAssistDemand:  airAssistDemand,
		ExtractionMode:   extractionModeSource{pin: extractionOverride},
		PollInterval:     cfg.Sensors.DebouncePollInterval,
	}

	var criticalMonitors int
	opts := orchestrator.Options{
		Thresholds:         cfg.Thresholds,
		RunOnDelay:         cfg.RunOnDelay,
		QueueCapacity:      cfg.EventQueue.Capacity,
		CoolerPollInterval: 200 * time.Millisecond,
		LockoutInterval:    50 * time.Millisecond,
		TelemetryOut: func(e proto.Event) {
			if e.Kind == proto.EventMonitorsChanged && e.MonitorsChanged.HasCritical() {
				criticalMonitors++
			}
		},
	}
	_, diagServerSide := newMemPipe()
	orchNode = orchestrator.New(diagServerSide, orchestrator.NewCoolerLink(rpc.NewClient(coolerClientSide)), inputs, orchActuators, proto.SystemInformation{GitRevision: "sim"}, opts)
	go orchNode.Run(ctx)

	ticker := time.NewTicker(*tick)
	defer ticker.Stop()
	deadline := time.Now().Add(*duration)
	for time.Now().Before(deadline) {
		<-ticker.C
		if rng.Float64() < *intrusionRate {
			chassisIntrusion.Set(true)
		} else {
			chassisIntrusion.Set(false)
		}
		if rng.Float64() < *doorRate {
			doorsClosed.Set(false)
		} else {
			doorsClosed.Set(true)
		}
		if rng.Float64() < *airAssistRate {
			airAssistDemand.Set(true)
		} else {
			airAssistDemand.Set(false)
		}
		if rng.Float64() < *extractionOverrideRate {
			extractionOverride.Set(!extractionOverride.Read())
		}
	}

	cancel()
	rec.w.Flush()

	fmt.Fprintf(os.Stderr, "\n=== SIMULATION SUMMARY ===\n")
	fmt.Fprintf(os.Stderr, "duration:            %s\n", *duration)
	fmt.Fprintf(os.Stderr, "seed:                %d\n", *seed)
	fmt.Fprintf(os.Stderr, "critical monitor transitions observed: %d\n", criticalMonitors)
	fmt.Fprintf(os.Stderr, "final MachineEnable: %v\n", orchActuators.MachineEnable.Current())
	fmt.Fprintf(os.Stderr, "final LaserEnable:   %v\n", orchActuators.LaserEnable.Current())
}

// recorder timestamps and CSV-writes every actuator transition it
// observes via a recordingPin.
type recorder struct {
	mu    sync.Mutex
	start time.Time
	w     *csv.Writer
}

func (r *recorder) record(name string, level bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := time.Since(r.start).Milliseconds()
	_ = r.w.Write([]string{strconv.FormatInt(elapsed, 10), name, strconv.FormatBool(level)})
	r.w.Flush()
}

// recordingPin wraps a SimPin so every Write is also logged to rec under
// name, without changing the Actuator/devices wiring shape.
func recordingPin(rec *recorder, name string) gpio.Pin {
	return &loggingPin{inner: gpio.NewSimPin(false), rec: rec, name: name}
}

type loggingPin struct {
	inner *gpio.SimPin
	rec   *recorder
	name  string
}

func (p *loggingPin) Read() bool { return p.inner.Read() }

func (p *loggingPin) Write(level bool) {
	p.inner.Write(level)
	p.rec.record(p.name, level)
}

// extractionModeSource adapts the override switch's SimPin into an
// orchestrator.ExtractionModeSource: low = Automatic, high = OverrideRun.
type extractionModeSource struct {
	pin *gpio.SimPin
}

func (s extractionModeSource) Read() proto.ExtractionMode {
	if s.pin.Read() {
		return proto.ExtractionOverrideRun
	}
	return proto.ExtractionAutomatic
}

type coolerEventSink struct{ n **cooler.Node }

func (s coolerEventSink) Emit(e proto.Event) {
	if *s.n != nil {
		(*s.n).Emit(e)
	}
}

type orchEventSink struct{ n **orchestrator.Node }

func (s orchEventSink) Emit(e proto.Event) {
	if *s.n != nil {
		(*s.n).Emit(e)
	}
}

// healthyFlow always reports a flow rate comfortably above the warning
// threshold, standing in for a properly primed coolant loop.
type healthyFlow struct{}

func (healthyFlow) TakeCount() uint32 { return 50 }

type fixedTemperature float32

func (t fixedTemperature) Read() (degreesC float32, fault bool) {
	return float32(t), false
}

// memPipe is an in-memory rpc.FrameTransport pair connecting the
// simulator's orchestrator and cooler nodes without a real serial link.
type memPipe struct {
	out chan []byte
	in  <-chan []byte
}

func newMemPipe() (client, server *memPipe) {
	c2s := make(chan []byte, 16)
	s2c := make(chan []byte, 16)
	return &memPipe{out: c2s, in: s2c}, &memPipe{out: s2c, in: c2s}
}

func (p *memPipe) WriteFrame(ctx context.Context, frame []byte) error {
	cp := append([]byte(nil), frame...)
	select {
	case p.out <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *memPipe) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

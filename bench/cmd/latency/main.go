// Package main — bench/cmd/latency/main.go
//
// Lockout reaction latency measurement tool.
//
// Measures the time from a chassis-intrusion GPIO transition to the
// MachineEnable actuator write that must follow it, using
// an in-process orchestrator.Node wired over in-memory transports (no
// real serial hardware, no real GPIO).
//
// Method:
//  1. Builds an orchestrator.Node with the config defaults' debounce
//     poll interval and a fixed 5ms lockout interval.
//  2. Repeatedly flips the ChassisIntrusion SimPin high, then measures
//     wall-clock time until MachineEnable's recorded pin observes a
//     false write.
//  3. Resets and repeats for -iterations cycles.
//  4. Results are written to a CSV file and summarised as p50/p95/p99.
//
// The measurement includes:
//   - Debounce settle time (config Sensors.DebouncePollInterval)
//   - Monitor fusion and lockout evaluation
//   - Actuator pin write dispatch
//
// It does NOT include:
//   - Real GPIO edge-detection latency (no hardware in this harness)
//   - Serial transport latency (the diagnostic/cooler links are unused
//     during this measurement)
//
// Output CSV columns:
//
//	iteration, latency_us, reacted (true/false)
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/hoshiguma/safetycore/internal/config"
	"github.com/hoshiguma/safetycore/internal/devices"
	"github.com/hoshiguma/safetycore/internal/gpio"
	"github.com/hoshiguma/safetycore/internal/orchestrator"
	"github.com/hoshiguma/safetycore/internal/proto"
)

func main() {
	iterations := flag.Int("iterations", 500, "Number of intrusion/clear cycles to measure")
	outputFile := flag.String("output", "lockout_latency_raw.csv", "Output CSV file path")
	targetUs := flag.Int("target-us", 50000, "p99 latency target in microseconds; exceeding it is a FAIL")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write([]string{"iteration", "latency_us", "reacted"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Defaults()
	config.SimulatorOverrides(&cfg)

	reactions := newReactionRecorder()
	chassisIntrusion := gpio.NewSimPin(false)
	doorsClosed := gpio.NewSimPin(true)

	var n *orchestrator.Node
	sink := nodeEventSink{&n}
	actuators := orchestrator.Actuators{
		MachineEnable:     devices.New(proto.ActuatorMachineEnable, reactions.pin("MachineEnable"), sink),
		LaserEnable:       devices.New(proto.ActuatorLaserEnable, reactions.pin("LaserEnable"), sink),
		FumeExtractionFan: devices.New(proto.ActuatorFumeExtractionFan, gpio.NewSimPin(false), sink),
		AirAssistPump:     devices.New(proto.ActuatorAirAssistPump, gpio.NewSimPin(false), sink),
		Lamp:              devices.NewStatusLamp(gpio.NewSimPin(false), gpio.NewSimPin(false), gpio.NewSimPin(false), sink),
	}
	inputs := orchestrator.Inputs{
		ChassisIntrusion: chassisIntrusion,
		MachinePower:     gpio.NewSimPin(true),
		DoorsClosed:      doorsClosed,
		MachineRunning:   gpio.NewSimPin(true),
		PollInterval:     cfg.Sensors.DebouncePollInterval,
	}
	opts := orchestrator.Options{
		Thresholds:      cfg.Thresholds,
		RunOnDelay:      cfg.RunOnDelay,
		QueueCapacity:   cfg.EventQueue.Capacity,
		LockoutInterval: 5 * time.Millisecond,
	}
	_, diagServer := newMemPipe()
	n = orchestrator.New(diagServer, noopCoolerLink{}, inputs, actuators, proto.SystemInformation{GitRevision: "bench"}, opts)
	go n.Run(ctx)

	var totalReacted int
	var p50Bucket [200001]int // microsecond histogram, 0-200ms
	for i := 0; i < *iterations; i++ {
		reactions.arm("MachineEnable", false)
		start := time.Now()
		chassisIntrusion.Set(true)

		reacted := reactions.waitFor("MachineEnable", false, 500*time.Millisecond)
		latency := time.Since(start)

		if reacted {
			totalReacted++
		}
		latencyUs := int(latency.Microseconds())
		if latencyUs < len(p50Bucket) {
			p50Bucket[latencyUs]++
		}
		_ = w.Write([]string{
			strconv.Itoa(i),
			strconv.Itoa(latencyUs),
			strconv.FormatBool(reacted),
		})

		chassisIntrusion.Set(false)
		reactions.arm("MachineEnable", true)
		reactions.waitFor("MachineEnable", true, 500*time.Millisecond)
	}

	p50, p95, p99 := computePercentiles(p50Bucket[:], *iterations)

	fmt.Printf("Lockout Reaction Latency Results (%d iterations)\n", *iterations)
	fmt.Printf("  Reacted: %d/%d (%.1f%%)\n", totalReacted, *iterations,
		float64(totalReacted)/float64(*iterations)*100)
	fmt.Printf("  p50: %dµs\n", p50)
	fmt.Printf("  p95: %dµs\n", p95)
	fmt.Printf("  p99: %dµs\n", p99)
	fmt.Printf("  Output: %s\n", *outputFile)

	cancel()

	if p99 > *targetUs {
		fmt.Fprintf(os.Stderr, "FAIL: p99 %dµs exceeds %dµs target\n", p99, *targetUs)
		os.Exit(1)
	}
}

func computePercentiles(hist []int, total int) (p50, p95, p99 int) {
	targets := []struct {
		pct float64
		out *int
	}{
		{0.50, &p50},
		{0.95, &p95},
		{0.99, &p99},
	}
	cumulative := 0
	ti := 0
	for i, count := range hist {
		cumulative += count
		for ti < len(targets) && float64(cumulative) >= targets[ti].pct*float64(total) {
			*targets[ti].out = i
			ti++
		}
		if ti == len(targets) {
			break
		}
	}
	return
}

// reactionRecorder wraps named SimPins and lets the benchmark loop block
// until a named actuator writes an expected level.
type reactionRecorder struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pins    map[string]*gpio.SimPin
	armed   map[string]bool
	awaited map[string]bool
}

func newReactionRecorder() *reactionRecorder {
	r := &reactionRecorder{
		pins:    make(map[string]*gpio.SimPin),
		armed:   make(map[string]bool),
		awaited: make(map[string]bool),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *reactionRecorder) pin(name string) gpio.Pin {
	p := gpio.NewSimPin(true)
	r.pins[name] = p
	return &recordingPin{name: name, inner: p, r: r}
}

func (r *reactionRecorder) arm(name string, want bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armed[name] = want
	r.awaited[name] = false
}

func (r *reactionRecorder) waitFor(name string, want bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	r.mu.Lock()
	defer r.mu.Unlock()
	for !r.awaited[name] {
		if time.Now().After(deadline) {
			return false
		}
		r.mu.Unlock()
		time.Sleep(200 * time.Microsecond)
		r.mu.Lock()
	}
	_ = want
	return true
}

func (r *reactionRecorder) observe(name string, level bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if want, ok := r.armed[name]; ok && want == level {
		r.awaited[name] = true
	}
}

type recordingPin struct {
	name  string
	inner *gpio.SimPin
	r     *reactionRecorder
}

func (p *recordingPin) Read() bool { return p.inner.Read() }

func (p *recordingPin) Write(level bool) {
	p.inner.Write(level)
	p.r.observe(p.name, level)
}

type nodeEventSink struct{ n **orchestrator.Node }

func (s nodeEventSink) Emit(e proto.Event) {
	if *s.n != nil {
		(*s.n).Emit(e)
	}
}

// noopCoolerLink stands in for the cooler RPC link, unexercised by this
// benchmark: reaction latency is measured purely on the GPIO lockout
// path, not the cooler control path.
type noopCoolerLink struct{}

func (noopCoolerLink) GetState(ctx context.Context) (proto.CoolerState, error) {
	return proto.CoolerState{}, nil
}
func (noopCoolerLink) SetRadiatorFan(ctx context.Context, on bool) error { return nil }
func (noopCoolerLink) SetCompressor(ctx context.Context, on bool) error  { return nil }
func (noopCoolerLink) SetCoolantPump(ctx context.Context, on bool) error { return nil }
func (noopCoolerLink) SetStirrer(ctx context.Context, on bool) error     { return nil }

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

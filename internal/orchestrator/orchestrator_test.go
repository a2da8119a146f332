package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hoshiguma/safetycore/internal/config"
	"github.com/hoshiguma/safetycore/internal/devices"
	"github.com/hoshiguma/safetycore/internal/gpio"
	"github.com/hoshiguma/safetycore/internal/proto"
	"github.com/hoshiguma/safetycore/internal/rpc"
)

type memTransport struct {
	out chan []byte
	in  <-chan []byte
}

func newMemPipe() (client, server *memTransport) {
	c2s := make(chan []byte, 16)
	s2c := make(chan []byte, 16)
	return &memTransport{out: c2s, in: s2c}, &memTransport{out: s2c, in: c2s}
}

func (p *memTransport) WriteFrame(ctx context.Context, frame []byte) error {
	cp := append([]byte(nil), frame...)
	select {
	case p.out <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *memTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fakeCoolerLink is an in-memory CoolerLink double recording every
// actuator command it receives.
type fakeCoolerLink struct {
	mu    sync.Mutex
	state proto.CoolerState

	compressorCalls  []bool
	radiatorFanCalls []bool
	coolantPumpCalls []bool
	stirrerCalls     []bool
}

func (f *fakeCoolerLink) GetState(ctx context.Context) (proto.CoolerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeCoolerLink) setState(mutate func(*proto.CoolerState)) {
	f.mu.Lock()
	mutate(&f.state)
	f.mu.Unlock()
}

func (f *fakeCoolerLink) SetRadiatorFan(ctx context.Context, on bool) error {
	f.mu.Lock()
	f.radiatorFanCalls = append(f.radiatorFanCalls, on)
	f.mu.Unlock()
	return nil
}

func (f *fakeCoolerLink) SetCompressor(ctx context.Context, on bool) error {
	f.mu.Lock()
	f.compressorCalls = append(f.compressorCalls, on)
	f.mu.Unlock()
	return nil
}

func (f *fakeCoolerLink) SetCoolantPump(ctx context.Context, on bool) error {
	f.mu.Lock()
	f.coolantPumpCalls = append(f.coolantPumpCalls, on)
	f.mu.Unlock()
	return nil
}

func (f *fakeCoolerLink) SetStirrer(ctx context.Context, on bool) error {
	f.mu.Lock()
	f.stirrerCalls = append(f.stirrerCalls, on)
	f.mu.Unlock()
	return nil
}

func (f *fakeCoolerLink) lastCompressorCall() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.compressorCalls)
	if n == 0 {
		return false, 0
	}
	return f.compressorCalls[n-1], n
}

func newTestNode(t *testing.T, cooler *fakeCoolerLink) (*Node, Inputs, Actuators, *memTransport) {
	t.Helper()
	// A healthy coolant flow, so the cooler poll raises no Critical monitor.
	cooler.setState(func(s *proto.CoolerState) { s.FlowLitresMin = 10 })
	_, serverTransport := newMemPipe()

	inputs := Inputs{
		ChassisIntrusion: gpio.NewSimPin(false),
		MachinePower:     gpio.NewSimPin(true),
		DoorsClosed:      gpio.NewSimPin(true),
		MachineRunning:   gpio.NewSimPin(false),
		AirAssistDemand:  gpio.NewSimPin(false),
		PollInterval:     10 * time.Millisecond,
	}
	actuators := Actuators{
		MachineEnable:     devices.New(proto.ActuatorMachineEnable, gpio.NewSimPin(false), nil),
		LaserEnable:       devices.New(proto.ActuatorLaserEnable, gpio.NewSimPin(false), nil),
		FumeExtractionFan: devices.New(proto.ActuatorFumeExtractionFan, gpio.NewSimPin(false), nil),
		AirAssistPump:     devices.New(proto.ActuatorAirAssistPump, gpio.NewSimPin(false), nil),
		Lamp:              devices.NewStatusLamp(gpio.NewSimPin(false), gpio.NewSimPin(false), gpio.NewSimPin(false), nil),
	}

	opts := Options{
		Thresholds:         config.Defaults().Thresholds,
		RunOnDelay:         config.RunOnDelayConfig{FumeExtractionFan: 20 * time.Millisecond, AirAssistPump: 10 * time.Millisecond, CoolerCooldown: 10 * time.Millisecond, CoolerMinOffTime: 60 * time.Second},
		QueueCapacity:      16,
		CoolerPollInterval: 20 * time.Millisecond,
		LockoutInterval:    10 * time.Millisecond,
	}

	n := New(serverTransport, cooler, inputs, actuators, proto.SystemInformation{GitRevision: "test"}, opts)
	return n, inputs, actuators, serverTransport
}

func TestNode_DoorsOpenInhibitsMachineEnable(t *testing.T) {
	cooler := &fakeCoolerLink{}
	n, inputs, actuators, _ := newTestNode(t, cooler)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go n.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	if !actuators.MachineEnable.Current() {
		t.Fatalf("MachineEnable = false with doors closed and no critical monitor, want true")
	}

	inputs.DoorsClosed.(*gpio.SimPin).Set(false)
	time.Sleep(100 * time.Millisecond)
	if actuators.MachineEnable.Current() {
		t.Fatalf("MachineEnable = true with doors open, want false")
	}
}

func TestNode_ChassisIntrusionInhibitsMachineAndLaser(t *testing.T) {
	cooler := &fakeCoolerLink{}
	n, inputs, actuators, _ := newTestNode(t, cooler)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go n.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	inputs.ChassisIntrusion.(*gpio.SimPin).Set(true)
	time.Sleep(100 * time.Millisecond)

	if actuators.MachineEnable.Current() {
		t.Fatalf("MachineEnable = true after chassis intrusion, want false")
	}
	if actuators.LaserEnable.Current() {
		t.Fatalf("LaserEnable = true after chassis intrusion, want false")
	}
}

func TestNode_PushesCoolerCompressorOnMachineEnable(t *testing.T) {
	cooler := &fakeCoolerLink{}
	n, _, _, _ := newTestNode(t, cooler)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go n.Run(ctx)

	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		if on, n := cooler.lastCompressorCall(); n > 0 && on {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("cooler never received a compressor-on command while MachineEnable was true")
}

func TestNode_AnswersDiagnosticRPC(t *testing.T) {
	cooler := &fakeCoolerLink{}
	n, _, _, _ := newTestNode(t, cooler)
	_ = n

	clientTransport, serverTransport := newMemPipe()
	n2 := New(serverTransport, cooler, Inputs{PollInterval: 10 * time.Millisecond}, Actuators{}, proto.SystemInformation{GitRevision: "diag"}, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go n2.Run(ctx)

	client := rpc.NewClient(clientTransport)
	resp, err := client.SendRequest(ctx, proto.Request{Kind: proto.ReqGetSystemInformation})
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if resp.SystemInformation.GitRevision != "diag" {
		t.Fatalf("GitRevision = %q, want %q", resp.SystemInformation.GitRevision, "diag")
	}
}

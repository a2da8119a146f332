// Package orchestrator assembles C1/C5/C6/C7/C8/C9 into the orchestrator
// node: the "smart" half of the system. It runs the full monitor fabric
// and both lockout state machines — its own and the cooler's — because
// the cooler node's RPC surface (spec §4.8) offers only a state getter
// and direct actuator setters, never a parameterised "evaluate these
// inputs" request. The cooler can't decide when to run itself; the
// orchestrator decides and pushes the result down one Set* call at a
// time.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/hoshiguma/safetycore/internal/checked"
	"github.com/hoshiguma/safetycore/internal/config"
	"github.com/hoshiguma/safetycore/internal/debounce"
	"github.com/hoshiguma/safetycore/internal/devices"
	"github.com/hoshiguma/safetycore/internal/eventqueue"
	"github.com/hoshiguma/safetycore/internal/gpio"
	"github.com/hoshiguma/safetycore/internal/lockout"
	"github.com/hoshiguma/safetycore/internal/monitor"
	"github.com/hoshiguma/safetycore/internal/proto"
	"github.com/hoshiguma/safetycore/internal/pubsub"
	"github.com/hoshiguma/safetycore/internal/rpc"
)

// ExtractionModeSource reads the fume-extraction override switch.
type ExtractionModeSource interface {
	Read() proto.ExtractionMode
}

// Inputs wires the orchestrator's local C1 digital inputs.
type Inputs struct {
	ChassisIntrusion gpio.Pin
	MachinePower     gpio.Pin
	DoorsClosed      gpio.Pin
	MachineRunning   gpio.Pin
	AirAssistDemand  gpio.Pin
	ExtractionMode   ExtractionModeSource
	PollInterval     time.Duration
}

// Actuators wires the orchestrator's four local actuator outputs plus
// the status lamp.
type Actuators struct {
	MachineEnable     *devices.Actuator
	LaserEnable       *devices.Actuator
	FumeExtractionFan *devices.Actuator
	AirAssistPump     *devices.Actuator
	Lamp              *devices.StatusLamp
}

// CoolerLink is the orchestrator's view of the cooler node: a state
// getter and four actuator setters, matching spec.md §4.8's RPC set
// exactly. NewCoolerLink wraps an rpc.Client; tests substitute a fake.
type CoolerLink interface {
	GetState(ctx context.Context) (proto.CoolerState, error)
	SetRadiatorFan(ctx context.Context, on bool) error
	SetCompressor(ctx context.Context, on bool) error
	SetCoolantPump(ctx context.Context, on bool) error
	SetStirrer(ctx context.Context, on bool) error
}

type rpcCoolerLink struct {
	client *rpc.Client
}

// NewCoolerLink adapts an rpc.Client into a CoolerLink.
func NewCoolerLink(client *rpc.Client) CoolerLink {
	return &rpcCoolerLink{client: client}
}

func (l *rpcCoolerLink) GetState(ctx context.Context) (proto.CoolerState, error) {
	resp, err := l.client.SendRequest(ctx, proto.Request{Kind: proto.ReqGetCoolerState})
	if err != nil {
		return proto.CoolerState{}, err
	}
	return resp.CoolerState, nil
}

func (l *rpcCoolerLink) setActuator(ctx context.Context, kind proto.RequestKind, on bool) error {
	_, err := l.client.SendRequest(ctx, proto.Request{Kind: kind, ActuatorOn: on})
	return err
}

func (l *rpcCoolerLink) SetRadiatorFan(ctx context.Context, on bool) error {
	return l.setActuator(ctx, proto.ReqSetRadiatorFan, on)
}

func (l *rpcCoolerLink) SetCompressor(ctx context.Context, on bool) error {
	return l.setActuator(ctx, proto.ReqSetCompressor, on)
}

func (l *rpcCoolerLink) SetCoolantPump(ctx context.Context, on bool) error {
	return l.setActuator(ctx, proto.ReqSetCoolantPump, on)
}

func (l *rpcCoolerLink) SetStirrer(ctx context.Context, on bool) error {
	return l.setActuator(ctx, proto.ReqSetStirrer, on)
}

// Node is the assembled orchestrator: its local inputs and actuators,
// the monitor fabric, both lockout state machines, the cooler link, its
// own event queue/telemetry fan-out, and the diagnostic RPC server.
type Node struct {
	inputs    Inputs
	actuators Actuators
	cooler    CoolerLink

	coolerPollInterval time.Duration
	lockoutInterval    time.Duration

	orchLockout   *lockout.OrchestratorLockout
	coolerLockout *lockout.CoolerLockout
	thresholds    config.ThresholdsConfig

	queue        *eventqueue.Queue[proto.Event]
	telemetryOut func(proto.Event)
	info         proto.SystemInformation
	server       *rpc.Server
	onFatal      monitor.FatalFunc
	onLinkError  func(error)

	mu       sync.Mutex
	monitors proto.Monitors
	orchIn   lockout.OrchestratorInputs

	// lockoutMu serializes every call into orchLockout/coolerLockout:
	// both hold mutable rundelay/min-off-time state that is not itself
	// safe for concurrent Evaluate calls, and debounce callbacks, the
	// fusion task, the cooler poll loop, and the lockout ticker can all
	// reach this evaluation path concurrently.
	lockoutMu sync.Mutex

	lastMachineEnable checked.Update[bool]
	lastLaserEnable   checked.Update[bool]
	lastFume          checked.Update[bool]
	lastAirAssist     checked.Update[bool]
	lastLamp          checked.Update[proto.StatusLampColour]
	lastCoolerOut     checked.Update[lockout.CoolerOutputs]
}

// Options configures the timing and fault-handling knobs Node.New needs
// beyond the wiring structs.
type Options struct {
	Thresholds         config.ThresholdsConfig
	RunOnDelay         config.RunOnDelayConfig
	QueueCapacity      int
	CoolerPollInterval time.Duration
	LockoutInterval    time.Duration
	TelemetryOut       func(proto.Event)
	OnFatal            monitor.FatalFunc
	OnLinkError        func(error)
}

// New assembles an orchestrator Node. transport carries the diagnostic
// RPC server's own request/response traffic (a separate link from the
// cooler's, which is reached via cooler).
func New(transport rpc.FrameTransport, cooler CoolerLink, inputs Inputs, actuators Actuators, info proto.SystemInformation, opts Options) *Node {
	if opts.CoolerPollInterval <= 0 {
		opts.CoolerPollInterval = time.Second
	}
	if opts.LockoutInterval <= 0 {
		opts.LockoutInterval = 100 * time.Millisecond
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 64
	}

	n := &Node{
		inputs:             inputs,
		actuators:          actuators,
		cooler:             cooler,
		coolerPollInterval: opts.CoolerPollInterval,
		lockoutInterval:    opts.LockoutInterval,
		orchLockout:        lockout.NewOrchestratorLockout(opts.RunOnDelay.FumeExtractionFan, opts.RunOnDelay.AirAssistPump),
		coolerLockout:      lockout.NewCoolerLockout(opts.RunOnDelay.CoolerCooldown, opts.RunOnDelay.CoolerMinOffTime),
		thresholds:         opts.Thresholds,
		queue:              eventqueue.New[proto.Event](opts.QueueCapacity),
		telemetryOut:       opts.TelemetryOut,
		info:               info,
		onFatal:            opts.OnFatal,
		onLinkError:        opts.OnLinkError,
	}
	n.server = rpc.NewServer(transport, n.handle)
	return n
}

// Emit implements devices.EventSink: every Control event an actuator
// produces is both enqueued locally (C7) and fanned out to the
// telemetry uplink (C9), per spec.md §4.4's "two-fan-out" rule.
func (n *Node) Emit(e proto.Event) {
	n.queue.Push(e)
	if n.telemetryOut != nil {
		n.telemetryOut(e)
	}
}

// Run starts the monitor fabric, the lockout evaluation loop, the
// cooler poll loop, and the diagnostic RPC server, blocking until ctx
// is cancelled or the server returns an error.
func (n *Node) Run(ctx context.Context) error {
	n.Emit(proto.NewBootEvent(n.info))

	topic := pubsub.New[monitor.Observation](32)
	sub := topic.Subscribe()
	defer sub.Unsubscribe()
	go monitor.FusionTask(ctx, sub, n.onMonitorsChanged, n.Emit)

	chassisCh := make(chan bool, 4)
	machinePowerOffCh := make(chan bool, 4)
	flowRateCh := make(chan float32, 4)
	levelLowCh := make(chan proto.FluidLevel, 4)
	levelFaultCh := make(chan proto.FluidLevel, 4)
	flowTempCh := make(chan float32, 4)
	tankTempCh := make(chan float32, 4)
	tempFaultCh := make(chan bool, 4)

	go monitor.EvaluateTask(ctx, proto.MonitorChassisIntrusion, chassisCh, evalChassisIntrusion, topic, n.onFatal)
	go monitor.EvaluateTask(ctx, proto.MonitorMachinePowerOff, machinePowerOffCh, evalMachinePowerOff, topic, n.onFatal)
	go monitor.EvaluateTask(ctx, proto.MonitorCoolantFlowInsufficient, flowRateCh, n.evalFlowInsufficient, topic, n.onFatal)
	go monitor.EvaluateTask(ctx, proto.MonitorCoolantReservoirLevelLow, levelLowCh, evalReservoirLevelLow, topic, n.onFatal)
	go monitor.EvaluateTask(ctx, proto.MonitorCoolantFlowTemperature, flowTempCh, n.evalFlowTemperature, topic, n.onFatal)
	go monitor.EvaluateTask(ctx, proto.MonitorCoolantReservoirTemperature, tankTempCh, n.evalReservoirTemperature, topic, n.onFatal)
	go monitor.EvaluateTask(ctx, proto.MonitorTemperatureSensorFault, tempFaultCh, evalTemperatureSensorFault, topic, n.onFatal)
	go monitor.EvaluateTask(ctx, proto.MonitorCoolantReservoirLevelSensorFault, levelFaultCh, evalReservoirLevelSensorFault, topic, n.onFatal)

	send := func(ctx context.Context, ch chan<- bool, v bool) {
		select {
		case ch <- v:
		case <-ctx.Done():
		}
	}

	if n.inputs.ChassisIntrusion != nil {
		go debounce.Task(ctx, n.inputs.ChassisIntrusion, n.inputs.PollInterval, func(level bool) {
			send(ctx, chassisCh, level)
		})
	}
	if n.inputs.MachinePower != nil {
		go debounce.Task(ctx, n.inputs.MachinePower, n.inputs.PollInterval, func(level bool) {
			send(ctx, machinePowerOffCh, !level)
			n.updateInput(func(in *lockout.OrchestratorInputs) { in.MachinePowerOn = level })
		})
	}
	if n.inputs.DoorsClosed != nil {
		go debounce.Task(ctx, n.inputs.DoorsClosed, n.inputs.PollInterval, func(level bool) {
			n.updateInput(func(in *lockout.OrchestratorInputs) { in.DoorsClosed = level })
		})
	}
	if n.inputs.MachineRunning != nil {
		go debounce.Task(ctx, n.inputs.MachineRunning, n.inputs.PollInterval, func(level bool) {
			n.updateInput(func(in *lockout.OrchestratorInputs) { in.MachineRunning = level })
		})
	}
	if n.inputs.AirAssistDemand != nil {
		go debounce.Task(ctx, n.inputs.AirAssistDemand, n.inputs.PollInterval, func(level bool) {
			n.updateInput(func(in *lockout.OrchestratorInputs) { in.AirAssistDemand = level })
		})
	}
	if n.inputs.ExtractionMode != nil {
		go n.pollExtractionMode(ctx)
	}

	go n.pollCooler(ctx, flowRateCh, levelLowCh, levelFaultCh, flowTempCh, tankTempCh, tempFaultCh)
	go n.lockoutTicker(ctx)

	return n.server.Serve(ctx)
}

// pollExtractionMode samples the extraction mode switch on the shared
// debounce cadence; it yields a proto.ExtractionMode rather than a pin
// level, so it can't reuse debounce.Task directly.
func (n *Node) pollExtractionMode(ctx context.Context) {
	period := n.inputs.PollInterval
	if period <= 0 {
		period = 50 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var last checked.Update[proto.ExtractionMode]
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mode := n.inputs.ExtractionMode.Read()
			if last.Store(mode) {
				n.updateInput(func(in *lockout.OrchestratorInputs) { in.ExtractionMode = mode })
			}
		}
	}
}

// pollCooler periodically fetches the cooler's state over RPC and feeds
// the derived monitor-fabric channels; failures are reported via
// onLinkError and otherwise ignored (the next poll tries again).
func (n *Node) pollCooler(ctx context.Context, flowRateCh chan<- float32, levelLowCh, levelFaultCh chan<- proto.FluidLevel, flowTempCh, tankTempCh chan<- float32, tempFaultCh chan<- bool) {
	ticker := time.NewTicker(n.coolerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, n.coolerPollInterval)
			state, err := n.cooler.GetState(reqCtx)
			cancel()
			if err != nil {
				if n.onLinkError != nil {
					n.onLinkError(err)
				}
				continue
			}

			selectSend(ctx, flowRateCh, state.FlowLitresMin)
			selectSend(ctx, levelLowCh, state.ReservoirLevel)
			selectSend(ctx, levelFaultCh, state.ReservoirLevel)
			selectSend(ctx, flowTempCh, state.FlowTemperatureC)
			selectSend(ctx, tankTempCh, state.TankTemperatureC)
			selectSend(ctx, tempFaultCh, state.FlowTemperatureFault || state.TankTemperatureFault)

			n.applyCoolerOutputs(ctx, time.Now())
		}
	}
}

func selectSend[T any](ctx context.Context, ch chan<- T, v T) {
	select {
	case ch <- v:
	case <-ctx.Done():
	}
}

// lockoutTicker re-runs lockout evaluation on a fixed cadence so the
// run-on-delay and minimum-off-time state machines advance even when no
// input or monitor changes, since their ShouldRun() depends on elapsed
// time alone once a delay window is active.
func (n *Node) lockoutTicker(ctx context.Context) {
	ticker := time.NewTicker(n.lockoutInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.mu.Lock()
			monitors := n.monitors
			in := n.orchIn
			n.mu.Unlock()
			n.evaluateOrchestratorLockout(time.Now(), monitors, in)
			n.applyCoolerOutputs(ctx, time.Now())
		}
	}
}

func (n *Node) updateInput(mutate func(*lockout.OrchestratorInputs)) {
	n.mu.Lock()
	mutate(&n.orchIn)
	in := n.orchIn
	monitors := n.monitors
	n.mu.Unlock()
	n.evaluateOrchestratorLockout(time.Now(), monitors, in)
}

func (n *Node) onMonitorsChanged(m proto.Monitors) {
	n.mu.Lock()
	n.monitors = m
	in := n.orchIn
	n.mu.Unlock()
	n.evaluateOrchestratorLockout(time.Now(), m, in)
}

func (n *Node) evaluateOrchestratorLockout(now time.Time, monitors proto.Monitors, in lockout.OrchestratorInputs) {
	n.lockoutMu.Lock()
	out := n.orchLockout.Evaluate(now, monitors, in)
	n.lockoutMu.Unlock()
	n.applyOrchestratorOutputs(out)
}

func (n *Node) applyOrchestratorOutputs(out lockout.Outputs) {
	n.mu.Lock()
	changedME := n.lastMachineEnable.Store(out.MachineEnable)
	changedLE := n.lastLaserEnable.Store(out.LaserEnable)
	changedFE := n.lastFume.Store(out.FumeExtractionFan)
	changedAA := n.lastAirAssist.Store(out.AirAssistPump)
	changedLamp := n.lastLamp.Store(out.Lamp)
	n.mu.Unlock()

	if changedME && n.actuators.MachineEnable != nil {
		n.actuators.MachineEnable.Set(out.MachineEnable)
	}
	if changedLE && n.actuators.LaserEnable != nil {
		n.actuators.LaserEnable.Set(out.LaserEnable)
	}
	if changedFE && n.actuators.FumeExtractionFan != nil {
		n.actuators.FumeExtractionFan.Set(out.FumeExtractionFan)
	}
	if changedAA && n.actuators.AirAssistPump != nil {
		n.actuators.AirAssistPump.Set(out.AirAssistPump)
	}
	if changedLamp && n.actuators.Lamp != nil {
		n.actuators.Lamp.Set(out.Lamp)
	}
}

// applyCoolerOutputs evaluates the cooler's lockout against the
// orchestrator's last-known MachineEnable demand and pushes any changed
// actuator state to the cooler node over RPC.
func (n *Node) applyCoolerOutputs(ctx context.Context, now time.Time) {
	n.mu.Lock()
	machineEnable, _ := n.lastMachineEnable.Get()
	n.mu.Unlock()

	n.lockoutMu.Lock()
	out := n.coolerLockout.Evaluate(now, lockout.CoolerInputs{MachineEnable: machineEnable})
	n.lockoutMu.Unlock()

	n.mu.Lock()
	changed := n.lastCoolerOut.Store(out)
	n.mu.Unlock()
	if !changed {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, n.coolerPollInterval)
	defer cancel()
	if err := n.cooler.SetCoolantPump(reqCtx, out.CoolantPump); err != nil && n.onLinkError != nil {
		n.onLinkError(err)
	}
	if err := n.cooler.SetRadiatorFan(reqCtx, out.RadiatorFan); err != nil && n.onLinkError != nil {
		n.onLinkError(err)
	}
	if err := n.cooler.SetCompressor(reqCtx, out.Compressor); err != nil && n.onLinkError != nil {
		n.onLinkError(err)
	}
	if err := n.cooler.SetStirrer(reqCtx, out.Stirrer); err != nil && n.onLinkError != nil {
		n.onLinkError(err)
	}
}

// handle answers the orchestrator's own diagnostic RPC surface: the
// common request subset only, since MachinePower/laser control is not
// an RPC-settable concern on this node.
func (n *Node) handle(ctx context.Context, req proto.Request) proto.Response {
	dispatch := rpc.Dispatch{
		SystemInformation: func() proto.SystemInformation { return n.info },
		EventCount:        func() uint32 { return n.queue.Stats().Count },
		EventStatistics: func() proto.EventStatistics {
			s := n.queue.Stats()
			return proto.EventStatistics{Count: s.Count, Dropped: s.Dropped, Capacity: s.Capacity, HighWaterMark: s.HighWaterMark}
		},
		OldestEvent: func() (proto.Event, bool) { return n.queue.Pop() },
	}
	return dispatch.Handle(ctx, req)
}

func evalChassisIntrusion(intruded bool) proto.Severity {
	if intruded {
		return proto.SeverityCritical
	}
	return proto.SeverityNormal
}

func evalMachinePowerOff(off bool) proto.Severity {
	if off {
		return proto.SeverityCritical
	}
	return proto.SeverityNormal
}

func (n *Node) evalFlowInsufficient(rate float32) proto.Severity {
	switch {
	case float64(rate) < n.thresholds.CoolantFlowCriticalLitresMin:
		return proto.SeverityCritical
	case float64(rate) < n.thresholds.CoolantFlowWarningLitresMin:
		return proto.SeverityWarning
	default:
		return proto.SeverityNormal
	}
}

func evalReservoirLevelLow(level proto.FluidLevel) proto.Severity {
	switch level {
	case proto.FluidLevelEmpty, proto.FluidLevelSensorFault:
		return proto.SeverityCritical
	case proto.FluidLevelLow:
		return proto.SeverityWarning
	default:
		return proto.SeverityNormal
	}
}

func evalReservoirLevelSensorFault(level proto.FluidLevel) proto.Severity {
	if level == proto.FluidLevelSensorFault {
		return proto.SeverityCritical
	}
	return proto.SeverityNormal
}

func (n *Node) evalFlowTemperature(degreesC float32) proto.Severity {
	switch {
	case float64(degreesC) > n.thresholds.CoolantFlowTemperatureCriticalC:
		return proto.SeverityCritical
	case float64(degreesC) > n.thresholds.CoolantFlowTemperatureWarningC:
		return proto.SeverityWarning
	default:
		return proto.SeverityNormal
	}
}

func (n *Node) evalReservoirTemperature(degreesC float32) proto.Severity {
	switch {
	case float64(degreesC) > n.thresholds.CoolantReservoirTemperatureCriticalC:
		return proto.SeverityCritical
	case float64(degreesC) > n.thresholds.CoolantReservoirTemperatureWarningC:
		return proto.SeverityWarning
	default:
		return proto.SeverityNormal
	}
}

func evalTemperatureSensorFault(faulted bool) proto.Severity {
	if faulted {
		return proto.SeverityCritical
	}
	return proto.SeverityNormal
}

// Package cooler wires C3/C4/C7/C8 into the cooler node's topology: a
// deliberately "dumb" peripheral that exposes its sensors and actuators
// over RPC and applies whatever state the orchestrator commands. All
// lockout logic (C6) runs on the orchestrator, which is the node that
// holds the global Monitors snapshot; the cooler node has no opinion of
// its own about when the compressor should run.
package cooler

import (
	"context"
	"sync"
	"time"

	"github.com/hoshiguma/safetycore/internal/devices"
	"github.com/hoshiguma/safetycore/internal/eventqueue"
	"github.com/hoshiguma/safetycore/internal/gpio"
	"github.com/hoshiguma/safetycore/internal/proto"
	"github.com/hoshiguma/safetycore/internal/rpc"
	"github.com/hoshiguma/safetycore/internal/sensors"
)

// Actuators groups the cooler node's four relay outputs.
type Actuators struct {
	CoolantPump *devices.Actuator
	RadiatorFan *devices.Actuator
	Compressor  *devices.Actuator
	Stirrer     *devices.Actuator
}

// Sensors groups the cooler node's pulse counter, dual-float level pins,
// and two independently-polled temperature sources.
type Sensors struct {
	FlowCounter             sensors.FlowCounter
	FlowGateInterval        time.Duration
	LitresPerPulse          float64
	ReservoirLevelHigh      gpio.Pin
	ReservoirLevelLow       gpio.Pin
	LevelPollInterval       time.Duration
	HeatExchangeLevel       gpio.Pin
	FlowTemperature         sensors.TemperatureSource
	TankTemperature         sensors.TemperatureSource
	TemperaturePollInterval time.Duration
}

// Node is the assembled cooler topology: its actuators, sensors, event
// queue, and the RPC server answering the orchestrator's requests.
type Node struct {
	actuators Actuators
	sensors   Sensors
	queue     *eventqueue.Queue[proto.Event]
	info      proto.SystemInformation

	mu    sync.Mutex
	state proto.CoolerState

	server *rpc.Server
}

// New assembles a cooler Node over transport, driving actuators and
// polling sensors, with queueCapacity-deep event storage.
func New(transport rpc.FrameTransport, actuators Actuators, sns Sensors, queueCapacity int, info proto.SystemInformation) *Node {
	n := &Node{
		actuators: actuators,
		sensors:   sns,
		queue:     eventqueue.New[proto.Event](queueCapacity),
		info:      info,
	}
	n.server = rpc.NewServer(transport, n.handle)
	return n
}

// Emit implements devices.EventSink, enqueuing every Control event the
// cooler's actuators produce.
func (n *Node) Emit(e proto.Event) {
	n.queue.Push(e)
}

// Run starts the sensor tasks and the RPC server, blocking until ctx is
// cancelled or the server returns an error.
func (n *Node) Run(ctx context.Context) error {
	n.queue.Push(proto.NewBootEvent(n.info))

	go sensors.FlowTask(ctx, n.sensors.FlowCounter, n.sensors.FlowGateInterval, n.sensors.LitresPerPulse, n.onFlow)
	go sensors.LevelTask(ctx, n.sensors.ReservoirLevelHigh, n.sensors.ReservoirLevelLow, n.sensors.LevelPollInterval, proto.SignalCoolantReservoirLevel, n.onLevel)
	if n.sensors.HeatExchangeLevel != nil {
		go sensors.HeatExchangeLevelTask(ctx, n.sensors.HeatExchangeLevel, n.sensors.LevelPollInterval, n.onLevel)
	}
	go sensors.TemperatureTask(ctx, proto.TemperatureCoolantFlow, n.sensors.FlowTemperature, n.sensors.TemperaturePollInterval, n.onTemperature)
	go sensors.TemperatureTask(ctx, proto.TemperatureCoolantReservoir, n.sensors.TankTemperature, n.sensors.TemperaturePollInterval, n.onTemperature)

	return n.server.Serve(ctx)
}

func (n *Node) onFlow(sig proto.InputSignal) {
	n.mu.Lock()
	n.state.FlowLitresMin = sig.FlowLitresMin
	n.mu.Unlock()
	n.queue.Push(proto.NewObservationEvent(sig))
}

func (n *Node) onLevel(sig proto.InputSignal) {
	n.mu.Lock()
	switch sig.Kind {
	case proto.SignalCoolantReservoirLevel:
		n.state.ReservoirLevel = sig.FluidLevel
	case proto.SignalHeatExchangeFluidLevel:
		n.state.HeatExchangeLevel = sig.FluidLevel
	}
	n.mu.Unlock()
	n.queue.Push(proto.NewObservationEvent(sig))
}

func (n *Node) onTemperature(sig proto.InputSignal) {
	n.mu.Lock()
	switch sig.Temperature.Channel {
	case proto.TemperatureCoolantFlow:
		n.state.FlowTemperatureC = sig.Temperature.DegreesC
		n.state.FlowTemperatureFault = sig.Temperature.SensorFault
	case proto.TemperatureCoolantReservoir:
		n.state.TankTemperatureC = sig.Temperature.DegreesC
		n.state.TankTemperatureFault = sig.Temperature.SensorFault
	}
	n.mu.Unlock()
	n.queue.Push(proto.NewObservationEvent(sig))
}

// handle answers requests: the common subset via rpc.Dispatch, plus the
// cooler's actuator-override/state extensions.
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

	switch req.Kind {
	case proto.ReqGetCoolerState:
		n.mu.Lock()
		state := n.state
		state.CoolantPumpOn = n.actuators.CoolantPump.Current()
		state.RadiatorFanOn = n.actuators.RadiatorFan.Current()
		state.CompressorOn = n.actuators.Compressor.Current()
		state.StirrerOn = n.actuators.Stirrer.Current()
		n.mu.Unlock()
		return proto.Response{Kind: proto.RespCoolerState, CoolerState: state}
	case proto.ReqSetRadiatorFan:
		n.actuators.RadiatorFan.Set(req.ActuatorOn)
		return proto.Response{Kind: proto.RespAck}
	case proto.ReqSetCompressor:
		n.actuators.Compressor.Set(req.ActuatorOn)
		return proto.Response{Kind: proto.RespAck}
	case proto.ReqSetCoolantPump:
		n.actuators.CoolantPump.Set(req.ActuatorOn)
		return proto.Response{Kind: proto.RespAck}
	case proto.ReqSetStirrer:
		n.actuators.Stirrer.Set(req.ActuatorOn)
		return proto.Response{Kind: proto.RespAck}
	default:
		return dispatch.Handle(ctx, req)
	}
}

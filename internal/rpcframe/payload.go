package rpcframe

import (
	"fmt"

	"github.com/hoshiguma/safetycore/internal/proto"
)

// EncodeRequest serializes a Request to the opaque payload bytes carried
// inside an RpcMessage, matching firmware/lib/hoshiguma-api/src/api.rs's
// Response::new pattern of a one-byte type tag followed by the variant's
// fields.
func EncodeRequest(req proto.Request) []byte {
	var w Writer
	w.WriteByte(byte(req.Kind))
	switch req.Kind {
	case proto.ReqPing:
		w.WriteVarint(uint64(req.Nonce))
	case proto.ReqSetRadiatorFan, proto.ReqSetCompressor, proto.ReqSetCoolantPump, proto.ReqSetStirrer:
		w.WriteBool(req.ActuatorOn)
	}
	return w.Bytes()
}

// DecodeRequest reverses EncodeRequest.
func DecodeRequest(payload []byte) (proto.Request, error) {
	r := NewReader(payload)
	kindByte, err := r.ReadByte()
	if err != nil {
		return proto.Request{}, fmt.Errorf("rpcframe: decode request kind: %w", err)
	}
	req := proto.Request{Kind: proto.RequestKind(kindByte)}
	switch req.Kind {
	case proto.ReqPing:
		nonce, err := r.ReadVarint()
		if err != nil {
			return proto.Request{}, fmt.Errorf("rpcframe: decode ping nonce: %w", err)
		}
		req.Nonce = uint32(nonce)
	case proto.ReqSetRadiatorFan, proto.ReqSetCompressor, proto.ReqSetCoolantPump, proto.ReqSetStirrer:
		on, err := r.ReadBool()
		if err != nil {
			return proto.Request{}, fmt.Errorf("rpcframe: decode request actuator flag: %w", err)
		}
		req.ActuatorOn = on
	}
	return req, nil
}

// EncodeResponse serializes a Response.
func EncodeResponse(resp proto.Response) []byte {
	var w Writer
	w.WriteByte(byte(resp.Kind))
	switch resp.Kind {
	case proto.RespSystemInformation:
		writeSystemInformation(&w, resp.SystemInformation)
	case proto.RespEventCount:
		w.WriteVarint(uint64(resp.EventCount))
	case proto.RespEventStatistics:
		writeEventStatistics(&w, resp.EventStatistics)
	case proto.RespEvent:
		writeEvent(&w, resp.Event)
	case proto.RespCoolerState:
		writeCoolerState(&w, resp.CoolerState)
	case proto.RespError:
		w.WriteString(resp.ErrorMessage)
	case proto.RespPong:
		w.WriteVarint(uint64(resp.Nonce))
	case proto.RespEventQueueEmpty, proto.RespAck:
		// no payload
	}
	return w.Bytes()
}

// DecodeResponse reverses EncodeResponse.
func DecodeResponse(payload []byte) (proto.Response, error) {
	r := NewReader(payload)
	kindByte, err := r.ReadByte()
	if err != nil {
		return proto.Response{}, fmt.Errorf("rpcframe: decode response kind: %w", err)
	}
	resp := proto.Response{Kind: proto.ResponseKind(kindByte)}
	switch resp.Kind {
	case proto.RespSystemInformation:
		info, err := readSystemInformation(r)
		if err != nil {
			return proto.Response{}, err
		}
		resp.SystemInformation = info
	case proto.RespEventCount:
		n, err := r.ReadVarint()
		if err != nil {
			return proto.Response{}, fmt.Errorf("rpcframe: decode event count: %w", err)
		}
		resp.EventCount = uint32(n)
	case proto.RespEventStatistics:
		stats, err := readEventStatistics(r)
		if err != nil {
			return proto.Response{}, err
		}
		resp.EventStatistics = stats
	case proto.RespEvent:
		ev, err := readEvent(r)
		if err != nil {
			return proto.Response{}, err
		}
		resp.Event = ev
	case proto.RespCoolerState:
		state, err := readCoolerState(r)
		if err != nil {
			return proto.Response{}, err
		}
		resp.CoolerState = state
	case proto.RespError:
		msg, err := r.ReadString()
		if err != nil {
			return proto.Response{}, fmt.Errorf("rpcframe: decode error message: %w", err)
		}
		resp.ErrorMessage = msg
	case proto.RespPong:
		nonce, err := r.ReadVarint()
		if err != nil {
			return proto.Response{}, fmt.Errorf("rpcframe: decode pong nonce: %w", err)
		}
		resp.Nonce = uint32(nonce)
	case proto.RespEventQueueEmpty, proto.RespAck:
		// no payload
	}
	return resp, nil
}

func writeSystemInformation(w *Writer, info proto.SystemInformation) {
	w.WriteString(info.GitRevision)
	w.WriteByte(byte(info.LastBootReason))
	w.WriteVarint(info.UptimeMillis)
}

func readSystemInformation(r *Reader) (proto.SystemInformation, error) {
	rev, err := r.ReadString()
	if err != nil {
		return proto.SystemInformation{}, fmt.Errorf("rpcframe: decode git revision: %w", err)
	}
	reasonByte, err := r.ReadByte()
	if err != nil {
		return proto.SystemInformation{}, fmt.Errorf("rpcframe: decode boot reason: %w", err)
	}
	uptime, err := r.ReadVarint()
	if err != nil {
		return proto.SystemInformation{}, fmt.Errorf("rpcframe: decode uptime: %w", err)
	}
	return proto.SystemInformation{GitRevision: rev, LastBootReason: proto.BootReason(reasonByte), UptimeMillis: uptime}, nil
}

func writeEventStatistics(w *Writer, s proto.EventStatistics) {
	w.WriteVarint(uint64(s.Count))
	w.WriteVarint(s.Dropped)
	w.WriteVarint(uint64(s.Capacity))
	w.WriteVarint(uint64(s.HighWaterMark))
}

func readEventStatistics(r *Reader) (proto.EventStatistics, error) {
	count, err := r.ReadVarint()
	if err != nil {
		return proto.EventStatistics{}, err
	}
	dropped, err := r.ReadVarint()
	if err != nil {
		return proto.EventStatistics{}, err
	}
	cap_, err := r.ReadVarint()
	if err != nil {
		return proto.EventStatistics{}, err
	}
	hwm, err := r.ReadVarint()
	if err != nil {
		return proto.EventStatistics{}, err
	}
	return proto.EventStatistics{Count: uint32(count), Dropped: dropped, Capacity: uint32(cap_), HighWaterMark: uint32(hwm)}, nil
}

func writeCoolerState(w *Writer, s proto.CoolerState) {
	w.WriteBool(s.RadiatorFanOn)
	w.WriteBool(s.CompressorOn)
	w.WriteBool(s.CoolantPumpOn)
	w.WriteBool(s.StirrerOn)
	w.WriteFloat32(s.FlowTemperatureC)
	w.WriteBool(s.FlowTemperatureFault)
	w.WriteFloat32(s.TankTemperatureC)
	w.WriteBool(s.TankTemperatureFault)
	w.WriteFloat32(s.FlowLitresMin)
	w.WriteByte(byte(s.ReservoirLevel))
	w.WriteByte(byte(s.HeatExchangeLevel))
}

func readCoolerState(r *Reader) (proto.CoolerState, error) {
	var s proto.CoolerState
	var err error
	if s.RadiatorFanOn, err = r.ReadBool(); err != nil {
		return s, err
	}
	if s.CompressorOn, err = r.ReadBool(); err != nil {
		return s, err
	}
	if s.CoolantPumpOn, err = r.ReadBool(); err != nil {
		return s, err
	}
	if s.StirrerOn, err = r.ReadBool(); err != nil {
		return s, err
	}
	if s.FlowTemperatureC, err = r.ReadFloat32(); err != nil {
		return s, err
	}
	if s.FlowTemperatureFault, err = r.ReadBool(); err != nil {
		return s, err
	}
	if s.TankTemperatureC, err = r.ReadFloat32(); err != nil {
		return s, err
	}
	if s.TankTemperatureFault, err = r.ReadBool(); err != nil {
		return s, err
	}
	if s.FlowLitresMin, err = r.ReadFloat32(); err != nil {
		return s, err
	}
	levelByte, err := r.ReadByte()
	if err != nil {
		return s, err
	}
	s.ReservoirLevel = proto.FluidLevel(levelByte)
	heatExchangeByte, err := r.ReadByte()
	if err != nil {
		return s, err
	}
	s.HeatExchangeLevel = proto.FluidLevel(heatExchangeByte)
	return s, nil
}

// writeEvent/readEvent cover every Event kind: Boot, MonitorsChanged,
// Panic, Observation and Control.
func writeEvent(w *Writer, e proto.Event) {
	w.WriteByte(byte(e.Kind))
	switch e.Kind {
	case proto.EventBoot:
		writeSystemInformation(w, e.Boot)
	case proto.EventMonitorsChanged:
		for _, kind := range proto.AllMonitorKinds() {
			w.WriteByte(byte(e.MonitorsChanged.Get(kind)))
		}
	case proto.EventPanic:
		w.WriteString(e.PanicMessage)
		w.WriteString(e.PanicLocation.File)
		w.WriteVarint(uint64(e.PanicLocation.Line))
		w.WriteVarint(uint64(e.PanicLocation.Column))
	case proto.EventObservation:
		writeInputSignal(w, e.Observation)
	case proto.EventControl:
		writeActuatorSetpoint(w, e.Control)
	}
}

func readEvent(r *Reader) (proto.Event, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return proto.Event{}, err
	}
	ev := proto.Event{Kind: proto.EventKind(kindByte)}
	switch ev.Kind {
	case proto.EventBoot:
		info, err := readSystemInformation(r)
		if err != nil {
			return proto.Event{}, err
		}
		ev.Boot = info
	case proto.EventMonitorsChanged:
		var m proto.Monitors
		for _, kind := range proto.AllMonitorKinds() {
			b, err := r.ReadByte()
			if err != nil {
				return proto.Event{}, err
			}
			m.Set(kind, proto.Severity(b))
		}
		ev.MonitorsChanged = m
	case proto.EventPanic:
		msg, err := r.ReadString()
		if err != nil {
			return proto.Event{}, err
		}
		file, err := r.ReadString()
		if err != nil {
			return proto.Event{}, err
		}
		line, err := r.ReadVarint()
		if err != nil {
			return proto.Event{}, err
		}
		col, err := r.ReadVarint()
		if err != nil {
			return proto.Event{}, err
		}
		ev.PanicMessage = msg
		ev.PanicLocation = proto.PanicLocation{File: file, Line: uint32(line), Column: uint32(col)}
	case proto.EventObservation:
		sig, err := readInputSignal(r)
		if err != nil {
			return proto.Event{}, err
		}
		ev.Observation = sig
	case proto.EventControl:
		sp, err := readActuatorSetpoint(r)
		if err != nil {
			return proto.Event{}, err
		}
		ev.Control = sp
	}
	return ev, nil
}

func writeInputSignal(w *Writer, sig proto.InputSignal) {
	w.WriteByte(byte(sig.Kind))
	switch sig.Kind {
	case proto.SignalDoorsClosed, proto.SignalMachineRunning, proto.SignalAirAssistDemand,
		proto.SignalChassisIntrusion, proto.SignalMachinePower:
		w.WriteBool(sig.Bool)
	case proto.SignalExtractionMode:
		w.WriteByte(byte(sig.ExtractionMode))
	case proto.SignalCoolantReservoirLevel, proto.SignalHeatExchangeFluidLevel:
		w.WriteByte(byte(sig.FluidLevel))
	case proto.SignalCoolantFlow:
		w.WriteFloat32(sig.FlowLitresMin)
	case proto.SignalTemperatureReading:
		w.WriteByte(byte(sig.Temperature.Channel))
		w.WriteFloat32(sig.Temperature.DegreesC)
		w.WriteBool(sig.Temperature.SensorFault)
	}
}

func readInputSignal(r *Reader) (proto.InputSignal, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return proto.InputSignal{}, err
	}
	sig := proto.InputSignal{Kind: proto.InputSignalKind(kindByte)}
	switch sig.Kind {
	case proto.SignalDoorsClosed, proto.SignalMachineRunning, proto.SignalAirAssistDemand,
		proto.SignalChassisIntrusion, proto.SignalMachinePower:
		b, err := r.ReadBool()
		if err != nil {
			return proto.InputSignal{}, err
		}
		sig.Bool = b
	case proto.SignalExtractionMode:
		b, err := r.ReadByte()
		if err != nil {
			return proto.InputSignal{}, err
		}
		sig.ExtractionMode = proto.ExtractionMode(b)
	case proto.SignalCoolantReservoirLevel, proto.SignalHeatExchangeFluidLevel:
		b, err := r.ReadByte()
		if err != nil {
			return proto.InputSignal{}, err
		}
		sig.FluidLevel = proto.FluidLevel(b)
	case proto.SignalCoolantFlow:
		f, err := r.ReadFloat32()
		if err != nil {
			return proto.InputSignal{}, err
		}
		sig.FlowLitresMin = f
	case proto.SignalTemperatureReading:
		channelByte, err := r.ReadByte()
		if err != nil {
			return proto.InputSignal{}, err
		}
		degrees, err := r.ReadFloat32()
		if err != nil {
			return proto.InputSignal{}, err
		}
		fault, err := r.ReadBool()
		if err != nil {
			return proto.InputSignal{}, err
		}
		sig.Temperature = proto.TemperatureReading{Channel: proto.TemperatureChannel(channelByte), DegreesC: degrees, SensorFault: fault}
	}
	return sig, nil
}

func writeActuatorSetpoint(w *Writer, sp proto.ActuatorSetpoint) {
	w.WriteByte(byte(sp.Kind))
	if sp.Kind == proto.ActuatorStatusLamp {
		w.WriteByte(byte(sp.Lamp))
		return
	}
	w.WriteBool(sp.On)
}

func readActuatorSetpoint(r *Reader) (proto.ActuatorSetpoint, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return proto.ActuatorSetpoint{}, err
	}
	sp := proto.ActuatorSetpoint{Kind: proto.ActuatorSetpointKind(kindByte)}
	if sp.Kind == proto.ActuatorStatusLamp {
		b, err := r.ReadByte()
		if err != nil {
			return proto.ActuatorSetpoint{}, err
		}
		sp.Lamp = proto.StatusLampColour(b)
		return sp, nil
	}
	on, err := r.ReadBool()
	if err != nil {
		return proto.ActuatorSetpoint{}, err
	}
	sp.On = on
	return sp, nil
}

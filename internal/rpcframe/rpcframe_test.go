package rpcframe

import (
	"bytes"
	"testing"

	"github.com/hoshiguma/safetycore/internal/proto"
)

func TestCOBS_RoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0x11, 0x22, 0x00, 0x33},
		bytes.Repeat([]byte{0x01}, maxPayloadSize),
		bytes.Repeat([]byte{0x00}, 10),
		{0xFF, 0x00, 0xFF, 0x00, 0xFF},
	}
	for i, data := range cases {
		encoded, err := EncodeCOBS(data)
		if err != nil {
			t.Fatalf("case %d: EncodeCOBS: %v", i, err)
		}
		for _, b := range encoded[:len(encoded)-1] {
			if b == 0x00 {
				t.Fatalf("case %d: encoded frame contains an embedded zero before the delimiter", i)
			}
		}
		decoded, err := DecodeCOBS(encoded)
		if err != nil {
			t.Fatalf("case %d: DecodeCOBS: %v", i, err)
		}
		if !bytes.Equal(decoded, data) {
			t.Fatalf("case %d: round trip = %v, want %v", i, decoded, data)
		}
	}
}

func TestDecodeCOBS_MissingDelimiter(t *testing.T) {
	if _, err := DecodeCOBS([]byte{0x01, 0x02}); err == nil {
		t.Fatalf("DecodeCOBS without trailing delimiter: want error, got nil")
	}
}

func TestMessage_RoundTrip(t *testing.T) {
	req := proto.Request{Kind: proto.ReqSetCompressor, ActuatorOn: true}
	payload := EncodeRequest(req)
	msg := proto.RpcMessage{Sequence: 7, Kind: proto.MessageRequest, Payload: payload}

	frame, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	decoded, err := DecodeMessage(frame)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if decoded.Sequence != 7 || decoded.Kind != proto.MessageRequest {
		t.Fatalf("decoded envelope = %+v, want Sequence=7 Kind=Request", decoded)
	}
	gotReq, err := DecodeRequest(decoded.Payload)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if gotReq != req {
		t.Fatalf("DecodeRequest() = %+v, want %+v", gotReq, req)
	}
}

func TestPing_NonceRoundTrip(t *testing.T) {
	req := proto.Request{Kind: proto.ReqPing, Nonce: 0xCAFEBABE}
	payload := EncodeRequest(req)
	got, err := DecodeRequest(payload)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if got.Nonce != req.Nonce {
		t.Fatalf("decoded nonce = %d, want %d", got.Nonce, req.Nonce)
	}

	resp := proto.Response{Kind: proto.RespPong, Nonce: req.Nonce}
	respPayload := EncodeResponse(resp)
	gotResp, err := DecodeResponse(respPayload)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if gotResp.Nonce != req.Nonce {
		t.Fatalf("echoed pong nonce = %d, want %d", gotResp.Nonce, req.Nonce)
	}
}

func TestResponse_SystemInformationRoundTrip(t *testing.T) {
	resp := proto.Response{
		Kind: proto.RespSystemInformation,
		SystemInformation: proto.SystemInformation{
			GitRevision:    "deadbeef",
			LastBootReason: proto.BootWatchdogForced,
			UptimeMillis:   123456789,
		},
	}
	payload := EncodeResponse(resp)
	got, err := DecodeResponse(payload)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if got != resp {
		t.Fatalf("DecodeResponse() = %+v, want %+v", got, resp)
	}
}

func TestResponse_EventStatisticsRoundTrip(t *testing.T) {
	resp := proto.Response{
		Kind: proto.RespEventStatistics,
		EventStatistics: proto.EventStatistics{
			Count: 64, Dropped: 6, Capacity: 64, HighWaterMark: 64,
		},
	}
	payload := EncodeResponse(resp)
	got, err := DecodeResponse(payload)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if got != resp {
		t.Fatalf("DecodeResponse() = %+v, want %+v", got, resp)
	}
}

func TestResponse_IncorrectKindByte(t *testing.T) {
	// A payload whose tag byte matches no known ResponseKind still
	// decodes (Kind is just a byte) but downstream dispatch must reject
	// it; DecodeResponse itself should not error on an unrecognised tag
	// with no body, mirroring api.rs's explicit id-mismatch-is-a-caller-
	// concern design.
	got, err := DecodeResponse([]byte{0xEE})
	if err != nil {
		t.Fatalf("DecodeResponse with unknown tag: unexpected error %v", err)
	}
	if got.Kind != proto.ResponseKind(0xEE) {
		t.Fatalf("got.Kind = %v, want 0xEE", got.Kind)
	}
}

func TestEvent_MonitorsChangedRoundTrip(t *testing.T) {
	var m proto.Monitors
	m.Set(proto.MonitorChassisIntrusion, proto.SeverityCritical)
	m.Set(proto.MonitorCoolantFlowInsufficient, proto.SeverityWarning)
	ev := proto.NewMonitorsChangedEvent(m)

	var w Writer
	writeEvent(&w, ev)
	r := NewReader(w.Bytes())
	got, err := readEvent(r)
	if err != nil {
		t.Fatalf("readEvent: %v", err)
	}
	if !got.MonitorsChanged.Equal(m) {
		t.Fatalf("decoded monitors snapshot does not match original")
	}
}

func TestEncodeDecodeEvent_COBSFramedRoundTrip(t *testing.T) {
	ev := proto.NewPanicEvent("flow sensor fault", proto.PanicLocation{File: "monitor.go", Line: 7})

	frame, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	got, err := DecodeEvent(frame)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if got.Kind != proto.EventPanic || got.PanicMessage != "flow sensor fault" || got.PanicLocation.Line != 7 {
		t.Fatalf("got = %+v, want Panic event with matching message/location", got)
	}
}

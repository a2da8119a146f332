package rpc

import (
	"context"
	"errors"

	"github.com/hoshiguma/safetycore/internal/proto"
	"github.com/hoshiguma/safetycore/internal/rpcframe"
)

// Handler answers one Request, mirroring internal/operator/server.go's
// dispatch(req) Response switch, adapted from the JSON command set
// (cmdReset/cmdPin/cmdUnpin/cmdStatus/cmdList) to this system's RPC
// surface (Ping/GetSystemInformation/GetEventCount/GetEventStatistics/
// GetOldestEvent, plus the cooler node's actuator overrides).
type Handler func(ctx context.Context, req proto.Request) proto.Response

// Server runs the accept side of the handshake over a single
// FrameTransport: wait for Request, ack it, dispatch, send Response,
// wait for ResponseAck. One Serve call handles exactly one connection's
// worth of traffic — in this system that is the lifetime of the serial
// link itself, not a per-request connection.
type Server struct {
	transport FrameTransport
	handler   Handler
}

// NewServer constructs a Server over transport, routing every request to
// handler.
func NewServer(transport FrameTransport, handler Handler) *Server {
	return &Server{transport: transport, handler: handler}
}

// Serve runs the accept loop until ctx is cancelled or the transport
// fails. Any other handshake error (an undecodable frame, a wrong message
// kind or sequence number, a missing ResponseAck) abandons that exchange
// and the loop waits for the next Request.
func (s *Server) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := s.serveOne(ctx); err != nil {
			var transportErr *TransportError
			if errors.As(err, &transportErr) {
				return err
			}
		}
	}
}

func (s *Server) serveOne(ctx context.Context) error {
	reqMsg, err := readMessage(ctx, s.transport)
	if err != nil {
		return err
	}
	if reqMsg.Kind != proto.MessageRequest {
		return &IncorrectMessageType{Expected: proto.MessageRequest.String(), Actual: reqMsg.Kind.String()}
	}

	ack := proto.RpcMessage{Sequence: reqMsg.Sequence, Kind: proto.MessageRequestAck}
	if err := writeMessage(ctx, s.transport, ack); err != nil {
		return err
	}

	req, err := rpcframe.DecodeRequest(reqMsg.Payload)
	if err != nil {
		return &DeserializeError{Err: err}
	}

	resp := s.handler(ctx, req)
	respMsg := proto.RpcMessage{Sequence: reqMsg.Sequence, Kind: proto.MessageResponse, Payload: rpcframe.EncodeResponse(resp)}
	if err := writeMessage(ctx, s.transport, respMsg); err != nil {
		return err
	}

	respAck, err := readMessageWithTimeout(ctx, s.transport, "ResponseAck")
	if err != nil {
		return err
	}
	if respAck.Kind != proto.MessageResponseAck {
		return &IncorrectMessageType{Expected: proto.MessageResponseAck.String(), Actual: respAck.Kind.String()}
	}
	if respAck.Sequence != reqMsg.Sequence {
		return &IncorrectSequenceNumber{Expected: reqMsg.Sequence, Actual: respAck.Sequence}
	}
	return nil
}

// Dispatch is a ready-made Handler for the common request subset every
// node answers (Ping, GetSystemInformation, GetEventCount,
// GetEventStatistics, GetOldestEvent); a node adds its own extensions
// (e.g. the cooler's actuator overrides) by wrapping Dispatch and falling
// back to it for unrecognised kinds.
type Dispatch struct {
	SystemInformation func() proto.SystemInformation
	EventCount        func() uint32
	EventStatistics   func() proto.EventStatistics
	OldestEvent       func() (proto.Event, bool)
}

// Handle implements Handler for the common request subset; unrecognised
// kinds produce RespError rather than panicking, per the "never panic,
// always a typed error" ambient policy.
func (d Dispatch) Handle(_ context.Context, req proto.Request) proto.Response {
	switch req.Kind {
	case proto.ReqPing:
		return proto.Response{Kind: proto.RespPong, Nonce: req.Nonce}
	case proto.ReqGetSystemInformation:
		return proto.Response{Kind: proto.RespSystemInformation, SystemInformation: d.SystemInformation()}
	case proto.ReqGetEventCount:
		return proto.Response{Kind: proto.RespEventCount, EventCount: d.EventCount()}
	case proto.ReqGetEventStatistics:
		return proto.Response{Kind: proto.RespEventStatistics, EventStatistics: d.EventStatistics()}
	case proto.ReqGetOldestEvent:
		ev, ok := d.OldestEvent()
		if !ok {
			return proto.Response{Kind: proto.RespEventQueueEmpty}
		}
		return proto.Response{Kind: proto.RespEvent, Event: ev}
	default:
		return proto.Response{Kind: proto.RespError, ErrorMessage: "unsupported request kind"}
	}
}

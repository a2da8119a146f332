package rpc

import (
	"context"
	"sync"

	"github.com/hoshiguma/safetycore/internal/proto"
	"github.com/hoshiguma/safetycore/internal/rpcframe"
)

// Client drives one request at a time over a FrameTransport: Request ->
// RequestAck -> Response -> ResponseAck, each step bounded by
// ACKTimeout. Only one SendRequest runs at a time: a call made while
// another is in flight fails with RequestAlreadyInProgress, since the wire
// protocol itself is strictly half-duplex, matching the firmware's single
// in-flight request design.
type Client struct {
	transport FrameTransport

	mu      sync.Mutex
	seq     uint16
	inFlight bool
}

// NewClient constructs a Client over transport.
func NewClient(transport FrameTransport) *Client {
	return &Client{transport: transport}
}

// SendRequest runs the full handshake for req and returns the decoded
// Response.
func (c *Client) SendRequest(ctx context.Context, req proto.Request) (proto.Response, error) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return proto.Response{}, &RequestAlreadyInProgress{}
	}
	c.inFlight = true
	c.seq++
	seq := c.seq
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	reqMsg := proto.RpcMessage{Sequence: seq, Kind: proto.MessageRequest, Payload: rpcframe.EncodeRequest(req)}
	if err := writeMessage(ctx, c.transport, reqMsg); err != nil {
		return proto.Response{}, err
	}

	ackMsg, err := readMessageWithTimeout(ctx, c.transport, "RequestAck")
	if err != nil {
		return proto.Response{}, err
	}
	if ackMsg.Kind != proto.MessageRequestAck {
		return proto.Response{}, &IncorrectMessageType{Expected: proto.MessageRequestAck.String(), Actual: ackMsg.Kind.String()}
	}
	if ackMsg.Sequence != seq {
		return proto.Response{}, &IncorrectSequenceNumber{Expected: seq, Actual: ackMsg.Sequence}
	}

	respMsg, err := readMessageWithTimeout(ctx, c.transport, "Response")
	if err != nil {
		return proto.Response{}, err
	}
	if respMsg.Kind != proto.MessageResponse {
		return proto.Response{}, &IncorrectMessageType{Expected: proto.MessageResponse.String(), Actual: respMsg.Kind.String()}
	}
	if respMsg.Sequence != seq {
		return proto.Response{}, &IncorrectSequenceNumber{Expected: seq, Actual: respMsg.Sequence}
	}
	resp, err := rpcframe.DecodeResponse(respMsg.Payload)
	if err != nil {
		return proto.Response{}, &DeserializeError{Err: err}
	}

	respAck := proto.RpcMessage{Sequence: seq, Kind: proto.MessageResponseAck}
	if err := writeMessage(ctx, c.transport, respAck); err != nil {
		return proto.Response{}, err
	}

	return resp, nil
}

// Package rpc implements the sequenced request/response handshake carried
// over a framed byte stream (C8): a client sends a Request frame and
// waits for a RequestAck, then waits for the Response frame and sends a
// ResponseAck, all within ACK_TIMEOUT. The dispatch shape — a single
// goroutine looping on read, decode, route-by-kind, write — is grounded
// on internal/operator/server.go's handleConn/dispatch pair, adapted
// from newline-delimited JSON over a Unix socket to COBS-framed binary
// messages over a serial link.
package rpc

import (
	"context"
	"time"

	"github.com/hoshiguma/safetycore/internal/proto"
	"github.com/hoshiguma/safetycore/internal/rpcframe"
)

// ACKTimeout bounds how long either side waits for a handshake
// acknowledgement before giving up, per spec.md §5.
const ACKTimeout = 100 * time.Millisecond

// FrameTransport is the byte-level boundary rpc is built on: one COBS
// frame (including its trailing delimiter) in, one out. internal/serial
// provides the real implementation over a termios-configured tty; tests
// use an in-memory pipe.
type FrameTransport interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, frame []byte) error
}

func writeMessage(ctx context.Context, t FrameTransport, msg proto.RpcMessage) error {
	frame, err := rpcframe.EncodeMessage(msg)
	if err != nil {
		return &SerializeError{Err: err}
	}
	if err := t.WriteFrame(ctx, frame); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

func readMessage(ctx context.Context, t FrameTransport) (proto.RpcMessage, error) {
	frame, err := t.ReadFrame(ctx)
	if err != nil {
		return proto.RpcMessage{}, &TransportError{Err: err}
	}
	msg, err := rpcframe.DecodeMessage(frame)
	if err != nil {
		return proto.RpcMessage{}, &DeserializeError{Err: err}
	}
	return msg, nil
}

// readMessageWithTimeout reads one message, bounded by ACKTimeout, used
// for the ack/response waits in both Client and Server.
func readMessageWithTimeout(ctx context.Context, t FrameTransport, step string) (proto.RpcMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, ACKTimeout)
	defer cancel()
	msg, err := readMessage(ctx, t)
	if err != nil {
		if ctx.Err() != nil {
			return proto.RpcMessage{}, &Timeout{Step: step}
		}
		return proto.RpcMessage{}, err
	}
	return msg, nil
}

package rpc

import (
	"context"
	"sync"
)

// pipeTransport connects a Client and Server in-process: frames written
// by one side land in a channel read by the other. It stands in for
// internal/serial's real tty-backed FrameTransport in tests.
type pipeTransport struct {
	out chan []byte
	in  <-chan []byte
}

func newPipe() (client, server *pipeTransport) {
	c2s := make(chan []byte, 16)
	s2c := make(chan []byte, 16)
	client = &pipeTransport{out: c2s, in: s2c}
	server = &pipeTransport{out: s2c, in: c2s}
	return client, server
}

func (p *pipeTransport) WriteFrame(ctx context.Context, frame []byte) error {
	cp := append([]byte(nil), frame...)
	select {
	case p.out <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var _ FrameTransport = (*pipeTransport)(nil)

// droppingTransport wraps a pipeTransport but silently discards the next
// write whenever dropNext is set, used to exercise ACKTimeout handling.
type droppingTransport struct {
	*pipeTransport
	mu      sync.Mutex
	dropNext bool
}

func (d *droppingTransport) WriteFrame(ctx context.Context, frame []byte) error {
	d.mu.Lock()
	drop := d.dropNext
	d.dropNext = false
	d.mu.Unlock()
	if drop {
		return nil
	}
	return d.pipeTransport.WriteFrame(ctx, frame)
}

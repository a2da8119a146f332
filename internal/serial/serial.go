// Package serial implements the real rpc.FrameTransport over a Linux tty
// device: termios raw-mode configuration and one of the standard baud
// rates (9600 to 115200) via golang.org/x/sys/unix ioctls, plus COBS frame boundary
// detection on read. The teacher repo uses golang.org/x/sys/unix for
// kernel-version checks and BPF syscalls (internal/bpf/loader.go); this
// package repurposes the same dependency for termios configuration, which
// golang.org/x/sys/unix also exposes directly — no separate serial
// library is needed or present anywhere in the corpus.
package serial

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Port is a real serial device, opened in raw mode at a fixed baud rate.
type Port struct {
	file   *os.File
	reader *bufio.Reader
}

// Open configures and returns the tty at path in 8N1 raw mode at baud.
func Open(path string, baud uint32) (*Port, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", path, err)
	}

	if err := configureRawMode(int(f.Fd()), baud); err != nil {
		f.Close()
		return nil, fmt.Errorf("serial: configure %s: %w", path, err)
	}

	return &Port{file: f, reader: bufio.NewReaderSize(f, 512)}, nil
}

// configureRawMode sets 8N1, no flow control, no echo/canonical
// processing, and the given baud rate via termios ioctls.
func configureRawMode(fd int, baud uint32) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("TCGETS: %w", err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	rate, ok := baudConstant(baud)
	if !ok {
		return fmt.Errorf("unsupported baud rate %d", baud)
	}
	t.Ispeed = rate
	t.Ospeed = rate

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("TCSETS: %w", err)
	}
	return nil
}

func baudConstant(baud uint32) (uint32, bool) {
	switch baud {
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	default:
		return 0, false
	}
}

// ReadFrame blocks until a complete COBS frame (up to and including its
// trailing 0x00 delimiter) has been read, or ctx is cancelled.
func (p *Port) ReadFrame(ctx context.Context) ([]byte, error) {
	type result struct {
		frame []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		frame, err := p.reader.ReadBytes(0x00)
		done <- result{frame, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("serial: read frame: %w", r.err)
		}
		return r.frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteFrame writes frame (already COBS-encoded with its trailing
// delimiter) to the port.
func (p *Port) WriteFrame(ctx context.Context, frame []byte) error {
	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		_, err := p.file.Write(frame)
		done <- result{err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("serial: write frame: %w", r.err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the underlying file descriptor.
func (p *Port) Close() error {
	return p.file.Close()
}

// SetDeadline bounds the underlying file descriptor directly, independent
// of ctx cancellation.
func (p *Port) SetDeadline(t time.Time) error {
	return p.file.SetDeadline(t)
}

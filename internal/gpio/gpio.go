// Package gpio defines the digital I/O boundary every device and sensor
// task is written against. The only shipped implementation is an
// in-memory simulator; wiring a real board-specific HAL is out of scope
// (per spec.md §1) but every task in internal/devices and internal/sensors
// depends only on these interfaces, so they are host-testable without
// hardware, same as the firmware's own io_helpers abstractions over
// embedded-hal traits.
package gpio

import "sync"

// Pin is a single digital input or output line.
type Pin interface {
	Read() bool
	Write(level bool)
}

// SimPin is an in-memory Pin for tests and the simulator binary: Write
// sets the level an external Read will observe, and tests can call Set to
// drive the "physical" side directly.
type SimPin struct {
	mu    sync.Mutex
	level bool
}

// NewSimPin constructs a SimPin at the given initial level.
func NewSimPin(initial bool) *SimPin {
	return &SimPin{level: initial}
}

func (p *SimPin) Read() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *SimPin) Write(level bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = level
}

// Set drives the simulated physical level directly, standing in for an
// external stimulus (a door switch, a float sensor) in tests.
func (p *SimPin) Set(level bool) {
	p.Write(level)
}

// PulseCounter is a test double for a flow sensor's pulse output: Pulse
// increments the count an owning task will sample and reset.
type PulseCounter struct {
	mu    sync.Mutex
	count uint32
}

// Pulse registers one pulse.
func (c *PulseCounter) Pulse() {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
}

// TakeCount returns the accumulated pulse count since the last TakeCount
// call and resets it to zero.
func (c *PulseCounter) TakeCount() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.count
	c.count = 0
	return n
}

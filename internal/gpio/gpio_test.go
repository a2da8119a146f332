package gpio

import "testing"

func TestSimPin_WriteThenRead(t *testing.T) {
	p := NewSimPin(false)
	p.Write(true)
	if !p.Read() {
		t.Fatalf("Read() after Write(true) = false, want true")
	}
}

func TestSimPin_SetDrivesExternalLevel(t *testing.T) {
	p := NewSimPin(false)
	p.Set(true)
	if !p.Read() {
		t.Fatalf("Read() after Set(true) = false, want true")
	}
}

func TestPulseCounter_TakeCountResets(t *testing.T) {
	var c PulseCounter
	c.Pulse()
	c.Pulse()
	c.Pulse()

	if n := c.TakeCount(); n != 3 {
		t.Fatalf("TakeCount() = %d, want 3", n)
	}
	if n := c.TakeCount(); n != 0 {
		t.Fatalf("TakeCount() after drain = %d, want 0", n)
	}
}

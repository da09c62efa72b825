package embdi2c

import (
	"errors"
	"testing"
	"time"

	"imuglasses/drivers/bno08x"
	"imuglasses/errcode"
	"imuglasses/internal/sim"
)

// simBus presents the simulated hub through embd's byte-oriented calls.
type simBus struct {
	hub   *sim.BNO085
	short bool
}

func (b *simBus) ReadBytes(addr byte, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := b.hub.Tx(uint16(addr), nil, buf); err != nil {
		return nil, err
	}
	if b.short {
		return buf[:n-1], nil
	}
	return buf, nil
}

func (b *simBus) WriteBytes(addr byte, v []byte) error {
	return b.hub.Tx(uint16(addr), v, nil)
}

func TestDriverOverEmbdBus(t *testing.T) {
	hub := sim.NewBNO085(sim.Options{Version: sim.Version{Major: 3}})
	bus := New(&simBus{hub: hub})
	d := bno08x.New(bus, bno08x.Config{Sleep: func(time.Duration) {}})
	if !d.Present() {
		t.Fatal("hub not present")
	}
	if err := d.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if d.ProductID().Major != 3 {
		t.Fatalf("product id %+v", d.ProductID())
	}
	if err := d.EnableReport(bno08x.ReportRotationVector, 10000); err != nil {
		t.Fatalf("EnableReport: %v", err)
	}
	if hub.Interval(uint8(bno08x.ReportRotationVector)) != 10000 {
		t.Fatalf("interval %d", hub.Interval(uint8(bno08x.ReportRotationVector)))
	}
	if bus.Writes == 0 || bus.Reads == 0 || bus.Errors != 0 {
		t.Fatalf("counters w=%d r=%d e=%d", bus.Writes, bus.Reads, bus.Errors)
	}
}

func TestTxErrors(t *testing.T) {
	hub := sim.NewBNO085(sim.Options{})
	bus := New(&simBus{hub: hub})

	if bus.Present(0x4B) {
		t.Fatal("0x4b present")
	}
	err := bus.Tx(0x4B, []byte{1}, nil)
	if !errors.Is(err, errcode.AddrNACK) {
		t.Fatalf("write err = %v", err)
	}

	short := New(&simBus{hub: hub, short: true})
	var r [4]byte
	if err := short.Tx(0x4A, nil, r[:]); errcode.Of(err) != errcode.InvalidLength {
		t.Fatalf("short read err = %v", err)
	}
	if bus.Errors != 1 || short.Errors != 1 {
		t.Fatalf("errors %d %d", bus.Errors, short.Errors)
	}
}

// Package embdi2c exposes a Linux I2C bus opened through embd as a TinyGo
// drivers.I2C, so the sensor drivers run unchanged on a host with the hub
// wired to its I2C pins.
package embdi2c

import (
	"imuglasses/errcode"

	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all"
	"tinygo.org/x/drivers"
)

// Bus is the part of embd.I2CBus the adapter needs.
type Bus interface {
	ReadBytes(addr byte, num int) ([]byte, error)
	WriteBytes(addr byte, value []byte) error
}

// I2C adapts an embd bus. It is not safe for concurrent use.
type I2C struct {
	bus Bus

	Writes uint32
	Reads  uint32
	Errors uint32
}

var _ drivers.I2C = (*I2C)(nil)

// Open initialises the host and opens /dev/i2c-<n>.
func Open(n byte) (*I2C, error) {
	if err := embd.InitI2C(); err != nil {
		return nil, &errcode.E{C: errcode.NotReady, Op: "i2c init", Err: err}
	}
	return New(embd.NewI2CBus(n)), nil
}

func New(b Bus) *I2C { return &I2C{bus: b} }

// Close releases the bus opened by Open.
func (i *I2C) Close() error {
	if c, ok := i.bus.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return embd.CloseI2C()
}

// Tx writes w then reads len(r) bytes as two transfers. The hub restarts a
// packet on every read, so no repeated start is needed.
func (i *I2C) Tx(addr uint16, w, r []byte) error {
	a := byte(addr)
	if len(w) > 0 {
		i.Writes++
		if err := i.bus.WriteBytes(a, w); err != nil {
			return i.fail("i2c write", err)
		}
	}
	if len(r) == 0 {
		return nil
	}
	i.Reads++
	b, err := i.bus.ReadBytes(a, len(r))
	if err != nil {
		return i.fail("i2c read", err)
	}
	if n := copy(r, b); n < len(r) {
		return i.fail("i2c read", errcode.InvalidLength)
	}
	return nil
}

// Present reports whether a one byte read at addr is acknowledged.
func (i *I2C) Present(addr uint16) bool {
	_, err := i.bus.ReadBytes(byte(addr), 1)
	return err == nil
}

func (i *I2C) fail(op string, err error) error {
	i.Errors++
	return &errcode.E{C: errcode.MapDriverErr(err), Op: op, Err: err}
}

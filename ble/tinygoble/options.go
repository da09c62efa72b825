// Package tinygoble adapts tinygo.org/x/bluetooth to ble.Stack.
//
// The tinygo peripheral API takes advertising options rather than raw AD
// bytes, does not expose attribute handles and answers link housekeeping
// (MTU, PHY, system attributes) inside the SoftDevice. The adapter decodes
// the firmware's payload back into options, assigns handles itself and
// treats the housekeeping calls as already done.
package tinygoble

import (
	"encoding/binary"

	"imuglasses/ble"

	"github.com/google/uuid"
)

// advOptions is the part of an advertising payload the tinygo API can
// express.
type advOptions struct {
	Name       string
	UUID16     []uint16
	UUID128    []uuid.UUID
	Company    uint16
	Mfr        []byte
	HasMfr     bool
	TxPower    int8
	HasTx      bool
	Appearance uint16
}

// decodeAdv merges the advertising and scan response payloads.
func decodeAdv(adv, scan []byte) (advOptions, error) {
	var o advOptions
	walk := func(typ byte, data []byte) bool {
		switch typ {
		case ble.ADCompleteName, ble.ADShortName:
			if o.Name == "" || typ == ble.ADCompleteName {
				o.Name = string(data)
			}
		case ble.ADUUID16Complete, ble.ADUUID16Incomplete:
			for i := 0; i+2 <= len(data); i += 2 {
				o.UUID16 = append(o.UUID16, binary.LittleEndian.Uint16(data[i:]))
			}
		case ble.ADUUID128Complete, ble.ADUUID128Incomplete:
			for i := 0; i+16 <= len(data); i += 16 {
				var u uuid.UUID
				for j := 0; j < 16; j++ {
					u[j] = data[i+15-j]
				}
				o.UUID128 = append(o.UUID128, u)
			}
		case ble.ADManufacturer:
			if len(data) >= 2 {
				o.Company = binary.LittleEndian.Uint16(data)
				o.Mfr = append([]byte(nil), data[2:]...)
				o.HasMfr = true
			}
		case ble.ADTxPower:
			if len(data) == 1 {
				o.TxPower, o.HasTx = int8(data[0]), true
			}
		case ble.ADAppearance:
			if len(data) == 2 {
				o.Appearance = binary.LittleEndian.Uint16(data)
			}
		}
		return true
	}
	if err := ble.ForEachAD(adv, walk); err != nil {
		return o, err
	}
	if err := ble.ForEachAD(scan, walk); err != nil {
		return o, err
	}
	return o, nil
}

// handles hands out attribute handles the way a GATT server lays out its
// table: one for the service declaration, then per characteristic a
// declaration and a value, plus a CCCD when it notifies.
type handles struct {
	next ble.Handle
}

// firstHandle follows the GAP and GATT services the SoftDevice registers.
const firstHandle ble.Handle = 0x000C

func (h *handles) take() ble.Handle {
	if h.next == 0 {
		h.next = firstHandle
	}
	v := h.next
	h.next++
	return v
}

func (h *handles) service() { h.take() }

func (h *handles) char(notify bool) ble.CharHandles {
	h.take()
	out := ble.CharHandles{Value: h.take()}
	if notify {
		out.CCCD = h.take()
	}
	return out
}

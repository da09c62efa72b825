package adv

import (
	"encoding/binary"

	"imuglasses/ble"
)

// BuildPayload writes the advertising data and scan response for cfg into
// adv and scan and returns their lengths. Fields go in a fixed order and a
// field that does not fit is left out; the name is shortened instead.
// Both buffers must hold ble.MaxADLen bytes.
func BuildPayload(cfg *Config, adv, scan []byte) (advLen, scanLen int) {
	w := adWriter{b: adv[:ble.MaxADLen]}

	w.field(ble.ADFlags, ble.ADFlagsGeneralDisc)

	if n := len(cfg.UUIDs); n > 0 && w.fits(2*n) {
		d := w.open(ble.ADUUID16Complete, 2*n)
		for i, u := range cfg.UUIDs {
			binary.LittleEndian.PutUint16(d[2*i:], u)
		}
	}
	if n := len(cfg.UUID128s); n > 0 && w.fits(16*n) {
		d := w.open(ble.ADUUID128Complete, 16*n)
		for i, u := range cfg.UUID128s {
			// AD data is little-endian; uuid.UUID is big-endian.
			for j := 0; j < 16; j++ {
				d[16*i+j] = u[15-j]
			}
		}
	}
	if cfg.IncludeTxPower {
		w.field(ble.ADTxPower, byte(cfg.TxPower))
	}
	if cfg.IncludeAppearance {
		w.field(ble.ADAppearance, byte(cfg.Appearance), byte(cfg.Appearance>>8))
	}
	if n := len(cfg.ManufacturerData); n > 0 && w.fits(2+n) {
		d := w.open(ble.ADManufacturer, 2+n)
		binary.LittleEndian.PutUint16(d, cfg.CompanyID)
		copy(d[2:], cfg.ManufacturerData)
	}

	switch {
	case cfg.IncludeName:
		w.name(cfg.Name)
	case cfg.NameInScanResponse:
		sr := adWriter{b: scan[:ble.MaxADLen]}
		if sr.fits(len(cfg.Name)) {
			copy(sr.open(ble.ADCompleteName, len(cfg.Name)), cfg.Name)
		}
		scanLen = sr.n
	}
	return w.n, scanLen
}

type adWriter struct {
	b []byte
	n int
}

// fits reports whether a field with n data bytes fits.
func (w *adWriter) fits(n int) bool { return w.n+2+n <= len(w.b) }

// open appends a header for n data bytes and returns the data slot.
func (w *adWriter) open(typ byte, n int) []byte {
	w.b[w.n] = byte(n + 1)
	w.b[w.n+1] = typ
	d := w.b[w.n+2 : w.n+2+n]
	w.n += 2 + n
	return d
}

func (w *adWriter) field(typ byte, data ...byte) {
	if w.fits(len(data)) {
		copy(w.open(typ, len(data)), data)
	}
}

func (w *adWriter) name(name string) {
	if name == "" {
		return
	}
	if w.fits(len(name)) {
		copy(w.open(ble.ADCompleteName, len(name)), name)
		return
	}
	room := len(w.b) - w.n - 2
	if room > 0 {
		copy(w.open(ble.ADShortName, room), name[:room])
	}
}

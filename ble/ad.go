package ble

import "imuglasses/errcode"

// Advertising data (AD) structure types.
const (
	ADFlags             = 0x01
	ADUUID16Incomplete  = 0x02
	ADUUID16Complete    = 0x03
	ADUUID128Incomplete = 0x06
	ADUUID128Complete   = 0x07
	ADShortName         = 0x08
	ADCompleteName      = 0x09
	ADTxPower           = 0x0A
	ADAppearance        = 0x19
	ADManufacturer      = 0xFF
)

// LE General Discoverable, BR/EDR not supported.
const ADFlagsGeneralDisc = 0x06

// MaxADLen is the legacy advertising and scan response payload size.
const MaxADLen = 31

// ForEachAD walks the AD structures in b, stopping early when fn returns
// false. A zero length byte ends the data. A structure that runs past the
// end of b is errcode.InvalidLength.
func ForEachAD(b []byte, fn func(typ byte, data []byte) bool) error {
	for len(b) > 0 {
		n := int(b[0])
		if n == 0 {
			return nil
		}
		if n+1 > len(b) {
			return errcode.InvalidLength
		}
		if !fn(b[1], b[2:n+1]) {
			return nil
		}
		b = b[n+1:]
	}
	return nil
}

// LocalName returns the complete or shortened name in b, if any.
func LocalName(b []byte) (name string, complete bool) {
	_ = ForEachAD(b, func(typ byte, data []byte) bool {
		switch typ {
		case ADCompleteName:
			name, complete = string(data), true
			return false
		case ADShortName:
			name = string(data)
		}
		return true
	})
	return name, complete
}

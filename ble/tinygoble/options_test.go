package tinygoble

import (
	"bytes"
	"testing"

	"imuglasses/ble"
	"imuglasses/ble/adv"
	"imuglasses/errcode"

	"github.com/google/uuid"
)

func TestDecodeAdvRoundTripsPayload(t *testing.T) {
	svc := uuid.MustParse("12340000-1234-1234-1234-123456789abc")
	cfg := adv.DefaultConfig("IMU")
	cfg.IncludeName = false
	cfg.NameInScanResponse = true
	cfg.UUID128s = []uuid.UUID{svc}

	var a, s [ble.MaxADLen]byte
	an, sn := adv.BuildPayload(&cfg, a[:], s[:])
	o, err := decodeAdv(a[:an], s[:sn])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if o.Name != "IMU" {
		t.Fatalf("name = %q", o.Name)
	}
	if len(o.UUID128) != 1 || o.UUID128[0] != svc {
		t.Fatalf("uuid128 = %v", o.UUID128)
	}
}

func TestDecodeAdvFields(t *testing.T) {
	cfg := adv.DefaultConfig("LET-AR IMU")
	cfg.UUIDs = []uint16{0x180F, 0x1234}
	cfg.IncludeTxPower = true
	cfg.TxPower = -4
	cfg.IncludeAppearance = true
	cfg.Appearance = 0x01C0
	cfg.ManufacturerData = []byte{1, 2}

	var a, s [ble.MaxADLen]byte
	an, _ := adv.BuildPayload(&cfg, a[:], s[:])
	o, err := decodeAdv(a[:an], nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(o.UUID16) != 2 || o.UUID16[0] != 0x180F || o.UUID16[1] != 0x1234 {
		t.Fatalf("uuid16 = %v", o.UUID16)
	}
	if !o.HasTx || o.TxPower != -4 {
		t.Fatalf("tx = %v %d", o.HasTx, o.TxPower)
	}
	if o.Appearance != 0x01C0 {
		t.Fatalf("appearance = %#x", o.Appearance)
	}
	if !o.HasMfr || o.Company != 0xFFFF || !bytes.Equal(o.Mfr, []byte{1, 2}) {
		t.Fatalf("mfr = %v %#x % x", o.HasMfr, o.Company, o.Mfr)
	}
}

func TestDecodeAdvPrefersCompleteName(t *testing.T) {
	b := []byte{4, ble.ADShortName, 'I', 'M', 'U', 5, ble.ADCompleteName, 'I', 'M', 'U', 'X'}
	o, err := decodeAdv(b, nil)
	if err != nil {
		t.Fatal(err)
	}
	if o.Name != "IMUX" {
		t.Fatalf("name = %q", o.Name)
	}
}

func TestDecodeAdvTruncated(t *testing.T) {
	_, err := decodeAdv([]byte{5, ble.ADCompleteName, 'I'}, nil)
	if errcode.Of(err) != errcode.InvalidLength {
		t.Fatalf("err = %v", err)
	}
}

func TestHandleLayout(t *testing.T) {
	var h handles
	h.service()
	cases := []struct {
		notify bool
		want   ble.CharHandles
	}{
		{true, ble.CharHandles{Value: 0x000E, CCCD: 0x000F}},
		{false, ble.CharHandles{Value: 0x0011}},
		{true, ble.CharHandles{Value: 0x0013, CCCD: 0x0014}},
	}
	for i, c := range cases {
		if got := h.char(c.notify); got != c.want {
			t.Fatalf("char %d = %+v, want %+v", i, got, c.want)
		}
	}
}

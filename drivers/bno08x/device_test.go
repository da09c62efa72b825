package bno08x

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"imuglasses/drivers/shtp"
	"imuglasses/errcode"
	"imuglasses/internal/sim"
)

func noSleep(time.Duration) {}

func newTestDevice(t *testing.T, opt sim.Options, cfg Config) (*Device, *sim.BNO085) {
	t.Helper()
	hub := sim.NewBNO085(opt)
	cfg.Sleep = noSleep
	cfg.NowMs = func() int64 { return 1234 }
	return New(hub, cfg), hub
}

func readyDevice(t *testing.T) (*Device, *sim.BNO085) {
	t.Helper()
	d, hub := newTestDevice(t, sim.Options{}, Config{})
	if err := d.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return d, hub
}

func TestInitHandshake(t *testing.T) {
	d, hub := newTestDevice(t, sim.Options{
		Silent:  true,
		Version: sim.Version{Major: 1, Minor: 2, Part: 0x10, Build: 0x20},
	}, Config{})
	// Reset-complete advertisement on the command channel.
	hub.Queue(shtp.ChannelCommand, []byte{execResetComplete})

	if err := d.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if d.State() != StateReady {
		t.Fatalf("state=%v", d.State())
	}
	pid := d.ProductID()
	if pid.Major != 1 || pid.Minor != 2 || pid.Part != 0x10 || pid.Build != 0x20 {
		t.Fatalf("product id %+v", pid)
	}
	if hub.Resets() != 0 {
		t.Fatalf("unexpected soft reset")
	}
	w := hub.Writes()
	if len(w) != 1 || !bytes.Equal(w[0][2:], []byte{byte(shtp.ChannelControl), 0, cmdProductIDRequest, 0}) {
		t.Fatalf("writes % x", w)
	}
}

func TestParseProductIDShortAndPatch(t *testing.T) {
	b := []byte{rspProductID, 7, 1, 2, 0x10, 0, 0, 0, 0x20, 0, 0, 0}
	pid, err := parseProductID(b)
	if err != nil || pid.ResetCause != 7 || pid.Patch != 0 {
		t.Fatalf("pid=%+v err=%v", pid, err)
	}
	pid, err = parseProductID(append(b, 0x34, 0x12))
	if err != nil || pid.Patch != 0x1234 {
		t.Fatalf("pid=%+v err=%v", pid, err)
	}
	if _, err := parseProductID(b[:11]); !errors.Is(err, errcode.InvalidData) {
		t.Fatalf("short: %v", err)
	}
}

func TestInitSoftResetOnSilentHub(t *testing.T) {
	d, hub := newTestDevice(t, sim.Options{Silent: true}, Config{ResetAttempts: 5})
	if err := d.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if hub.Resets() != 1 {
		t.Fatalf("resets=%d want 1", hub.Resets())
	}
	if d.State() != StateReady {
		t.Fatalf("state=%v", d.State())
	}
}

func TestInitTwoResetTimeoutsFail(t *testing.T) {
	d, hub := newTestDevice(t, sim.Options{Silent: true, IgnoreResets: 1}, Config{ResetAttempts: 5})
	err := d.Init()
	if !errors.Is(err, errcode.Timeout) {
		t.Fatalf("err=%v want timeout", err)
	}
	if d.State() != StateError {
		t.Fatalf("state=%v", d.State())
	}
	// Two bounded waits of 5 header reads each, nothing more.
	if hub.Reads() != 10 {
		t.Fatalf("reads=%d want 10", hub.Reads())
	}
	if hub.Resets() != 1 {
		t.Fatalf("resets=%d want 1", hub.Resets())
	}
}

func TestInitNotFound(t *testing.T) {
	d, _ := newTestDevice(t, sim.Options{Address: AddressAlt}, Config{})
	if err := d.Init(); !errors.Is(err, errcode.NotFound) {
		t.Fatalf("err=%v", err)
	}
	if d.State() != StateError {
		t.Fatalf("state=%v", d.State())
	}
}

func TestProductIDTimeout(t *testing.T) {
	d, hub := newTestDevice(t, sim.Options{Silent: true}, Config{ProductIDAttempts: 3})
	hub.Queue(shtp.ChannelCommand, []byte{shtpAdvertisement})
	// Header and body of the advertisement, then the request write; every
	// read of the wait fails.
	hub.FailNext(nil, nil, nil, errcode.DataNACK, errcode.DataNACK, errcode.DataNACK)
	err := d.Init()
	if !errors.Is(err, errcode.Timeout) {
		t.Fatalf("err=%v", err)
	}
}

func TestNotReadyBeforeInit(t *testing.T) {
	d, _ := newTestDevice(t, sim.Options{}, Config{})
	if _, err := d.Poll(); !errors.Is(err, errcode.NotReady) {
		t.Fatalf("Poll: %v", err)
	}
	if err := d.EnableReport(ReportRotationVector, 10000); !errors.Is(err, errcode.NotReady) {
		t.Fatalf("EnableReport: %v", err)
	}
}

func TestSetFeatureLayout(t *testing.T) {
	d, hub := readyDevice(t)
	if err := d.SetFeature(ReportRotationVector, Feature{IntervalUs: 10000, BatchUs: 2, Specific: 3}); err != nil {
		t.Fatal(err)
	}
	w := hub.Writes()
	last := w[len(w)-1]
	if len(last) != shtp.HeaderSize+setFeatureLen {
		t.Fatalf("len=%d", len(last))
	}
	want := []byte{0xFD, 0x05, 0, 0, 0x10, 0x27, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0, 0}
	if !bytes.Equal(last[shtp.HeaderSize:], want) {
		t.Fatalf("got % x\nwant % x", last[shtp.HeaderSize:], want)
	}
	if last[2] != byte(shtp.ChannelControl) {
		t.Fatalf("channel=%d", last[2])
	}
	if !d.Enabled(ReportRotationVector) || hub.Interval(0x05) != 10000 {
		t.Fatal("feature not enabled")
	}
	if err := d.DisableReport(ReportRotationVector); err != nil {
		t.Fatal(err)
	}
	if d.Enabled(ReportRotationVector) || hub.Interval(0x05) != 0 {
		t.Fatal("feature not disabled")
	}
	if err := d.EnableReport(0, 1); !errors.Is(err, errcode.InvalidParams) {
		t.Fatalf("id 0: %v", err)
	}
}

func TestSequencePerChannel(t *testing.T) {
	d, hub := readyDevice(t)
	for i := 0; i < 3; i++ {
		if err := d.EnableReport(ReportAccelerometer, 5000); err != nil {
			t.Fatal(err)
		}
	}
	w := hub.Writes()
	// Product-ID request took control seq 0.
	for i, p := range w[1:] {
		if p[3] != byte(i+1) {
			t.Fatalf("write %d seq=%d", i, p[3])
		}
	}
	if d.seq.Peek(shtp.ChannelExecutable) != 0 {
		t.Fatal("executable channel advanced")
	}
}

func TestPollNoData(t *testing.T) {
	d, hub := readyDevice(t)
	for hub.Pending() > 0 {
		if _, err := d.Poll(); err != nil {
			t.Fatal(err)
		}
	}
	id, err := d.Poll()
	if id != 0 || err != nil {
		t.Fatalf("id=%v err=%v", id, err)
	}
}

func TestPollDecodesAndCaches(t *testing.T) {
	d, hub := readyDevice(t)
	drain(t, d, hub)
	hub.QueueReport(0x05, 3, 8192, 0, 0, 8192, 4096)
	id, err := d.Poll()
	if err != nil || id != ReportRotationVector {
		t.Fatalf("id=%v err=%v", id, err)
	}
	data := d.Data()
	if data.Rotation.I != 0.5 || data.Rotation.Real != 0.5 || data.Rotation.AccuracyRad != 1 {
		t.Fatalf("rotation %+v", data.Rotation)
	}
	if data.Last != ReportRotationVector || data.UpdatedMs != 1234 || !data.Seen(ReportRotationVector) {
		t.Fatalf("cache %+v", data)
	}

	hub.QueueReport(0x08, 1, 0, 0, 0, 16384)
	if id, _ := d.Poll(); id != ReportGameRotationVector {
		t.Fatalf("id=%v", id)
	}
	if data.GameRotation.Real != 1 || data.Rotation.Real != 0.5 {
		t.Fatal("game rotation must use its own slot")
	}
}

func TestPollSkipsTimebase(t *testing.T) {
	d, hub := readyDevice(t)
	drain(t, d, hub)
	hub.Queue(shtp.ChannelReports, []byte{
		reportTimebase, 0, 0, 0, 0,
		byte(ReportAccelerometer), 0, 2, 0, 0, 0x00, 0x01, 0, 0, 0, 0,
	})
	id, err := d.Poll()
	if err != nil || id != ReportAccelerometer {
		t.Fatalf("id=%v err=%v", id, err)
	}
	if d.Data().Accel.X != 1 || d.Data().Accel.Status != AccuracyMedium {
		t.Fatalf("accel %+v", d.Data().Accel)
	}
}

func TestPollTransportErrorsPropagate(t *testing.T) {
	d, hub := readyDevice(t)
	drain(t, d, hub)
	seq := d.seq
	cases := []struct {
		in   error
		want errcode.Code
	}{
		{errcode.DataNACK, errcode.DataNACK},
		{errcode.AddrNACK, errcode.AddrNACK},
		{errors.New("I2C timeout during read"), errcode.Timeout},
		{errors.New("rx overrun"), errcode.Overrun},
	}
	for _, tc := range cases {
		hub.FailNext(tc.in)
		_, err := d.Poll()
		if errcode.Of(err) != tc.want {
			t.Errorf("%v -> %v want %v", tc.in, errcode.Of(err), tc.want)
		}
	}
	if d.State() != StateReady || d.seq != seq {
		t.Fatal("transport error changed driver state")
	}
	hub.QueueReport(0x02, 0, 512, 0, 0)
	if id, err := d.Poll(); id != ReportGyroscope || err != nil {
		t.Fatalf("after errors: id=%v err=%v", id, err)
	}
}

func TestPollOversizePacket(t *testing.T) {
	d, hub := readyDevice(t)
	drain(t, d, hub)
	hub.QueueReport(0x01, 0, 256, 0, 0)
	if _, err := d.Poll(); err != nil {
		t.Fatal(err)
	}
	before := *d.Data()
	hub.Queue(shtp.ChannelReports, make([]byte, RxBufferSize))
	if _, err := d.Poll(); !errors.Is(err, errcode.BufferOverflow) {
		t.Fatalf("err=%v", err)
	}
	if *d.Data() != before {
		t.Fatal("cache changed by oversize packet")
	}
}

func TestPollShortReportIsDecodeError(t *testing.T) {
	d, hub := readyDevice(t)
	drain(t, d, hub)
	hub.Queue(shtp.ChannelReports, []byte{byte(ReportRotationVector), 0, 0, 0, 0, 1, 2})
	if _, err := d.Poll(); !errors.Is(err, errcode.InvalidData) {
		t.Fatalf("err=%v", err)
	}
}

func TestUnsolicitedResetClearsFeatures(t *testing.T) {
	d, hub := readyDevice(t)
	drain(t, d, hub)
	if err := d.EnableReport(ReportGyroscope, 5000); err != nil {
		t.Fatal(err)
	}
	hub.Queue(shtp.ChannelExecutable, []byte{execResetComplete})
	if id, err := d.Poll(); id != 0 || err != nil {
		t.Fatalf("id=%v err=%v", id, err)
	}
	if !d.TakeReset() || d.TakeReset() {
		t.Fatal("TakeReset should fire exactly once")
	}
	if d.Enabled(ReportGyroscope) {
		t.Fatal("features survive reset")
	}
}

func TestRequestFeature(t *testing.T) {
	d, hub := readyDevice(t)
	drain(t, d, hub)
	if err := d.EnableReport(ReportAccelerometer, 20000); err != nil {
		t.Fatal(err)
	}
	if err := d.RequestFeature(ReportAccelerometer); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Poll(); err != nil {
		t.Fatal(err)
	}
	if got := d.FeatureInterval(ReportAccelerometer); got != 20000 {
		t.Fatalf("interval=%d", got)
	}

	// A new request forgets the previous answer until the hub replies.
	if err := d.DisableReport(ReportAccelerometer); err != nil {
		t.Fatal(err)
	}
	if err := d.RequestFeature(ReportAccelerometer); err != nil {
		t.Fatal(err)
	}
	if got := d.FeatureInterval(ReportAccelerometer); got != 0 {
		t.Fatalf("interval before reply = %d", got)
	}
}

func TestReadHelpers(t *testing.T) {
	d, hub := readyDevice(t)
	drain(t, d, hub)
	hub.QueueReport(0x01, 0, 256, 0, 0)
	hub.QueueReport(0x05, 0, 0, 0, 0, 16384)
	q, err := d.ReadRotationVector()
	if err != nil || q.Real != 1 {
		t.Fatalf("q=%+v err=%v", q, err)
	}
	if _, err := d.ReadGyro(); !errors.Is(err, errcode.Timeout) {
		t.Fatalf("gyro: %v", err)
	}
}

func TestResetRepeatsHandshake(t *testing.T) {
	d, hub := readyDevice(t)
	drain(t, d, hub)
	if err := d.EnableReport(ReportGyroscope, 5000); err != nil {
		t.Fatal(err)
	}
	if err := d.Reset(); err != nil {
		t.Fatal(err)
	}
	if d.State() != StateReady || d.Enabled(ReportGyroscope) || hub.Resets() != 1 {
		t.Fatalf("state=%v resets=%d", d.State(), hub.Resets())
	}
}

// drain consumes the boot leftovers.
func drain(t *testing.T, d *Device, hub *sim.BNO085) {
	t.Helper()
	for i := 0; hub.Pending() > 0; i++ {
		if i > 10 {
			t.Fatal("hub never drains")
		}
		if _, err := d.Poll(); err != nil {
			t.Fatal(err)
		}
	}
}

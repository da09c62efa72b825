package imusvc

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"imuglasses/ble"
	"imuglasses/bus"
	"imuglasses/errcode"
	"imuglasses/internal/sim"
	"imuglasses/types"
)

type rig struct {
	radio *sim.Radio
	disp  *ble.Dispatcher
	svc   *Service
	sub   *bus.Subscription
}

func newRig(t *testing.T) *rig {
	t.Helper()
	b := bus.NewBus(16)
	conn := b.NewConnection("test")
	r := sim.NewRadio(16)
	svc, err := New(r, conn, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d := ble.NewDispatcher(r)
	if _, err := d.Register(svc); err != nil {
		t.Fatal(err)
	}
	return &rig{radio: r, disp: d, svc: svc, sub: conn.Subscribe(TopicEvent)}
}

func (g *rig) pump() { g.disp.Drain(g.radio.Events) }

func (g *rig) events() []types.IMUServiceEvent {
	var out []types.IMUServiceEvent
	for {
		select {
		case m := <-g.sub.Channel():
			out = append(out, m.Payload.(types.IMUServiceEvent))
		case <-time.After(10 * time.Millisecond):
			return out
		}
	}
}

func (g *rig) subscribe(c types.IMUChar, on bool) {
	g.radio.Subscribe(g.svc.Handles(c).CCCD, on)
	g.pump()
}

func TestRegistration(t *testing.T) {
	g := newRig(t)
	defs := g.radio.CharDefs(ServiceUUID)
	if len(defs) != 5 {
		t.Fatalf("chars = %d", len(defs))
	}
	wantLen := []int{QuatSize, VectorSize, VectorSize, RateSize, StatusSize}
	for i, d := range defs {
		if d.MaxLen != wantLen[i] {
			t.Errorf("char %d maxlen = %d, want %d", i, d.MaxLen, wantLen[i])
		}
		if d.UUID != ble.UUID16(Base, uint16(i+1)) {
			t.Errorf("char %d uuid = %s", i, d.UUID)
		}
	}
	if defs[types.CharRate].Props&ble.PropWrite == 0 || defs[types.CharRate].Props&ble.PropNotify != 0 {
		t.Errorf("rate props = %b", defs[types.CharRate].Props)
	}
	if ServiceUUID.String() != "12340000-1234-1234-1234-123456789abc" {
		t.Errorf("service uuid = %s", ServiceUUID)
	}
	if got := g.radio.Value(g.svc.Handles(types.CharRate).Value); !bytes.Equal(got, []byte{10, 0}) {
		t.Errorf("initial rate value = %v", got)
	}
	if g.svc.Handles(types.CharRate).CCCD != 0 {
		t.Error("rate should have no CCCD")
	}
}

func TestNewRejectsBadRate(t *testing.T) {
	if _, err := New(sim.NewRadio(4), nil, Config{RateMs: 2000}); !errors.Is(err, errcode.InvalidParams) {
		t.Fatalf("err = %v", err)
	}
}

func TestRegistrationFailure(t *testing.T) {
	r := sim.NewRadio(4)
	r.MaxServices = 1
	if _, err := New(r, nil, Config{}); err != nil {
		t.Fatal(err)
	}
	_, err := New(r, nil, Config{})
	if !errors.Is(err, errcode.NoMemory) {
		t.Fatalf("second registration: %v", err)
	}
}

func TestRateWrite(t *testing.T) {
	g := newRig(t)
	g.radio.Connect(1)
	g.pump()
	g.events()
	h := g.svc.Handles(types.CharRate).Value

	tests := []struct {
		name   string
		value  []byte
		want   uint16
		events int
	}{
		{"in range", []byte{50, 0}, 50, 1},
		{"zero ignored", []byte{0, 0}, 50, 0},
		{"above max ignored", []byte{0xE9, 0x03}, 50, 0}, // 1001
		{"max", []byte{0xE8, 0x03}, 1000, 1},
		{"min", []byte{1, 0}, 1, 1},
		{"wrong length ignored", []byte{20}, 1, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g.radio.Write(h, tc.value)
			g.pump()
			if g.svc.SampleRate() != tc.want {
				t.Fatalf("rate = %d, want %d", g.svc.SampleRate(), tc.want)
			}
			evs := g.events()
			if len(evs) != tc.events {
				t.Fatalf("events = %v", evs)
			}
			if tc.events == 1 && (evs[0].Kind != types.IMURateChanged || evs[0].RateMs != tc.want) {
				t.Fatalf("event = %+v", evs[0])
			}
		})
	}
}

func TestNotifyGating(t *testing.T) {
	g := newRig(t)
	q := Quat{I: 0.5, J: -0.25, K: 0, Real: 0.5}

	// Not connected.
	if err := g.svc.NotifyQuaternion(q); err != nil {
		t.Fatal(err)
	}
	g.radio.Connect(3)
	g.pump()
	// Connected, not subscribed.
	if err := g.svc.NotifyQuaternion(q); err != nil {
		t.Fatal(err)
	}
	if n := g.radio.Notifications(); len(n) != 0 {
		t.Fatalf("unexpected notifications %v", n)
	}

	g.subscribe(types.CharQuaternion, true)
	if err := g.svc.NotifyQuaternion(q); err != nil {
		t.Fatal(err)
	}
	notes := g.radio.Notifications()
	if len(notes) != 1 {
		t.Fatalf("notifications = %d", len(notes))
	}
	want := []byte{
		0x00, 0x00, 0x00, 0x3F, // 0.5
		0x00, 0x00, 0x80, 0xBE, // -0.25
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x3F,
	}
	if !bytes.Equal(notes[0].Data, want) {
		t.Fatalf("payload = % x", notes[0].Data)
	}
	if notes[0].Handle != g.svc.Handles(types.CharQuaternion).Value || notes[0].Conn != 3 {
		t.Fatalf("notification = %+v", notes[0])
	}

	// Other characteristics stay gated.
	if err := g.svc.NotifyAccel(Vector{X: 1}); err != nil {
		t.Fatal(err)
	}
	if err := g.svc.NotifyGyro(Vector{X: 1}); err != nil {
		t.Fatal(err)
	}
	if n := g.radio.Notifications(); len(n) != 0 {
		t.Fatalf("unexpected notifications %v", n)
	}
}

func TestVectorLayout(t *testing.T) {
	g := newRig(t)
	g.radio.Connect(1)
	g.pump()
	g.subscribe(types.CharAccel, true)
	g.subscribe(types.CharGyro, true)

	g.svc.NotifyAccel(Vector{X: 1, Y: 2, Z: -9.81})
	g.svc.NotifyGyro(Vector{X: 0.1})
	notes := g.radio.Notifications()
	if len(notes) != 2 {
		t.Fatalf("notifications = %d", len(notes))
	}
	a, err := ParseVector(notes[0].Data)
	if err != nil || a != (Vector{X: 1, Y: 2, Z: -9.81}) {
		t.Fatalf("accel = %+v, %v", a, err)
	}
	if len(notes[1].Data) != VectorSize || notes[1].Handle != g.svc.Handles(types.CharGyro).Value {
		t.Fatalf("gyro = %+v", notes[1])
	}
}

func TestQueueFull(t *testing.T) {
	g := newRig(t)
	g.radio.TxQueue = 1
	g.radio.Connect(1)
	g.pump()
	g.subscribe(types.CharQuaternion, true)

	if err := g.svc.NotifyQuaternion(Quat{Real: 1}); err != nil {
		t.Fatal(err)
	}
	err := g.svc.NotifyQuaternion(Quat{Real: 1})
	if !errors.Is(err, errcode.NoResources) || !errcode.Retryable(err) {
		t.Fatalf("err = %v", err)
	}
	g.events()
	g.radio.CompleteTx()
	g.pump()
	evs := g.events()
	if len(evs) != 1 || evs[0].Kind != types.IMUTxComplete || evs[0].Count != 1 {
		t.Fatalf("events = %+v", evs)
	}
	if err := g.svc.NotifyQuaternion(Quat{Real: 1}); err != nil {
		t.Fatalf("after tx complete: %v", err)
	}
}

func TestConnectDisconnectReset(t *testing.T) {
	g := newRig(t)
	g.radio.Connect(1)
	g.pump()
	for _, c := range []types.IMUChar{types.CharQuaternion, types.CharAccel, types.CharGyro, types.CharStatus} {
		g.subscribe(c, true)
		if !g.svc.NotificationsEnabled(c) {
			t.Fatalf("%s not enabled", c)
		}
	}
	if !g.svc.Streaming() {
		t.Fatal("should be streaming")
	}

	// A second connect without a disconnect still clears every flag.
	g.radio.Connect(2)
	g.pump()
	if g.svc.ConnHandle() != 2 {
		t.Fatalf("handle = %d", g.svc.ConnHandle())
	}
	for c := types.CharQuaternion; c <= types.CharStatus; c++ {
		if g.svc.NotificationsEnabled(c) {
			t.Fatalf("%s enabled after connect", c)
		}
	}

	g.subscribe(types.CharGyro, true)
	g.radio.Disconnect(0x13)
	g.pump()
	if g.svc.Connected() || g.svc.ConnHandle() != ble.ConnHandleInvalid {
		t.Fatalf("handle = %d", g.svc.ConnHandle())
	}
	for c := types.CharQuaternion; c <= types.CharStatus; c++ {
		if g.svc.NotificationsEnabled(c) {
			t.Fatalf("%s enabled after disconnect", c)
		}
	}
}

func TestSubscriptionEvents(t *testing.T) {
	g := newRig(t)
	g.radio.Connect(1)
	g.pump()
	g.events()

	g.subscribe(types.CharAccel, true)
	g.subscribe(types.CharAccel, false)
	// Stacks that own CCCDs report subscriptions against the value handle.
	g.radio.Push(ble.Event{Kind: ble.EvtSubscription, Conn: 1, Handle: g.svc.Handles(types.CharStatus).Value, Enabled: true})
	g.pump()

	evs := g.events()
	want := []types.IMUServiceEvent{
		{Kind: types.IMUNotifyEnabled, Char: types.CharAccel, Conn: 1},
		{Kind: types.IMUNotifyDisabled, Char: types.CharAccel, Conn: 1},
		{Kind: types.IMUNotifyEnabled, Char: types.CharStatus, Conn: 1},
	}
	if len(evs) != len(want) {
		t.Fatalf("events = %+v", evs)
	}
	for i := range want {
		if evs[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, evs[i], want[i])
		}
	}
	if !g.svc.NotificationsEnabled(types.CharStatus) {
		t.Fatal("status not enabled")
	}
}

func TestStatus(t *testing.T) {
	g := newRig(t)
	h := g.svc.Handles(types.CharStatus)

	if err := g.svc.UpdateStatus(StatusSensorOK); err != nil {
		t.Fatal(err)
	}
	if got := g.radio.Value(h.Value); !bytes.Equal(got, []byte{StatusSensorOK}) {
		t.Fatalf("value = %v", got)
	}
	if len(g.radio.Notifications()) != 0 {
		t.Fatal("notified while disconnected")
	}

	g.radio.Connect(1)
	g.pump()
	g.subscribe(types.CharStatus, true)
	flags := StatusSensorOK | StatusStreaming
	if err := g.svc.UpdateStatus(flags); err != nil {
		t.Fatal(err)
	}
	notes := g.radio.Notifications()
	if len(notes) != 1 || !bytes.Equal(notes[0].Data, []byte{flags}) {
		t.Fatalf("notifications = %+v", notes)
	}
	if g.svc.Status() != flags {
		t.Fatalf("status = %02x", g.svc.Status())
	}
}

func TestSetSampleRate(t *testing.T) {
	g := newRig(t)
	if err := g.svc.SetSampleRate(0); !errors.Is(err, errcode.InvalidParams) {
		t.Fatalf("0: %v", err)
	}
	if err := g.svc.SetSampleRate(1001); !errors.Is(err, errcode.InvalidParams) {
		t.Fatalf("1001: %v", err)
	}
	if err := g.svc.SetSampleRate(250); err != nil {
		t.Fatal(err)
	}
	if g.svc.SampleRate() != 250 {
		t.Fatalf("rate = %d", g.svc.SampleRate())
	}
	if got := g.radio.Value(g.svc.Handles(types.CharRate).Value); !bytes.Equal(got, []byte{250, 0}) {
		t.Fatalf("value = %v", got)
	}
}

func TestParseShort(t *testing.T) {
	if _, err := ParseQuat(make([]byte, 15)); !errors.Is(err, errcode.InvalidLength) {
		t.Fatal(err)
	}
	if _, err := ParseVector(make([]byte, 11)); !errors.Is(err, errcode.InvalidLength) {
		t.Fatal(err)
	}
}

// Package imusvc is the IMU GATT service: it projects sensor samples onto
// notify characteristics and turns host writes into IMUServiceEvent
// messages on the bus.
package imusvc

import (
	"imuglasses/ble"
	"imuglasses/bus"
	"imuglasses/errcode"
	"imuglasses/types"
	"imuglasses/x/mathx"

	"github.com/google/uuid"
)

// Base is the vendor UUID; 16-bit ids sit in bytes 2..3.
var Base = uuid.MustParse("12340000-1234-1234-1234-123456789abc")

// Short ids relative to Base.
const (
	IDService    = 0x0000
	IDQuaternion = 0x0001
	IDAccel      = 0x0002
	IDGyro       = 0x0003
	IDRate       = 0x0004
	IDStatus     = 0x0005
)

// ServiceUUID is the full service UUID.
var ServiceUUID = ble.UUID16(Base, IDService)

// Status flags.
const (
	StatusSensorOK   uint8 = 1 << 0
	StatusCalibrated uint8 = 1 << 1
	StatusStreaming  uint8 = 1 << 2
	StatusError      uint8 = 1 << 7
)

// Sample rate bounds (ms).
const (
	RateMin     = 1
	RateMax     = 1000
	DefaultRate = 10
)

// TopicEvent carries types.IMUServiceEvent values.
var TopicEvent = bus.T("ble", "imu", "event")

const numChars = int(types.CharStatus) + 1

// Config for the service. A zero RateMs uses DefaultRate.
type Config struct {
	RateMs uint16
}

// Service owns the characteristic handles and per-connection state.
type Service struct {
	stack ble.Stack
	conn  *bus.Connection

	h      [numChars]ble.CharHandles
	link   ble.ConnHandle
	notify [numChars]bool
	rate   uint16
	status uint8

	buf [QuatSize]byte
}

// New registers the service with stack. Registration is permanent.
// conn may be nil, in which case no events are published.
func New(stack ble.Stack, conn *bus.Connection, cfg Config) (*Service, error) {
	if stack == nil {
		return nil, errcode.InvalidParams
	}
	rate := cfg.RateMs
	if rate == 0 {
		rate = DefaultRate
	}
	if !mathx.Between(rate, RateMin, RateMax) {
		return nil, errcode.InvalidParams
	}
	s := &Service{stack: stack, conn: conn, link: ble.ConnHandleInvalid, rate: rate}

	var rv [RateSize]byte
	PutRate(rv[:], rate)
	chars := [numChars]ble.CharDef{
		types.CharQuaternion: {UUID: ble.UUID16(Base, IDQuaternion), Props: ble.PropRead | ble.PropNotify, MaxLen: QuatSize},
		types.CharAccel:      {UUID: ble.UUID16(Base, IDAccel), Props: ble.PropRead | ble.PropNotify, MaxLen: VectorSize},
		types.CharGyro:       {UUID: ble.UUID16(Base, IDGyro), Props: ble.PropRead | ble.PropNotify, MaxLen: VectorSize},
		types.CharRate:       {UUID: ble.UUID16(Base, IDRate), Props: ble.PropRead | ble.PropWrite, MaxLen: RateSize, Value: rv[:]},
		types.CharStatus:     {UUID: ble.UUID16(Base, IDStatus), Props: ble.PropRead | ble.PropNotify, MaxLen: StatusSize, Value: []byte{0}},
	}
	if err := stack.AddService(ServiceUUID, chars[:], s.h[:]); err != nil {
		return nil, errcode.Wrap("imusvc.register", err)
	}
	return s, nil
}

func (s *Service) Connected() bool           { return s.link != ble.ConnHandleInvalid }
func (s *Service) ConnHandle() ble.ConnHandle { return s.link }
func (s *Service) SampleRate() uint16         { return s.rate }
func (s *Service) Status() uint8              { return s.status }

// Handles returns the handles assigned to c.
func (s *Service) Handles(c types.IMUChar) ble.CharHandles {
	if int(c) >= numChars {
		return ble.CharHandles{}
	}
	return s.h[c]
}

// NotificationsEnabled reports the host's subscription to c.
func (s *Service) NotificationsEnabled(c types.IMUChar) bool {
	return int(c) < numChars && s.notify[c]
}

// Streaming reports whether any data characteristic is subscribed.
func (s *Service) Streaming() bool {
	return s.notify[types.CharQuaternion] || s.notify[types.CharAccel] || s.notify[types.CharGyro]
}

// NotifyQuaternion sends q when connected and subscribed, and is a no-op
// success otherwise. A full transmit queue returns errcode.NoResources.
func (s *Service) NotifyQuaternion(q Quat) error {
	if !s.gate(types.CharQuaternion) {
		return nil
	}
	q.Put(s.buf[:QuatSize])
	return s.send(types.CharQuaternion, s.buf[:QuatSize])
}

func (s *Service) NotifyAccel(v Vector) error {
	if !s.gate(types.CharAccel) {
		return nil
	}
	v.Put(s.buf[:VectorSize])
	return s.send(types.CharAccel, s.buf[:VectorSize])
}

func (s *Service) NotifyGyro(v Vector) error {
	if !s.gate(types.CharGyro) {
		return nil
	}
	v.Put(s.buf[:VectorSize])
	return s.send(types.CharGyro, s.buf[:VectorSize])
}

// NotifyStatus records flags and sends them when subscribed.
func (s *Service) NotifyStatus(flags uint8) error {
	s.status = flags
	if !s.gate(types.CharStatus) {
		return nil
	}
	s.buf[0] = flags
	return s.send(types.CharStatus, s.buf[:StatusSize])
}

// UpdateStatus stores flags in the attribute table, then notifies.
func (s *Service) UpdateStatus(flags uint8) error {
	s.status = flags
	if err := s.stack.SetValue(s.h[types.CharStatus].Value, []byte{flags}); err != nil {
		return errcode.Wrap("imusvc.status", err)
	}
	return s.NotifyStatus(flags)
}

// SetSampleRate stores ms and updates the readable value.
func (s *Service) SetSampleRate(ms uint16) error {
	if !mathx.Between(ms, RateMin, RateMax) {
		return errcode.InvalidParams
	}
	s.rate = ms
	var b [RateSize]byte
	PutRate(b[:], ms)
	return s.stack.SetValue(s.h[types.CharRate].Value, b[:])
}

func (s *Service) gate(c types.IMUChar) bool {
	return s.link != ble.ConnHandleInvalid && s.notify[c]
}

func (s *Service) send(c types.IMUChar, b []byte) error {
	return s.stack.Notify(s.link, s.h[c].Value, b)
}

// OnEvent implements ble.Observer.
func (s *Service) OnEvent(ev *ble.Event) {
	switch ev.Kind {
	case ble.EvtConnected:
		s.link = ev.Conn
		s.notify = [numChars]bool{}
		s.publish(types.IMUServiceEvent{Kind: types.IMUConnected})
	case ble.EvtDisconnected:
		s.publish(types.IMUServiceEvent{Kind: types.IMUDisconnected})
		s.link = ble.ConnHandleInvalid
		s.notify = [numChars]bool{}
	case ble.EvtWrite:
		s.onWrite(ev.Handle, ev.Value())
	case ble.EvtSubscription:
		if c, ok := s.charFor(ev.Handle); ok {
			s.setNotify(c, ev.Enabled)
		}
	case ble.EvtTxComplete:
		s.publish(types.IMUServiceEvent{Kind: types.IMUTxComplete, Count: ev.Count})
	}
}

func (s *Service) onWrite(h ble.Handle, v []byte) {
	if len(v) != 2 {
		return
	}
	if h == s.h[types.CharRate].Value {
		ms := uint16(v[0]) | uint16(v[1])<<8
		// Out-of-range rates are dropped without a GATT error.
		if !mathx.Between(ms, RateMin, RateMax) {
			return
		}
		s.rate = ms
		s.publish(types.IMUServiceEvent{Kind: types.IMURateChanged, Char: types.CharRate, RateMs: ms})
		return
	}
	for c := range s.h {
		if s.h[c].CCCD != 0 && s.h[c].CCCD == h {
			s.setNotify(types.IMUChar(c), v[0]&0x01 != 0)
			return
		}
	}
}

// charFor maps a value or CCCD handle to its characteristic.
func (s *Service) charFor(h ble.Handle) (types.IMUChar, bool) {
	for c := range s.h {
		if s.h[c].CCCD == 0 {
			continue
		}
		if s.h[c].Value == h || s.h[c].CCCD == h {
			return types.IMUChar(c), true
		}
	}
	return 0, false
}

func (s *Service) setNotify(c types.IMUChar, on bool) {
	s.notify[c] = on
	kind := types.IMUNotifyDisabled
	if on {
		kind = types.IMUNotifyEnabled
	}
	s.publish(types.IMUServiceEvent{Kind: kind, Char: c})
}

func (s *Service) publish(ev types.IMUServiceEvent) {
	if s.conn == nil {
		return
	}
	ev.Conn = uint16(s.link)
	s.conn.Publish(s.conn.NewMessage(TopicEvent, ev, false))
}

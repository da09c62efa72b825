//go:build tinygo && nrf

package tinygoble

import (
	"time"

	"imuglasses/ble"
	"imuglasses/errcode"
	"imuglasses/x/evring"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// The SoftDevice gives the first link handle 0 and the peripheral role
// allows one link.
const linkHandle ble.ConnHandle = 0

// maxChars bounds the characteristics the adapter tracks.
const maxChars = 16

type char struct {
	c       bluetooth.Characteristic
	h       ble.CharHandles
	notify  bool
	enabled bool
}

// Stack is a ble.Stack over the tinygo bluetooth adapter.
//
// Callbacks from the SoftDevice and the advertising timer are the only
// producers on the event ring. TinyGo schedules goroutines cooperatively,
// so they never run concurrently.
type Stack struct {
	adapter *bluetooth.Adapter
	adv     *bluetooth.Advertisement
	events  *evring.Ring[ble.Event]

	chars [maxChars]char
	n     int
	ids   handles

	conn     ble.ConnHandle
	duration time.Duration
	timer    *time.Timer
	active   bool
}

// New enables the adapter and hooks its connect handler.
func New(adapter *bluetooth.Adapter, events *evring.Ring[ble.Event]) (*Stack, error) {
	if err := adapter.Enable(); err != nil {
		return nil, &errcode.E{C: errcode.MapDriverErr(err), Op: "ble enable", Err: err}
	}
	s := &Stack{
		adapter: adapter,
		adv:     adapter.DefaultAdvertisement(),
		events:  events,
		conn:    ble.ConnHandleInvalid,
	}
	adapter.SetConnectHandler(s.onConnect)
	return s, nil
}

func (s *Stack) onConnect(_ bluetooth.Device, connected bool) {
	if connected {
		s.conn = linkHandle
		s.stopTimer()
		s.active = false
		s.events.Push(ble.Event{Kind: ble.EvtAdvSetTerminated, Reason: ble.AdvReasonConnected})
		s.events.Push(ble.Event{Kind: ble.EvtConnected, Conn: linkHandle})
		// The SoftDevice owns the CCCDs and reports no writes to them, so
		// every notifying characteristic counts as subscribed. A central
		// that never writes a CCCD is still streamed to, and Streaming
		// reads true from connect.
		// TODO: key enabled on the SoftDevice CCCD value once
		// tinygo.org/x/bluetooth exposes it.
		for i := 0; i < s.n; i++ {
			if c := &s.chars[i]; c.notify {
				c.enabled = true
				s.events.Push(ble.Event{Kind: ble.EvtSubscription, Conn: linkHandle, Handle: c.h.CCCD, Enabled: true})
			}
		}
		return
	}
	s.conn = ble.ConnHandleInvalid
	for i := 0; i < s.n; i++ {
		s.chars[i].enabled = false
	}
	s.events.Push(ble.Event{Kind: ble.EvtDisconnected, Conn: linkHandle})
}

func (s *Stack) AddService(svc uuid.UUID, defs []ble.CharDef, out []ble.CharHandles) error {
	if len(out) < len(defs) {
		return errcode.InvalidParams
	}
	if s.n+len(defs) > maxChars {
		return errcode.NoMemory
	}
	ids := s.ids
	ids.service()
	cfgs := make([]bluetooth.CharacteristicConfig, len(defs))
	base := s.n
	for i, d := range defs {
		c := &s.chars[base+i]
		c.notify = d.Props&ble.PropNotify != 0
		c.h = ids.char(c.notify)
		h := c.h.Value
		cfgs[i] = bluetooth.CharacteristicConfig{
			Handle: &c.c,
			UUID:   bluetooth.NewUUID([16]byte(d.UUID)),
			Value:  append([]byte(nil), d.Value...),
			Flags:  permissions(d.Props),
		}
		if d.Props&(ble.PropWrite|ble.PropWriteNoResponse) != 0 {
			cfgs[i].WriteEvent = func(client bluetooth.Connection, _ int, v []byte) {
				s.events.Push(ble.WriteEvent(ble.ConnHandle(client), h, v))
			}
		}
	}
	err := s.adapter.AddService(&bluetooth.Service{UUID: bluetooth.NewUUID([16]byte(svc)), Characteristics: cfgs})
	if err != nil {
		return &errcode.E{C: errcode.MapDriverErr(err), Op: "add service", Err: err}
	}
	for i := range defs {
		out[i] = s.chars[base+i].h
	}
	s.n += len(defs)
	s.ids = ids
	return nil
}

func permissions(p ble.Props) bluetooth.CharacteristicPermissions {
	var f bluetooth.CharacteristicPermissions
	if p&ble.PropRead != 0 {
		f |= bluetooth.CharacteristicReadPermission
	}
	if p&ble.PropWrite != 0 {
		f |= bluetooth.CharacteristicWritePermission
	}
	if p&ble.PropWriteNoResponse != 0 {
		f |= bluetooth.CharacteristicWriteWithoutResponsePermission
	}
	if p&ble.PropNotify != 0 {
		f |= bluetooth.CharacteristicNotifyPermission
	}
	return f
}

func (s *Stack) find(h ble.Handle) *char {
	for i := 0; i < s.n; i++ {
		if s.chars[i].h.Value == h {
			return &s.chars[i]
		}
	}
	return nil
}

// SetValue updates the attribute. On a live link with notifications
// enabled the SoftDevice also sends it.
func (s *Stack) SetValue(h ble.Handle, v []byte) error {
	c := s.find(h)
	if c == nil {
		return errcode.NotFound
	}
	if _, err := c.c.Write(v); err != nil && s.conn == ble.ConnHandleInvalid {
		return &errcode.E{C: errcode.MapDriverErr(err), Op: "set value", Err: err}
	}
	return nil
}

// Notify sends v. The tinygo API reports queue exhaustion as a plain
// error, so any failure on a live link is errcode.NoResources.
func (s *Stack) Notify(conn ble.ConnHandle, h ble.Handle, v []byte) error {
	if conn != s.conn || conn == ble.ConnHandleInvalid {
		return errcode.InvalidState
	}
	c := s.find(h)
	if c == nil {
		return errcode.NotFound
	}
	if !c.enabled {
		return errcode.InvalidState
	}
	if _, err := c.c.Write(v); err != nil {
		return &errcode.E{C: errcode.NoResources, Op: "notify", Err: err}
	}
	s.events.Push(ble.Event{Kind: ble.EvtTxComplete, Conn: conn, Count: 1})
	return nil
}

func (s *Stack) ConfigureAdvertising(p ble.AdvParams, adv, scan []byte) error {
	o, err := decodeAdv(adv, scan)
	if err != nil {
		return err
	}
	opts := bluetooth.AdvertisementOptions{
		LocalName: o.Name,
		Interval:  bluetooth.NewDuration(time.Duration(p.Interval) * 625 * time.Microsecond),
	}
	for _, u := range o.UUID16 {
		opts.ServiceUUIDs = append(opts.ServiceUUIDs, bluetooth.New16BitUUID(u))
	}
	for _, u := range o.UUID128 {
		opts.ServiceUUIDs = append(opts.ServiceUUIDs, bluetooth.NewUUID([16]byte(u)))
	}
	if o.HasMfr {
		opts.ManufacturerData = []bluetooth.ManufacturerDataElement{{CompanyID: o.Company, Data: o.Mfr}}
	}
	if err := s.adv.Configure(opts); err != nil {
		return &errcode.E{C: errcode.MapDriverErr(err), Op: "configure adv", Err: err}
	}
	s.duration = time.Duration(p.Duration) * 10 * time.Millisecond
	return nil
}

func (s *Stack) StartAdvertising() error {
	if s.conn != ble.ConnHandleInvalid {
		return errcode.InvalidState
	}
	if err := s.adv.Start(); err != nil {
		return &errcode.E{C: errcode.MapDriverErr(err), Op: "start adv", Err: err}
	}
	s.active = true
	if s.duration > 0 {
		s.timer = time.AfterFunc(s.duration, s.expire)
	}
	return nil
}

// expire emulates the set duration, which the tinygo API does not take.
func (s *Stack) expire() {
	if !s.active {
		return
	}
	_ = s.adv.Stop()
	s.active = false
	s.events.Push(ble.Event{Kind: ble.EvtAdvSetTerminated, Reason: ble.AdvReasonTimeout})
}

func (s *Stack) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Stack) StopAdvertising() error {
	s.stopTimer()
	if !s.active {
		return errcode.InvalidState
	}
	s.active = false
	if err := s.adv.Stop(); err != nil {
		return &errcode.E{C: errcode.MapDriverErr(err), Op: "stop adv", Err: err}
	}
	return nil
}

// The SoftDevice answers these itself.

func (s *Stack) ReplyMTU(ble.ConnHandle, uint16) error                 { return nil }
func (s *Stack) SetSysAttrs(ble.ConnHandle) error                      { return nil }
func (s *Stack) RejectPairing(ble.ConnHandle) error                    { return nil }
func (s *Stack) AcceptConnParams(ble.ConnHandle, ble.ConnParams) error { return nil }
func (s *Stack) UpdatePHY(ble.ConnHandle, ble.PHY) error               { return nil }
func (s *Stack) UpdateDataLength(ble.ConnHandle) error                 { return nil }

var _ ble.Stack = (*Stack)(nil)

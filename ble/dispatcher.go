package ble

import (
	"imuglasses/errcode"
	"imuglasses/x/evring"
	"imuglasses/x/mathx"
)

// MaxObservers bounds the observer registry.
const MaxObservers = 8

// Observer receives every dispatched event, after housekeeping.
type Observer interface {
	OnEvent(ev *Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev *Event)

func (f ObserverFunc) OnEvent(ev *Event) { f(ev) }

// ObserverID is the stable registry index of an observer.
type ObserverID uint8

// ConnState is the link as tracked from events.
type ConnState struct {
	Handle ConnHandle
	MTU    uint16
	Params ConnParams
}

// Dispatcher answers the stack's housekeeping events and fans every event
// out to the registered observers in registration order.
type Dispatcher struct {
	stack Stack
	obs   [MaxObservers]Observer
	n     int
	conn  ConnState

	events   uint32
	replyErr uint32
}

func NewDispatcher(s Stack) *Dispatcher {
	return &Dispatcher{
		stack: s,
		conn:  ConnState{Handle: ConnHandleInvalid, MTU: MTUDefault},
	}
}

// Register adds o. The returned id is its index for the firmware lifetime.
func (d *Dispatcher) Register(o Observer) (ObserverID, error) {
	if o == nil {
		return 0, errcode.InvalidParams
	}
	if d.n >= MaxObservers {
		return 0, errcode.NoMemory
	}
	id := ObserverID(d.n)
	d.obs[d.n] = o
	d.n++
	return id, nil
}

// Observer returns the observer registered under id, or nil.
func (d *Dispatcher) Observer(id ObserverID) Observer {
	if int(id) >= d.n {
		return nil
	}
	return d.obs[id]
}

func (d *Dispatcher) Observers() int      { return d.n }
func (d *Dispatcher) Conn() ConnState     { return d.conn }
func (d *Dispatcher) Connected() bool     { return d.conn.Handle != ConnHandleInvalid }
func (d *Dispatcher) Events() uint32      { return d.events }
func (d *Dispatcher) ReplyErrors() uint32 { return d.replyErr }

// Drain dispatches queued events until the ring is empty and returns the
// number handled.
func (d *Dispatcher) Drain(r *evring.Ring[Event]) int {
	n := 0
	for {
		ev, ok := r.Pop()
		if !ok {
			return n
		}
		d.Dispatch(&ev)
		n++
	}
}

// Dispatch handles one event.
func (d *Dispatcher) Dispatch(ev *Event) {
	d.events++
	switch ev.Kind {
	case EvtConnected:
		d.conn = ConnState{Handle: ev.Conn, MTU: MTUDefault, Params: ev.Params}
	case EvtDisconnected:
		d.conn = ConnState{Handle: ConnHandleInvalid, MTU: MTUDefault}
	case EvtMTURequest:
		mtu := mathx.Clamp(ev.MTU, MTUDefault, MTUMax)
		d.conn.MTU = mtu
		d.reply(d.stack.ReplyMTU(ev.Conn, mtu))
	case EvtSysAttrMissing:
		// No bonding, so no stored CCCD state to restore.
		d.reply(d.stack.SetSysAttrs(ev.Conn))
	case EvtPairingRequest:
		d.reply(d.stack.RejectPairing(ev.Conn))
	case EvtConnParamRequest:
		d.reply(d.stack.AcceptConnParams(ev.Conn, ev.Params))
	case EvtConnParamUpdate:
		d.conn.Params = ev.Params
	case EvtPHYRequest:
		d.reply(d.stack.UpdatePHY(ev.Conn, PHYAuto))
	}
	for i := 0; i < d.n; i++ {
		d.obs[i].OnEvent(ev)
	}
}

func (d *Dispatcher) reply(err error) {
	if err != nil {
		d.replyErr++
	}
}

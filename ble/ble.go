// Package ble defines the contract between the firmware and the BLE
// protocol stack that owns the radio: the Stack the firmware drives, the
// Event values the stack delivers, and the Dispatcher that fans those
// events out to registered observers.
//
// Stacks push events from their own execution context into an
// evring.Ring; the main loop drains it with Dispatcher.Drain.
package ble

import (
	"github.com/google/uuid"
)

// ConnHandle identifies a link. ConnHandleInvalid means no connection.
type ConnHandle uint16

const ConnHandleInvalid ConnHandle = 0xFFFF

// Handle is a GATT attribute handle.
type Handle uint16

// ATT MTU bounds.
const (
	MTUDefault = 23
	MTUMax     = 247
)

// Props are characteristic properties.
type Props uint8

const (
	PropRead Props = 1 << iota
	PropWrite
	PropWriteNoResponse
	PropNotify
)

// CharDef describes one characteristic to register.
type CharDef struct {
	UUID   uuid.UUID
	Props  Props
	MaxLen int
	Value  []byte // initial value, len <= MaxLen
}

// CharHandles are the attribute handles assigned to a characteristic.
// CCCD is zero when the characteristic does not notify.
type CharHandles struct {
	Value Handle
	CCCD  Handle
}

// AdvParams are the advertising set parameters.
type AdvParams struct {
	Interval    uint16 // 0.625 ms units
	Duration    uint16 // 10 ms units, 0 advertises until stopped
	Connectable bool
}

// ConnParams are link parameters in stack units (1.25 ms intervals,
// 10 ms supervision timeout).
type ConnParams struct {
	MinInterval uint16
	MaxInterval uint16
	Latency     uint16
	Timeout     uint16
}

// PHY selects the radio PHY.
type PHY uint8

const (
	PHYAuto PHY = iota
	PHY1M
	PHY2M
)

// Stack is the radio stack as the firmware sees it. Implementations must
// not call back into the firmware synchronously; events go through the
// event ring.
type Stack interface {
	// AddService registers a primary service. out receives one entry per
	// chars element. Registration cannot be undone.
	AddService(svc uuid.UUID, chars []CharDef, out []CharHandles) error
	SetValue(h Handle, v []byte) error
	// Notify queues one notification. A full transmit queue returns
	// errcode.NoResources.
	Notify(conn ConnHandle, h Handle, v []byte) error

	ConfigureAdvertising(p AdvParams, adv, scan []byte) error
	StartAdvertising() error
	StopAdvertising() error

	ReplyMTU(conn ConnHandle, mtu uint16) error
	SetSysAttrs(conn ConnHandle) error
	RejectPairing(conn ConnHandle) error
	// AcceptConnParams answers a central's parameter request, or proposes
	// p when no request is pending.
	AcceptConnParams(conn ConnHandle, p ConnParams) error
	UpdatePHY(conn ConnHandle, phy PHY) error
	UpdateDataLength(conn ConnHandle) error
}

// EventKind tags an Event.
type EventKind uint8

const (
	EvtNone EventKind = iota
	EvtConnected
	EvtDisconnected
	EvtWrite            // Handle, Data
	EvtSubscription     // Handle (value or CCCD), Enabled; stacks that own CCCDs
	EvtAdvSetTerminated // Reason
	EvtMTURequest       // MTU = client rx MTU
	EvtSysAttrMissing
	EvtPairingRequest
	EvtConnParamRequest // Params
	EvtConnParamUpdate  // Params
	EvtPHYRequest
	EvtTxComplete // Count
)

func (k EventKind) String() string {
	switch k {
	case EvtConnected:
		return "connected"
	case EvtDisconnected:
		return "disconnected"
	case EvtWrite:
		return "write"
	case EvtSubscription:
		return "subscription"
	case EvtAdvSetTerminated:
		return "adv-set-terminated"
	case EvtMTURequest:
		return "mtu-request"
	case EvtSysAttrMissing:
		return "sys-attr-missing"
	case EvtPairingRequest:
		return "pairing-request"
	case EvtConnParamRequest:
		return "conn-param-request"
	case EvtConnParamUpdate:
		return "conn-param-update"
	case EvtPHYRequest:
		return "phy-request"
	case EvtTxComplete:
		return "tx-complete"
	}
	return "none"
}

// Advertising set termination reasons.
const (
	AdvReasonTimeout      = 0x00
	AdvReasonLimitReached = 0x01
	AdvReasonConnected    = 0x05
)

// MaxWriteLen is the largest write value an Event carries (default MTU - 3).
const MaxWriteLen = MTUDefault - 3

// Event is one stack event. It is a plain value so it can sit in a ring
// without allocation.
type Event struct {
	Kind    EventKind
	Conn    ConnHandle
	Handle  Handle
	Enabled bool
	Reason  uint8
	Count   uint8
	Len     uint8
	MTU     uint16
	Params  ConnParams
	Data    [MaxWriteLen]byte
}

// Value is the written value of an EvtWrite.
func (e *Event) Value() []byte { return e.Data[:e.Len] }

// WriteEvent builds an EvtWrite. Values longer than MaxWriteLen are cut
// and keep Len == MaxWriteLen.
func WriteEvent(conn ConnHandle, h Handle, v []byte) Event {
	ev := Event{Kind: EvtWrite, Conn: conn, Handle: h}
	ev.Len = uint8(copy(ev.Data[:], v))
	return ev
}

// UUID16 expands a 16-bit short id into base, at bytes 2..3 of the
// big-endian UUID (the position the Bluetooth base UUID uses).
func UUID16(base uuid.UUID, short uint16) uuid.UUID {
	u := base
	u[2] = byte(short >> 8)
	u[3] = byte(short)
	return u
}

package sim

import (
	"sync"

	"imuglasses/ble"
	"imuglasses/errcode"
	"imuglasses/x/evring"

	"github.com/google/uuid"
)

// Notification is one notification the radio sent.
type Notification struct {
	Conn   ble.ConnHandle
	Handle ble.Handle
	Data   []byte
}

type service struct {
	uuid    uuid.UUID
	chars   []ble.CharDef
	handles []ble.CharHandles
}

// Radio is an in-memory ble.Stack with a scripted central. Events it
// generates go to Events, exactly as a hardware stack's would.
type Radio struct {
	mu     sync.Mutex
	Events *evring.Ring[ble.Event]

	services []service
	next     ble.Handle
	values   map[ble.Handle][]byte

	conn    ble.ConnHandle
	notes   []Notification
	pending int

	// TxQueue is the notification queue depth; 0 is unlimited.
	TxQueue int
	// StartErr fails StartAdvertising when set.
	StartErr error
	// MaxServices caps AddService; 0 is unlimited.
	MaxServices int
	// LinkParams are reported with every scripted connection.
	LinkParams ble.ConnParams

	AdvParams   ble.AdvParams
	AdvData     []byte
	ScanData    []byte
	Advertising bool
	Configures  int
	Starts      int
	Stops       int

	MTUReplies      []uint16
	SysAttrs        int
	PairingRejects  int
	ConnParamAccept []ble.ConnParams
	PHYUpdates      []ble.PHY
	DataLengthReqs  int
}

// NewRadio returns a radio whose event ring holds ringSize events.
func NewRadio(ringSize int) *Radio {
	return &Radio{
		Events: evring.New[ble.Event](ringSize),
		next:   0x0010,
		values: map[ble.Handle][]byte{},
		conn:   ble.ConnHandleInvalid,
	}
}

// ---- ble.Stack ----

func (r *Radio) AddService(svc uuid.UUID, chars []ble.CharDef, out []ble.CharHandles) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(out) < len(chars) {
		return errcode.InvalidParams
	}
	if r.MaxServices > 0 && len(r.services) >= r.MaxServices {
		return errcode.NoMemory
	}
	s := service{uuid: svc, chars: append([]ble.CharDef(nil), chars...)}
	r.next++ // service declaration
	for i, c := range chars {
		r.next++ // characteristic declaration
		h := ble.CharHandles{Value: r.next}
		r.next++
		if c.Props&ble.PropNotify != 0 {
			h.CCCD = r.next
			r.values[h.CCCD] = []byte{0, 0}
			r.next++
		}
		r.values[h.Value] = append([]byte(nil), c.Value...)
		out[i] = h
		s.handles = append(s.handles, h)
	}
	r.services = append(r.services, s)
	return nil
}

func (r *Radio) SetValue(h ble.Handle, v []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.values[h]; !ok {
		return errcode.NotFound
	}
	r.values[h] = append(r.values[h][:0], v...)
	return nil
}

func (r *Radio) Notify(conn ble.ConnHandle, h ble.Handle, v []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn == ble.ConnHandleInvalid || conn != r.conn {
		return errcode.InvalidState
	}
	if r.TxQueue > 0 && r.pending >= r.TxQueue {
		return errcode.NoResources
	}
	r.pending++
	r.notes = append(r.notes, Notification{Conn: conn, Handle: h, Data: append([]byte(nil), v...)})
	return nil
}

func (r *Radio) ConfigureAdvertising(p ble.AdvParams, adv, scan []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(adv) > ble.MaxADLen || len(scan) > ble.MaxADLen {
		return errcode.InvalidLength
	}
	r.AdvParams = p
	r.AdvData = append([]byte(nil), adv...)
	r.ScanData = append([]byte(nil), scan...)
	r.Configures++
	return nil
}

func (r *Radio) StartAdvertising() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StartErr != nil {
		return r.StartErr
	}
	if r.conn != ble.ConnHandleInvalid {
		return errcode.InvalidState
	}
	r.Advertising = true
	r.Starts++
	return nil
}

func (r *Radio) StopAdvertising() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.Advertising {
		return errcode.InvalidState
	}
	r.Advertising = false
	r.Stops++
	return nil
}

func (r *Radio) ReplyMTU(conn ble.ConnHandle, mtu uint16) error {
	r.mu.Lock()
	r.MTUReplies = append(r.MTUReplies, mtu)
	r.mu.Unlock()
	return nil
}

func (r *Radio) SetSysAttrs(ble.ConnHandle) error {
	r.mu.Lock()
	r.SysAttrs++
	r.mu.Unlock()
	return nil
}

func (r *Radio) RejectPairing(ble.ConnHandle) error {
	r.mu.Lock()
	r.PairingRejects++
	r.mu.Unlock()
	return nil
}

func (r *Radio) AcceptConnParams(_ ble.ConnHandle, p ble.ConnParams) error {
	r.mu.Lock()
	r.ConnParamAccept = append(r.ConnParamAccept, p)
	r.mu.Unlock()
	return nil
}

func (r *Radio) UpdatePHY(conn ble.ConnHandle, phy ble.PHY) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn != r.conn {
		return errcode.InvalidState
	}
	r.PHYUpdates = append(r.PHYUpdates, phy)
	return nil
}

func (r *Radio) UpdateDataLength(conn ble.ConnHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn != r.conn {
		return errcode.InvalidState
	}
	r.DataLengthReqs++
	return nil
}

// ---- inspection ----

// Chars returns the handles registered for svc, in registration order.
func (r *Radio) Chars(svc uuid.UUID) []ble.CharHandles {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.services {
		if s.uuid == svc {
			return append([]ble.CharHandles(nil), s.handles...)
		}
	}
	return nil
}

// CharDefs returns the definitions registered for svc.
func (r *Radio) CharDefs(svc uuid.UUID) []ble.CharDef {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.services {
		if s.uuid == svc {
			return append([]ble.CharDef(nil), s.chars...)
		}
	}
	return nil
}

// Value returns a copy of the attribute value at h.
func (r *Radio) Value(h ble.Handle) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.values[h]...)
}

// Notifications returns and clears the notifications sent so far.
func (r *Radio) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.notes
	r.notes = nil
	return out
}

// ConnHandle is the current link, or ble.ConnHandleInvalid.
func (r *Radio) ConnHandle() ble.ConnHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// ---- central script ----

// Push queues a raw event.
func (r *Radio) Push(ev ble.Event) bool { return r.Events.Push(ev) }

// Connect links a central. Connectable advertising stops, as on hardware.
func (r *Radio) Connect(h ble.ConnHandle) {
	r.mu.Lock()
	r.conn = h
	r.Advertising = false
	r.pending = 0
	p := r.LinkParams
	r.mu.Unlock()
	r.Push(ble.Event{Kind: ble.EvtConnected, Conn: h, Params: p})
}

// Disconnect drops the link with an HCI reason.
func (r *Radio) Disconnect(reason uint8) {
	r.mu.Lock()
	h := r.conn
	r.conn = ble.ConnHandleInvalid
	for k, v := range r.values {
		if len(v) == 2 && r.isCCCD(k) {
			r.values[k] = []byte{0, 0}
		}
	}
	r.mu.Unlock()
	r.Push(ble.Event{Kind: ble.EvtDisconnected, Conn: h, Reason: reason})
}

func (r *Radio) isCCCD(h ble.Handle) bool {
	for _, s := range r.services {
		for _, c := range s.handles {
			if c.CCCD == h {
				return true
			}
		}
	}
	return false
}

// Write performs a central write to h.
func (r *Radio) Write(h ble.Handle, v []byte) {
	r.mu.Lock()
	conn := r.conn
	if _, ok := r.values[h]; ok {
		r.values[h] = append(r.values[h][:0], v...)
	}
	r.mu.Unlock()
	r.Push(ble.WriteEvent(conn, h, v))
}

// Subscribe writes a CCCD.
func (r *Radio) Subscribe(cccd ble.Handle, on bool) {
	v := []byte{0, 0}
	if on {
		v[0] = 1
	}
	r.Write(cccd, v)
}

// ExchangeMTU sends a client MTU request.
func (r *Radio) ExchangeMTU(mtu uint16) {
	r.Push(ble.Event{Kind: ble.EvtMTURequest, Conn: r.ConnHandle(), MTU: mtu})
}

// ExpireAdvertising ends the advertising set with a timeout.
func (r *Radio) ExpireAdvertising() {
	r.mu.Lock()
	r.Advertising = false
	r.mu.Unlock()
	r.Push(ble.Event{Kind: ble.EvtAdvSetTerminated, Reason: ble.AdvReasonTimeout})
}

// CompleteTx frees the notification queue.
func (r *Radio) CompleteTx() {
	r.mu.Lock()
	n := r.pending
	r.pending = 0
	conn := r.conn
	r.mu.Unlock()
	r.Push(ble.Event{Kind: ble.EvtTxComplete, Conn: conn, Count: uint8(n)})
}

// Package adv runs the advertising policy: fast advertising after start,
// slow advertising once the fast window times out, idle after the slow
// window or on connect, and a best-effort restart after disconnect.
package adv

import (
	"imuglasses/ble"
	"imuglasses/bus"
	"imuglasses/errcode"
	"imuglasses/types"

	"github.com/google/uuid"
)

type Mode = types.AdvMode

const (
	ModeIdle = types.AdvIdle
	ModeFast = types.AdvFast
	ModeSlow = types.AdvSlow
)

const (
	// MaxUUIDs is the 16-bit service UUID list capacity.
	MaxUUIDs = 4
	// MaxManufacturerData leaves room in the payload for flags and name.
	MaxManufacturerData = ble.MaxADLen - 10
)

// TopicEvent carries types.AdvEvent values; TopicMode holds the current
// mode, retained.
var (
	TopicEvent = bus.T("ble", "adv", "event")
	TopicMode  = bus.T("ble", "adv", "mode")
)

// Config is the advertising configuration. Intervals are in 0.625 ms
// units, timeouts in 10 ms units with 0 meaning no timeout.
type Config struct {
	Name string

	FastInterval uint16
	SlowInterval uint16
	FastTimeout  uint16
	SlowTimeout  uint16

	IncludeName        bool
	NameInScanResponse bool // only when IncludeName is false
	IncludeAppearance  bool
	Appearance         uint16
	IncludeTxPower     bool
	TxPower            int8

	UUIDs    []uint16
	UUID128s []uuid.UUID

	CompanyID        uint16
	ManufacturerData []byte

	AutoRestart bool
}

// DefaultConfig: 100 ms fast advertising for 30 s, then 1 s slow
// advertising without a timeout.
func DefaultConfig(name string) Config {
	return Config{
		Name:         name,
		FastInterval: 160,
		SlowInterval: 1600,
		FastTimeout:  3000,
		SlowTimeout:  0,
		IncludeName:  true,
		CompanyID:    0xFFFF,
		AutoRestart:  true,
	}
}

// Advertiser owns the single advertising set.
type Advertiser struct {
	stack ble.Stack
	conn  *bus.Connection
	cfg   Config
	mode  Mode

	uuids [MaxUUIDs]uint16
	mfr   [MaxManufacturerData]byte
	adv   [ble.MaxADLen]byte
	scan  [ble.MaxADLen]byte
}

// New copies cfg. conn may be nil.
func New(stack ble.Stack, conn *bus.Connection, cfg Config) (*Advertiser, error) {
	if stack == nil {
		return nil, errcode.InvalidParams
	}
	a := &Advertiser{stack: stack, conn: conn, cfg: cfg}
	a.cfg.UUIDs = a.uuids[:0]
	for _, u := range cfg.UUIDs {
		if err := a.AddUUID(u); err != nil {
			return nil, err
		}
	}
	a.cfg.ManufacturerData = nil
	if err := a.SetManufacturerData(cfg.CompanyID, cfg.ManufacturerData); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Advertiser) Mode() Mode      { return a.mode }
func (a *Advertiser) Active() bool    { return a.mode != ModeIdle }
func (a *Advertiser) Config() *Config { return &a.cfg }

// AddUUID appends a 16-bit service UUID to the advertised list.
func (a *Advertiser) AddUUID(u uint16) error {
	n := len(a.cfg.UUIDs)
	if n >= MaxUUIDs {
		return errcode.NoMemory
	}
	a.uuids[n] = u
	a.cfg.UUIDs = a.uuids[:n+1]
	return nil
}

// SetManufacturerData sets the manufacturer specific field. An empty b
// removes it.
func (a *Advertiser) SetManufacturerData(company uint16, b []byte) error {
	if len(b) > MaxManufacturerData {
		return errcode.InvalidLength
	}
	a.cfg.CompanyID = company
	n := copy(a.mfr[:], b)
	a.cfg.ManufacturerData = a.mfr[:n]
	return nil
}

// Start begins fast advertising, or slow advertising when the fast window
// is disabled. It fails with errcode.InvalidState unless idle.
func (a *Advertiser) Start() error {
	if a.mode != ModeIdle {
		return errcode.InvalidState
	}
	m := ModeSlow
	if a.cfg.FastTimeout > 0 {
		m = ModeFast
	}
	if err := a.begin(m); err != nil {
		return err
	}
	a.publish(types.AdvStarted)
	return nil
}

// Stop ends advertising. A set the stack already stopped is not an error.
func (a *Advertiser) Stop() error {
	if a.mode == ModeIdle {
		return errcode.InvalidState
	}
	if err := a.stack.StopAdvertising(); err != nil && errcode.Of(err) != errcode.InvalidState {
		return errcode.Wrap("adv.stop", err)
	}
	a.setMode(ModeIdle)
	a.publish(types.AdvStopped)
	return nil
}

// SetMode switches to m, restarting the set. ModeIdle stops.
func (a *Advertiser) SetMode(m Mode) error {
	switch m {
	case ModeIdle:
		return a.Stop()
	case ModeFast, ModeSlow:
	default:
		return errcode.InvalidParams
	}
	if a.mode != ModeIdle {
		_ = a.stack.StopAdvertising()
	}
	if err := a.begin(m); err != nil {
		a.setMode(ModeIdle)
		return err
	}
	return nil
}

// Restart starts advertising from idle.
func (a *Advertiser) Restart() error {
	if a.mode != ModeIdle {
		return errcode.InvalidState
	}
	return a.Start()
}

// UpdateData rebuilds the payload of the running set.
func (a *Advertiser) UpdateData() error {
	if a.mode == ModeIdle {
		return errcode.InvalidState
	}
	return a.configure(a.mode)
}

// Payload returns the last built advertising data and scan response.
func (a *Advertiser) Payload() (adv, scan []byte) {
	n, m := BuildPayload(&a.cfg, a.adv[:], a.scan[:])
	return a.adv[:n], a.scan[:m]
}

func (a *Advertiser) params(m Mode) ble.AdvParams {
	if m == ModeFast {
		return ble.AdvParams{Interval: a.cfg.FastInterval, Duration: a.cfg.FastTimeout, Connectable: true}
	}
	return ble.AdvParams{Interval: a.cfg.SlowInterval, Duration: a.cfg.SlowTimeout, Connectable: true}
}

func (a *Advertiser) configure(m Mode) error {
	adv, scan := a.Payload()
	if err := a.stack.ConfigureAdvertising(a.params(m), adv, scan); err != nil {
		return errcode.Wrap("adv.configure", err)
	}
	return nil
}

func (a *Advertiser) begin(m Mode) error {
	if err := a.configure(m); err != nil {
		return err
	}
	if err := a.stack.StartAdvertising(); err != nil {
		return errcode.Wrap("adv.start", err)
	}
	a.setMode(m)
	return nil
}

// OnEvent implements ble.Observer.
func (a *Advertiser) OnEvent(ev *ble.Event) {
	switch ev.Kind {
	case ble.EvtConnected:
		a.setMode(ModeIdle)
		a.publish(types.AdvConnected)
	case ble.EvtDisconnected:
		if a.cfg.AutoRestart {
			_ = a.Start()
		}
	case ble.EvtAdvSetTerminated:
		if ev.Reason != ble.AdvReasonTimeout {
			return
		}
		switch a.mode {
		case ModeFast:
			a.publish(types.AdvFastTimeout)
			if err := a.begin(ModeSlow); err != nil {
				a.setMode(ModeIdle)
			}
		case ModeSlow:
			a.setMode(ModeIdle)
			a.publish(types.AdvSlowTimeout)
		}
	}
}

func (a *Advertiser) setMode(m Mode) {
	if a.mode == m {
		return
	}
	a.mode = m
	if a.conn != nil {
		a.conn.Publish(a.conn.NewMessage(TopicMode, m, true))
	}
}

func (a *Advertiser) publish(k types.AdvEventKind) {
	if a.conn == nil {
		return
	}
	a.conn.Publish(a.conn.NewMessage(TopicEvent, types.AdvEvent{Kind: k, Mode: a.mode}, false))
}

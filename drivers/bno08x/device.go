package bno08x

import (
	"encoding/binary"
	"time"

	"imuglasses/drivers/shtp"
	"imuglasses/errcode"
	"imuglasses/x/timex"

	"tinygo.org/x/drivers"
)

// Buffer capacities. The receive buffer holds the largest packet the hub
// sends unprompted (the SHTP advertisement, ~280 bytes).
const (
	TxBufferSize = 256
	RxBufferSize = 512
)

// Compile-time capacity checks.
var (
	_ [TxBufferSize - shtp.HeaderSize - setFeatureLen]struct{}
	_ [RxBufferSize - TxBufferSize]struct{}
	_ [shtp.MaxPacket - RxBufferSize]struct{}
)

// State is the driver lifecycle state.
type State uint8

const (
	StateUninit State = iota
	StateWaitReset
	StateWaitProductID
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninit:
		return "uninit"
	case StateWaitReset:
		return "wait-reset"
	case StateWaitProductID:
		return "wait-product-id"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	}
	return "invalid"
}

// Prober is implemented by buses that can address-probe without a data
// phase. Buses without it are probed with a one byte read.
type Prober interface {
	Present(addr uint16) bool
}

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Address defaults to 0x4A if zero.
	Address uint16
	// StartupDelay before the first bus access. Default 300 ms.
	StartupDelay time.Duration
	// ResetDelay after a soft reset before polling again. Default 100 ms.
	ResetDelay time.Duration
	// PollDelay between handshake polls. Default 10 ms.
	PollDelay time.Duration
	// ResetAttempts bounds each wait for reset-complete. Default 50.
	ResetAttempts int
	// ProductIDAttempts bounds the wait for the product-ID response. Default 10.
	ProductIDAttempts int
	// Sleep replaces time.Sleep (tests).
	Sleep func(time.Duration)
	// NowMs stamps cached samples. Default timex.NowMs.
	NowMs func() int64
}

func (c *Config) setDefaults() {
	if c.Address == 0 {
		c.Address = Address
	}
	if c.StartupDelay <= 0 {
		c.StartupDelay = 300 * time.Millisecond
	}
	if c.ResetDelay <= 0 {
		c.ResetDelay = 100 * time.Millisecond
	}
	if c.PollDelay <= 0 {
		c.PollDelay = 10 * time.Millisecond
	}
	if c.ResetAttempts <= 0 {
		c.ResetAttempts = 50
	}
	if c.ProductIDAttempts <= 0 {
		c.ProductIDAttempts = 10
	}
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
	if c.NowMs == nil {
		c.NowMs = timex.NowMs
	}
}

// Bounded waits used by the Read* helpers.
const (
	readAttempts = 10
	readDelay    = time.Millisecond
)

// Device wraps an I2C connection to a BNO08x.
type Device struct {
	bus drivers.I2C
	cfg Config

	state   State
	seq     shtp.Sequencer
	hdr     [shtp.HeaderSize]byte
	tx      [TxBufferSize]byte
	rx      [RxBufferSize]byte
	cmd     [setFeatureLen]byte
	report  Report
	enabled uint64

	product  ProductID
	data     Data
	features [maxReportID + 1]uint32 // interval echoed by get-feature responses
	resets   uint32
}

// New creates a Device. The I2C bus must already be configured.
// This function only creates the Device object; it does not touch the device.
func New(bus drivers.I2C, cfg Config) *Device {
	cfg.setDefaults()
	return &Device{bus: bus, cfg: cfg}
}

func (d *Device) State() State           { return d.state }
func (d *Device) Address() uint16        { return d.cfg.Address }
func (d *Device) ProductID() ProductID   { return d.product }
func (d *Device) Data() *Data            { return &d.data }
func (d *Device) EnabledReports() uint64 { return d.enabled }

// Enabled reports whether id was last enabled with a non-zero interval.
func (d *Device) Enabled(id ReportID) bool {
	return id <= maxReportID && d.enabled&(1<<id) != 0
}

// Present probes the device address.
func (d *Device) Present() bool {
	if p, ok := d.bus.(Prober); ok {
		return p.Present(d.cfg.Address)
	}
	var b [1]byte
	return d.bus.Tx(d.cfg.Address, nil, b[:]) == nil
}

// Init runs the reset handshake and reads the product ID. On success the
// device is Ready with no reports enabled. On failure the device is left in
// StateError and the cause is returned; Init may be called again.
func (d *Device) Init() error {
	d.state = StateUninit
	d.enabled = 0
	if !d.Present() {
		d.state = StateError
		return &errcode.E{C: errcode.NotFound, Op: "bno08x.init", Msg: "no response at address"}
	}

	d.state = StateWaitReset
	d.cfg.Sleep(d.cfg.StartupDelay)
	if err := d.handshake(); err != nil {
		d.state = StateError
		return err
	}
	d.state = StateReady
	return nil
}

// Reset issues a soft reset and repeats the handshake. Enabled reports
// are lost and must be enabled again.
func (d *Device) Reset() error {
	if err := d.softReset(); err != nil {
		return err
	}
	d.state = StateWaitReset
	d.cfg.Sleep(d.cfg.ResetDelay)
	if err := d.handshake(); err != nil {
		d.state = StateError
		return err
	}
	d.state = StateReady
	return nil
}

// handshake waits for reset-complete (soft-resetting once on timeout) and
// then fetches the product ID.
func (d *Device) handshake() error {
	if !d.waitReset() {
		if err := d.softReset(); err != nil {
			return err
		}
		d.cfg.Sleep(d.cfg.ResetDelay)
		if !d.waitReset() {
			return &errcode.E{C: errcode.Timeout, Op: "bno08x.init", Msg: "no reset complete"}
		}
	}
	d.state = StateWaitProductID
	return d.requestProductID()
}

func (d *Device) softReset() error {
	d.cmd[0] = execReset
	d.enabled = 0
	return d.send(shtp.ChannelExecutable, d.cmd[:1])
}

// waitReset polls for the reset-complete signal. Bus errors count as a
// spent attempt; the hub NACKs while it boots.
func (d *Device) waitReset() bool {
	for i := 0; i < d.cfg.ResetAttempts; i++ {
		p, err := d.receive()
		if err == nil && isResetComplete(p) {
			return true
		}
		d.cfg.Sleep(d.cfg.PollDelay)
	}
	return false
}

func isResetComplete(p shtp.Packet) bool {
	if len(p.Payload) == 0 {
		return false
	}
	switch p.Channel {
	case shtp.ChannelCommand:
		return p.Payload[0] == shtpAdvertisement || p.Payload[0] == execResetComplete
	case shtp.ChannelExecutable:
		return p.Payload[0] == execResetComplete
	}
	return false
}

func (d *Device) requestProductID() error {
	d.cmd[0] = cmdProductIDRequest
	d.cmd[1] = 0
	if err := d.send(shtp.ChannelControl, d.cmd[:2]); err != nil {
		return err
	}
	for i := 0; i < d.cfg.ProductIDAttempts; i++ {
		d.cfg.Sleep(d.cfg.PollDelay)
		p, err := d.receive()
		if err != nil || p.Channel != shtp.ChannelControl || len(p.Payload) == 0 {
			continue
		}
		if p.Payload[0] != rspProductID {
			continue
		}
		pid, err := parseProductID(p.Payload)
		if err != nil {
			return errcode.Wrap("bno08x.product_id", err)
		}
		d.product = pid
		return nil
	}
	return &errcode.E{C: errcode.Timeout, Op: "bno08x.product_id", Msg: "no response"}
}

// parseProductID decodes a 0xF8 response. The patch field is optional.
func parseProductID(b []byte) (ProductID, error) {
	if len(b) < 12 || b[0] != rspProductID {
		return ProductID{}, errcode.InvalidData
	}
	pid := ProductID{
		ResetCause: b[1],
		Major:      b[2],
		Minor:      b[3],
		Part:       binary.LittleEndian.Uint32(b[4:]),
		Build:      binary.LittleEndian.Uint32(b[8:]),
	}
	if len(b) >= 14 {
		pid.Patch = binary.LittleEndian.Uint16(b[12:])
	}
	return pid, nil
}

// EnableReport asks the hub to emit id every intervalUs microseconds.
func (d *Device) EnableReport(id ReportID, intervalUs uint32) error {
	return d.SetFeature(id, Feature{IntervalUs: intervalUs})
}

// DisableReport stops id. It is the same command with a zero interval.
func (d *Device) DisableReport(id ReportID) error {
	return d.SetFeature(id, Feature{})
}

// SetFeature sends a SET_FEATURE command. Re-sending the same feature is
// harmless.
func (d *Device) SetFeature(id ReportID, f Feature) error {
	if d.state != StateReady {
		return errcode.NotReady
	}
	if id == 0 || id > maxReportID {
		return errcode.InvalidParams
	}
	c := d.cmd[:setFeatureLen]
	for i := range c {
		c[i] = 0
	}
	c[0] = cmdSetFeature
	c[1] = byte(id)
	binary.LittleEndian.PutUint32(c[4:], f.IntervalUs)
	binary.LittleEndian.PutUint32(c[8:], f.BatchUs)
	binary.LittleEndian.PutUint32(c[12:], f.Specific)
	if err := d.send(shtp.ChannelControl, c); err != nil {
		return err
	}
	if f.IntervalUs == 0 {
		d.enabled &^= 1 << id
	} else {
		d.enabled |= 1 << id
	}
	return nil
}

// RequestFeature asks the hub to report the current configuration of id.
// The answer arrives through Poll and is available from FeatureInterval,
// which reads 0 until then.
func (d *Device) RequestFeature(id ReportID) error {
	if d.state != StateReady {
		return errcode.NotReady
	}
	if id == 0 || id > maxReportID {
		return errcode.InvalidParams
	}
	d.features[id] = 0
	d.cmd[0] = cmdGetFeatureRequest
	d.cmd[1] = byte(id)
	return d.send(shtp.ChannelControl, d.cmd[:2])
}

// FeatureInterval is the interval last reported by the hub for id.
func (d *Device) FeatureInterval(id ReportID) uint32 {
	if id > maxReportID {
		return 0
	}
	return d.features[id]
}

// TakeReset reports whether the hub reset itself since the last call.
// A reset drops every enabled report.
func (d *Device) TakeReset() bool {
	if d.resets == 0 {
		return false
	}
	d.resets = 0
	return true
}

// Poll makes one non-blocking receive attempt. It returns the id of the
// input report processed, or 0 when nothing (or nothing decodable) was
// pending. Bus errors are returned mapped and are not retried.
func (d *Device) Poll() (ReportID, error) {
	if d.state != StateReady {
		return 0, errcode.NotReady
	}
	p, err := d.receive()
	if err != nil {
		return 0, err
	}
	if len(p.Payload) == 0 {
		return 0, nil
	}
	switch p.Channel {
	case shtp.ChannelReports:
		return d.handleReport(p.Payload)
	case shtp.ChannelExecutable:
		if p.Payload[0] == execResetComplete {
			d.resets++
			d.enabled = 0
		}
	case shtp.ChannelControl:
		d.handleControl(p.Payload)
	}
	return 0, nil
}

func (d *Device) handleReport(payload []byte) (ReportID, error) {
	if payload[0] == reportTimebase && len(payload) > timebaseLen {
		payload = payload[timebaseLen:]
	}
	id, err := DecodeReport(payload, &d.report)
	if err != nil {
		return 0, errcode.Wrap("bno08x.decode", err)
	}
	if id == 0 {
		return 0, nil
	}
	d.data.apply(&d.report, d.cfg.NowMs())
	return id, nil
}

func (d *Device) handleControl(b []byte) {
	switch b[0] {
	case rspGetFeature:
		if len(b) >= 8 && b[1] <= maxReportID {
			d.features[b[1]] = binary.LittleEndian.Uint32(b[4:])
		}
	case rspProductID:
		if pid, err := parseProductID(b); err == nil {
			d.product = pid
		}
	}
}

// ReadRotationVector polls until a rotation vector arrives (bounded).
func (d *Device) ReadRotationVector() (Quaternion, error) {
	err := d.WaitReport(ReportRotationVector, readAttempts, readDelay)
	return d.data.Rotation, err
}

// ReadAccel polls until an accelerometer report arrives (bounded).
func (d *Device) ReadAccel() (Vector, error) {
	err := d.WaitReport(ReportAccelerometer, readAttempts, readDelay)
	return d.data.Accel, err
}

// ReadGyro polls until a gyroscope report arrives (bounded).
func (d *Device) ReadGyro() (Vector, error) {
	err := d.WaitReport(ReportGyroscope, readAttempts, readDelay)
	return d.data.Gyro, err
}

// WaitReport polls up to attempts times, sleeping delay between polls,
// until a report with id is processed.
func (d *Device) WaitReport(id ReportID, attempts int, delay time.Duration) error {
	for i := 0; i < attempts; i++ {
		got, err := d.Poll()
		if err != nil {
			return err
		}
		if got == id {
			return nil
		}
		d.cfg.Sleep(delay)
	}
	return &errcode.E{C: errcode.Timeout, Op: "bno08x.wait", Msg: id.String()}
}

// send frames payload on ch and writes it in one transfer.
func (d *Device) send(ch shtp.Channel, payload []byte) error {
	n, err := shtp.Build(d.tx[:], ch, &d.seq, payload)
	if err != nil {
		return errcode.Wrap("bno08x.send", err)
	}
	if err := d.bus.Tx(d.cfg.Address, d.tx[:n], nil); err != nil {
		return transportErr("bno08x.send", err)
	}
	return nil
}

// receive reads one packet into the receive buffer. The header is read
// first; the hub repeats it at the start of the full read that follows.
// An empty Packet means nothing was pending. Oversize packets are refused
// before the receive buffer is touched.
func (d *Device) receive() (shtp.Packet, error) {
	if err := d.bus.Tx(d.cfg.Address, nil, d.hdr[:]); err != nil {
		return shtp.Packet{}, transportErr("bno08x.receive", err)
	}
	h, err := shtp.ParseHeader(d.hdr[:])
	if err != nil {
		return shtp.Packet{}, errcode.Wrap("bno08x.receive", err)
	}
	if h.Empty() || h.Length == shtp.HeaderSize {
		return shtp.Packet{Header: h}, nil
	}
	if int(h.Length) > len(d.rx) {
		return shtp.Packet{}, &errcode.E{C: errcode.BufferOverflow, Op: "bno08x.receive"}
	}
	buf := d.rx[:h.Length]
	if err := d.bus.Tx(d.cfg.Address, nil, buf); err != nil {
		return shtp.Packet{}, transportErr("bno08x.receive", err)
	}
	p, err := shtp.Parse(buf)
	if err != nil {
		return shtp.Packet{}, errcode.Wrap("bno08x.receive", err)
	}
	return p, nil
}

func transportErr(op string, err error) error {
	return &errcode.E{C: errcode.MapDriverErr(err), Op: op, Err: err}
}

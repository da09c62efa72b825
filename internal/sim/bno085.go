// Package sim provides in-memory stand-ins for the hardware the firmware
// talks to: a BNO085 on an I2C bus and a BLE peripheral stack. Both are
// used by tests and by the host simulator.
package sim

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"imuglasses/drivers/shtp"
	"imuglasses/errcode"
)

// Report ids and commands understood by the simulated hub.
const (
	idAccel    = 0x01
	idGyro     = 0x02
	idMag      = 0x03
	idLinear   = 0x04
	idRotation = 0x05
	idGravity  = 0x06
	idGameRV   = 0x08

	setFeature    = 0xFD
	getFeature    = 0xFE
	featureRsp    = 0xFC
	productIDReq  = 0xF9
	productIDRsp  = 0xF8
	execReset     = 0x01
	resetComplete = 0x01
)

// Version is what the hub reports in its product-ID response.
type Version struct {
	ResetCause uint8
	Major      uint8
	Minor      uint8
	Part       uint32
	Build      uint32
	Patch      uint16
}

// Sample is one instant of simulated motion.
type Sample struct {
	Quat   [4]float32 // i, j, k, real
	Accel  [3]float32 // m/s²
	Gyro   [3]float32 // rad/s
	Mag    [3]float32 // µT
	Status uint8      // 2-bit accuracy
}

// Motion returns the motion at t since boot.
type Motion func(t time.Duration) Sample

// Spin is a Motion rotating about Z at rate rad/s with gravity on Z.
func Spin(rate float64) Motion {
	return func(t time.Duration) Sample {
		a := rate * t.Seconds()
		s, c := math.Sincos(a / 2)
		return Sample{
			Quat:   [4]float32{0, 0, float32(s), float32(c)},
			Accel:  [3]float32{0, 0, 9.81},
			Gyro:   [3]float32{0, 0, float32(rate)},
			Mag:    [3]float32{float32(40 * math.Cos(a)), float32(-40 * math.Sin(a)), -20},
			Status: 3,
		}
	}
}

// Options configures a simulated BNO085.
type Options struct {
	Address uint16 // default 0x4A
	Version Version
	// Silent suppresses the boot advertisement; only a soft reset makes
	// the hub announce itself.
	Silent bool
	// IgnoreResets drops that many soft reset commands without answering.
	IgnoreResets int
	// Motion drives periodic reports for enabled features. Nil disables
	// automatic reports; QueueReport still works.
	Motion Motion
	// Clock returns time since boot. Default wall clock.
	Clock func() time.Duration
}

// BNO085 emulates the hub side of SHTP over I2C. It implements
// drivers.I2C and answers address probes.
//
// A read returns the head packet from its first byte; the packet is
// consumed only by a read long enough to hold all of it, so a header-only
// read followed by a full read sees the same packet twice.
type BNO085 struct {
	mu  sync.Mutex
	opt Options

	seq       shtp.Sequencer
	out       [][]byte
	writes    [][]byte
	errs      []error
	intervals [64]uint32
	last      [64]time.Duration
	resets    int
	reads     int
}

// NewBNO085 returns a powered-up hub. Unless Silent, the SHTP advertisement
// and the reset-complete notice are already queued.
func NewBNO085(opt Options) *BNO085 {
	if opt.Address == 0 {
		opt.Address = 0x4A
	}
	if opt.Clock == nil {
		start := time.Now()
		opt.Clock = func() time.Duration { return time.Since(start) }
	}
	s := &BNO085{opt: opt}
	if !opt.Silent {
		s.boot()
	}
	return s
}

func (s *BNO085) boot() {
	// Advertisement: tag 0 (guarantee) is enough for the host side.
	s.queue(shtp.ChannelCommand, []byte{0x00, 0x01, 0x04, 0x00, 0x00, 0x00, 0x00})
	s.queue(shtp.ChannelExecutable, []byte{resetComplete})
}

// Present implements the driver's address probe.
func (s *BNO085) Present(addr uint16) bool { return addr == s.opt.Address }

// Tx implements drivers.I2C.
func (s *BNO085) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if addr != s.opt.Address {
		return errcode.AddrNACK
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return err
		}
	}
	if len(w) > 0 {
		s.handleWrite(w)
	}
	if len(r) > 0 {
		s.fillRead(r)
	}
	return nil
}

// FailNext makes the next len(errs) transfers return errs in order.
// A nil entry lets that transfer through.
func (s *BNO085) FailNext(errs ...error) {
	s.mu.Lock()
	s.errs = append(s.errs, errs...)
	s.mu.Unlock()
}

// Queue appends a raw packet for ch.
func (s *BNO085) Queue(ch shtp.Channel, payload []byte) {
	s.mu.Lock()
	s.queue(ch, payload)
	s.mu.Unlock()
}

// QueueReport appends an input report: id, sequence, status, two delay
// bytes, then vals as little-endian int16.
func (s *BNO085) QueueReport(id, status uint8, vals ...int16) {
	s.mu.Lock()
	s.queueReport(id, status, vals...)
	s.mu.Unlock()
}

// Writes returns copies of every payload the host wrote, header included.
func (s *BNO085) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.writes))
	copy(out, s.writes)
	return out
}

// Interval is the report interval last configured for id (µs).
func (s *BNO085) Interval(id uint8) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intervals[id&63]
}

// Resets counts soft reset commands received.
func (s *BNO085) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Pending is the number of queued packets.
func (s *BNO085) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.out)
}

// Reads counts read transfers.
func (s *BNO085) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *BNO085) queue(ch shtp.Channel, payload []byte) {
	b := make([]byte, shtp.HeaderSize+len(payload))
	if _, err := shtp.Build(b, ch, &s.seq, payload); err != nil {
		panic("sim: " + err.Error())
	}
	s.out = append(s.out, b)
}

func (s *BNO085) queueReport(id, status uint8, vals ...int16) {
	p := make([]byte, 5+2*len(vals))
	p[0] = id
	p[1] = s.seq.Peek(shtp.ChannelReports)
	p[2] = status & 0x03
	for i, v := range vals {
		binary.LittleEndian.PutUint16(p[5+2*i:], uint16(v))
	}
	s.queue(shtp.ChannelReports, p)
}

func (s *BNO085) handleWrite(w []byte) {
	s.writes = append(s.writes, append([]byte(nil), w...))
	p, err := shtp.Parse(w)
	if err != nil || len(p.Payload) == 0 {
		return
	}
	switch p.Channel {
	case shtp.ChannelExecutable:
		if p.Payload[0] != execReset {
			return
		}
		s.resets++
		s.intervals = [64]uint32{}
		if s.opt.IgnoreResets > 0 {
			s.opt.IgnoreResets--
			return
		}
		s.out = s.out[:0]
		s.queue(shtp.ChannelExecutable, []byte{resetComplete})
	case shtp.ChannelControl:
		s.handleControl(p.Payload)
	}
}

func (s *BNO085) handleControl(b []byte) {
	switch b[0] {
	case productIDReq:
		v := s.opt.Version
		rsp := make([]byte, 14)
		rsp[0] = productIDRsp
		rsp[1] = v.ResetCause
		rsp[2] = v.Major
		rsp[3] = v.Minor
		binary.LittleEndian.PutUint32(rsp[4:], v.Part)
		binary.LittleEndian.PutUint32(rsp[8:], v.Build)
		binary.LittleEndian.PutUint16(rsp[12:], v.Patch)
		s.queue(shtp.ChannelControl, rsp)
	case setFeature:
		if len(b) < 8 {
			return
		}
		id := b[1] & 63
		s.intervals[id] = binary.LittleEndian.Uint32(b[4:])
		s.last[id] = s.opt.Clock()
	case getFeature:
		if len(b) < 2 {
			return
		}
		rsp := make([]byte, 17)
		rsp[0] = featureRsp
		rsp[1] = b[1]
		binary.LittleEndian.PutUint32(rsp[4:], s.intervals[b[1]&63])
		s.queue(shtp.ChannelControl, rsp)
	}
}

func (s *BNO085) fillRead(r []byte) {
	s.reads++
	if len(s.out) == 0 {
		s.emitDue()
	}
	if len(s.out) == 0 {
		for i := range r {
			r[i] = 0
		}
		return
	}
	p := s.out[0]
	n := copy(r, p)
	for i := n; i < len(r); i++ {
		r[i] = 0
	}
	if len(r) >= len(p) {
		s.out = s.out[1:]
	}
}

// emitDue queues one report for every enabled feature whose interval
// has elapsed.
func (s *BNO085) emitDue() {
	if s.opt.Motion == nil {
		return
	}
	now := s.opt.Clock()
	var m Sample
	have := false
	for id := range s.intervals {
		iv := s.intervals[id]
		if iv == 0 || now-s.last[id] < time.Duration(iv)*time.Microsecond {
			continue
		}
		if !have {
			m = s.opt.Motion(now)
			have = true
		}
		s.last[id] = now
		s.emit(uint8(id), m)
	}
}

func (s *BNO085) emit(id uint8, m Sample) {
	switch id {
	case idRotation:
		s.queueReport(id, m.Status,
			q(m.Quat[0], 14), q(m.Quat[1], 14), q(m.Quat[2], 14), q(m.Quat[3], 14),
			q(0.05, 12))
	case idGameRV:
		s.queueReport(id, m.Status,
			q(m.Quat[0], 14), q(m.Quat[1], 14), q(m.Quat[2], 14), q(m.Quat[3], 14))
	case idAccel, idLinear, idGravity:
		v := m.Accel
		if id == idLinear {
			v = [3]float32{}
		}
		s.queueReport(id, m.Status, q(v[0], 8), q(v[1], 8), q(v[2], 8))
	case idGyro:
		s.queueReport(id, m.Status, q(m.Gyro[0], 9), q(m.Gyro[1], 9), q(m.Gyro[2], 9))
	case idMag:
		s.queueReport(id, m.Status, q(m.Mag[0], 4), q(m.Mag[1], 4), q(m.Mag[2], 4))
	}
}

// q converts v to Q-format, saturating.
func q(v float32, point uint) int16 {
	f := math.Round(float64(v) * float64(int(1)<<point))
	return int16(math.Max(-32768, math.Min(32767, f)))
}

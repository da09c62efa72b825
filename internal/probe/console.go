// Package probe is a line-oriented console for bringing up a BNO08x by
// hand: probe the bus, run the reset handshake, enable reports and watch
// what comes back. The rp2040 probe firmware runs it over a UART and
// imu-host runs it over stdin.
package probe

import (
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"imuglasses/drivers/bno08x"
	"imuglasses/errcode"

	"github.com/google/shlex"
)

// ErrQuit ends Run.
var ErrQuit = errors.New("quit")

// LineReader yields one command line at a time.
type LineReader interface {
	ReadLine(ctx context.Context) (string, error)
}

// Device is the part of bno08x.Device the console drives.
type Device interface {
	Present() bool
	Init() error
	Reset() error
	State() bno08x.State
	ProductID() bno08x.ProductID
	EnableReport(id bno08x.ReportID, intervalUs uint32) error
	DisableReport(id bno08x.ReportID) error
	RequestFeature(id bno08x.ReportID) error
	FeatureInterval(id bno08x.ReportID) uint32
	EnabledReports() uint64
	Poll() (bno08x.ReportID, error)
	WaitReport(id bno08x.ReportID, attempts int, delay time.Duration) error
	Data() *bno08x.Data
}

var _ Device = (*bno08x.Device)(nil)

type Console struct {
	dev Device
	out io.Writer
	buf []byte

	// PollDelay spaces the polls of "poll" and "read". Default 5 ms.
	PollDelay time.Duration
}

func New(dev Device, out io.Writer) *Console {
	return &Console{dev: dev, out: out, PollDelay: 5 * time.Millisecond}
}

const help = `commands:
  probe                    address probe
  init                     reset handshake and product id
  reset                    soft reset
  enable <id> <ms>         enable report id (hex or decimal)
  disable <id>
  feature <id>             ask the hub for the configured interval
  poll [n]                 poll n times (default 10), print reports
  read rv|accel|gyro       wait for one report and print it
  status
  quit
`

// Run reads and executes lines until ctx ends, the reader fails or a
// "quit" line arrives. Command errors are printed, not returned.
func (c *Console) Run(ctx context.Context, r LineReader) error {
	c.write("> ")
	for {
		line, err := r.ReadLine(ctx)
		if err != nil {
			return err
		}
		if err := c.Exec(line); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			c.line("error: ", err.Error())
		}
		c.write("> ")
	}
}

// Exec runs one command line. Words split shell-style and "#" starts a
// comment, so scripted sessions can be annotated.
func (c *Console) Exec(line string) error {
	f, err := shlex.Split(line)
	if err != nil {
		return &errcode.E{C: errcode.InvalidParams, Op: "parse", Err: err}
	}
	if len(f) == 0 {
		return nil
	}
	switch f[0] {
	case "help", "?":
		c.write(help)
	case "quit", "exit":
		return ErrQuit
	case "probe":
		c.line("present: ", strconv.FormatBool(c.dev.Present()))
	case "init":
		if err := c.dev.Init(); err != nil {
			return err
		}
		c.product()
	case "reset":
		if err := c.dev.Reset(); err != nil {
			return err
		}
		c.line("reset ok")
	case "enable":
		if len(f) != 3 {
			return errcode.InvalidParams
		}
		id, err := reportArg(f[1])
		if err != nil {
			return err
		}
		ms, err := strconv.ParseUint(f[2], 10, 16)
		if err != nil || ms == 0 {
			return errcode.InvalidParams
		}
		return c.dev.EnableReport(id, uint32(ms)*1000)
	case "disable":
		if len(f) != 2 {
			return errcode.InvalidParams
		}
		id, err := reportArg(f[1])
		if err != nil {
			return err
		}
		return c.dev.DisableReport(id)
	case "feature":
		if len(f) != 2 {
			return errcode.InvalidParams
		}
		id, err := reportArg(f[1])
		if err != nil {
			return err
		}
		return c.feature(id)
	case "poll":
		n := 10
		if len(f) > 1 {
			v, err := strconv.Atoi(f[1])
			if err != nil || v <= 0 {
				return errcode.InvalidParams
			}
			n = v
		}
		return c.poll(n)
	case "read":
		if len(f) != 2 {
			return errcode.InvalidParams
		}
		return c.read(f[1])
	case "status":
		c.status()
	default:
		return errcode.Unsupported
	}
	return nil
}

func reportArg(s string) (bno08x.ReportID, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil || v == 0 || v > 63 {
		return 0, errcode.InvalidParams
	}
	return bno08x.ReportID(v), nil
}

func (c *Console) product() {
	p := c.dev.ProductID()
	c.line("sw ", itoa(int64(p.Major)), ".", itoa(int64(p.Minor)), ".", itoa(int64(p.Patch)),
		" part ", itoa(int64(p.Part)), " build ", itoa(int64(p.Build)))
}

func (c *Console) feature(id bno08x.ReportID) error {
	if err := c.dev.RequestFeature(id); err != nil {
		return err
	}
	for i := 0; i < 10; i++ {
		if _, err := c.dev.Poll(); err != nil {
			return err
		}
		if iv := c.dev.FeatureInterval(id); iv != 0 {
			c.line(id.String(), " interval ", itoa(int64(iv)), " us")
			return nil
		}
		time.Sleep(c.PollDelay)
	}
	c.line(id.String(), " not enabled")
	return nil
}

func (c *Console) poll(n int) error {
	got := 0
	for i := 0; i < n; i++ {
		id, err := c.dev.Poll()
		if err != nil {
			return err
		}
		if id != 0 {
			got++
			c.report(id)
		}
		time.Sleep(c.PollDelay)
	}
	c.line(itoa(int64(got)), " reports")
	return nil
}

func (c *Console) read(what string) error {
	var id bno08x.ReportID
	switch what {
	case "rv":
		id = bno08x.ReportRotationVector
	case "accel":
		id = bno08x.ReportAccelerometer
	case "gyro":
		id = bno08x.ReportGyroscope
	default:
		return errcode.InvalidParams
	}
	if err := c.dev.WaitReport(id, 50, c.PollDelay); err != nil {
		return err
	}
	c.report(id)
	return nil
}

// report prints the cached value for id.
func (c *Console) report(id bno08x.ReportID) {
	d := c.dev.Data()
	switch id {
	case bno08x.ReportRotationVector, bno08x.ReportGameRotationVector:
		q := d.Rotation
		if id == bno08x.ReportGameRotationVector {
			q = d.GameRotation
		}
		e := q.Euler().Degrees()
		c.line(id.String(), " q=", ftoa(q.I), ",", ftoa(q.J), ",", ftoa(q.K), ",", ftoa(q.Real),
			" rpy=", ftoa(e.Roll), ",", ftoa(e.Pitch), ",", ftoa(e.Yaw),
			" acc=", itoa(int64(q.Status)))
	case bno08x.ReportAccelerometer:
		c.vector(id, d.Accel)
	case bno08x.ReportGyroscope:
		c.vector(id, d.Gyro)
	case bno08x.ReportMagnetometer:
		c.vector(id, d.Mag)
	case bno08x.ReportLinearAcceleration:
		c.vector(id, d.LinearAccel)
	case bno08x.ReportGravity:
		c.vector(id, d.Gravity)
	case bno08x.ReportStepCounter:
		c.line(id.String(), " ", itoa(int64(d.Steps)))
	default:
		c.line(id.String())
	}
}

func (c *Console) vector(id bno08x.ReportID, v bno08x.Vector) {
	c.line(id.String(), " ", ftoa(v.X), ",", ftoa(v.Y), ",", ftoa(v.Z), " acc=", itoa(int64(v.Status)))
}

func (c *Console) status() {
	c.line("state ", c.dev.State().String())
	mask := c.dev.EnabledReports()
	for id := bno08x.ReportID(1); id <= 63; id++ {
		if mask&(1<<id) != 0 {
			c.line("  enabled ", id.String())
		}
	}
}

// line writes the parts and a line end. No fmt: this runs on MCUs.
func (c *Console) line(parts ...string) {
	c.buf = c.buf[:0]
	for _, p := range parts {
		c.buf = append(c.buf, p...)
	}
	c.buf = append(c.buf, '\r', '\n')
	_, _ = c.out.Write(c.buf)
}

func (c *Console) write(s string) { _, _ = io.WriteString(c.out, s) }

func itoa(v int64) string   { return strconv.FormatInt(v, 10) }
func ftoa(v float32) string { return strconv.FormatFloat(float64(v), 'f', 3, 32) }

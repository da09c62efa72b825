// Package app is the firmware main loop: it drains radio events, applies
// host requests, polls the IMU and streams fresh samples over BLE.
package app

import (
	"context"
	"errors"
	"time"

	"imuglasses/ble"
	"imuglasses/ble/adv"
	"imuglasses/ble/imusvc"
	"imuglasses/bus"
	"imuglasses/drivers/bno08x"
	"imuglasses/errcode"
	"imuglasses/types"
	"imuglasses/x/evring"
	"imuglasses/x/timex"
)

var (
	TopicState  = bus.T("app", "state")
	TopicSample = bus.T("imu", "sample")
)

// Reports enabled when the config names none.
var streamed = [...]bno08x.ReportID{
	bno08x.ReportRotationVector,
	bno08x.ReportAccelerometer,
	bno08x.ReportGyroscope,
}

// IMU is the part of bno08x.Device the loop uses.
type IMU interface {
	Init() error
	State() bno08x.State
	EnableReport(id bno08x.ReportID, intervalUs uint32) error
	Poll() (bno08x.ReportID, error)
	TakeReset() bool
	Data() *bno08x.Data
	ProductID() bno08x.ProductID
}

var _ IMU = (*bno08x.Device)(nil)

// Deps are the collaborators the loop drives.
type Deps struct {
	IMU    IMU
	Stack  ble.Stack
	Events *evring.Ring[ble.Event]
	Bus    *bus.Bus
}

// Config for the loop. Zero values take defaults.
type Config struct {
	// Reports enabled at Init and re-enabled by a rate write, at
	// IntervalUs. The first quaternion report listed feeds the quaternion
	// characteristic. Defaults to rotation vector, accelerometer and
	// gyroscope.
	Reports    []bno08x.ReportID
	IntervalUs uint32

	Service imusvc.Config
	Adv     adv.Config

	// PHY2M asks for the 2M PHY and a data length update on connect.
	PHY2M bool
	// ConnParams, when set, are proposed to a central whose link interval
	// falls outside them.
	ConnParams ble.ConnParams
	// PublishSamples publishes every fresh sample on TopicSample.
	PublishSamples bool

	NowMs func() int64
}

// Stats counts loop activity.
type Stats struct {
	Steps        uint32
	Reports      uint32
	PollErrors   uint32
	Notified     uint32
	NotifyErrors uint32
	QueueFull    uint32
	SensorResets uint32
	RateChanges  uint32
	Dropped      uint32 // radio events lost to a full ring
}

type App struct {
	imu    IMU
	stack  ble.Stack
	events *evring.Ring[ble.Event]
	conn   *bus.Connection
	sub    *bus.Subscription
	disp   *ble.Dispatcher
	svc    *imusvc.Service
	adv    *adv.Advertiser
	cfg    Config

	state    types.AppState
	lastErr  string
	sensorOK bool
	rateMs   uint16
	quatID   bno08x.ReportID
	stats    Stats
}

func New(d Deps, cfg Config) (*App, error) {
	if d.IMU == nil || d.Stack == nil || d.Events == nil || d.Bus == nil {
		return nil, errcode.InvalidParams
	}
	if len(cfg.Reports) == 0 {
		cfg.Reports = streamed[:]
	}
	if cfg.NowMs == nil {
		cfg.NowMs = timex.NowMs
	}
	a := &App{
		imu:    d.IMU,
		stack:  d.Stack,
		events: d.Events,
		conn:   d.Bus.NewConnection("app"),
		disp:   ble.NewDispatcher(d.Stack),
		cfg:    cfg,
		quatID: quaternionSource(cfg.Reports),
	}
	var err error
	if a.svc, err = imusvc.New(d.Stack, a.conn, cfg.Service); err != nil {
		return nil, err
	}
	if a.adv, err = adv.New(d.Stack, a.conn, cfg.Adv); err != nil {
		return nil, err
	}
	a.rateMs = a.svc.SampleRate()
	if cfg.IntervalUs == 0 {
		a.cfg.IntervalUs = timex.MsToUs(a.rateMs)
	}
	a.sub = a.conn.Subscribe(imusvc.TopicEvent)
	for _, o := range []ble.Observer{a.svc, a.adv, ble.ObserverFunc(a.onLink)} {
		if _, err := a.disp.Register(o); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// quaternionSource picks the report the quaternion characteristic carries.
// Rotation vector and game rotation vector use different yaw references,
// so only one of them is ever sent.
func quaternionSource(ids []bno08x.ReportID) bno08x.ReportID {
	for _, id := range ids {
		if id == bno08x.ReportRotationVector || id == bno08x.ReportGameRotationVector {
			return id
		}
	}
	return bno08x.ReportRotationVector
}

func (a *App) IMU() IMU                         { return a.imu }
func (a *App) Service() *imusvc.Service        { return a.svc }
func (a *App) Advertiser() *adv.Advertiser     { return a.adv }
func (a *App) Dispatcher() *ble.Dispatcher     { return a.disp }
func (a *App) State() types.AppState           { return a.state }
func (a *App) SensorOK() bool                  { return a.sensorOK }
func (a *App) Stats() Stats                    { return a.stats }
func (a *App) Connection() *bus.Connection     { return a.conn }
func (a *App) Events() *evring.Ring[ble.Event] { return a.events }

// Init brings up the sensor and starts advertising. A sensor failure is
// reported through the status characteristic and does not stop the radio.
// An error return is fatal: the app is left in StateFailed.
func (a *App) Init() error {
	a.setState(types.StateBooting)

	if err := a.initSensor(); err != nil {
		a.lastErr = string(errcode.Of(err))
		println("[app] sensor init failed:", err.Error())
	}
	if err := a.svc.UpdateStatus(a.statusFlags()); err != nil {
		return a.fail(err)
	}
	if err := a.adv.Start(); err != nil {
		return a.fail(err)
	}
	a.refreshState()
	return nil
}

func (a *App) initSensor() error {
	a.sensorOK = false
	if err := a.imu.Init(); err != nil {
		return err
	}
	pid := a.imu.ProductID()
	println("[app] bno08x sw", pid.Major, ".", pid.Minor, "part", pid.Part, "build", pid.Build)
	if err := a.enableReports(a.cfg.Reports, a.cfg.IntervalUs); err != nil {
		return err
	}
	a.sensorOK = true
	return nil
}

func (a *App) enableReports(ids []bno08x.ReportID, intervalUs uint32) error {
	for _, id := range ids {
		if err := a.imu.EnableReport(id, intervalUs); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) fail(err error) error {
	a.lastErr = string(errcode.Of(err))
	a.setState(types.StateFailed)
	return err
}

// Step runs one loop iteration. It never blocks.
func (a *App) Step() {
	a.stats.Steps++
	a.stats.Dropped = a.events.Dropped()
	a.disp.Drain(a.events)
	a.handleServiceEvents()
	a.syncRate()

	if a.sensorOK {
		if a.imu.TakeReset() {
			a.stats.SensorResets++
			println("[app] sensor reset, re-enabling reports")
			if err := a.enableReports(a.cfg.Reports, a.cfg.IntervalUs); err != nil {
				a.stats.PollErrors++
			}
		}
		a.pollOnce()
	}

	if flags := a.statusFlags(); flags != a.svc.Status() {
		a.notifyErr(types.CharStatus, a.svc.UpdateStatus(flags))
	}
	a.refreshState()
}

func (a *App) pollOnce() {
	id, err := a.imu.Poll()
	if err != nil {
		a.stats.PollErrors++
		return
	}
	if id == 0 {
		return
	}
	a.stats.Reports++
	data := a.imu.Data()
	switch id {
	case a.quatID:
		q := a.quaternion()
		a.notifyErr(types.CharQuaternion, a.svc.NotifyQuaternion(imusvc.Quat{I: q.I, J: q.J, K: q.K, Real: q.Real}))
	case bno08x.ReportAccelerometer:
		v := data.Accel
		a.notifyErr(types.CharAccel, a.svc.NotifyAccel(imusvc.Vector{X: v.X, Y: v.Y, Z: v.Z}))
	case bno08x.ReportGyroscope:
		v := data.Gyro
		a.notifyErr(types.CharGyro, a.svc.NotifyGyro(imusvc.Vector{X: v.X, Y: v.Y, Z: v.Z}))
	default:
		return
	}
	if a.cfg.PublishSamples {
		a.conn.Publish(a.conn.NewMessage(TopicSample, a.sample(id), false))
	}
}

func (a *App) quaternion() bno08x.Quaternion {
	if a.quatID == bno08x.ReportGameRotationVector {
		return a.imu.Data().GameRotation
	}
	return a.imu.Data().Rotation
}

func (a *App) sample(id bno08x.ReportID) types.IMUSample {
	d := a.imu.Data()
	q := a.quaternion()
	return types.IMUSample{
		Report: uint8(id),
		Quat:   [4]float32{q.I, q.J, q.K, q.Real},
		Accel:  [3]float32{d.Accel.X, d.Accel.Y, d.Accel.Z},
		Gyro:   [3]float32{d.Gyro.X, d.Gyro.Y, d.Gyro.Z},
		TS:     d.UpdatedMs,
	}
}

// notifyErr counts the outcome of a notify on c. A nil error from an
// unsubscribed characteristic sent nothing and is not counted.
func (a *App) notifyErr(c types.IMUChar, err error) {
	switch {
	case err == nil:
		if a.svc.Connected() && a.svc.NotificationsEnabled(c) {
			a.stats.Notified++
		}
	case errors.Is(err, errcode.NoResources):
		// Dropped; the next sample supersedes it.
		a.stats.QueueFull++
	default:
		a.stats.NotifyErrors++
	}
}

func (a *App) handleServiceEvents() {
	for {
		select {
		case msg := <-a.sub.Channel():
			ev, ok := msg.Payload.(types.IMUServiceEvent)
			if ok && ev.Kind == types.IMURateChanged && ev.RateMs == a.svc.SampleRate() {
				a.applyRate(ev.RateMs)
			}
		default:
			return
		}
	}
}

// syncRate applies the service's accepted rate if no bus event carried it.
// The bus drops the oldest message when a subscriber's queue is full.
func (a *App) syncRate() {
	if ms := a.svc.SampleRate(); ms != a.rateMs {
		a.applyRate(ms)
	}
}

func (a *App) applyRate(ms uint16) {
	if ms == a.rateMs {
		return
	}
	a.stats.RateChanges++
	a.rateMs = ms
	a.cfg.IntervalUs = timex.MsToUs(ms)
	if !a.sensorOK {
		return
	}
	if err := a.enableReports(a.cfg.Reports, a.cfg.IntervalUs); err != nil {
		println("[app] rate change failed:", err.Error())
		a.stats.PollErrors++
	}
}

// onLink asks for a faster link once a central connects.
func (a *App) onLink(ev *ble.Event) {
	if ev.Kind != ble.EvtConnected {
		return
	}
	if a.cfg.PHY2M {
		_ = a.stack.UpdatePHY(ev.Conn, ble.PHY2M)
		_ = a.stack.UpdateDataLength(ev.Conn)
	}
	want := a.cfg.ConnParams
	if want.MaxInterval == 0 {
		return
	}
	if iv := ev.Params.MaxInterval; iv < want.MinInterval || iv > want.MaxInterval {
		_ = a.stack.AcceptConnParams(ev.Conn, want)
	}
}

func (a *App) statusFlags() uint8 {
	var f uint8
	if a.sensorOK {
		f |= imusvc.StatusSensorOK
		if a.quaternion().Status == bno08x.AccuracyHigh {
			f |= imusvc.StatusCalibrated
		}
	} else {
		f |= imusvc.StatusError
	}
	if a.svc.Streaming() {
		f |= imusvc.StatusStreaming
	}
	return f
}

func (a *App) refreshState() {
	if a.state == types.StateFailed {
		return
	}
	switch {
	case a.svc.Connected() && a.svc.Streaming():
		a.setState(types.StateStreaming)
	case a.svc.Connected():
		a.setState(types.StateConnected)
	case a.adv.Active():
		a.setState(types.StateAdvertising)
	default:
		a.setState(types.StateIdle)
	}
}

func (a *App) setState(s types.AppState) {
	if s == a.state {
		return
	}
	a.state = s
	st := types.AppStatus{State: s, TS: a.cfg.NowMs()}
	if s == types.StateFailed {
		st.Error = a.lastErr
	}
	a.conn.Publish(a.conn.NewMessage(TopicState, st, true))
}

// PollPeriod is the wait between steps when no radio event arrives. Each
// step polls once, so every enabled report needs its own slot per sample.
func (a *App) PollPeriod() time.Duration {
	p := timex.MsToDuration(a.rateMs) / time.Duration(len(a.cfg.Reports)+1)
	if p < time.Millisecond {
		p = time.Millisecond
	}
	return p
}

// Run steps the loop until ctx ends. Between steps it waits for a radio
// event or the poll period, whichever comes first.
func (a *App) Run(ctx context.Context) error {
	period := a.PollPeriod()
	tick := time.NewTicker(period)
	defer tick.Stop()
	for {
		a.Step()
		if p := a.PollPeriod(); p != period {
			period = p
			tick.Reset(period)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.events.Readable():
		case <-tick.C:
		}
	}
}

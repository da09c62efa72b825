package hostcmd

import (
	"context"
	"encoding/binary"
	"time"

	"imuglasses/app"
	"imuglasses/ble"
	"imuglasses/ble/adv"
	"imuglasses/ble/imusvc"
	"imuglasses/bus"
	"imuglasses/drivers/bno08x"
	"imuglasses/internal/metrics"
	"imuglasses/internal/sim"
	"imuglasses/services/config"
	"imuglasses/types"

	log "github.com/sirupsen/logrus"
)

// Simulator runs the firmware loop against a simulated hub and radio and
// plays a central: connect, subscribe, optionally write a rate. Everything
// runs on the caller's goroutine.
type Simulator struct {
	opt   SimOpt
	hub   *sim.BNO085
	radio *sim.Radio
	app   *app.App
	m     *metrics.Metrics
	clock func() time.Duration

	watch  *bus.Connection
	states *bus.Subscription
	advEvs *bus.Subscription

	advStarts  int
	advAt      time.Duration
	subscribed bool
	rateSent   bool
	samples    bool

	// Received counts notifications per characteristic.
	Received [types.CharStatus + 1]int
}

// NewSimulator builds the rig from fw. clock is time since start and
// drives the hub's report schedule; nil uses the wall clock.
func NewSimulator(fw config.Firmware, opt Opt, m *metrics.Metrics, clock func() time.Duration) (*Simulator, error) {
	if clock == nil {
		start := time.Now()
		clock = func() time.Duration { return time.Since(start) }
	}
	hub := sim.NewBNO085(sim.Options{
		Address: fw.IMU.Address,
		Version: sim.Version{Major: 3, Minor: 12, Part: 10004563, Build: 498},
		Motion:  sim.Spin(opt.Sim.SpinRate),
		Clock:   clock,
	})
	radio := sim.NewRadio(64)
	radio.TxQueue = opt.Sim.TxQueue
	radio.LinkParams = ble.ConnParams{MinInterval: 24, MaxInterval: 40, Timeout: 400}

	b := bus.NewBus(16)
	imu := bno08x.New(hub, bno08x.Config{Address: fw.IMU.Address})
	cfg := app.ConfigFrom(fw)
	cfg.PublishSamples = true
	a, err := app.New(app.Deps{IMU: imu, Stack: radio, Events: radio.Events, Bus: b}, cfg)
	if err != nil {
		return nil, err
	}
	watch := b.NewConnection("host")
	return &Simulator{
		opt:     opt.Sim,
		hub:     hub,
		radio:   radio,
		app:     a,
		m:       m,
		clock:   clock,
		watch:   watch,
		states:  watch.Subscribe(app.TopicState),
		advEvs:  watch.Subscribe(adv.TopicEvent),
		samples: opt.Samples,
	}, nil
}

func (s *Simulator) App() *app.App     { return s.app }
func (s *Simulator) Radio() *sim.Radio { return s.radio }
func (s *Simulator) Hub() *sim.BNO085  { return s.hub }

// Init runs the firmware bring-up.
func (s *Simulator) Init() error {
	err := s.app.Init()
	s.logBus()
	return err
}

// Step advances the central script, the firmware loop and the radio by
// one iteration.
func (s *Simulator) Step() {
	now := s.clock()
	s.expireAdvertising(now)
	s.central(now)

	s.app.Step()

	notes := s.radio.Notifications()
	for _, n := range notes {
		s.received(n)
	}
	if len(notes) > 0 {
		s.radio.CompleteTx()
	}
	s.logBus()
	if s.m != nil {
		s.m.Update(s.app)
	}
}

// expireAdvertising ends the set once its duration has run, as the
// controller would.
func (s *Simulator) expireAdvertising(now time.Duration) {
	r := s.radio
	if r.Starts != s.advStarts {
		s.advStarts = r.Starts
		s.advAt = now
	}
	d := time.Duration(r.AdvParams.Duration) * 10 * time.Millisecond
	if r.Advertising && d > 0 && now-s.advAt >= d {
		r.ExpireAdvertising()
	}
}

func (s *Simulator) central(now time.Duration) {
	svc := s.app.Service()
	switch {
	case s.radio.ConnHandle() == ble.ConnHandleInvalid:
		s.subscribed, s.rateSent = false, false
		after := time.Duration(s.opt.ConnectAfterMs) * time.Millisecond
		if s.opt.ConnectAfterMs > 0 && now >= after && s.radio.Advertising {
			log.Infoln("central: connecting")
			s.radio.Connect(0)
			s.radio.ExchangeMTU(185)
		}
	case !svc.Connected():
		// Connect not yet processed.
	case !s.subscribed:
		for c := types.CharQuaternion; c <= types.CharStatus; c++ {
			if h := svc.Handles(c); h.CCCD != 0 {
				s.radio.Subscribe(h.CCCD, true)
			}
		}
		s.subscribed = true
		log.Infoln("central: subscribed")
	case !s.rateSent && s.opt.RateMs > 0:
		var b [imusvc.RateSize]byte
		binary.LittleEndian.PutUint16(b[:], uint16(s.opt.RateMs))
		s.radio.Write(svc.Handles(types.CharRate).Value, b[:])
		s.rateSent = true
		log.WithField("rate_ms", s.opt.RateMs).Infoln("central: rate written")
	}
}

func (s *Simulator) received(n sim.Notification) {
	svc := s.app.Service()
	for c := types.CharQuaternion; c <= types.CharStatus; c++ {
		if svc.Handles(c).Value != n.Handle {
			continue
		}
		s.Received[c]++
		if !s.samples {
			return
		}
		e := log.WithField("char", c.String())
		switch c {
		case types.CharQuaternion:
			if q, err := imusvc.ParseQuat(n.Data); err == nil {
				e.WithFields(log.Fields{"i": q.I, "j": q.J, "k": q.K, "real": q.Real}).Debugln("notify")
			}
		case types.CharAccel, types.CharGyro:
			if v, err := imusvc.ParseVector(n.Data); err == nil {
				e.WithFields(log.Fields{"x": v.X, "y": v.Y, "z": v.Z}).Debugln("notify")
			}
		case types.CharStatus:
			e.WithField("flags", n.Data).Debugln("notify")
		}
		return
	}
}

func (s *Simulator) logBus() {
	for {
		select {
		case m := <-s.states.Channel():
			st, _ := m.Payload.(types.AppStatus)
			e := log.WithField("state", st.State)
			if st.Error != "" {
				e = e.WithField("error", st.Error)
			}
			e.Infoln("app state")
		case m := <-s.advEvs.Channel():
			ev, _ := m.Payload.(types.AdvEvent)
			log.WithFields(log.Fields{"event": ev.Kind.String(), "mode": ev.Mode}).Infoln("advertising")
		default:
			return
		}
	}
}

// Run steps until ctx ends or the configured duration passes.
func (s *Simulator) Run(ctx context.Context) error {
	if s.opt.DurationMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.opt.DurationMs)*time.Millisecond)
		defer cancel()
	}
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()
	for {
		s.Step()
		select {
		case <-ctx.Done():
			s.summary()
			if s.opt.DurationMs > 0 && ctx.Err() == context.DeadlineExceeded {
				return nil
			}
			return ctx.Err()
		case <-report.C:
			s.summary()
		case <-time.After(s.app.PollPeriod()):
		}
	}
}

func (s *Simulator) summary() {
	st := s.app.Stats()
	log.WithFields(log.Fields{
		"state":      s.app.State(),
		"reports":    st.Reports,
		"notified":   st.Notified,
		"queue_full": st.QueueFull,
		"quat":       s.Received[types.CharQuaternion],
		"accel":      s.Received[types.CharAccel],
		"gyro":       s.Received[types.CharGyro],
	}).Infoln("summary")
}

package hostcmd

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"imuglasses/ble/adv"
	"imuglasses/internal/metrics"
	"imuglasses/services/config"
	"imuglasses/types"

	"github.com/prometheus/client_golang/prometheus"
)

type rig struct {
	s   *Simulator
	m   *metrics.Metrics
	now time.Duration
}

func newRig(t *testing.T, opt Opt) *rig {
	t.Helper()
	fw, err := config.Load("host-sim")
	if err != nil {
		t.Fatal(err)
	}
	r := &rig{m: metrics.New(prometheus.NewRegistry())}
	s, err := NewSimulator(fw, opt, r.m, func() time.Duration { return r.now })
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	r.s = s
	return r
}

// run advances the clock in 5 ms steps for d.
func (r *rig) run(d time.Duration) {
	for end := r.now + d; r.now < end; {
		r.now += 5 * time.Millisecond
		r.s.Step()
	}
}

func TestSimulatorStreams(t *testing.T) {
	opt := NewOpt()
	opt.Sim.ConnectAfterMs = 100
	opt.Sim.RateMs = 40
	r := newRig(t, opt)

	r.run(2 * time.Second)

	a := r.s.App()
	if a.State() != types.StateStreaming {
		t.Fatalf("state = %v", a.State())
	}
	if a.Service().SampleRate() != 40 {
		t.Fatalf("rate = %d", a.Service().SampleRate())
	}
	for _, c := range []types.IMUChar{types.CharQuaternion, types.CharAccel, types.CharGyro} {
		if r.s.Received[c] == 0 {
			t.Errorf("no %v notifications", c)
		}
	}
	if r.s.Hub().Interval(0x05) != 40_000 {
		t.Fatalf("hub rotation interval = %d", r.s.Hub().Interval(0x05))
	}

	rec := httptest.NewRecorder()
	r.m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"imu_ble_connected 1", "imu_sample_rate_ms 40", `imu_app_state{state="streaming"} 1`} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestSimulatorAdvertisingFallsBack(t *testing.T) {
	opt := NewOpt()
	opt.Sim.ConnectAfterMs = 0
	r := newRig(t, opt)

	if m := r.s.App().Advertiser().Mode(); m != adv.ModeFast {
		t.Fatalf("mode = %v", m)
	}
	// host-sim advertises fast for 5 s.
	r.run(6 * time.Second)
	if m := r.s.App().Advertiser().Mode(); m != adv.ModeSlow {
		t.Fatalf("mode after fast timeout = %v", m)
	}
	if r.s.Radio().Starts != 2 {
		t.Fatalf("starts = %d", r.s.Radio().Starts)
	}
	if got := r.s.App().State(); got != types.StateAdvertising {
		t.Fatalf("state = %v", got)
	}
}

func TestSimulatorRunStopsAfterDuration(t *testing.T) {
	opt := NewOpt()
	opt.Sim.DurationMs = 50
	fw, err := config.Load("host-sim")
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewSimulator(fw, opt, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run = %v", err)
	}
	if s.App().Stats().Steps == 0 {
		t.Fatal("no steps")
	}
}

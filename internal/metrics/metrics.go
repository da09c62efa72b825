// Package metrics exports the firmware loop's counters and the latest
// sample as Prometheus metrics for the host tools.
package metrics

import (
	"net/http"

	"imuglasses/app"
	"imuglasses/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var states = []types.AppState{
	types.StateBooting,
	types.StateAdvertising,
	types.StateIdle,
	types.StateConnected,
	types.StateStreaming,
	types.StateFailed,
}

// Metrics mirrors app.Stats into Prometheus collectors. Update is called
// from the loop goroutine only.
type Metrics struct {
	reg prometheus.Gatherer

	events     *prometheus.CounterVec
	state      *prometheus.GaugeVec
	sampleRate prometheus.Gauge
	connected  prometheus.Gauge
	quat       *prometheus.GaugeVec
	accel      *prometheus.GaugeVec
	gyro       *prometheus.GaugeVec

	last app.Stats
}

// New registers the collectors with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		reg: reg,
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imu_loop_events_total",
				Help: "Main loop events by kind.",
			},
			[]string{"event"},
		),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "imu_app_state",
			Help: "1 for the current firmware state.",
		}, []string{"state"}),
		sampleRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imu_sample_rate_ms",
			Help: "Notification period requested by the central.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imu_ble_connected",
			Help: "1 while a central is connected.",
		}),
		quat: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "imu_rotation",
			Help: "Latest rotation vector quaternion.",
		}, []string{"axis"}),
		accel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "imu_accel_mps2",
			Help: "Latest calibrated acceleration.",
		}, []string{"axis"}),
		gyro: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "imu_gyro_rps",
			Help: "Latest calibrated angular rate.",
		}, []string{"axis"}),
	}
	reg.MustRegister(m.events, m.state, m.sampleRate, m.connected, m.quat, m.accel, m.gyro)
	return m
}

// Handler serves the registry in the text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Update folds the loop's state in. Counters advance by the difference
// from the previous call.
func (m *Metrics) Update(a *app.App) {
	st := a.Stats()
	m.add("steps", st.Steps, m.last.Steps)
	m.add("reports", st.Reports, m.last.Reports)
	m.add("poll_errors", st.PollErrors, m.last.PollErrors)
	m.add("notified", st.Notified, m.last.Notified)
	m.add("notify_errors", st.NotifyErrors, m.last.NotifyErrors)
	m.add("queue_full", st.QueueFull, m.last.QueueFull)
	m.add("sensor_resets", st.SensorResets, m.last.SensorResets)
	m.add("rate_changes", st.RateChanges, m.last.RateChanges)
	m.add("ring_dropped", st.Dropped, m.last.Dropped)
	m.last = st

	cur := a.State()
	for _, s := range states {
		v := 0.0
		if s == cur {
			v = 1
		}
		m.state.WithLabelValues(string(s)).Set(v)
	}

	svc := a.Service()
	m.sampleRate.Set(float64(svc.SampleRate()))
	if svc.Connected() {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
	if !a.SensorOK() {
		return
	}
	d := a.IMU().Data()
	q := d.Rotation
	m.quat.WithLabelValues("i").Set(float64(q.I))
	m.quat.WithLabelValues("j").Set(float64(q.J))
	m.quat.WithLabelValues("k").Set(float64(q.K))
	m.quat.WithLabelValues("real").Set(float64(q.Real))
	m.accel.WithLabelValues("x").Set(float64(d.Accel.X))
	m.accel.WithLabelValues("y").Set(float64(d.Accel.Y))
	m.accel.WithLabelValues("z").Set(float64(d.Accel.Z))
	m.gyro.WithLabelValues("x").Set(float64(d.Gyro.X))
	m.gyro.WithLabelValues("y").Set(float64(d.Gyro.Y))
	m.gyro.WithLabelValues("z").Set(float64(d.Gyro.Z))
}

func (m *Metrics) add(event string, now, prev uint32) {
	if now > prev {
		m.events.WithLabelValues(event).Add(float64(now - prev))
	}
}

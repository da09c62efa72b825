// Package statusled blinks the status LED at a rate chosen by the
// application state published on the bus.
package statusled

import (
	"context"
	"time"

	"imuglasses/bus"
	"imuglasses/services/config"
	"imuglasses/types"
)

var (
	topicAppState  = bus.T("app", "state")
	topicConfigLED = config.Topic("led")
)

// LED is the pin driving the indicator. machine.Pin satisfies it.
type LED interface {
	Set(on bool)
}

type Service struct {
	led   LED
	cfg   config.LED
	state types.AppState
	on    bool
}

func New(led LED, cfg config.LED) *Service {
	return &Service{led: led, cfg: cfg, state: types.StateBooting}
}

// Period is the blink half-period for st. Streaming uses the connected rate.
func Period(cfg config.LED, st types.AppState) time.Duration {
	ms := cfg.BootMs
	switch st {
	case types.StateAdvertising:
		ms = cfg.AdvertisingMs
	case types.StateIdle:
		ms = cfg.IdleMs
	case types.StateConnected, types.StateStreaming:
		ms = cfg.ConnectedMs
	case types.StateFailed:
		ms = cfg.FailedMs
	}
	if ms == 0 {
		ms = 1000
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *Service) toggle() {
	s.on = !s.on
	s.led.Set(s.on)
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	stateSub := conn.Subscribe(topicAppState)
	defer conn.Unsubscribe(stateSub)
	cfgSub := conn.Subscribe(topicConfigLED)
	defer conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(Period(s.cfg, s.state))
	defer tick.Stop()

	// loop until context is cancelled, respond to tick, state and config changes
	for {
		select {
		case <-ctx.Done():
			s.led.Set(false)
			return
		case <-tick.C:
			s.toggle()
		case msg := <-stateSub.Channel():
			st, ok := msg.Payload.(types.AppStatus)
			if !ok || st.State == s.state {
				continue
			}
			s.state = st.State
			tick.Reset(Period(s.cfg, s.state))
			println("[led] state", string(s.state))
		case msg := <-cfgSub.Channel():
			if c, ok := msg.Payload.(config.LED); ok {
				s.cfg = c
				tick.Reset(Period(s.cfg, s.state))
			}
		}
	}
}

// Start the status LED service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}

// Fail blinks the failure pattern forever. It is the last resort when the
// bus or scheduler cannot be trusted.
func Fail(led LED, period time.Duration) {
	on := false
	for {
		on = !on
		led.Set(on)
		time.Sleep(period)
	}
}

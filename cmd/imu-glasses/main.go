//go:build tinygo && nrf

// Firmware for the LED glasses board: a BNO085 on I2C streamed over BLE.
package main

import (
	"context"
	"machine"
	"time"

	"imuglasses/app"
	"imuglasses/ble"
	"imuglasses/ble/tinygoble"
	"imuglasses/bus"
	"imuglasses/drivers/bno08x"
	"imuglasses/services/config"
	"imuglasses/services/statusled"
	"imuglasses/types"
	"imuglasses/x/evring"

	"tinygo.org/x/bluetooth"
)

const device = "led-glasses"

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("[main] boot", device)

	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})

	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, device)
	b := bus.NewBus(4)

	fw, err := config.NewConfigService().Start(ctx, b.NewConnection("config"))
	if err != nil {
		fw = config.Default()
		config.Publish(b.NewConnection("config"), fw)
	}
	if err := statusled.New(led, fw.LED).Start(ctx, b.NewConnection("led")); err != nil {
		println("[main] led:", err.Error())
	}

	i2c := machine.I2C0
	if err := i2c.Configure(machine.I2CConfig{
		Frequency: 400 * machine.KHz,
		SDA:       machine.SDA_PIN,
		SCL:       machine.SCL_PIN,
	}); err != nil {
		println("[main] i2c:", err.Error())
	}
	imu := bno08x.New(i2c, bno08x.Config{Address: fw.IMU.Address})

	events := evring.New[ble.Event](32)
	stack, err := tinygoble.New(bluetooth.DefaultAdapter, events)
	if err != nil {
		println("[main] ble:", err.Error())
		statusled.Fail(led, statusled.Period(fw.LED, types.StateFailed))
	}

	a, err := app.New(app.Deps{IMU: imu, Stack: stack, Events: events, Bus: b}, app.ConfigFrom(fw))
	if err != nil {
		println("[main] app:", err.Error())
		statusled.Fail(led, statusled.Period(fw.LED, types.StateFailed))
	}
	if err := a.Init(); err != nil {
		println("[main] init:", err.Error())
		// The LED service is already showing the failed state.
		select {}
	}
	println("[main] advertising as", fw.BLE.Name)

	go stats(a)
	_ = a.Run(ctx)
}

func stats(a *app.App) {
	tick := time.NewTicker(10 * time.Second)
	defer tick.Stop()
	for range tick.C {
		st := a.Stats()
		println("[stats] state", string(a.State()),
			"reports", st.Reports, "notified", st.Notified,
			"queue_full", st.QueueFull, "poll_err", st.PollErrors,
			"dropped", st.Dropped)
	}
}

//go:build rp2040 || rp2350

// shtp-probe is a bring-up console for a BNO08x wired to a Pico: commands
// arrive on UART0 and the hub sits on I2C0 (GP4 SDA, GP5 SCL).
package main

import (
	"context"
	"machine"
	"time"

	"imuglasses/drivers/bno08x"
	"imuglasses/internal/probe"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
)

func main() {
	time.Sleep(1500 * time.Millisecond)
	println("[probe] boot")

	u := uartx.UART0
	if err := u.Configure(uartx.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GP0,
		RX:       machine.GP1,
	}); err != nil {
		println("[probe] uart:", err.Error())
		return
	}
	if err := u.SetFormat(8, 1, uartx.ParityNone); err != nil {
		println("[probe] uart format:", err.Error())
	}

	i2c := machine.I2C0
	if err := i2c.Configure(machine.I2CConfig{
		Frequency: 400 * machine.KHz,
		SDA:       machine.GP4,
		SCL:       machine.GP5,
	}); err != nil {
		println("[probe] i2c:", err.Error())
		return
	}

	dev := bno08x.New(i2c, bno08x.Config{})
	con := probe.New(dev, u)
	_ = con.Exec("help")
	for {
		err := con.Run(context.Background(), probe.NewSerialLines(u))
		if err == nil {
			_ = con.Exec("reset")
			continue
		}
		println("[probe] console:", err.Error())
		time.Sleep(time.Second)
	}
}

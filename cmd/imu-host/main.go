// imu-host runs the IMU glasses firmware loop on a workstation, against
// simulated hardware or a BNO08x on a Linux I2C bus.
package main

import "imuglasses/internal/hostcmd"

func main() {
	hostcmd.Execute()
}

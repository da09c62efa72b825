package app

import (
	"imuglasses/ble"
	"imuglasses/ble/adv"
	"imuglasses/ble/imusvc"
	"imuglasses/drivers/bno08x"
	"imuglasses/services/config"

	"github.com/google/uuid"
)

// ConfigFrom maps a board configuration onto the loop's Config. Zero BLE
// timing fields keep the advertiser defaults.
func ConfigFrom(fw config.Firmware) Config {
	c := Config{
		IntervalUs: fw.IMU.IntervalUs,
		Service:    imusvc.Config{RateMs: fw.BLE.RateMs},
		PHY2M:      true,
		ConnParams: ble.ConnParams{
			MinInterval: fw.BLE.ConnMinInterval,
			MaxInterval: fw.BLE.ConnMaxInterval,
			Latency:     fw.BLE.ConnLatency,
			Timeout:     fw.BLE.ConnTimeout,
		},
	}
	for _, id := range fw.IMU.Reports {
		c.Reports = append(c.Reports, bno08x.ReportID(id))
	}

	a := adv.DefaultConfig(fw.BLE.Name)
	if fw.BLE.FastInterval != 0 {
		a.FastInterval = fw.BLE.FastInterval
	}
	if fw.BLE.SlowInterval != 0 {
		a.SlowInterval = fw.BLE.SlowInterval
	}
	a.FastTimeout = fw.BLE.FastTimeout
	a.SlowTimeout = fw.BLE.SlowTimeout
	a.AutoRestart = fw.BLE.AutoRestart
	if fw.BLE.TxPower != 0 {
		a.IncludeTxPower = true
		a.TxPower = fw.BLE.TxPower
	}
	// The 128-bit service UUID leaves too little room for the name, which
	// moves to the scan response.
	a.UUID128s = []uuid.UUID{imusvc.ServiceUUID}
	a.IncludeName = false
	a.NameInScanResponse = true
	c.Adv = a
	return c
}

package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device, decoded over Default()
// -----------------------------------------------------------------------------

const cfgLEDGlasses = `{
  "device": "led-glasses",
  "imu": {
    "address": 74,
    "interval_us": 5000,
    "reports": [5, 1, 2]
  },
  "ble": {
    "name": "LET-AR IMU",
    "rate_ms": 5,
    "tx_power": 4
  }
}`

const cfgHostSim = `{
  "device": "host-sim",
  "imu": {
    "interval_us": 20000,
    "reports": [5, 1, 2, 8]
  },
  "ble": {
    "name": "IMU_Glasses_Sim",
    "rate_ms": 20,
    "fast_timeout": 500
  }
}`

var embeddedConfigs = map[string][]byte{
	"led-glasses": []byte(cfgLEDGlasses),
	"host-sim":    []byte(cfgHostSim),
}

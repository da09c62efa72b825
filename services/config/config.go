package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"imuglasses/bus"
)

// -----------------------------------------------------------------------------
// String constants (live in flash, not RAM)
// -----------------------------------------------------------------------------

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = "device" // context key used for device ID
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// Topic returns the retained topic a config section is published under.
func Topic(section string) bus.Topic { return bus.T(configPrefix, section) }

// -----------------------------------------------------------------------------
// Typed configuration
// -----------------------------------------------------------------------------

// Firmware is the complete per-board configuration.
type Firmware struct {
	Device string `json:"device" yaml:"device"`
	IMU    IMU    `json:"imu" yaml:"imu"`
	BLE    BLE    `json:"ble" yaml:"ble"`
	LED    LED    `json:"led" yaml:"led"`
}

// IMU configures the sensor hub.
type IMU struct {
	Address    uint16  `json:"address" yaml:"address"`
	IntervalUs uint32  `json:"interval_us" yaml:"interval_us"`
	Reports    []uint8 `json:"reports" yaml:"reports"` // SH-2 report ids enabled at boot
}

// BLE configures the peripheral. Intervals and timeouts use stack units.
type BLE struct {
	Name         string `json:"name" yaml:"name"`
	RateMs       uint16 `json:"rate_ms" yaml:"rate_ms"`
	FastInterval uint16 `json:"fast_interval" yaml:"fast_interval"`
	SlowInterval uint16 `json:"slow_interval" yaml:"slow_interval"`
	FastTimeout  uint16 `json:"fast_timeout" yaml:"fast_timeout"`
	SlowTimeout  uint16 `json:"slow_timeout" yaml:"slow_timeout"`
	AutoRestart  bool   `json:"auto_restart" yaml:"auto_restart"`
	TxPower      int8   `json:"tx_power" yaml:"tx_power"`

	ConnMinInterval uint16 `json:"conn_min_interval" yaml:"conn_min_interval"`
	ConnMaxInterval uint16 `json:"conn_max_interval" yaml:"conn_max_interval"`
	ConnLatency     uint16 `json:"conn_latency" yaml:"conn_latency"`
	ConnTimeout     uint16 `json:"conn_timeout" yaml:"conn_timeout"`
}

// LED sets the status LED blink half-period per app state, in ms.
type LED struct {
	BootMs        uint16 `json:"boot_ms" yaml:"boot_ms"`
	AdvertisingMs uint16 `json:"advertising_ms" yaml:"advertising_ms"`
	IdleMs        uint16 `json:"idle_ms" yaml:"idle_ms"`
	ConnectedMs   uint16 `json:"connected_ms" yaml:"connected_ms"`
	FailedMs      uint16 `json:"failed_ms" yaml:"failed_ms"`
}

// Default is the configuration every board starts from.
func Default() Firmware {
	return Firmware{
		IMU: IMU{
			Address:    0x4A,
			IntervalUs: 10_000,
			Reports:    []uint8{0x05, 0x01, 0x02}, // rotation vector, accelerometer, gyroscope
		},
		BLE: BLE{
			Name:            "IMU_Glasses",
			RateMs:          10,
			FastInterval:    160,
			SlowInterval:    1600,
			FastTimeout:     3000,
			AutoRestart:     true,
			ConnMinInterval: 6,
			ConnMaxInterval: 12,
			ConnTimeout:     400,
		},
		LED: LED{BootMs: 1000, AdvertisingMs: 500, IdleMs: 1000, ConnectedMs: 200, FailedMs: 100},
	}
}

// Load decodes the embedded config for device over Default.
func Load(device string) (Firmware, error) {
	if device == "" {
		return Firmware{}, errors.New("missing device ID")
	}
	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return Firmware{}, errors.New("no embedded config for device: " + device)
	}
	return Decode(raw)
}

// Decode parses raw JSON over Default. Unknown fields are an error.
func Decode(raw []byte) (Firmware, error) {
	fw := Default()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fw); err != nil {
		return Firmware{}, err
	}
	return fw, nil
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// Publish sends each section of fw as a retained message.
func Publish(conn *bus.Connection, fw Firmware) {
	conn.Publish(conn.NewMessage(Topic("device"), fw.Device, true))
	conn.Publish(conn.NewMessage(Topic("imu"), fw.IMU, true))
	conn.Publish(conn.NewMessage(Topic("ble"), fw.BLE, true))
	conn.Publish(conn.NewMessage(Topic("led"), fw.LED, true))
}

// publishConfig loads the device config and publishes it retained.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) (Firmware, error) {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	fw, err := Load(device)
	if err != nil {
		return Firmware{}, err
	}
	Publish(conn, fw)
	return fw, nil
}

// Start loads and publishes the config synchronously, so retained sections
// are in place before other services subscribe.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) (Firmware, error) {
	fw, err := s.publishConfig(ctx, conn)
	if err != nil {
		println("[config] " + err.Error())
	}
	return fw, err
}

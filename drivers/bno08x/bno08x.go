// Package bno08x provides a driver for the CEVA/Hillcrest BNO08x sensor
// hub (BNO080, BNO085, BNO086) over I2C.
//
// The device speaks SHTP (see package shtp) and the SH-2 report set on
// top of it. Usage:
//
//	d := bno08x.New(bus, bno08x.Config{})
//	if err := d.Init(); err != nil { ... }     // reset handshake + product ID
//	d.EnableReport(bno08x.ReportRotationVector, 10_000)
//	for {
//		id, err := d.Poll()                      // non-blocking, 0 when idle
//		...
//	}
//
// NOTE: I2C.Tx MUST perform a write followed by a repeated-start read when both
// w and r are provided, without releasing the bus. The driver itself only
// issues plain writes and plain reads.
//
// The Device is not safe for concurrent use. It owns fixed transmit and
// receive buffers and never allocates after New.
package bno08x

// I2C addresses (SA0 low / high).
const (
	Address    = 0x4A
	AddressAlt = 0x4B
)

// ReportID is an SH-2 report identifier.
type ReportID uint8

// Input report ids.
const (
	ReportAccelerometer       ReportID = 0x01
	ReportGyroscope           ReportID = 0x02
	ReportMagnetometer        ReportID = 0x03
	ReportLinearAcceleration  ReportID = 0x04
	ReportRotationVector      ReportID = 0x05
	ReportGravity             ReportID = 0x06
	ReportGameRotationVector  ReportID = 0x08
	ReportGeomagneticRotation ReportID = 0x09
	ReportStepCounter         ReportID = 0x11
	ReportStabilityClassifier ReportID = 0x13
	ReportActivityClassifier  ReportID = 0x1E
	ReportARVRRotation        ReportID = 0x28
	ReportARVRGameRotation    ReportID = 0x29
)

// maxReportID bounds the enabled-report bitmask.
const maxReportID = 63

func (id ReportID) String() string {
	switch id {
	case ReportAccelerometer:
		return "accelerometer"
	case ReportGyroscope:
		return "gyroscope"
	case ReportMagnetometer:
		return "magnetometer"
	case ReportLinearAcceleration:
		return "linear-acceleration"
	case ReportRotationVector:
		return "rotation-vector"
	case ReportGravity:
		return "gravity"
	case ReportGameRotationVector:
		return "game-rotation-vector"
	case ReportGeomagneticRotation:
		return "geomagnetic-rotation-vector"
	case ReportStepCounter:
		return "step-counter"
	case ReportStabilityClassifier:
		return "stability-classifier"
	case ReportActivityClassifier:
		return "activity-classifier"
	case ReportARVRRotation:
		return "arvr-rotation-vector"
	case ReportARVRGameRotation:
		return "arvr-game-rotation-vector"
	case 0:
		return "none"
	}
	return "unknown"
}

// SH-2 control channel commands and responses.
const (
	cmdSetFeature        = 0xFD
	cmdGetFeatureRequest = 0xFE
	rspGetFeature        = 0xFC
	cmdProductIDRequest  = 0xF9
	rspProductID         = 0xF8

	// Executable channel.
	execReset         = 0x01
	execResetComplete = 0x01

	// Command channel.
	shtpAdvertisement = 0x00

	// Input report timebase record that may prefix a report batch.
	reportTimebase = 0xFB
	timebaseLen    = 5

	setFeatureLen = 17
)

// ProductID is the decoded product-ID response.
type ProductID struct {
	ResetCause uint8
	Major      uint8
	Minor      uint8
	Part       uint32
	Build      uint32
	Patch      uint16
}

// Feature is the SET_FEATURE configuration for one report.
// A zero Interval disables the report.
type Feature struct {
	IntervalUs uint32
	BatchUs    uint32
	Specific   uint32
}

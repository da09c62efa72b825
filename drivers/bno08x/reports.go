package bno08x

import (
	"encoding/binary"

	"imuglasses/errcode"
	"imuglasses/x/mathx"
)

// Accuracy is the 2-bit status carried in every input report.
type Accuracy uint8

const (
	AccuracyUnreliable Accuracy = 0
	AccuracyLow        Accuracy = 1
	AccuracyMedium     Accuracy = 2
	AccuracyHigh       Accuracy = 3
)

// Stability is the stability classifier output.
type Stability uint8

const (
	StabilityUnknown    Stability = 0
	StabilityOnTable    Stability = 1
	StabilityStationary Stability = 2
	StabilityStable     Stability = 3
	StabilityMotion     Stability = 4
)

// Q points per field.
const (
	QRotation = 14
	QAccel    = 8 // accelerometer, gravity, linear acceleration
	QGyro     = 9
	QMag      = 4
	QAccuracy = 12
)

// Report sub-header layout: id, sequence, status, delay (2), then data.
const (
	offStatus = 2
	offData   = 5
)

// Quaternion is a unit quaternion with the sensor's accuracy estimate.
type Quaternion struct {
	I, J, K, Real float32
	AccuracyRad   float32
	Status        Accuracy
}

// Vector is a three-axis sample.
type Vector struct {
	X, Y, Z float32
	Status  Accuracy
}

// Kind tags which member of Report is valid.
type Kind uint8

const (
	KindNone Kind = iota
	KindQuaternion
	KindVector
	KindSteps
	KindStability
)

// Report is one decoded input report.
type Report struct {
	ID        ReportID
	Kind      Kind
	Quat      Quaternion
	Vec       Vector
	Steps     uint32
	Stability Stability
}

type format struct {
	kind Kind
	q    uint8
	min  int
}

func formatOf(id ReportID) (format, bool) {
	switch id {
	case ReportRotationVector, ReportGeomagneticRotation, ReportGameRotationVector,
		ReportARVRRotation, ReportARVRGameRotation:
		return format{KindQuaternion, QRotation, offData + 4*2}, true
	case ReportAccelerometer, ReportLinearAcceleration, ReportGravity:
		return format{KindVector, QAccel, offData + 3*2}, true
	case ReportGyroscope:
		return format{KindVector, QGyro, offData + 3*2}, true
	case ReportMagnetometer:
		return format{KindVector, QMag, offData + 3*2}, true
	case ReportStepCounter:
		return format{KindSteps, 0, offData + 4}, true
	case ReportStabilityClassifier:
		return format{KindStability, 0, offData + 1}, true
	}
	return format{}, false
}

// hasAccuracy lists the quaternion reports that carry a heading accuracy.
func hasAccuracy(id ReportID) bool {
	return id == ReportRotationVector || id == ReportARVRRotation
}

// DecodeReport decodes one input report from payload into r.
// Unknown ids return (0, nil) and leave r untouched. A payload shorter than
// the report's minimum is errcode.InvalidData.
func DecodeReport(payload []byte, r *Report) (ReportID, error) {
	if len(payload) == 0 {
		return 0, errcode.InvalidData
	}
	id := ReportID(payload[0])
	f, ok := formatOf(id)
	if !ok {
		return 0, nil
	}
	if len(payload) < f.min {
		return 0, errcode.InvalidData
	}
	status := Accuracy(payload[offStatus] & 0x03)
	d := payload[offData:]

	*r = Report{ID: id, Kind: f.kind}
	switch f.kind {
	case KindQuaternion:
		r.Quat = Quaternion{
			I:      QToFloat(int16le(d[0:]), f.q),
			J:      QToFloat(int16le(d[2:]), f.q),
			K:      QToFloat(int16le(d[4:]), f.q),
			Real:   QToFloat(int16le(d[6:]), f.q),
			Status: status,
		}
		if hasAccuracy(id) && len(d) >= 10 {
			r.Quat.AccuracyRad = QToFloat(int16le(d[8:]), QAccuracy)
		}
	case KindVector:
		r.Vec = Vector{
			X:      QToFloat(int16le(d[0:]), f.q),
			Y:      QToFloat(int16le(d[2:]), f.q),
			Z:      QToFloat(int16le(d[4:]), f.q),
			Status: status,
		}
	case KindSteps:
		r.Steps = binary.LittleEndian.Uint32(d)
	case KindStability:
		r.Stability = Stability(d[0])
	}
	return id, nil
}

func int16le(b []byte) int16 { return int16(binary.LittleEndian.Uint16(b)) }

// QToFloat converts a Q-format fixed-point value: raw / 2^q.
// The division by a power of two is exact in float32.
func QToFloat(raw int16, q uint8) float32 {
	return float32(raw) / float32(int32(1)<<q)
}

// FloatToQ is the inverse of QToFloat, rounded to nearest and saturated
// to the int16 range.
func FloatToQ(v float32, q uint8) int16 {
	s := float64(v) * float64(int32(1)<<q)
	if s >= 0 {
		s += 0.5
	} else {
		s -= 0.5
	}
	return int16(mathx.Clamp(s, -32768, 32767))
}

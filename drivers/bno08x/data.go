package bno08x

// Data is the latest decoded value for every report type.
type Data struct {
	Rotation         Quaternion // rotation vector
	GameRotation     Quaternion
	GeoRotation      Quaternion
	ARVRRotation     Quaternion
	ARVRGameRotation Quaternion

	Accel       Vector
	Gyro        Vector
	Mag         Vector
	LinearAccel Vector
	Gravity     Vector

	Steps     uint32
	Stability Stability

	Last      ReportID // last report processed
	UpdatedMs int64    // timestamp of Last
	seen      uint64
}

// Seen reports whether at least one report of id has been decoded.
func (d *Data) Seen(id ReportID) bool {
	return id <= maxReportID && d.seen&(1<<id) != 0
}

func (d *Data) apply(r *Report, nowMs int64) {
	switch r.ID {
	case ReportRotationVector:
		d.Rotation = r.Quat
	case ReportGameRotationVector:
		d.GameRotation = r.Quat
	case ReportGeomagneticRotation:
		d.GeoRotation = r.Quat
	case ReportARVRRotation:
		d.ARVRRotation = r.Quat
	case ReportARVRGameRotation:
		d.ARVRGameRotation = r.Quat
	case ReportAccelerometer:
		d.Accel = r.Vec
	case ReportGyroscope:
		d.Gyro = r.Vec
	case ReportMagnetometer:
		d.Mag = r.Vec
	case ReportLinearAcceleration:
		d.LinearAccel = r.Vec
	case ReportGravity:
		d.Gravity = r.Vec
	case ReportStepCounter:
		d.Steps = r.Steps
	case ReportStabilityClassifier:
		d.Stability = r.Stability
	default:
		return
	}
	d.Last = r.ID
	d.UpdatedMs = nowMs
	d.seen |= 1 << r.ID
}

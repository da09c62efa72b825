package bno08x

import (
	"math"

	"imuglasses/x/mathx"
)

// Euler angles in radians (aerospace sequence: yaw about Z, pitch about Y,
// roll about X).
type Euler struct {
	Roll, Pitch, Yaw float32
}

// Euler converts q to roll/pitch/yaw. Pitch saturates at ±pi/2.
func (q Quaternion) Euler() Euler {
	i, j, k, r := float64(q.I), float64(q.J), float64(q.K), float64(q.Real)
	sinp := mathx.Clamp(2*(r*j-k*i), -1, 1)
	return Euler{
		Roll:  float32(math.Atan2(2*(r*i+j*k), 1-2*(i*i+j*j))),
		Pitch: float32(math.Asin(sinp)),
		Yaw:   float32(math.Atan2(2*(r*k+i*j), 1-2*(j*j+k*k))),
	}
}

// Degrees returns e converted to degrees.
func (e Euler) Degrees() Euler {
	const d = 180 / math.Pi
	return Euler{Roll: e.Roll * d, Pitch: e.Pitch * d, Yaw: e.Yaw * d}
}

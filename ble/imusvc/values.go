package imusvc

import (
	"encoding/binary"
	"math"

	"imuglasses/errcode"
)

// Characteristic value sizes.
const (
	QuatSize   = 16 // 4x float32: i, j, k, real
	VectorSize = 12 // 3x float32: x, y, z
	RateSize   = 2  // uint16 ms
	StatusSize = 1
)

// Quat is the quaternion characteristic value.
type Quat struct {
	I, J, K, Real float32
}

// Vector is the accelerometer (m/s²) and gyroscope (rad/s) value.
type Vector struct {
	X, Y, Z float32
}

// Put writes q to b, which must hold QuatSize bytes.
func (q Quat) Put(b []byte) {
	_ = b[QuatSize-1]
	putF32(b[0:], q.I)
	putF32(b[4:], q.J)
	putF32(b[8:], q.K)
	putF32(b[12:], q.Real)
}

// Put writes v to b, which must hold VectorSize bytes.
func (v Vector) Put(b []byte) {
	_ = b[VectorSize-1]
	putF32(b[0:], v.X)
	putF32(b[4:], v.Y)
	putF32(b[8:], v.Z)
}

// ParseQuat decodes a quaternion notification.
func ParseQuat(b []byte) (Quat, error) {
	if len(b) < QuatSize {
		return Quat{}, errcode.InvalidLength
	}
	return Quat{I: f32(b[0:]), J: f32(b[4:]), K: f32(b[8:]), Real: f32(b[12:])}, nil
}

// ParseVector decodes an accelerometer or gyroscope notification.
func ParseVector(b []byte) (Vector, error) {
	if len(b) < VectorSize {
		return Vector{}, errcode.InvalidLength
	}
	return Vector{X: f32(b[0:]), Y: f32(b[4:]), Z: f32(b[8:])}, nil
}

// PutRate encodes a sample rate write.
func PutRate(b []byte, ms uint16) { binary.LittleEndian.PutUint16(b, ms) }

func putF32(b []byte, f float32) { binary.LittleEndian.PutUint32(b, math.Float32bits(f)) }
func f32(b []byte) float32       { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }

// Package spatial defines the rigid transform math used by the servoing engine.
package spatial

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/dualquat"
	"gonum.org/v1/gonum/num/quat"
)

// Transform is a rigid transformation in 3D, represented as a unit dual quaternion.
// The zero value is deliberately not a valid transform; it is used as the
// "uninitialized" sentinel by transform caches. Use NewTransform to get an identity.
type Transform struct {
	Quat dualquat.Number
}

// NewTransform returns an identity transform.
func NewTransform() *Transform {
	return &Transform{dualquat.Number{
		Real: quat.Number{Real: 1},
		Dual: quat.Number{},
	}}
}

// NewTransformFromRotation returns a transform whose rotation is set from the
// provided R3 axis angle and whose translation is zero.
func NewTransformFromRotation(x, y, z float64) *Transform {
	return &Transform{dualquat.Number{
		Real: AxisAngleToQuat(x, y, z),
		Dual: quat.Number{},
	}}
}

// Clone returns a copy of the transform.
func (m *Transform) Clone() *Transform {
	// dualquats are primitives all the way down, no deep copy needed
	return &Transform{m.Quat}
}

// IsZero reports whether the transform is the all-zero sentinel, i.e. was never set.
func (m *Transform) IsZero() bool {
	return m.Quat.Real == quat.Number{} && m.Quat.Dual == quat.Number{}
}

// Rotation returns the rotation quaternion.
func (m *Transform) Rotation() quat.Number {
	return m.Quat.Real
}

// SetTranslation correctly sets the translation quaternion against the rotation.
func (m *Transform) SetTranslation(x, y, z float64) {
	m.Quat.Dual = quat.Mul(quat.Number{Real: 0, Imag: x / 2, Jmag: y / 2, Kmag: z / 2}, m.Quat.Real)
}

// Translation returns the translation component as an R3 vector.
func (m *Transform) Translation() r3.Vector {
	t := dualquat.Mul(m.Quat, dualquat.Conj(m.Quat))
	return r3.Vector{X: t.Dual.Imag, Y: t.Dual.Jmag, Z: t.Dual.Kmag}
}

// Compose returns the transform equivalent to applying "by" first, then m.
func (m *Transform) Compose(by *Transform) *Transform {
	q := dualquat.Mul(m.Quat, by.Quat)
	// guard against drift away from a unit quaternion over long compose chains
	if vecLen := quat.Abs(q.Real); vecLen != 1 {
		q.Real = quat.Scale(1/vecLen, q.Real)
	}
	return &Transform{q}
}

// Invert returns the inverse transform. For a unit dual quaternion this is the
// quaternion conjugate of both parts.
func (m *Transform) Invert() *Transform {
	return &Transform{dualquat.Number{
		Real: quat.Conj(m.Quat.Real),
		Dual: quat.Conj(m.Quat.Dual),
	}}
}

// RotateVector applies only the rotation component of the transform to the
// given vector. A pure twist rotates; it never translates.
func (m *Transform) RotateVector(v r3.Vector) r3.Vector {
	r := m.Quat.Real
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	rotated := quat.Mul(quat.Mul(r, p), quat.Conj(r))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}

// AxisAngleToQuat converts an R3 axis angle to a quat.
func AxisAngleToQuat(x, y, z float64) quat.Number {
	angle := math.Sqrt(x*x + y*y + z*z)
	if angle < 1e-6 {
		// zero angle is the identity quaternion
		return quat.Number{Real: 1}
	}
	sinA := math.Sin(angle / 2)
	return quat.Number{
		Real: math.Cos(angle / 2),
		Imag: (x / angle) * sinA,
		Jmag: (y / angle) * sinA,
		Kmag: (z / angle) * sinA,
	}
}

// QuatToAxisAngle converts a quat to an R3 axis angle in the same way the C++
// Eigen library does.
func QuatToAxisAngle(q quat.Number) []float64 {
	denom := math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)

	angle := 2 * math.Atan2(denom, math.Abs(q.Real))
	if q.Real < 0 {
		angle *= -1
	}

	if denom < 1e-6 {
		return []float64{angle, 0, 0}
	}
	return []float64{angle * q.Imag / denom, angle * q.Jmag / denom, angle * q.Kmag / denom}
}

// Package spatialmath provides the rigid-body math used by the pose
// fusion pipeline: unit-quaternion rotations paired with 3D translations.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

const degToRad = math.Pi / 180

// Transform represents a rigid-body pose: a rotation about the origin
// followed by a translation. The rotation component is kept unit-norm.
type Transform struct {
	rotation    quat.Number
	translation r3.Vector
}

// NewZeroTransform returns the identity transform: no rotation, no
// translation. Since a valid rotation quaternion must be unit-norm, not
// all zeroes, this should be used instead of Transform{}.
func NewZeroTransform() Transform {
	return Transform{rotation: quat.Number{Real: 1}}
}

// NewTransform returns a transform with the given rotation and
// translation. The rotation is normalized on construction.
func NewTransform(rotation quat.Number, translation r3.Vector) Transform {
	return Transform{rotation: Normalize(rotation), translation: translation}
}

// NewTransformFromYPRDegrees builds a transform from yaw, pitch and roll
// given in degrees, applied as intrinsic Z-Y-X rotations.
func NewTransformFromYPRDegrees(yaw, pitch, roll float64, translation r3.Vector) Transform {
	return NewTransform(yprDegreesToQuat(yaw, pitch, roll), translation)
}

func yprDegreesToQuat(yaw, pitch, roll float64) quat.Number {
	cy := math.Cos(yaw * degToRad / 2)
	sy := math.Sin(yaw * degToRad / 2)
	cp := math.Cos(pitch * degToRad / 2)
	sp := math.Sin(pitch * degToRad / 2)
	cr := math.Cos(roll * degToRad / 2)
	sr := math.Sin(roll * degToRad / 2)

	return quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
}

// Rotation returns the rotation quaternion.
func (t Transform) Rotation() quat.Number {
	return t.rotation
}

// Translation returns the translation vector.
func (t Transform) Translation() r3.Vector {
	return t.translation
}

// Compose returns the transform equivalent to applying t and then other
// within t's frame. Used to fold a static calibration transform into a
// raw sensor or marker observation.
func (t Transform) Compose(other Transform) Transform {
	return Transform{
		rotation:    Normalize(quat.Mul(t.rotation, other.rotation)),
		translation: t.translation.Add(t.RotateVector(other.translation)),
	}
}

// RotateVector applies t's rotation to v.
func (t Transform) RotateVector(v r3.Vector) r3.Vector {
	qv := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	rotated := quat.Mul(quat.Mul(t.rotation, qv), quat.Conj(t.rotation))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}

// AlmostEqual reports whether two transforms represent approximately the
// same pose within tol.
func (t Transform) AlmostEqual(other Transform, tol float64) bool {
	return QuaternionAlmostEqual(t.rotation, other.rotation, tol) &&
		t.translation.Sub(other.translation).Norm() <= tol
}

// Normalize scales q to unit norm. A zero-length quaternion normalizes to
// the identity rotation rather than producing NaNs.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// QuaternionAlmostEqual reports whether a and b represent approximately
// the same rotation. Since q and -q describe the same rotation, the
// comparison is insensitive to sign.
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	dot := a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
	if dot < 0 {
		b = quat.Scale(-1, b)
	}
	diff := quat.Sub(a, b)
	return quat.Abs(diff) <= tol
}

// Package so3 holds the rotation-group primitives shared by the
// pre-integrator and the pose optimizer.
package so3

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// smallAngle is the threshold under which the Jacobians switch to their
// Taylor expansions.
const smallAngle = 1e-4

// ExpQuat maps an axis-angle vector to a unit quaternion.
func ExpQuat(v r3.Vec) quat.Number {
	return quat.Exp(quat.Number{Imag: 0.5 * v.X, Jmag: 0.5 * v.Y, Kmag: 0.5 * v.Z})
}

// LogQuat maps a unit quaternion to its axis-angle vector with angle in [0, pi].
func LogQuat(q quat.Number) r3.Vec {
	q = Normalize(q)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	l := quat.Log(q)
	return r3.Vec{X: 2 * l.Imag, Y: 2 * l.Jmag, Z: 2 * l.Kmag}
}

// Normalize scales q to unit length.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// Exp maps an axis-angle vector to a rotation matrix.
func Exp(v r3.Vec) Mat3 {
	return FromQuat(ExpQuat(v))
}

// Log maps a rotation matrix to its axis-angle vector.
func Log(r Mat3) r3.Vec {
	return LogQuat(ToQuat(r))
}

// FromQuat converts a quaternion (normalized first) to a rotation matrix.
func FromQuat(q quat.Number) Mat3 {
	q = Normalize(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return Mat3{
		{1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y)},
		{2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x)},
		{2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y)},
	}
}

// ToQuat converts a rotation matrix to a unit quaternion with non-negative
// real part.
func ToQuat(r Mat3) quat.Number {
	var q quat.Number
	tr := r.Trace()
	switch {
	case tr > 0:
		s := 2 * math.Sqrt(tr+1)
		q = quat.Number{Real: 0.25 * s, Imag: (r[2][1] - r[1][2]) / s, Jmag: (r[0][2] - r[2][0]) / s, Kmag: (r[1][0] - r[0][1]) / s}
	case r[0][0] > r[1][1] && r[0][0] > r[2][2]:
		s := 2 * math.Sqrt(1+r[0][0]-r[1][1]-r[2][2])
		q = quat.Number{Real: (r[2][1] - r[1][2]) / s, Imag: 0.25 * s, Jmag: (r[0][1] + r[1][0]) / s, Kmag: (r[0][2] + r[2][0]) / s}
	case r[1][1] > r[2][2]:
		s := 2 * math.Sqrt(1+r[1][1]-r[0][0]-r[2][2])
		q = quat.Number{Real: (r[0][2] - r[2][0]) / s, Imag: (r[0][1] + r[1][0]) / s, Jmag: 0.25 * s, Kmag: (r[1][2] + r[2][1]) / s}
	default:
		s := 2 * math.Sqrt(1+r[2][2]-r[0][0]-r[1][1])
		q = quat.Number{Real: (r[1][0] - r[0][1]) / s, Imag: (r[0][2] + r[2][0]) / s, Jmag: (r[1][2] + r[2][1]) / s, Kmag: 0.25 * s}
	}
	q = Normalize(q)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q
}

// RightJacobian is the right Jacobian of Exp at v:
//
//	Jr(v) = I - (1-cos t)/t^2 [v]x + (t-sin t)/t^3 [v]x^2
func RightJacobian(v r3.Vec) Mat3 {
	t := r3.Norm(v)
	var a, b float64
	if t < smallAngle {
		t2 := t * t
		a = 0.5 - t2/24
		b = 1.0/6 - t2/120
	} else {
		a = (1 - math.Cos(t)) / (t * t)
		b = (t - math.Sin(t)) / (t * t * t)
	}
	k := Skew(v)
	return Identity().Sub(k.Scale(a)).Add(k.Mul(k).Scale(b))
}

// RightJacobianInv is the inverse of RightJacobian.
func RightJacobianInv(v r3.Vec) Mat3 {
	t := r3.Norm(v)
	var c float64
	if t < smallAngle {
		c = 1.0/12 + t*t/720
	} else {
		c = 1/(t*t) - (1+math.Cos(t))/(2*t*math.Sin(t))
	}
	k := Skew(v)
	return Identity().Add(k.Scale(0.5)).Add(k.Mul(k).Scale(c))
}

// IsRotation reports whether r is orthonormal with determinant +1 within tol.
func IsRotation(r Mat3, tol float64) bool {
	if math.Abs(r.Det()-1) > tol {
		return false
	}
	return r.T().Mul(r).Sub(Identity()).Norm() <= tol
}

// Orthonormalize projects a drifting matrix back onto SO(3).
func Orthonormalize(r Mat3) Mat3 {
	return FromQuat(ToQuat(r))
}

// Angle is the geodesic distance between two rotations.
func Angle(a, b Mat3) float64 {
	return r3.Norm(Log(a.T().Mul(b)))
}

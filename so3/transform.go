package so3

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is a rigid transform taking points from frame A to frame B,
// p_B = R*p_A + T. Names follow T_B_A.
type Transform struct {
	R Mat3
	T r3.Vec
}

// IdentityTransform returns the identity transform.
func IdentityTransform() Transform {
	return Transform{R: Identity()}
}

// Apply maps p from the source frame into the target frame.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(t.R.MulVec(p), t.T)
}

// Compose returns t*o, which applies o first.
func (t Transform) Compose(o Transform) Transform {
	return Transform{
		R: t.R.Mul(o.R),
		T: r3.Add(t.R.MulVec(o.T), t.T),
	}
}

// Inverse returns the transform mapping back to the source frame.
func (t Transform) Inverse() Transform {
	rt := t.R.T()
	return Transform{R: rt, T: r3.Scale(-1, rt.MulVec(t.T))}
}

// ExpTransform builds a transform from a tangent vector (rho, omega), with
// rho the translation and omega the axis-angle rotation. Translation and
// rotation are decoupled.
func ExpTransform(tau [6]float64) Transform {
	return Transform{
		R: Exp(r3.Vec{X: tau[3], Y: tau[4], Z: tau[5]}),
		T: r3.Vec{X: tau[0], Y: tau[1], Z: tau[2]},
	}
}

// Log is the inverse of ExpTransform.
func (t Transform) Log() [6]float64 {
	w := Log(t.R)
	return [6]float64{t.T.X, t.T.Y, t.T.Z, w.X, w.Y, w.Z}
}

// Retract applies a right perturbation: t * ExpTransform(delta).
func (t Transform) Retract(delta [6]float64) Transform {
	return t.Compose(ExpTransform(delta))
}

// RandomDirection samples a unit vector uniformly on the sphere.
func RandomDirection(rng *rand.Rand) r3.Vec {
	z := 2*rng.Float64() - 1
	phi := 2 * math.Pi * rng.Float64()
	s := math.Sqrt(1 - z*z)
	return r3.Vec{X: s * math.Cos(phi), Y: s * math.Sin(phi), Z: z}
}

// RandomTransform samples a rotation of uniform axis and angle in [0, pi)
// and a translation in the unit cube.
func RandomTransform(rng *rand.Rand) Transform {
	axis := RandomDirection(rng)
	angle := math.Pi * rng.Float64()
	return Transform{
		R: Exp(r3.Scale(angle, axis)),
		T: r3.Vec{X: 2*rng.Float64() - 1, Y: 2*rng.Float64() - 1, Z: 2*rng.Float64() - 1},
	}
}

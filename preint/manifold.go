package preint

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"vio-engine-go/so3"
)

// Manifold chains rotation matrices, DR <- DR * Exp(w*dt).
type Manifold struct {
	base
	r so3.Mat3
}

// NewManifold builds a manifold pre-integrator. ref, when non-nil, is the
// noise-free D_R_i_k sequence of a run with the same discretization; it is
// only read.
func NewManifold(noise so3.Mat3, ref []so3.Mat3) *Manifold {
	return &Manifold{base: base{noise: noise, ref: ref}, r: so3.Identity()}
}

func (m *Manifold) Kind() Kind { return KindManifold }

func (m *Manifold) PushInterval(stamps []float64, gyro []r3.Vec) error {
	n, err := m.check(stamps, gyro)
	if err != nil {
		return err
	}

	start := m.state.Len()
	dr, r := so3.Identity(), m.r
	var cov so3.Mat3
	rows := make([]Step, 0, n)
	for i := 0; i < n; i++ {
		dt := stamps[i+1] - stamps[i]
		phi := r3.Scale(dt, gyro[i])
		inc := so3.Exp(phi)

		dr = dr.Mul(inc)
		r = r.Mul(inc)
		cov = m.propagate(cov, m.transport(start+i, start, inc), phi, dt)
		rows = append(rows, Step{Time: stamps[i+1], DeltaR: dr, R: r, Cov: cov})
	}

	m.r = r
	m.state.append(rows)
	return nil
}

// Quaternion chains unit quaternions and renormalizes after every step. The
// covariance recursion is the same as Manifold's.
type Quaternion struct {
	base
	q quat.Number
}

func NewQuaternion(noise so3.Mat3, ref []so3.Mat3) *Quaternion {
	return &Quaternion{base: base{noise: noise, ref: ref}, q: quat.Number{Real: 1}}
}

func (p *Quaternion) Kind() Kind { return KindQuaternion }

func (p *Quaternion) PushInterval(stamps []float64, gyro []r3.Vec) error {
	n, err := p.check(stamps, gyro)
	if err != nil {
		return err
	}

	start := p.state.Len()
	dq, q := quat.Number{Real: 1}, p.q
	var cov so3.Mat3
	rows := make([]Step, 0, n)
	for i := 0; i < n; i++ {
		dt := stamps[i+1] - stamps[i]
		phi := r3.Scale(dt, gyro[i])
		inc := so3.ExpQuat(phi)

		dq = so3.Normalize(quat.Mul(dq, inc))
		q = so3.Normalize(quat.Mul(q, inc))
		cov = p.propagate(cov, p.transport(start+i, start, so3.FromQuat(inc)), phi, dt)
		rows = append(rows, Step{Time: stamps[i+1], DeltaR: so3.FromQuat(dq), R: so3.FromQuat(q), Cov: cov})
	}

	p.q = q
	p.state.append(rows)
	return nil
}

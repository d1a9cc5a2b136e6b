// Package preint accumulates angular-rate measurements into relative
// rotations and propagates their tangent-space covariance, keyed to a fine
// (sample-to-sample) and a coarse (keyframe-to-keyframe) time scale.
package preint

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"vio-engine-go/so3"
)

var (
	ErrEmptyInterval     = errors.New("preint: interval has no measurements")
	ErrLengthMismatch    = errors.New("preint: stamps and measurements not aligned")
	ErrNonIncreasingTime = errors.New("preint: timestamps not strictly increasing")
	ErrReferenceMismatch = errors.New("preint: reference sequence does not cover step")
	ErrUnknownKind       = errors.New("preint: unknown pre-integrator kind")
	ErrBadNoise          = errors.New("preint: noise covariance must be symmetric with non-negative diagonal")
)

// Kind selects the pre-integration variant.
type Kind int

const (
	KindManifold Kind = iota
	KindQuaternion
)

func (k Kind) String() string {
	switch k {
	case KindManifold:
		return "manifold"
	case KindQuaternion:
		return "quaternion"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "manifold":
		return KindManifold, nil
	case "quaternion", "quat":
		return KindQuaternion, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// PreIntegrator consumes keyframe intervals of gyro measurements.
type PreIntegrator interface {
	// PushInterval integrates one keyframe interval. stamps has one more
	// entry than gyro; a trailing measurement aligned with the last stamp is
	// accepted and ignored. On error the state is left unchanged.
	PushInterval(stamps []float64, gyro []r3.Vec) error
	State() *State
	Kind() Kind
}

// Step is one row of the pre-integration table.
type Step struct {
	Time   float64
	DeltaR so3.Mat3 // D_R_i_k, relative to the last keyframe
	R      so3.Mat3 // R_i_k, relative to the start of the run
	Cov    so3.Mat3 // covariance of the tangent error of DeltaR
}

// State stores the fine and keyframe-sampled rows. Rows are appended whole,
// so the per-column views always have equal length.
type State struct {
	steps     []Step
	keyframes []Step
}

func (s *State) append(rows []Step) {
	s.steps = append(s.steps, rows...)
	s.keyframes = append(s.keyframes, rows[len(rows)-1])
}

// Len is the number of integration steps.
func (s *State) Len() int { return len(s.steps) }

// NumKeyframes is the number of completed keyframe intervals.
func (s *State) NumKeyframes() int { return len(s.keyframes) }

func (s *State) Steps() []Step     { return s.steps }
func (s *State) Keyframes() []Step { return s.keyframes }

func column(rows []Step, f func(Step) so3.Mat3) []so3.Mat3 {
	out := make([]so3.Mat3, len(rows))
	for i, r := range rows {
		out[i] = f(r)
	}
	return out
}

func timesOf(rows []Step) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Time
	}
	return out
}

func (s *State) DRik() []so3.Mat3 { return column(s.steps, func(r Step) so3.Mat3 { return r.DeltaR }) }
func (s *State) Rik() []so3.Mat3  { return column(s.steps, func(r Step) so3.Mat3 { return r.R }) }
func (s *State) CovIK() []so3.Mat3 {
	return column(s.steps, func(r Step) so3.Mat3 { return r.Cov })
}
func (s *State) TimesRaw() []float64 { return timesOf(s.steps) }

func (s *State) DRij() []so3.Mat3 { return column(s.keyframes, func(r Step) so3.Mat3 { return r.DeltaR }) }
func (s *State) Rij() []so3.Mat3  { return column(s.keyframes, func(r Step) so3.Mat3 { return r.R }) }
func (s *State) CovIJ() []so3.Mat3 {
	return column(s.keyframes, func(r Step) so3.Mat3 { return r.Cov })
}
func (s *State) Times() []float64 { return timesOf(s.keyframes) }

// base carries what both variants share: noise, the borrowed reference
// sequence and the covariance recursion.
type base struct {
	noise so3.Mat3
	ref   []so3.Mat3 // read only, index-aligned with state.steps
	state State
}

func (b *base) State() *State { return &b.state }

// check validates an interval before anything is appended and returns the
// number of integration steps it contains.
func (b *base) check(ts []float64, gyro []r3.Vec) (int, error) {
	if len(ts) < 2 {
		return 0, ErrEmptyInterval
	}
	n := len(ts) - 1
	if len(gyro) != n && len(gyro) != n+1 {
		return 0, fmt.Errorf("%w: %d stamps, %d measurements", ErrLengthMismatch, len(ts), len(gyro))
	}
	if k := len(b.state.steps); k > 0 && ts[0] < b.state.steps[k-1].Time {
		return 0, fmt.Errorf("%w: interval starts at %.9f before last step %.9f",
			ErrNonIncreasingTime, ts[0], b.state.steps[k-1].Time)
	}
	for i := 0; i < n; i++ {
		if ts[i+1] <= ts[i] {
			return 0, fmt.Errorf("%w: stamps[%d]=%.9f, stamps[%d]=%.9f", ErrNonIncreasingTime, i, ts[i], i+1, ts[i+1])
		}
	}
	if b.ref != nil && len(b.ref) < len(b.state.steps)+n {
		return 0, fmt.Errorf("%w: need %d entries, have %d", ErrReferenceMismatch, len(b.state.steps)+n, len(b.ref))
	}
	return n, nil
}

// transport returns the increment used to carry the prior covariance into
// step idx. Without a reference this is the measured increment.
func (b *base) transport(idx, batchStart int, inc so3.Mat3) so3.Mat3 {
	if b.ref == nil {
		return inc
	}
	if idx == batchStart {
		return b.ref[idx]
	}
	return b.ref[idx-1].T().Mul(b.ref[idx])
}

// propagate applies Cov' = dR^T Cov dR + Jr (Qc/dt) Jr^T dt^2.
func (b *base) propagate(cov, dR so3.Mat3, phi r3.Vec, dt float64) so3.Mat3 {
	jr := so3.RightJacobian(phi)
	qd := b.noise.Scale(1 / dt)
	return dR.T().Mul(cov).Mul(dR).Add(jr.Mul(qd).Mul(jr.T()).Scale(dt * dt))
}

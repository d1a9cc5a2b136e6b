// Package poseopt refines a rigid body pose T_B_W from bearing/landmark
// correspondences observed by one or more sensors rigidly mounted on the
// body, with optional position and rotation priors.
package poseopt

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"vio-engine-go/camera"
	"vio-engine-go/monitoring"
	"vio-engine-go/so3"
)

var (
	ErrBadFrame        = errors.New("poseopt: invalid frame data")
	ErrBadWeight       = errors.New("poseopt: prior weights must be finite and non-negative")
	ErrUnderdetermined = errors.New("poseopt: fewer than 6 constraints")
	ErrSingular        = errors.New("poseopt: normal equations stayed singular under damping")
	ErrNotConverged    = errors.New("poseopt: did not converge")
)

// dof is the size of the pose tangent space, (rho, omega).
const dof = 6

// Options control the iteration.
type Options struct {
	MaxIterations int
	// StepTolerance stops the iteration once |delta| falls below it.
	StepTolerance float64
	// InitialDamping is the first Levenberg-Marquardt lambda used after a
	// rejected Gauss-Newton step.
	InitialDamping float64
	// MaxDampingAttempts bounds the retries within one iteration.
	MaxDampingAttempts int
	// MaxCondition rejects factorizations whose condition number exceeds it.
	MaxCondition float64
	Loss         Loss
	// MinScale floors the robust residual scale.
	MinScale float64
	// Model maps sensor-frame points to bearings. Defaults to the unit
	// sphere.
	Model camera.BearingModel
}

// DefaultOptions returns the settings used when Optimizer is built with a
// zero Options.
func DefaultOptions() Options {
	return Options{
		MaxIterations:      50,
		StepTolerance:      1e-10,
		InitialDamping:     1e-4,
		MaxDampingAttempts: 12,
		MaxCondition:       1e14,
		MinScale:           1e-6,
		Model:              camera.UnitSphere{},
	}
}

// Optimizer holds one optimization problem. It is not safe for concurrent
// use.
type Optimizer struct {
	frames    []FrameData
	prior     so3.Transform
	wPos      float64
	wRot      float64
	opts      Options
	nBearings int
}

// New builds an optimizer. prior is a T_B_W pose; the position prior acts on
// the body position in the world frame, the rotation prior on R_B_W.
func New(frames []FrameData, prior so3.Transform, posWeight, rotWeight float64, opts Options) (*Optimizer, error) {
	for _, w := range []float64{posWeight, rotWeight} {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: %g", ErrBadWeight, w)
		}
	}
	def := DefaultOptions()
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.StepTolerance <= 0 {
		opts.StepTolerance = def.StepTolerance
	}
	if opts.InitialDamping <= 0 {
		opts.InitialDamping = def.InitialDamping
	}
	if opts.MaxDampingAttempts <= 0 {
		opts.MaxDampingAttempts = def.MaxDampingAttempts
	}
	if opts.MaxCondition <= 0 {
		opts.MaxCondition = def.MaxCondition
	}
	if opts.MinScale <= 0 {
		opts.MinScale = def.MinScale
	}
	if opts.Model == nil {
		opts.Model = def.Model
	}
	n := 0
	for _, f := range frames {
		n += f.Len()
	}
	return &Optimizer{frames: frames, prior: prior, wPos: posWeight, wRot: rotWeight, opts: opts, nBearings: n}, nil
}

// Result is the outcome of Optimize. On ErrNotConverged Pose holds the best
// estimate found.
type Result struct {
	Pose       so3.Transform
	Iterations int
	Cost       float64
	// StepNorm is |delta| of the last computed update.
	StepNorm float64
	// Covariance is the pseudo-inverse of the final normal matrix, ordered
	// (rho, omega).
	Covariance *mat.SymDense
}

// Optimize iterates from initial until the update norm drops below the step
// tolerance.
func (o *Optimizer) Optimize(initial so3.Transform) (Result, error) {
	constraints := 2 * o.nBearings
	if o.wPos > 0 {
		constraints += 3
	}
	if o.wRot > 0 {
		constraints += 3
	}
	if constraints < dof {
		return Result{Pose: initial}, fmt.Errorf("%w: %d", ErrUnderdetermined, constraints)
	}

	t := initial
	lambda := 0.0
	res := Result{Pose: t}
	for iter := 1; iter <= o.opts.MaxIterations; iter++ {
		sys := o.linearize(t)
		res.Iterations, res.Cost = iter, sys.cost

		var (
			delta    []float64
			accepted bool
		)
		for attempt := 0; attempt < o.opts.MaxDampingAttempts; attempt++ {
			d, ok := o.solve(sys, lambda)
			if !ok {
				lambda = grow(lambda, o.opts.InitialDamping)
				continue
			}
			delta = d
			res.StepNorm = floats.Norm(delta, 2)
			if res.StepNorm < o.opts.StepTolerance {
				accepted = true
				break
			}
			cand := t.Retract([dof]float64(delta))
			// tolerate rounding noise once the cost has flattened out
			if c := o.cost(cand, sys.scale); c <= sys.cost*(1+1e-12) {
				accepted = true
				break
			}
			lambda = grow(lambda, o.opts.InitialDamping)
		}
		if !accepted {
			res.Covariance = covariance(sys.h)
			if delta == nil {
				return res, fmt.Errorf("%w: lambda %g after %d attempts", ErrSingular, lambda, o.opts.MaxDampingAttempts)
			}
			return res, fmt.Errorf("%w: no cost decrease at iteration %d", ErrNotConverged, iter)
		}

		t = t.Retract([dof]float64(delta))
		t.R = so3.Orthonormalize(t.R)
		res.Pose = t
		monitoring.Debugf("poseopt: iter %d cost %.3e |delta| %.3e lambda %.1e", iter, sys.cost, res.StepNorm, lambda)

		if res.StepNorm < o.opts.StepTolerance {
			res.Covariance = covariance(o.linearize(t).h)
			return res, nil
		}
		if lambda /= 10; lambda < 1e-9 {
			lambda = 0
		}
	}
	res.Covariance = covariance(o.linearize(t).h)
	return res, fmt.Errorf("%w after %d iterations, |delta| %.3e", ErrNotConverged, o.opts.MaxIterations, res.StepNorm)
}

func grow(lambda, initial float64) float64 {
	if lambda == 0 {
		return initial
	}
	return lambda * 10
}

// system is the linearization at one pose: H = J^T W J, g = J^T W r.
type system struct {
	h     *mat.SymDense
	g     *mat.VecDense
	cost  float64
	scale float64
}

// bearingResidual returns e = bearing(T_C_B * T_B_W * p_W) - f and its
// Jacobian with respect to the right perturbation (rho, omega) of T_B_W.
func (o *Optimizer) bearingResidual(t so3.Transform, f FrameData, i int) (r3.Vec, [3][dof]float64) {
	pW := f.Landmark(i)
	pB := t.Apply(pW)
	pC := f.tCB.Apply(pB)
	e := r3.Sub(o.opts.Model.Bearing(pC), f.Bearing(i))

	// d pB / d rho = R, d pB / d omega = -R [pW]x
	a := o.opts.Model.BearingJacobian(pC).Mul(f.tCB.R)
	dRho := a.Mul(t.R)
	dOmega := dRho.Mul(so3.Skew(pW)).Scale(-1)
	var j [3][dof]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			j[r][c] = dRho[r][c]
			j[r][c+3] = dOmega[r][c]
		}
	}
	return e, j
}

// position returns the body position in the world frame, -R^T t.
func position(t so3.Transform) r3.Vec {
	return r3.Scale(-1, t.R.T().MulVec(t.T))
}

func (o *Optimizer) linearize(t so3.Transform) system {
	h := mat.NewSymDense(dof, nil)
	g := mat.NewVecDense(dof, nil)
	var cost float64

	// bearing residuals, weighted by the robust loss
	norms := make([]float64, 0, o.nBearings)
	for _, f := range o.frames {
		for i := 0; i < f.Len(); i++ {
			e, _ := o.bearingResidual(t, f, i)
			norms = append(norms, r3.Norm(e))
		}
	}
	scale := o.opts.MinScale
	if o.opts.Loss != LossNone {
		scale = madScale(norms, o.opts.MinScale)
	}
	for _, f := range o.frames {
		for i := 0; i < f.Len(); i++ {
			e, j := o.bearingResidual(t, f, i)
			cost += o.residualCost(e, scale)
			w := o.opts.Loss.weight(r3.Norm(e) / scale)
			if w == 0 {
				continue
			}
			accumulate(h, g, j[:], []float64{e.X, e.Y, e.Z}, w)
		}
	}

	if o.wPos > 0 {
		// p = -R^T t; d p / d rho = -I, d p / d omega = -[R^T t]x
		e := r3.Sub(position(t), position(o.prior))
		s := so3.Skew(t.R.T().MulVec(t.T)).Scale(-1)
		var j [3][dof]float64
		for r := 0; r < 3; r++ {
			j[r][r] = -1
			for c := 0; c < 3; c++ {
				j[r][c+3] = s[r][c]
			}
		}
		accumulate(h, g, j[:], []float64{e.X, e.Y, e.Z}, o.wPos)
		cost += o.wPos * r3.Dot(e, e)
	}

	if o.wRot > 0 {
		e := so3.Log(o.prior.R.T().Mul(t.R))
		jinv := so3.RightJacobianInv(e)
		var j [3][dof]float64
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				j[r][c+3] = jinv[r][c]
			}
		}
		accumulate(h, g, j[:], []float64{e.X, e.Y, e.Z}, o.wRot)
		cost += o.wRot * r3.Dot(e, e)
	}
	return system{h: h, g: g, cost: cost, scale: scale}
}

// accumulate adds w*J^T J to h and w*J^T r to g.
func accumulate(h *mat.SymDense, g *mat.VecDense, j [][dof]float64, r []float64, w float64) {
	for a := 0; a < dof; a++ {
		var ga float64
		for k := range j {
			ga += j[k][a] * r[k]
		}
		g.SetVec(a, g.AtVec(a)+w*ga)
		for b := a; b < dof; b++ {
			var hab float64
			for k := range j {
				hab += j[k][a] * j[k][b]
			}
			h.SetSym(a, b, h.At(a, b)+w*hab)
		}
	}
}

// residualCost is the robust cost of one bearing residual, s^2*rho(|e|/s).
func (o *Optimizer) residualCost(e r3.Vec, scale float64) float64 {
	if o.opts.Loss == LossNone {
		return r3.Dot(e, e)
	}
	return scale * scale * o.opts.Loss.rho(r3.Norm(e)/scale)
}

// cost evaluates the objective at t with the robust scale frozen.
func (o *Optimizer) cost(t so3.Transform, scale float64) float64 {
	var c float64
	for _, f := range o.frames {
		for i := 0; i < f.Len(); i++ {
			pC := f.tCB.Apply(t.Apply(f.Landmark(i)))
			e := r3.Sub(o.opts.Model.Bearing(pC), f.Bearing(i))
			c += o.residualCost(e, scale)
		}
	}
	if o.wPos > 0 {
		e := r3.Sub(position(t), position(o.prior))
		c += o.wPos * r3.Dot(e, e)
	}
	if o.wRot > 0 {
		e := so3.Log(o.prior.R.T().Mul(t.R))
		c += o.wRot * r3.Dot(e, e)
	}
	return c
}

// solve returns delta = -(H + lambda*D)^-1 g with D the clamped diagonal of
// H. ok is false when the damped matrix does not factorize or is too
// ill-conditioned.
func (o *Optimizer) solve(sys system, lambda float64) ([]float64, bool) {
	a := mat.NewSymDense(dof, nil)
	a.CopySym(sys.h)
	if lambda > 0 {
		var maxDiag float64
		for i := 0; i < dof; i++ {
			maxDiag = max(maxDiag, sys.h.At(i, i))
		}
		floor := 1e-9 * max(maxDiag, 1)
		for i := 0; i < dof; i++ {
			a.SetSym(i, i, sys.h.At(i, i)+lambda*max(sys.h.At(i, i), floor))
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, false
	}
	if c := chol.Cond(); math.IsInf(c, 0) || c > o.opts.MaxCondition {
		return nil, false
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, sys.g); err != nil {
		return nil, false
	}
	delta := make([]float64, dof)
	for i := range delta {
		delta[i] = -x.AtVec(i)
	}
	return delta, true
}

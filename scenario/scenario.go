// Package scenario generates gyro measurements along a known angular-rate
// trajectory and feeds them, keyframe interval by keyframe interval, into a
// pre-integrator.
package scenario

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"

	"vio-engine-go/preint"
	"vio-engine-go/so3"
)

var (
	ErrBadRate   = errors.New("scenario: rates must be positive and keyframe rate must not exceed imu rate")
	ErrBadWindow = errors.New("scenario: window must contain at least one imu sample")
	ErrBadNoise  = errors.New("scenario: noise covariance is not positive semi-definite")
)

// Trajectory supplies the true body angular velocity.
type Trajectory interface {
	AngularVelocity(t float64) r3.Vec
}

// Constant rotates at a fixed rate.
type Constant struct {
	Rate r3.Vec
}

func (c Constant) AngularVelocity(float64) r3.Vec { return c.Rate }

// Sinusoid is w(t) = Offset + Amplitude * sin(2*pi*Frequency*t + Phase),
// evaluated per axis.
type Sinusoid struct {
	Amplitude r3.Vec
	Frequency r3.Vec
	Phase     r3.Vec
	Offset    r3.Vec
}

func (s Sinusoid) AngularVelocity(t float64) r3.Vec {
	axis := func(a, f, p, o float64) float64 {
		return o + a*math.Sin(2*math.Pi*f*t+p)
	}
	return r3.Vec{
		X: axis(s.Amplitude.X, s.Frequency.X, s.Phase.X, s.Offset.X),
		Y: axis(s.Amplitude.Y, s.Frequency.Y, s.Phase.Y, s.Offset.Y),
		Z: axis(s.Amplitude.Z, s.Frequency.Z, s.Phase.Z, s.Offset.Z),
	}
}

// Runner samples a trajectory at the IMU rate and cuts it into keyframe
// intervals. It holds no mutable state and can be shared between goroutines.
type Runner struct {
	traj         Trajectory
	imuRate      float64
	keyframeRate float64
	noise        so3.Mat3
	bias         r3.Vec
}

// NewRunner builds a runner. noise is the continuous-time gyro noise
// covariance; bias is added to every corrupted measurement.
func NewRunner(traj Trajectory, imuRate, keyframeRate float64, noise so3.Mat3, bias r3.Vec) (*Runner, error) {
	if imuRate <= 0 || keyframeRate <= 0 || keyframeRate > imuRate {
		return nil, fmt.Errorf("%w: imu %.3f Hz, keyframe %.3f Hz", ErrBadRate, imuRate, keyframeRate)
	}
	return &Runner{traj: traj, imuRate: imuRate, keyframeRate: keyframeRate, noise: noise, bias: bias}, nil
}

func (r *Runner) Noise() so3.Mat3 { return r.noise }

// StepsPerKeyframe is the number of integration steps between keyframes.
func (r *Runner) StepsPerKeyframe() int {
	return max(1, int(math.Round(r.imuRate/r.keyframeRate)))
}

// Measurements samples [start, end] at the IMU rate. It returns n+1 stamps
// and the n measurements taken at the left end of every step. When
// corrupted is set, bias and white noise with covariance noise/dt are added,
// drawn from src.
func (r *Runner) Measurements(start, end float64, corrupted bool, src rand.Source) ([]float64, []r3.Vec, error) {
	n := int(math.Round((end - start) * r.imuRate))
	if n < 1 {
		return nil, nil, fmt.Errorf("%w: [%.6f, %.6f] at %.3f Hz", ErrBadWindow, start, end, r.imuRate)
	}
	dt := 1 / r.imuRate

	stamps := make([]float64, n+1)
	for i := range stamps {
		stamps[i] = start + float64(i)*dt
	}
	gyro := make([]r3.Vec, n)
	for i := range gyro {
		gyro[i] = r.traj.AngularVelocity(stamps[i])
	}
	if !corrupted {
		return stamps, gyro, nil
	}

	sampler, err := r.sampler(dt, src)
	if err != nil {
		return nil, nil, err
	}
	draw := make([]float64, 3)
	for i := range gyro {
		gyro[i] = r3.Add(gyro[i], r.bias)
		if sampler == nil {
			continue
		}
		sampler.Rand(draw)
		gyro[i] = r3.Add(gyro[i], r3.Vec{X: draw[0], Y: draw[1], Z: draw[2]})
	}
	return stamps, gyro, nil
}

// gaussian draws zero-mean 3-vectors.
type gaussian interface {
	Rand(x []float64) []float64
}

// factored draws L·z with z standard normal. It covers semi-definite
// covariances that have no Cholesky factor.
type factored struct {
	l   so3.Mat3
	std distuv.Normal
}

func (f factored) Rand(x []float64) []float64 {
	v := f.l.MulVec(r3.Vec{X: f.std.Rand(), Y: f.std.Rand(), Z: f.std.Rand()})
	x[0], x[1], x[2] = v.X, v.Y, v.Z
	return x
}

// sampler returns nil for a zero noise covariance. Positive definite noise is
// drawn through its Cholesky factor, singular noise through V·sqrt(Λ).
func (r *Runner) sampler(dt float64, src rand.Source) (gaussian, error) {
	if r.noise == (so3.Mat3{}) {
		return nil, nil
	}
	cov := r.noise.Scale(1 / dt).Sym()
	if normal, ok := distmv.NewNormal(make([]float64, 3), cov, src); ok {
		return normal, nil
	}

	var es mat.EigenSym
	if !es.Factorize(cov, true) {
		return nil, ErrBadNoise
	}
	vals := es.Values(nil)
	tol := 1e-9 * math.Max(math.Abs(vals[0]), math.Abs(vals[2]))
	var vecs mat.Dense
	es.VectorsTo(&vecs)
	var l so3.Mat3
	for j, v := range vals {
		if v < -tol {
			return nil, fmt.Errorf("%w: eigenvalue %g", ErrBadNoise, v)
		}
		s := math.Sqrt(max(v, 0))
		for i := 0; i < 3; i++ {
			l[i][j] = vecs.At(i, j) * s
		}
	}
	return factored{l: l, std: distuv.Normal{Mu: 0, Sigma: 1, Src: src}}, nil
}

// Process runs [start, end] through pi, one PushInterval per keyframe.
func (r *Runner) Process(pi preint.PreIntegrator, corrupted bool, start, end float64, src rand.Source) error {
	stamps, gyro, err := r.Measurements(start, end, corrupted, src)
	if err != nil {
		return err
	}
	m := r.StepsPerKeyframe()
	for lo := 0; lo < len(gyro); lo += m {
		hi := min(lo+m, len(gyro))
		if err := pi.PushInterval(stamps[lo:hi+1], gyro[lo:hi]); err != nil {
			return fmt.Errorf("scenario: keyframe at %.6f: %w", stamps[lo], err)
		}
	}
	return nil
}

// Package montecarlo checks the analytic pre-integration covariance against
// the empirical spread of many noise-corrupted runs of the same scenario.
package montecarlo

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"vio-engine-go/monitoring"
	"vio-engine-go/preint"
	"vio-engine-go/scenario"
	"vio-engine-go/so3"
)

var (
	ErrTooFewRounds = errors.New("montecarlo: need at least 2 rounds to estimate a covariance")
	ErrNotSimulated = errors.New("montecarlo: Simulate has not completed")
)

// Options tune a Runner.
type Options struct {
	// Seed is the base seed; round r draws from PCG(Seed, r).
	Seed uint64
	// Workers bounds the number of rounds run concurrently. Zero means
	// GOMAXPROCS.
	Workers int
}

// Runner drives one noise-free and many corrupted pre-integrations.
type Runner struct {
	id      uuid.UUID
	scen    *scenario.Runner
	factory *preint.Factory
	opts    Options

	times    []float64
	analytic []so3.Mat3
	dRRef    []so3.Mat3
	rRef     []so3.Mat3
	dRMC     [][]so3.Mat3
	rMC      [][]so3.Mat3
	cov      []so3.Mat3
	covAbs   []so3.Mat3
}

func NewRunner(scen *scenario.Runner, factory *preint.Factory, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Runner{id: uuid.New(), scen: scen, factory: factory, opts: opts}
}

// ID identifies the runner in logs and plot titles.
func (m *Runner) ID() uuid.UUID { return m.id }

// Simulate runs the reference and numRounds corrupted pre-integrations over
// [start, end] and estimates the per-step error covariances.
func (m *Runner) Simulate(ctx context.Context, numRounds int, start, end float64) error {
	if numRounds <= 1 {
		return fmt.Errorf("%w: got %d", ErrTooFewRounds, numRounds)
	}
	began := time.Now()

	actual := m.factory.Get()
	if err := m.scen.Process(actual, false, start, end, nil); err != nil {
		return fmt.Errorf("montecarlo: reference run: %w", err)
	}
	st := actual.State()
	dRRef, rRef := st.DRik(), st.Rik()

	dRMC := make([][]so3.Mat3, numRounds)
	rMC := make([][]so3.Mat3, numRounds)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Workers)
	for round := 0; round < numRounds; round++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pi := m.factory.Get()
			src := rand.NewPCG(m.opts.Seed, uint64(round))
			if err := m.scen.Process(pi, true, start, end, src); err != nil {
				return fmt.Errorf("montecarlo: round %d: %w", round, err)
			}
			monitoring.Debugf("montecarlo %s: round %d done", m.id, round)
			dRMC[round] = pi.State().DRik()
			rMC[round] = pi.State().Rik()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Results of a previous run stay intact until this one has succeeded.
	m.times = st.TimesRaw()
	m.analytic = st.CovIK()
	m.dRRef, m.rRef = dRRef, rRef
	m.dRMC, m.rMC = dRMC, rMC
	m.cov = estimate(dRRef, dRMC)
	m.covAbs = estimate(rRef, rMC)
	monitoring.Logf("montecarlo %s: %d rounds, %d steps in %v", m.id, numRounds, len(m.times), time.Since(began))
	return nil
}

// estimate returns, per step, the sample covariance of Log(refᵀ mc) across
// runs.
func estimate(ref []so3.Mat3, runs [][]so3.Mat3) []so3.Mat3 {
	out := make([]so3.Mat3, len(ref))
	errs := mat.NewDense(len(runs), 3, nil)
	for step := range ref {
		rt := ref[step].T()
		for run := range runs {
			e := so3.Log(rt.Mul(runs[run][step]))
			errs.SetRow(run, []float64{e.X, e.Y, e.Z})
		}
		c := mat.NewSymDense(3, nil)
		stat.CovarianceMatrix(c, errs, nil)
		out[step] = so3.FromMatrix(c)
	}
	return out
}

// Times are the step timestamps.
func (m *Runner) Times() []float64 { return m.times }

// Covariances are the empirical covariances of D_R_i_k, one per step.
func (m *Runner) Covariances() []so3.Mat3 { return m.cov }

// CovariancesAbsolute are the empirical covariances of R_i_k.
func (m *Runner) CovariancesAbsolute() []so3.Mat3 { return m.covAbs }

// Analytic is the propagated covariance of the noise-free run.
func (m *Runner) Analytic() []so3.Mat3 { return m.analytic }

func (m *Runner) DRReference() []so3.Mat3    { return m.dRRef }
func (m *Runner) DRMonteCarlo() [][]so3.Mat3 { return m.dRMC }

// Report summarizes analytic vs empirical agreement.
type Report struct {
	// Relative holds |empirical - analytic|_F / |analytic|_F per step. A zero
	// analytic covariance reports the absolute norm instead.
	Relative []float64
	Mean     float64
	Max      float64
	Final    float64
}

// Compare reports the relative Frobenius error between the empirical and
// analytic covariances.
func (m *Runner) Compare() (Report, error) {
	if m.cov == nil {
		return Report{}, ErrNotSimulated
	}
	r := Report{Relative: make([]float64, len(m.cov))}
	for i := range m.cov {
		diff := m.cov[i].Sub(m.analytic[i]).Norm()
		if n := m.analytic[i].Norm(); n > 0 {
			diff /= n
		}
		r.Relative[i] = diff
		r.Mean += diff
		r.Max = max(r.Max, diff)
	}
	if len(r.Relative) > 0 {
		r.Mean /= float64(len(r.Relative))
		r.Final = r.Relative[len(r.Relative)-1]
	}
	return r, nil
}

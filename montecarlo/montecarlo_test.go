package montecarlo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"vio-engine-go/monitoring"
	"vio-engine-go/preint"
	"vio-engine-go/scenario"
	"vio-engine-go/so3"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

var wobble = scenario.Sinusoid{
	Amplitude: r3.Vec{X: 0.8, Y: 0.5, Z: 1.2},
	Frequency: r3.Vec{X: 0.7, Y: 1.1, Z: 0.4},
	Phase:     r3.Vec{Y: 0.3, Z: 1.0},
	Offset:    r3.Vec{Z: 0.1},
}

func newRunner(t *testing.T, kind preint.Kind, density float64, opts Options) *Runner {
	t.Helper()
	v := density * density
	noise := so3.Diag(v, v, v)
	scen, err := scenario.NewRunner(wobble, 200, 10, noise, r3.Vec{})
	require.NoError(t, err)
	f, err := preint.NewFactory(kind, noise, nil)
	require.NoError(t, err)
	return NewRunner(scen, f, opts)
}

func TestAnalyticMatchesMonteCarlo(t *testing.T) {
	if testing.Short() {
		t.Skip("monte-carlo agreement is slow")
	}
	for _, kind := range []preint.Kind{preint.KindManifold, preint.KindQuaternion} {
		t.Run(kind.String(), func(t *testing.T) {
			mc := newRunner(t, kind, 0.01, Options{Seed: 42})
			require.NoError(t, mc.Simulate(context.Background(), 1000, 0, 1))

			require.Len(t, mc.Covariances(), 200)
			require.Len(t, mc.DRMonteCarlo(), 1000)

			rep, err := mc.Compare()
			require.NoError(t, err)
			assert.Less(t, rep.Mean, 0.2)
			assert.Less(t, rep.Final, 0.2)

			last := len(mc.Covariances()) - 1
			assert.Greater(t, mc.CovariancesAbsolute()[last].Trace(), 5*mc.Covariances()[last].Trace())
		})
	}
}

func TestZeroNoiseReproducesReference(t *testing.T) {
	mc := newRunner(t, preint.KindManifold, 0, Options{Seed: 1, Workers: 2})
	require.NoError(t, mc.Simulate(context.Background(), 5, 0, 0.5))

	for _, run := range mc.DRMonteCarlo() {
		assert.Equal(t, mc.DRReference(), run)
	}
	for i, c := range mc.Covariances() {
		assert.Less(t, c.Norm(), 1e-20, "step %d", i)
		assert.Less(t, mc.CovariancesAbsolute()[i].Norm(), 1e-20, "step %d", i)
		assert.Equal(t, so3.Mat3{}, mc.Analytic()[i])
	}
}

func TestSimulateIsDeterministicAcrossWorkerCounts(t *testing.T) {
	a := newRunner(t, preint.KindManifold, 0.02, Options{Seed: 9, Workers: 1})
	b := newRunner(t, preint.KindManifold, 0.02, Options{Seed: 9, Workers: 4})
	require.NoError(t, a.Simulate(context.Background(), 20, 0, 0.3))
	require.NoError(t, b.Simulate(context.Background(), 20, 0, 0.3))
	assert.Equal(t, a.Covariances(), b.Covariances())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestTooFewRounds(t *testing.T) {
	mc := newRunner(t, preint.KindManifold, 0.01, Options{})
	err := mc.Simulate(context.Background(), 1, 0, 1)
	assert.True(t, errors.Is(err, ErrTooFewRounds))

	_, err = mc.Compare()
	assert.True(t, errors.Is(err, ErrNotSimulated))
	assert.True(t, errors.Is(mc.SavePlot(filepath.Join(t.TempDir(), "x.png")), ErrNotSimulated))
}

func TestSimulateHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mc := newRunner(t, preint.KindManifold, 0.01, Options{Workers: 1})
	err := mc.Simulate(ctx, 10, 0, 0.2)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFailedSimulateKeepsPreviousRun(t *testing.T) {
	mc := newRunner(t, preint.KindManifold, 0.01, Options{Seed: 4, Workers: 2})
	require.NoError(t, mc.Simulate(context.Background(), 5, 0, 1))
	before, err := mc.Compare()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, mc.Simulate(ctx, 5, 0, 0.5))

	require.Len(t, mc.Times(), 200)
	require.Len(t, mc.Analytic(), 200)
	require.Len(t, mc.Covariances(), 200)
	require.Len(t, mc.DRReference(), 200)
	after, err := mc.Compare()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	require.NoError(t, mc.SavePlot(filepath.Join(t.TempDir(), "cov.png")))
}

func TestSingularNoise(t *testing.T) {
	noise := so3.Diag(1e-4, 0, 0)
	scen, err := scenario.NewRunner(wobble, 200, 10, noise, r3.Vec{})
	require.NoError(t, err)
	f, err := preint.NewFactory(preint.KindManifold, noise, nil)
	require.NoError(t, err)
	mc := NewRunner(scen, f, Options{Seed: 11})

	require.NoError(t, mc.Simulate(context.Background(), 400, 0, 0.5))
	rep, err := mc.Compare()
	require.NoError(t, err)
	assert.Less(t, rep.Final, 0.3)
}

func TestSavePlot(t *testing.T) {
	mc := newRunner(t, preint.KindQuaternion, 0.01, Options{Seed: 3})
	require.NoError(t, mc.Simulate(context.Background(), 10, 0, 0.2))

	path := filepath.Join(t.TempDir(), "cov.png")
	require.NoError(t, mc.SavePlot(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

package stream

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"vio-engine-go/imu"
	"vio-engine-go/monitoring"
	"vio-engine-go/preint"
	"vio-engine-go/so3"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func newPipeline(t *testing.T, bias r3.Vec) *Pipeline {
	t.Helper()
	f, err := preint.NewFactory(preint.KindManifold, so3.Diag(1e-4, 1e-4, 1e-4), nil)
	require.NoError(t, err)
	return NewPipeline(7, f, 1024, bias)
}

// feed inserts 200 Hz samples of a constant rate up to end.
func feed(t *testing.T, p *Pipeline, from, end int, rate r3.Vec) {
	t.Helper()
	for i := from; i < end; i++ {
		require.NoError(t, p.Insert(imu.Sample{Time: float64(i) * 0.005, Gyr: rate}))
	}
}

func TestKeyframeIntervals(t *testing.T) {
	rate := r3.Vec{X: 0.2, Z: 1}
	p := newPipeline(t, r3.Vec{})
	feed(t, p, 0, 10, rate)

	res, err := p.Keyframe(0.0025)
	require.NoError(t, err)
	assert.Nil(t, res)

	feed(t, p, 10, 30, rate)
	first, err := p.Keyframe(0.1025)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, uint32(7), first.Source)
	assert.Equal(t, uint16(0), first.Seq)
	assert.Equal(t, 0.0025, first.From)
	assert.Equal(t, 21, first.Steps)
	assert.Less(t, so3.Angle(first.DeltaR, so3.Exp(r3.Scale(0.1, rate))), 1e-12)
	assert.Positive(t, first.Cov.Trace())

	feed(t, p, 30, 50, rate)
	second, err := p.Keyframe(0.2025)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), second.Seq)
	assert.Less(t, so3.Angle(second.DeltaR, so3.Exp(r3.Scale(0.1, rate))), 1e-12)
	assert.Less(t, so3.Angle(second.R, so3.Exp(r3.Scale(0.2, rate))), 1e-12)
	// the covariance restarts at every keyframe
	assert.InDelta(t, first.Cov.Trace(), second.Cov.Trace(), 1e-12)

	st := p.State()
	assert.Equal(t, 2, st.NumKeyframes())
	assert.Equal(t, 42, st.Len())
}

func TestBiasIsRemoved(t *testing.T) {
	bias := r3.Vec{Y: 0.05, Z: 0.5}
	p := newPipeline(t, bias)
	feed(t, p, 0, 30, r3.Vec{Y: 0.05, Z: 1.5})

	_, err := p.Keyframe(0.0025)
	require.NoError(t, err)
	res, err := p.Keyframe(0.1025)
	require.NoError(t, err)
	assert.Less(t, so3.Angle(res.DeltaR, so3.Exp(r3.Vec{Z: 0.1})), 1e-12)
}

func TestKeyframeErrors(t *testing.T) {
	p := newPipeline(t, r3.Vec{})
	feed(t, p, 0, 20, r3.Vec{Z: 1})

	_, err := p.Keyframe(0.01)
	require.NoError(t, err)

	_, err = p.Keyframe(0.01)
	assert.True(t, errors.Is(err, ErrStaleKeyframe))

	_, err = p.Keyframe(0.5)
	assert.True(t, errors.Is(err, imu.ErrOutOfRange))

	err = p.Insert(imu.Sample{Time: 0.05})
	assert.True(t, errors.Is(err, imu.ErrOutOfOrder))

	// a failed keyframe leaves the interval open
	feed(t, p, 20, 120, r3.Vec{Z: 1})
	res, err := p.Keyframe(0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.01, res.From)
	assert.Equal(t, uint16(0), res.Seq)
}

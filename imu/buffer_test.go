package imu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func sampleAt(t float64) Sample {
	return Sample{Time: t, Acc: r3.Vec{Z: 9.81}, Gyr: r3.Vec{X: t, Y: 2 * t, Z: -t}}
}

func fill(t *testing.T, b *Buffer, n int, dt float64) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, b.Insert(sampleAt(float64(i)*dt)))
	}
}

func TestBufferRejectsOutOfOrder(t *testing.T) {
	b := NewBuffer(8)
	require.NoError(t, b.Insert(sampleAt(1)))
	err := b.Insert(sampleAt(1))
	assert.True(t, errors.Is(err, ErrOutOfOrder))
	err = b.Insert(sampleAt(0.5))
	assert.True(t, errors.Is(err, ErrOutOfOrder))
	assert.Equal(t, 1, b.Len())
}

func TestBufferWrapsAround(t *testing.T) {
	b := NewBuffer(4)
	fill(t, b, 10, 1)
	assert.Equal(t, 4, b.Len())
	from, to, ok := b.Span()
	require.True(t, ok)
	assert.Equal(t, 6.0, from)
	assert.Equal(t, 9.0, to)
}

func TestBufferGetInterpolates(t *testing.T) {
	b := NewBuffer(16)
	fill(t, b, 5, 0.1)
	s, err := b.Get(0.25)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, s.Gyr.X, 1e-12)
	assert.InDelta(t, 0.5, s.Gyr.Y, 1e-12)

	_, err = b.Get(1.0)
	assert.True(t, errors.Is(err, ErrOutOfRange))
}

func TestBufferBetween(t *testing.T) {
	b := NewBuffer(64)
	fill(t, b, 11, 0.1) // 0.0 .. 1.0

	stamps, samples, err := b.Between(0.15, 0.55)
	require.NoError(t, err)
	require.Equal(t, len(stamps), len(samples))
	assert.InDelta(t, 0.15, stamps[0], 1e-12)
	assert.InDelta(t, 0.55, stamps[len(stamps)-1], 1e-12)
	// interior raw samples 0.2, 0.3, 0.4, 0.5
	assert.Len(t, stamps, 6)
	for i := 1; i < len(stamps); i++ {
		assert.Greater(t, stamps[i], stamps[i-1])
	}
	assert.InDelta(t, 0.15, samples[0].Gyr.X, 1e-12)
	assert.InDelta(t, 0.55, samples[len(samples)-1].Gyr.X, 1e-12)
}

func TestBufferBetweenOnSampleBoundaries(t *testing.T) {
	b := NewBuffer(64)
	fill(t, b, 11, 0.1)
	stamps, _, err := b.Between(0.2, 0.5)
	require.NoError(t, err)
	// 0.2 (boundary), 0.3, 0.4 (interior), 0.5 (boundary); no duplicates
	assert.Len(t, stamps, 4)
}

func TestBufferDropBefore(t *testing.T) {
	b := NewBuffer(64)
	fill(t, b, 11, 0.1)
	b.DropBefore(0.45)
	from, _, ok := b.Span()
	require.True(t, ok)
	assert.InDelta(t, 0.4, from, 1e-12)
	_, err := b.Get(0.45)
	assert.NoError(t, err)
}

func TestNoiseModelCovariance(t *testing.T) {
	n := NoiseModel{GyroNoiseDensity: 0.01, GyroBias: [3]float64{1, 2, 3}}
	c := n.GyroCovariance()
	assert.InDelta(t, 1e-4, c[0][0], 1e-18)
	assert.Equal(t, 0.0, c[0][1])
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, n.GyroBiasVec())
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vio-engine-go/poseopt"
	"vio-engine-go/preint"
)

const sample = `
imu:
  gyro_noise_density: 0.01
  gyro_bias: [0.001, 0, 0]
preintegration:
  kind: quaternion
  imu_rate: 400
  keyframe_rate: 20
camera:
  label: cam0
  type: pinhole-radial-tangential
  width: 752
  height: 480
  intrinsics: [458.654, 457.296, 367.215, 248.375]
  distortion: [-0.28340811, 0.07395907, 0.00019359, 1.76187114e-05]
server:
  listen: ":5000"
  http: ":8080"
relay:
  - addr: 127.0.0.1
    port: 6000
    type: udp
    mask: 1
  - addr: 10.0.0.2
    port: 6001
    type: tcp
    mask: 3
optimizer:
  loss: huber
  position_prior_weight: 10
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "engine.yaml", sample))
	require.NoError(t, err)

	assert.Equal(t, 0.01, cfg.IMU.GyroNoiseDensity)
	assert.Equal(t, [3]float64{0.001, 0, 0}, cfg.IMU.GyroBias)
	assert.Equal(t, "quaternion", cfg.Preintegration.Kind)
	assert.Equal(t, 400.0, cfg.Preintegration.IMURate)
	assert.Equal(t, ":5000", cfg.Server.Listen)
	// untouched sections keep their defaults
	assert.Equal(t, 4096, cfg.Server.BufferCapacity)
	assert.Equal(t, 1000, cfg.MonteCarlo.Rounds)
	assert.Equal(t, 50, cfg.Optimizer.MaxIterations)

	require.Len(t, cfg.Relay, 2)
	assert.Equal(t, "10.0.0.2:6001", cfg.Relay[1].Address())
	assert.Equal(t, uint32(3), cfg.Relay[1].Mask)

	f, err := cfg.Factory()
	require.NoError(t, err)
	assert.Equal(t, preint.KindQuaternion, f.Kind())
	assert.InDelta(t, 1e-4, f.Noise()[1][1], 1e-18)

	cam, err := cfg.CameraModel()
	require.NoError(t, err)
	assert.Equal(t, "cam0", cam.Label())
	assert.Equal(t, 752, cam.Width())

	opts, err := cfg.OptimizerOptions()
	require.NoError(t, err)
	assert.Equal(t, poseopt.LossHuber, opts.Loss)
	assert.Equal(t, 50, opts.MaxIterations)
	assert.NotNil(t, opts.Model)
}

func TestNoCamera(t *testing.T) {
	cam, err := Default().CameraModel()
	require.NoError(t, err)
	assert.Nil(t, cam)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Preintegration.Kind = "euler"
	cfg.Preintegration.KeyframeRate = 500
	cfg.Relay = []RelayTarget{{Addr: "x", Port: 0, Type: "serial"}}
	cfg.MonteCarlo.Rounds = 1
	cfg.Optimizer.Loss = "cauchy"
	cfg.Optimizer.RotationPriorWeight = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	for _, want := range []string{"euler", "keyframe_rate", "relay[0].type", "relay[0].port", "rounds", "cauchy", "prior weights"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestDecodeRejectsBadCamera(t *testing.T) {
	_, err := Decode([]byte("camera:\n  type: pinhole\n  width: 10\n  height: 10\n  intrinsics: [1, 2]\n"))
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(writeFile(t, "engine.json", "{}"))
	assert.ErrorContains(t, err, ".yaml extension")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "stat")

	_, err = Load(writeFile(t, "broken.yml", "imu: [1, 2"))
	assert.Error(t, err)
}

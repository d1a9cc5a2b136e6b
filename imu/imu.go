// Package imu defines inertial samples, the sensor noise model and a ring
// buffer that serves interpolated sample ranges between keyframes.
package imu

import (
	"gonum.org/v1/gonum/spatial/r3"

	"vio-engine-go/so3"
)

// Sample is one inertial reading: acceleration in m/s^2 and angular
// velocity in rad/s, stamped in seconds.
type Sample struct {
	Time float64
	Acc  r3.Vec
	Gyr  r3.Vec
}

// Interpolate linearly blends a and b at time t.
func Interpolate(a, b Sample, t float64) Sample {
	if b.Time == a.Time {
		return Sample{Time: t, Acc: a.Acc, Gyr: a.Gyr}
	}
	f := (t - a.Time) / (b.Time - a.Time)
	return Sample{
		Time: t,
		Acc:  r3.Add(a.Acc, r3.Scale(f, r3.Sub(b.Acc, a.Acc))),
		Gyr:  r3.Add(a.Gyr, r3.Scale(f, r3.Sub(b.Gyr, a.Gyr))),
	}
}

// NoiseModel holds the continuous-time white-noise densities and constant
// biases of an IMU.
type NoiseModel struct {
	GyroNoiseDensity float64    `yaml:"gyro_noise_density"` // rad/s/sqrt(Hz)
	AccNoiseDensity  float64    `yaml:"acc_noise_density"`  // m/s^2/sqrt(Hz)
	GyroBias         [3]float64 `yaml:"gyro_bias"`
	AccBias          [3]float64 `yaml:"acc_bias"`
}

// GyroCovariance is the continuous-time gyroscope noise covariance.
func (n NoiseModel) GyroCovariance() so3.Mat3 {
	v := n.GyroNoiseDensity * n.GyroNoiseDensity
	return so3.Diag(v, v, v)
}

// GyroBiasVec returns the gyro bias as a vector.
func (n NoiseModel) GyroBiasVec() r3.Vec {
	return r3.Vec{X: n.GyroBias[0], Y: n.GyroBias[1], Z: n.GyroBias[2]}
}

// Gyros extracts the angular velocities of samples.
func Gyros(samples []Sample) []r3.Vec {
	out := make([]r3.Vec, len(samples))
	for i, s := range samples {
		out[i] = s.Gyr
	}
	return out
}

// Package config loads the engine configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"vio-engine-go/camera"
	"vio-engine-go/imu"
	"vio-engine-go/poseopt"
	"vio-engine-go/preint"
)

var ErrInvalid = errors.New("config: invalid configuration")

const maxFileSize = 1 << 20

// Config is the root document.
type Config struct {
	IMU            imu.NoiseModel `yaml:"imu"`
	Preintegration Preintegration `yaml:"preintegration"`
	Camera         *camera.Config `yaml:"camera,omitempty"`
	Server         Server         `yaml:"server"`
	Relay          []RelayTarget  `yaml:"relay,omitempty"`
	MonteCarlo     MonteCarlo     `yaml:"montecarlo"`
	Optimizer      Optimizer      `yaml:"optimizer"`
}

type Preintegration struct {
	Kind         string  `yaml:"kind"`
	IMURate      float64 `yaml:"imu_rate"`      // Hz
	KeyframeRate float64 `yaml:"keyframe_rate"` // Hz
}

type Server struct {
	Listen         string `yaml:"listen"`
	HTTP           string `yaml:"http,omitempty"`
	BinlogDir      string `yaml:"binlog_dir,omitempty"`
	LogFile        string `yaml:"log_file,omitempty"`
	BufferCapacity int    `yaml:"buffer_capacity"`
}

// RelayTarget is one downstream consumer of keyframe results. Mask selects
// the message classes it receives.
type RelayTarget struct {
	Addr string `yaml:"addr"`
	Port int    `yaml:"port"`
	Type string `yaml:"type"` // udp or tcp
	Mask uint32 `yaml:"mask"`
}

// Address is host:port.
func (r RelayTarget) Address() string { return fmt.Sprintf("%s:%d", r.Addr, r.Port) }

type MonteCarlo struct {
	Rounds  int     `yaml:"rounds"`
	Start   float64 `yaml:"start"`
	End     float64 `yaml:"end"`
	Seed    uint64  `yaml:"seed"`
	Workers int     `yaml:"workers,omitempty"`
	Plot    string  `yaml:"plot,omitempty"`
}

type Optimizer struct {
	MaxIterations       int     `yaml:"max_iterations"`
	StepTolerance       float64 `yaml:"step_tolerance"`
	Loss                string  `yaml:"loss"`
	MinScale            float64 `yaml:"min_scale,omitempty"`
	PositionPriorWeight float64 `yaml:"position_prior_weight"`
	RotationPriorWeight float64 `yaml:"rotation_prior_weight"`
}

// Default returns a configuration that validates as is. Load starts from it,
// so fields missing from a file keep these values.
func Default() *Config {
	return &Config{
		IMU: imu.NoiseModel{
			GyroNoiseDensity: 1.6968e-4,
			AccNoiseDensity:  2.0e-3,
		},
		Preintegration: Preintegration{
			Kind:         preint.KindManifold.String(),
			IMURate:      200,
			KeyframeRate: 10,
		},
		Server: Server{
			Listen:         ":44333",
			BufferCapacity: 4096,
		},
		MonteCarlo: MonteCarlo{
			Rounds: 1000,
			Start:  0,
			End:    1,
			Seed:   1,
		},
		Optimizer: Optimizer{
			MaxIterations: 50,
			StepTolerance: 1e-10,
			Loss:          poseopt.LossNone.String(),
		},
	}
}

// Decode parses YAML over the defaults and validates the result.
func Decode(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a .yaml or .yml file.
func Load(path string) (*Config, error) {
	clean := filepath.Clean(path)
	if ext := strings.ToLower(filepath.Ext(clean)); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .yaml extension, got %q", ext)
	}
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", clean, err)
	}
	return cfg, nil
}

// Validate reports every out-of-range field at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, v ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalid}, v...)...))
	}

	if c.IMU.GyroNoiseDensity < 0 || c.IMU.AccNoiseDensity < 0 {
		bad("imu noise densities must be non-negative")
	}
	if _, err := preint.ParseKind(c.Preintegration.Kind); err != nil {
		bad("preintegration.kind %q", c.Preintegration.Kind)
	}
	if c.Preintegration.IMURate <= 0 || c.Preintegration.KeyframeRate <= 0 {
		bad("preintegration rates must be positive")
	} else if c.Preintegration.KeyframeRate > c.Preintegration.IMURate {
		bad("keyframe_rate %g exceeds imu_rate %g", c.Preintegration.KeyframeRate, c.Preintegration.IMURate)
	}
	if c.Camera != nil {
		if _, err := c.Camera.Build(); err != nil {
			bad("camera: %v", err)
		}
	}
	if c.Server.BufferCapacity < 2 {
		bad("server.buffer_capacity must be at least 2")
	}
	for i, r := range c.Relay {
		if t := strings.ToLower(r.Type); t != "udp" && t != "tcp" {
			bad("relay[%d].type %q", i, r.Type)
		}
		if r.Port <= 0 || r.Port > 65535 {
			bad("relay[%d].port %d", i, r.Port)
		}
	}
	if c.MonteCarlo.Rounds < 2 {
		bad("montecarlo.rounds must be at least 2")
	}
	if c.MonteCarlo.End <= c.MonteCarlo.Start {
		bad("montecarlo window [%g, %g] is empty", c.MonteCarlo.Start, c.MonteCarlo.End)
	}
	if _, err := poseopt.ParseLoss(c.Optimizer.Loss); err != nil {
		bad("optimizer.loss %q", c.Optimizer.Loss)
	}
	if c.Optimizer.PositionPriorWeight < 0 || c.Optimizer.RotationPriorWeight < 0 {
		bad("optimizer prior weights must be non-negative")
	}
	return errors.Join(errs...)
}

// Factory builds the configured pre-integrator factory.
func (c *Config) Factory() (*preint.Factory, error) {
	kind, err := preint.ParseKind(c.Preintegration.Kind)
	if err != nil {
		return nil, err
	}
	return preint.NewFactory(kind, c.IMU.GyroCovariance(), nil)
}

// CameraModel builds the configured camera, or nil when none is set.
func (c *Config) CameraModel() (camera.Camera, error) {
	if c.Camera == nil {
		return nil, nil
	}
	return c.Camera.Build()
}

// OptimizerOptions maps the optimizer section onto poseopt.Options. Unset
// fields fall back to poseopt.DefaultOptions.
func (c *Config) OptimizerOptions() (poseopt.Options, error) {
	loss, err := poseopt.ParseLoss(c.Optimizer.Loss)
	if err != nil {
		return poseopt.Options{}, err
	}
	opts := poseopt.DefaultOptions()
	opts.Loss = loss
	if c.Optimizer.MaxIterations > 0 {
		opts.MaxIterations = c.Optimizer.MaxIterations
	}
	if c.Optimizer.StepTolerance > 0 {
		opts.StepTolerance = c.Optimizer.StepTolerance
	}
	if c.Optimizer.MinScale > 0 {
		opts.MinScale = c.Optimizer.MinScale
	}
	return opts, nil
}

package camera

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the serialized form of a camera.
type Config struct {
	Label      string    `yaml:"label"`
	Type       string    `yaml:"type"`
	Width      int       `yaml:"width"`
	Height     int       `yaml:"height"`
	Intrinsics []float64 `yaml:"intrinsics"` // fx, fy, cx, cy
	Distortion []float64 `yaml:"distortion,omitempty"`
}

// Build instantiates the configured camera model.
func (c Config) Build() (Camera, error) {
	t, err := ParseType(c.Type)
	if err != nil {
		return nil, err
	}
	if len(c.Intrinsics) != 4 {
		return nil, fmt.Errorf("%w: want 4 intrinsics, got %d", ErrBadParams, len(c.Intrinsics))
	}
	fx, fy, cx, cy := c.Intrinsics[0], c.Intrinsics[1], c.Intrinsics[2], c.Intrinsics[3]

	want := map[Type]int{Pinhole: 0, PinholeRadialTangential: 4, PinholeEquidistant: 4, PinholeFov: 1}[t]
	if len(c.Distortion) != want {
		return nil, fmt.Errorf("%w: %s wants %d distortion parameters, got %d", ErrBadParams, t, want, len(c.Distortion))
	}
	k := c.Distortion
	var dist Distortion
	switch t {
	case PinholeRadialTangential:
		dist = RadTan{K1: k[0], K2: k[1], P1: k[2], P2: k[3]}
	case PinholeEquidistant:
		dist = Equidistant{K1: k[0], K2: k[1], K3: k[2], K4: k[3]}
	case PinholeFov:
		dist = Fov{W: k[0]}
	}
	cam, err := NewPinholeDistorted(c.Width, c.Height, fx, fy, cx, cy, dist)
	if err != nil {
		return nil, err
	}
	cam.SetLabel(c.Label)
	return cam, nil
}

// ConfigOf serializes a pinhole camera.
func ConfigOf(c *PinholeCamera) Config {
	in := c.Intrinsics()
	cfg := Config{Label: c.label, Type: c.Type().String(), Width: c.width, Height: c.height, Intrinsics: in[:]}
	if c.dist != nil {
		cfg.Distortion = c.dist.params()
	}
	return cfg
}

// Decode parses a YAML camera description.
func Decode(data []byte) (Camera, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("camera: %w", err)
	}
	return c.Build()
}

// LoadYAML reads a camera description from path.
func LoadYAML(path string) (Camera, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cam, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cam, nil
}

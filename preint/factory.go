package preint

import (
	"fmt"
	"math"

	"vio-engine-go/so3"
)

// Factory hands out fresh pre-integrators that share one configuration.
type Factory struct {
	kind  Kind
	noise so3.Mat3
	ref   []so3.Mat3
}

// NewFactory validates the gyro noise covariance (continuous time) and the
// kind. ref may be nil; when set it is injected, not copied, into every
// pre-integrator built by Get and must outlive them.
func NewFactory(kind Kind, noise so3.Mat3, ref []so3.Mat3) (*Factory, error) {
	if kind != KindManifold && kind != KindQuaternion {
		return nil, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
	}
	for i := 0; i < 3; i++ {
		if noise[i][i] < 0 {
			return nil, ErrBadNoise
		}
		for j := i + 1; j < 3; j++ {
			if math.Abs(noise[i][j]-noise[j][i]) > 1e-12*(1+math.Abs(noise[i][j])) {
				return nil, ErrBadNoise
			}
		}
	}
	return &Factory{kind: kind, noise: noise, ref: ref}, nil
}

// WithReference returns a copy of f that injects ref.
func (f *Factory) WithReference(ref []so3.Mat3) *Factory {
	c := *f
	c.ref = ref
	return &c
}

func (f *Factory) Kind() Kind         { return f.kind }
func (f *Factory) Noise() so3.Mat3    { return f.noise }
func (f *Factory) HasReference() bool { return f.ref != nil }

// Get returns a new, empty pre-integrator.
func (f *Factory) Get() PreIntegrator {
	switch f.kind {
	case KindQuaternion:
		return NewQuaternion(f.noise, f.ref)
	default:
		return NewManifold(f.noise, f.ref)
	}
}

// Package camera holds the projection models the pose optimizer and the demo
// tools consume through the Camera and BearingModel interfaces.
package camera

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"vio-engine-go/so3"
)

var (
	ErrUnknownType = errors.New("camera: unknown camera type")
	ErrBadParams   = errors.New("camera: invalid parameters")
)

// Type names a projection model.
type Type int

const (
	Pinhole Type = iota
	PinholeFov
	PinholeEquidistant
	PinholeRadialTangential
)

var typeNames = [...]string{"pinhole", "pinhole-fov", "pinhole-equidistant", "pinhole-radial-tangential"}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// ParseType maps a configuration string to a Type.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range typeNames {
		if s == n {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Camera maps points in the camera frame to pixels and back.
type Camera interface {
	// Project maps a point in front of the camera to pixel coordinates.
	Project(p r3.Vec) r2.Vec
	// BackProject returns the viewing ray of px scaled to z = 1.
	BackProject(px r2.Vec) r3.Vec
	// ProjectJacobian is d Project / d p.
	ProjectJacobian(p r3.Vec) [2][3]float64
	Width() int
	Height() int
	Type() Type
	Label() string
	// ApproxAnglePerPixel is the viewing angle subtended by one pixel at the
	// image center.
	ApproxAnglePerPixel() float64
}

// BearingModel maps a point in the sensor frame to a unit bearing vector.
type BearingModel interface {
	Bearing(p r3.Vec) r3.Vec
	// BearingJacobian is d Bearing / d p.
	BearingJacobian(p r3.Vec) so3.Mat3
}

// UnitSphere is the central bearing model, b = p/|p|.
type UnitSphere struct{}

func (UnitSphere) Bearing(p r3.Vec) r3.Vec { return r3.Unit(p) }

// BearingJacobian is (I - b b^T)/|p|.
func (UnitSphere) BearingJacobian(p r3.Vec) so3.Mat3 {
	n := r3.Norm(p)
	b := r3.Scale(1/n, p)
	return so3.Identity().Sub(so3.Outer(b, b)).Scale(1 / n)
}

// Bearing back-projects px and normalizes the ray.
func Bearing(c Camera, px r2.Vec) r3.Vec {
	return r3.Unit(c.BackProject(px))
}

// BackProjectAll returns the unit bearings of all keypoints.
func BackProjectAll(c Camera, px []r2.Vec) []r3.Vec {
	out := make([]r3.Vec, len(px))
	for i, k := range px {
		out[i] = Bearing(c, k)
	}
	return out
}

// ProjectAll projects every point.
func ProjectAll(c Camera, pts []r3.Vec) []r2.Vec {
	out := make([]r2.Vec, len(pts))
	for i, p := range pts {
		out[i] = c.Project(p)
	}
	return out
}

// Visible reports whether px lies inside the image with the given margin.
func Visible(c Camera, px r2.Vec, margin float64) bool {
	return px.X >= margin && px.Y >= margin &&
		px.X <= float64(c.Width())-1-margin && px.Y <= float64(c.Height())-1-margin &&
		!math.IsNaN(px.X) && !math.IsNaN(px.Y)
}

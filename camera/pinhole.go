package camera

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// PinholeCamera is a pinhole projection with an optional lens distortion.
type PinholeCamera struct {
	label          string
	width, height  int
	fx, fy, cx, cy float64
	dist           Distortion // nil when undistorted
}

// NewPinhole builds an undistorted pinhole camera.
func NewPinhole(width, height int, fx, fy, cx, cy float64) (*PinholeCamera, error) {
	return NewPinholeDistorted(width, height, fx, fy, cx, cy, nil)
}

func NewPinholeRadTan(width, height int, fx, fy, cx, cy float64, dist RadTan) (*PinholeCamera, error) {
	return NewPinholeDistorted(width, height, fx, fy, cx, cy, dist)
}

// NewPinholeDistorted builds a pinhole camera with any distortion model; nil
// means none.
func NewPinholeDistorted(width, height int, fx, fy, cx, cy float64, dist Distortion) (*PinholeCamera, error) {
	if width <= 0 || height <= 0 || fx <= 0 || fy <= 0 {
		return nil, fmt.Errorf("%w: %dx%d, fx=%g fy=%g", ErrBadParams, width, height, fx, fy)
	}
	if f, ok := dist.(Fov); ok && (f.W <= 0 || f.W >= math.Pi) {
		return nil, fmt.Errorf("%w: fov parameter %g outside (0, pi)", ErrBadParams, f.W)
	}
	return &PinholeCamera{width: width, height: height, fx: fx, fy: fy, cx: cx, cy: cy, dist: dist}, nil
}

func (c *PinholeCamera) SetLabel(l string) { c.label = l }
func (c *PinholeCamera) Label() string     { return c.label }
func (c *PinholeCamera) Width() int        { return c.width }
func (c *PinholeCamera) Height() int       { return c.height }

func (c *PinholeCamera) Type() Type {
	if c.dist == nil {
		return Pinhole
	}
	return c.dist.cameraType()
}

// Intrinsics returns fx, fy, cx, cy.
func (c *PinholeCamera) Intrinsics() [4]float64 { return [4]float64{c.fx, c.fy, c.cx, c.cy} }

func (c *PinholeCamera) Distortion() Distortion { return c.dist }

func (c *PinholeCamera) Project(p r3.Vec) r2.Vec {
	x, y := p.X/p.Z, p.Y/p.Z
	if c.dist != nil {
		x, y = c.dist.distort(x, y)
	}
	return r2.Vec{X: c.fx*x + c.cx, Y: c.fy*y + c.cy}
}

func (c *PinholeCamera) BackProject(px r2.Vec) r3.Vec {
	x, y := (px.X-c.cx)/c.fx, (px.Y-c.cy)/c.fy
	if c.dist != nil {
		x, y = undistort(c.dist, x, y)
	}
	return r3.Vec{X: x, Y: y, Z: 1}
}

func (c *PinholeCamera) ProjectJacobian(p r3.Vec) [2][3]float64 {
	iz := 1 / p.Z
	x, y := p.X*iz, p.Y*iz
	// d(x, y)/dp
	dn := [2][3]float64{
		{iz, 0, -x * iz},
		{0, iz, -y * iz},
	}
	jd := [2][2]float64{{1, 0}, {0, 1}}
	if c.dist != nil {
		jd = c.dist.jacobian(x, y)
	}
	var out [2][3]float64
	for k := 0; k < 3; k++ {
		out[0][k] = c.fx * (jd[0][0]*dn[0][k] + jd[0][1]*dn[1][k])
		out[1][k] = c.fy * (jd[1][0]*dn[0][k] + jd[1][1]*dn[1][k])
	}
	return out
}

func (c *PinholeCamera) ApproxAnglePerPixel() float64 {
	return math.Atan(1 / c.fx)
}

func (c *PinholeCamera) String() string {
	return fmt.Sprintf("%s %q %dx%d f=(%.2f, %.2f) c=(%.2f, %.2f)",
		c.Type(), c.label, c.width, c.height, c.fx, c.fy, c.cx, c.cy)
}

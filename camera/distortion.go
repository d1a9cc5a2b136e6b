package camera

import "math"

// Distortion maps normalized image coordinates to distorted ones. The set of
// models is closed: RadTan, Equidistant and Fov.
type Distortion interface {
	distort(x, y float64) (float64, float64)
	// jacobian is d distort / d (x, y), row major.
	jacobian(x, y float64) [2][2]float64
	params() []float64
	cameraType() Type
}

// RadTan is the radial-tangential (plumb bob) distortion.
type RadTan struct {
	K1, K2, P1, P2 float64
}

func (d RadTan) params() []float64 { return []float64{d.K1, d.K2, d.P1, d.P2} }
func (d RadTan) cameraType() Type  { return PinholeRadialTangential }

func (d RadTan) distort(x, y float64) (float64, float64) {
	rr := x*x + y*y
	radial := 1 + d.K1*rr + d.K2*rr*rr
	return x*radial + 2*d.P1*x*y + d.P2*(rr+2*x*x),
		y*radial + 2*d.P2*x*y + d.P1*(rr+2*y*y)
}

func (d RadTan) jacobian(x, y float64) [2][2]float64 {
	rr := x*x + y*y
	radial := 1 + d.K1*rr + d.K2*rr*rr
	dRadial := 2 * (d.K1 + 2*d.K2*rr)
	return [2][2]float64{
		{radial + x*x*dRadial + 2*d.P1*y + 6*d.P2*x, x*y*dRadial + 2*d.P1*x + 2*d.P2*y},
		{x*y*dRadial + 2*d.P2*y + 2*d.P1*x, radial + y*y*dRadial + 2*d.P2*x + 6*d.P1*y},
	}
}

// Equidistant is the fisheye model theta_d = theta (1 + k1 theta^2 + k2 theta^4
// + k3 theta^6 + k4 theta^8), theta the angle of the ray to the optical axis.
type Equidistant struct {
	K1, K2, K3, K4 float64
}

func (d Equidistant) params() []float64 { return []float64{d.K1, d.K2, d.K3, d.K4} }
func (d Equidistant) cameraType() Type  { return PinholeEquidistant }

func (d Equidistant) scale(r float64) (float64, float64) {
	if r < 1e-4 {
		c := d.K1 - 1.0/3
		return 1 + c*r*r, 2 * c
	}
	th := math.Atan(r)
	t2 := th * th
	thd := th * (1 + t2*(d.K1+t2*(d.K2+t2*(d.K3+t2*d.K4))))
	dThd := 1 + t2*(3*d.K1+t2*(5*d.K2+t2*(7*d.K3+t2*9*d.K4)))
	ds := (dThd*r/(1+r*r) - thd) / (r * r)
	return thd / r, ds / r
}

func (d Equidistant) distort(x, y float64) (float64, float64) { return radialDistort(d, x, y) }
func (d Equidistant) jacobian(x, y float64) [2][2]float64     { return radialJacobian(d, x, y) }

// Fov is the field-of-view model r_d = atan(2 r tan(W/2)) / W.
type Fov struct {
	W float64
}

func (d Fov) params() []float64 { return []float64{d.W} }
func (d Fov) cameraType() Type  { return PinholeFov }

func (d Fov) scale(r float64) (float64, float64) {
	a := 2 * math.Tan(d.W/2)
	if r < 1e-4 {
		c := -a * a * a / (3 * d.W)
		return a/d.W + c*r*r, 2 * c
	}
	at := math.Atan(a * r)
	ds := (a*r/(1+a*a*r*r) - at) / (d.W * r * r)
	return at / (d.W * r), ds / r
}

func (d Fov) distort(x, y float64) (float64, float64) { return radialDistort(d, x, y) }
func (d Fov) jacobian(x, y float64) [2][2]float64     { return radialJacobian(d, x, y) }

// radial models scale (x, y) by s(r). scale returns s and (ds/dr)/r.
type radial interface {
	scale(r float64) (float64, float64)
}

func radialDistort(m radial, x, y float64) (float64, float64) {
	s, _ := m.scale(math.Hypot(x, y))
	return s * x, s * y
}

func radialJacobian(m radial, x, y float64) [2][2]float64 {
	s, g := m.scale(math.Hypot(x, y))
	return [2][2]float64{
		{s + g*x*x, g * x * y},
		{g * x * y, s + g*y*y},
	}
}

// undistort inverts d with Newton iterations started at the distorted point.
func undistort(d Distortion, xd, yd float64) (float64, float64) {
	const (
		maxIterations = 30
		tolerance     = 1e-12
	)
	x, y := xd, yd
	for i := 0; i < maxIterations; i++ {
		ex, ey := d.distort(x, y)
		ex, ey = ex-xd, ey-yd
		if ex*ex+ey*ey < tolerance*tolerance {
			break
		}
		j := d.jacobian(x, y)
		det := j[0][0]*j[1][1] - j[0][1]*j[1][0]
		if det == 0 {
			break
		}
		x -= (j[1][1]*ex - j[0][1]*ey) / det
		y -= (-j[1][0]*ex + j[0][0]*ey) / det
	}
	return x, y
}

package camera

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

func testCameras(t *testing.T) []*PinholeCamera {
	t.Helper()
	plain, err := NewPinhole(640, 480, 329.11, 329.11, 320, 240)
	require.NoError(t, err)
	distorted, err := NewPinholeRadTan(752, 480, 458.6, 457.3, 367.2, 248.4,
		RadTan{K1: -0.28, K2: 0.07, P1: 2e-4, P2: 1.8e-5})
	require.NoError(t, err)
	fisheye, err := NewPinholeDistorted(512, 512, 300, 300, 254.9, 256.9,
		Equidistant{K1: 3.48e-3, K2: 7.15e-4, K3: -2.05e-3, K4: 2.03e-4})
	require.NoError(t, err)
	fov, err := NewPinholeDistorted(640, 480, 300, 300, 320, 240, Fov{W: 0.9})
	require.NoError(t, err)
	return []*PinholeCamera{plain, distorted, fisheye, fov}
}

func TestProjectBackProjectRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	for _, cam := range testCameras(t) {
		t.Run(cam.Type().String(), func(t *testing.T) {
			for _, px := range RandomKeypoints(cam, 200, 20, rng) {
				ray := cam.BackProject(px)
				assert.InDelta(t, 1, ray.Z, 0)
				got := cam.Project(r3.Scale(2.5, ray))
				assert.InDelta(t, px.X, got.X, 1e-6)
				assert.InDelta(t, px.Y, got.Y, 1e-6)
			}
		})
	}
}

func TestProjectJacobianFiniteDifference(t *testing.T) {
	const h = 1e-6
	p := r3.Vec{X: 0.3, Y: -0.2, Z: 1.7}
	for _, cam := range testCameras(t) {
		j := cam.ProjectJacobian(p)
		for k := 0; k < 3; k++ {
			var d [3]float64
			d[k] = h
			step := r3.Vec{X: d[0], Y: d[1], Z: d[2]}
			plus := cam.Project(r3.Add(p, step))
			minus := cam.Project(r3.Sub(p, step))
			assert.InDelta(t, (plus.X-minus.X)/(2*h), j[0][k], 1e-4, "%s du/dp%d", cam.Type(), k)
			assert.InDelta(t, (plus.Y-minus.Y)/(2*h), j[1][k], 1e-4, "%s dv/dp%d", cam.Type(), k)
		}
	}
}

func TestUnitSphereJacobian(t *testing.T) {
	const h = 1e-6
	var s UnitSphere
	p := r3.Vec{X: -0.4, Y: 0.9, Z: 2.1}
	assert.InDelta(t, 1, r3.Norm(s.Bearing(p)), 1e-15)
	j := s.BearingJacobian(p)
	for k := 0; k < 3; k++ {
		var d [3]float64
		d[k] = h
		step := r3.Vec{X: d[0], Y: d[1], Z: d[2]}
		fd := r3.Scale(1/(2*h), r3.Sub(s.Bearing(r3.Add(p, step)), s.Bearing(r3.Sub(p, step))))
		assert.InDelta(t, fd.X, j[0][k], 1e-8)
		assert.InDelta(t, fd.Y, j[1][k], 1e-8)
		assert.InDelta(t, fd.Z, j[2][k], 1e-8)
	}
}

func TestRandomLandmarksAreVisible(t *testing.T) {
	cam := testCameras(t)[0]
	bearings, points := RandomLandmarks(cam, 50, 1, 3, rand.New(rand.NewPCG(4, 2)))
	require.Len(t, points, 50)
	for i, p := range points {
		assert.InDelta(t, 1, r3.Norm(bearings[i]), 1e-12)
		d := r3.Norm(p)
		assert.True(t, d >= 1 && d <= 3, "depth %f", d)
		assert.True(t, Visible(cam, cam.Project(p), 0))
	}
	assert.False(t, Visible(cam, r2.Vec{X: -1, Y: 10}, 0))
}

func TestYAMLRoundTrip(t *testing.T) {
	for _, cam := range testCameras(t) {
		cam.SetLabel("cam0")
		path := filepath.Join(t.TempDir(), "camera.yaml")
		data, err := yaml.Marshal(ConfigOf(cam))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0o644))

		got, err := LoadYAML(path)
		require.NoError(t, err)
		if diff := cmp.Diff(cam, got, cmp.AllowUnexported(PinholeCamera{}), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
			t.Fatalf("camera mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte("type: fisheye\nintrinsics: [1, 1, 0, 0]\n"))
	assert.True(t, errors.Is(err, ErrUnknownType))

	_, err = Decode([]byte("type: pinhole-equidistant\nwidth: 10\nheight: 10\nintrinsics: [1, 1, 0, 0]\n"))
	assert.True(t, errors.Is(err, ErrBadParams))

	_, err = Decode([]byte("type: pinhole-fov\nwidth: 10\nheight: 10\nintrinsics: [1, 1, 0, 0]\ndistortion: [0]\n"))
	assert.True(t, errors.Is(err, ErrBadParams))

	_, err = Decode([]byte("type: pinhole\nwidth: 10\nheight: 10\nintrinsics: [1, 1, 0]\n"))
	assert.True(t, errors.Is(err, ErrBadParams))

	_, err = Decode([]byte("type: pinhole\nwidth: 0\nheight: 10\nintrinsics: [1, 1, 0, 0]\n"))
	assert.True(t, errors.Is(err, ErrBadParams))
}

func TestDecodeDistortionModels(t *testing.T) {
	cases := []struct {
		doc  string
		want Type
	}{
		{"type: pinhole-equidistant\ndistortion: [0.01, 0, 0, 0]\n", PinholeEquidistant},
		{"type: pinhole-fov\ndistortion: [0.9]\n", PinholeFov},
		{"type: pinhole-radial-tangential\ndistortion: [0.1, 0, 0, 0]\n", PinholeRadialTangential},
	}
	for _, tc := range cases {
		cam, err := Decode([]byte("width: 640\nheight: 480\nintrinsics: [300, 300, 320, 240]\n" + tc.doc))
		require.NoError(t, err)
		assert.Equal(t, tc.want, cam.Type())
	}
}

func TestRadialModelsNearCenter(t *testing.T) {
	// both radial models stay smooth through the optical axis
	for _, d := range []Distortion{Equidistant{K1: 0.02, K2: -0.01}, Fov{W: 0.8}} {
		j0 := d.jacobian(0, 0)
		j1 := d.jacobian(2e-4, 0)
		assert.InDelta(t, j0[0][0], j1[0][0], 1e-6, "%s", d.cameraType())
		assert.InDelta(t, j0[1][1], j1[1][1], 1e-6, "%s", d.cameraType())
		x, y := undistort(d, 0.3, -0.4)
		xd, yd := d.distort(x, y)
		assert.InDelta(t, 0.3, xd, 1e-12)
		assert.InDelta(t, -0.4, yd, 1e-12)
	}
}

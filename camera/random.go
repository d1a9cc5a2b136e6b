package camera

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// RandomKeypoints draws n pixel positions uniformly inside the image,
// keeping margin pixels away from the border.
func RandomKeypoints(c Camera, n int, margin float64, rng *rand.Rand) []r2.Vec {
	w := float64(c.Width()) - 1 - 2*margin
	h := float64(c.Height()) - 1 - 2*margin
	out := make([]r2.Vec, n)
	for i := range out {
		out[i] = r2.Vec{X: margin + rng.Float64()*w, Y: margin + rng.Float64()*h}
	}
	return out
}

// RandomLandmarks back-projects random keypoints to depths in
// [minDepth, maxDepth] along their bearings. It returns the unit bearings and
// the points in the camera frame.
func RandomLandmarks(c Camera, n int, minDepth, maxDepth float64, rng *rand.Rand) ([]r3.Vec, []r3.Vec) {
	bearings := BackProjectAll(c, RandomKeypoints(c, n, 10, rng))
	points := make([]r3.Vec, n)
	for i, b := range bearings {
		points[i] = r3.Scale(minDepth+rng.Float64()*(maxDepth-minDepth), b)
	}
	return bearings, points
}

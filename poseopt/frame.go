package poseopt

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"vio-engine-go/so3"
)

// FrameData is one sensor frame of correspondences: unit bearings in the
// sensor frame, the index-aligned landmarks in the world frame and the fixed
// body-to-sensor transform T_C_B.
type FrameData struct {
	bearings  []r3.Vec
	landmarks []r3.Vec
	tCB       so3.Transform
}

// NewFrameData copies and validates its inputs. Bearings are renormalized.
func NewFrameData(bearings, landmarks []r3.Vec, tCB so3.Transform) (FrameData, error) {
	if len(bearings) != len(landmarks) {
		return FrameData{}, fmt.Errorf("%w: %d bearings, %d landmarks", ErrBadFrame, len(bearings), len(landmarks))
	}
	if !so3.IsRotation(tCB.R, 1e-6) {
		return FrameData{}, fmt.Errorf("%w: T_C_B rotation is not orthonormal", ErrBadFrame)
	}
	f := FrameData{
		bearings:  make([]r3.Vec, len(bearings)),
		landmarks: make([]r3.Vec, len(landmarks)),
		tCB:       tCB,
	}
	for i, b := range bearings {
		n := r3.Norm(b)
		if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
			return FrameData{}, fmt.Errorf("%w: bearing %d is degenerate", ErrBadFrame, i)
		}
		f.bearings[i] = r3.Scale(1/n, b)
	}
	copy(f.landmarks, landmarks)
	return f, nil
}

func (f FrameData) Len() int                      { return len(f.bearings) }
func (f FrameData) Bearing(i int) r3.Vec          { return f.bearings[i] }
func (f FrameData) Landmark(i int) r3.Vec         { return f.landmarks[i] }
func (f FrameData) SensorFromBody() so3.Transform { return f.tCB }

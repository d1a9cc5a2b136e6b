// Package stream turns a live sample stream plus keyframe markers into
// pre-integrated keyframe intervals.
package stream

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"vio-engine-go/imu"
	"vio-engine-go/monitoring"
	"vio-engine-go/preint"
	"vio-engine-go/so3"
)

var ErrStaleKeyframe = errors.New("stream: keyframe not after the previous one")

// Result describes one completed keyframe interval.
type Result struct {
	Source uint32   `json:"source"`
	Seq    uint16   `json:"seq"`
	From   float64  `json:"from"`
	Time   float64  `json:"time"`
	Steps  int      `json:"steps"`
	DeltaR so3.Mat3 `json:"delta_r"`
	R      so3.Mat3 `json:"r"`
	Cov    so3.Mat3 `json:"cov"`
}

// Pipeline buffers the samples of one source. Every keyframe marker after
// the first closes the interval since the previous marker and pushes it into
// the pre-integrator. Pipeline is safe for concurrent use.
type Pipeline struct {
	mu     sync.Mutex
	source uint32
	buf    *imu.Buffer
	pi     preint.PreIntegrator
	bias   r3.Vec

	seq     uint16
	lastKF  float64
	started bool
}

// NewPipeline builds a pipeline on a fresh pre-integrator from factory. The
// gyro bias is subtracted from every sample before integration.
func NewPipeline(source uint32, factory *preint.Factory, capacity int, bias r3.Vec) *Pipeline {
	return &Pipeline{
		source: source,
		buf:    imu.NewBuffer(capacity),
		pi:     factory.Get(),
		bias:   bias,
	}
}

func (p *Pipeline) Source() uint32 { return p.source }

// Insert buffers one sample.
func (p *Pipeline) Insert(s imu.Sample) error {
	return p.buf.Insert(s)
}

// Keyframe marks a keyframe at t. The first marker only opens an interval and
// returns a nil Result.
func (p *Pipeline) Keyframe(t float64) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		p.started = true
		p.lastKF = t
		p.buf.DropBefore(t)
		return nil, nil
	}
	if t <= p.lastKF {
		return nil, fmt.Errorf("%w: %.6f after %.6f", ErrStaleKeyframe, t, p.lastKF)
	}

	stamps, samples, err := p.buf.Between(p.lastKF, t)
	if err != nil {
		return nil, fmt.Errorf("stream: source %08X: %w", p.source, err)
	}
	gyro := imu.Gyros(samples)
	for i := range gyro {
		gyro[i] = r3.Sub(gyro[i], p.bias)
	}
	if err := p.pi.PushInterval(stamps, gyro); err != nil {
		return nil, fmt.Errorf("stream: source %08X: %w", p.source, err)
	}

	st := p.pi.State()
	kf := st.Keyframes()[st.NumKeyframes()-1]
	res := &Result{
		Source: p.source,
		Seq:    p.seq,
		From:   p.lastKF,
		Time:   t,
		Steps:  len(stamps) - 1,
		DeltaR: kf.DeltaR,
		R:      kf.R,
		Cov:    kf.Cov,
	}
	monitoring.Debugf("stream %08X: keyframe %d [%.3f, %.3f] %d steps", p.source, p.seq, p.lastKF, t, res.Steps)

	p.seq++
	p.lastKF = t
	p.buf.DropBefore(t)
	return res, nil
}

// State exposes the pre-integration tables. Callers must not modify them
// while samples are flowing.
func (p *Pipeline) State() *preint.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pi.State()
}

package poseopt

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Loss selects the robust weighting of bearing residuals.
type Loss int

const (
	LossNone Loss = iota
	LossHuber
	LossTukey
)

const (
	huberK = 1.345
	tukeyC = 4.685
	// madToSigma converts a median absolute deviation to a Gaussian sigma.
	madToSigma = 1.4826
)

func (l Loss) String() string {
	switch l {
	case LossNone:
		return "none"
	case LossHuber:
		return "huber"
	case LossTukey:
		return "tukey"
	}
	return fmt.Sprintf("Loss(%d)", int(l))
}

// ParseLoss maps a configuration string to a Loss.
func ParseLoss(s string) (Loss, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return LossNone, nil
	case "huber":
		return LossHuber, nil
	case "tukey":
		return LossTukey, nil
	}
	return 0, fmt.Errorf("poseopt: unknown robust loss %q", s)
}

// rho is the loss of a residual already divided by the scale, normalized so
// that rho(r) = r^2 near zero.
func (l Loss) rho(r float64) float64 {
	r = math.Abs(r)
	switch l {
	case LossHuber:
		if r <= huberK {
			return r * r
		}
		return 2*huberK*r - huberK*huberK
	case LossTukey:
		c2 := tukeyC * tukeyC / 3
		if r >= tukeyC {
			return c2
		}
		u := 1 - (r/tukeyC)*(r/tukeyC)
		return c2 * (1 - u*u*u)
	}
	return r * r
}

// weight is the IRLS weight rho'(r)/(2r) of a scaled residual.
func (l Loss) weight(r float64) float64 {
	r = math.Abs(r)
	switch l {
	case LossHuber:
		if r <= huberK {
			return 1
		}
		return huberK / r
	case LossTukey:
		if r >= tukeyC {
			return 0
		}
		u := 1 - (r/tukeyC)*(r/tukeyC)
		return u * u
	}
	return 1
}

// madScale estimates the residual sigma from the median absolute residual
// norm (residuals are zero mean), floored at minScale.
func madScale(norms []float64, minScale float64) float64 {
	if len(norms) == 0 {
		return minScale
	}
	s := slices.Clone(norms)
	slices.Sort(s)
	return max(madToSigma*median(s), minScale)
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return 0.5 * (sorted[n/2-1] + sorted[n/2])
}

package montecarlo

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"vio-engine-go/so3"
)

// SavePlot renders the diagonal of the analytic and empirical D_R_i_k
// covariances over time. The format follows the file extension.
func (m *Runner) SavePlot(path string) error {
	if m.cov == nil {
		return ErrNotSimulated
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Pre-integration covariance, run %s", m.id.String()[:8])
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Variance (rad^2)"

	axes := []string{"x", "y", "z"}
	colors := []color.RGBA{
		{R: 200, A: 255},
		{G: 160, A: 255},
		{B: 200, A: 255},
	}
	for k := range axes {
		analytic, err := plotter.NewLine(m.series(m.analytic, k))
		if err != nil {
			return err
		}
		analytic.Color = colors[k]
		analytic.Width = vg.Points(1.5)

		empirical, err := plotter.NewLine(m.series(m.cov, k))
		if err != nil {
			return err
		}
		empirical.Color = colors[k]
		empirical.Width = vg.Points(1)
		empirical.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

		p.Add(analytic, empirical)
		p.Legend.Add("analytic "+axes[k], analytic)
		p.Legend.Add("monte-carlo "+axes[k], empirical)
	}
	p.Legend.Top = true
	p.Legend.Left = true
	p.Add(plotter.NewGrid())

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("montecarlo: saving plot %s: %w", path, err)
	}
	return nil
}

func (m *Runner) series(covs []so3.Mat3, k int) plotter.XYs {
	pts := make(plotter.XYs, len(covs))
	for i, c := range covs {
		pts[i] = plotter.XY{X: m.times[i], Y: c[k][k]}
	}
	return pts
}

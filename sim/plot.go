package sim

import (
	"fmt"
	"image/color"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// NewTrajectoryPlot plots true, dead reckoning and estimated trajectories of res
// together with the landmarks and returns the plot.
func NewTrajectoryPlot(res *Result, landmarks Landmarks) (*plot.Plot, error) {
	if res == nil {
		return nil, fmt.Errorf("invalid simulation result")
	}

	p, err := plot.New()
	if err != nil {
		return nil, err
	}
	p.Title.Text = "Particle Filter Localization"
	p.X.Label.Text = "x [m]"
	p.Y.Label.Text = "y [m]"

	lines := []struct {
		name  string
		data  *mat.Dense
		color color.RGBA
	}{
		{"truth", res.Truth, color.RGBA{B: 255, A: 255}},
		{"dead reckoning", res.DeadReckoning, color.RGBA{A: 255}},
		{"estimate", res.Estimate, color.RGBA{R: 255, A: 255}},
	}

	for _, l := range lines {
		line, err := plotter.NewLine(makePoints(l.data))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s line: %w", l.name, err)
		}
		line.LineStyle.Color = l.color
		line.LineStyle.Width = vg.Points(1)

		p.Add(line)
		p.Legend.Add(l.name, line)
	}

	lmPts := make(plotter.XYs, len(landmarks))
	for i, lm := range landmarks {
		lmPts[i].X, lmPts[i].Y = lm.X, lm.Y
	}

	lmScatter, err := plotter.NewScatter(lmPts)
	if err != nil {
		return nil, fmt.Errorf("failed to create landmark scatter: %w", err)
	}
	lmScatter.GlyphStyle.Color = color.RGBA{G: 160, A: 255}
	lmScatter.Shape = draw.CrossGlyph{}
	lmScatter.GlyphStyle.Radius = vg.Points(4)

	p.Add(lmScatter)
	p.Legend.Add("landmarks", lmScatter)

	return p, nil
}

func makePoints(m *mat.Dense) plotter.XYs {
	r, _ := m.Dims()
	pts := make(plotter.XYs, r)
	for i := 0; i < r; i++ {
		pts[i].X = m.At(i, 0)
		pts[i].Y = m.At(i, 1)
	}

	return pts
}

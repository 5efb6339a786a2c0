package report

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// WritePlots saves one PNG per statistic next to path: "run.png" becomes
// "run_nees.png" and "run_nis.png". It returns the written file names.
func WritePlots(path string, series []Series) ([]string, error) {
	names, groups := byName(series)
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	if ext == "" {
		ext = ".png"
	}

	var written []string
	for _, name := range names {
		p, err := newPlot(name, groups[name])
		if err != nil {
			return written, fmt.Errorf("%s plot: %w", name, err)
		}
		file := fmt.Sprintf("%s_%s%s", base, strings.ToLower(name), ext)
		if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
			return written, fmt.Errorf("failed to save %s: %w", file, err)
		}
		written = append(written, file)
	}
	return written, nil
}

func newPlot(name string, series []Series) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s per step", name)
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = name

	for i, s := range series {
		pts := make(plotter.XYs, 0, len(s.Points))
		for _, pt := range s.Points {
			if math.IsNaN(pt.Y) || math.IsInf(pt.Y, 0) {
				continue
			}
			pts = append(pts, plotter.XY{X: pt.X, Y: pt.Y})
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("%s (%s)", s.TrackID, s.Summary.Verdict), line)

		// Expected value and acceptance interval of the mean.
		for _, level := range []float64{float64(s.Summary.DOF), s.Summary.Lower, s.Summary.Upper} {
			if s.Summary.DOF == 0 || math.IsNaN(level) {
				continue
			}
			y := level
			ref := plotter.NewFunction(func(float64) float64 { return y })
			ref.Color = plotutil.Color(i)
			ref.Width = vg.Points(0.5)
			ref.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
			p.Add(ref)
		}
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

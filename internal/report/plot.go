package report

import (
	"errors"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	telemetry "outlier-monitor/internal/telemetry/domain"
)

var (
	seriesColor  = color.RGBA{R: 0x2b, G: 0x2b, B: 0x2b, A: 0xff}
	outlierColor = color.RGBA{R: 0xd9, G: 0x5f, B: 0x02, A: 0xff}
)

// RenderPlot draws every sensor series with outlier segments highlighted
// and writes a PNG to path.
func RenderPlot(series []telemetry.Series, path string) error {
	if len(series) == 0 {
		return errors.New("report: no series to plot")
	}
	if path == "" {
		return errors.New("report: empty plot path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	p := plot.New()
	p.X.Label.Text = "timestamp"
	p.Y.Label.Text = "temperature [degC]"
	p.X.Tick.Marker = plot.TimeTicks{Format: "01-02 15:04"}

	legendDone := false
	for _, s := range series {
		if s.Len() == 0 {
			continue
		}
		normal, err := plotter.NewLine(seriesPoints(s))
		if err != nil {
			return err
		}
		normal.LineStyle.Color = seriesColor
		normal.LineStyle.Width = vg.Points(0.75)
		normal.LineStyle.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
		p.Add(normal)
		if !legendDone {
			p.Legend.Add("temperature", normal)
		}

		for _, segment := range outlierSegments(s) {
			line, err := plotter.NewLine(segment)
			if err != nil {
				return err
			}
			line.LineStyle.Color = outlierColor
			line.LineStyle.Width = vg.Points(1.5)
			p.Add(line)
			if !legendDone {
				p.Legend.Add("outlier", line)
				legendDone = true
			}
		}
		if !legendDone {
			legendDone = true
		}
	}

	return p.Save(10*vg.Inch, 4*vg.Inch, path)
}

// seriesPoints returns the full series as XY points.
func seriesPoints(s telemetry.Series) plotter.XYs {
	pts := make(plotter.XYs, 0, s.Len())
	for i := range s.Times {
		pts = append(pts, plotter.XY{
			X: float64(s.Times[i].Unix()),
			Y: s.Values[i],
		})
	}
	return pts
}

// outlierSegments returns one point run per contiguous flagged stretch so
// highlighted segments do not connect across clean data.
func outlierSegments(s telemetry.Series) []plotter.XYs {
	var segments []plotter.XYs
	var current plotter.XYs
	for i := range s.Times {
		if s.Outlier[i] {
			current = append(current, plotter.XY{
				X: float64(s.Times[i].Unix()),
				Y: s.Values[i],
			})
			continue
		}
		if len(current) > 0 {
			segments = append(segments, current)
			current = nil
		}
	}
	if len(current) > 0 {
		segments = append(segments, current)
	}
	return segments
}

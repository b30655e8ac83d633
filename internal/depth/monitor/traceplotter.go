// Package monitor renders scalar channel traces to PNG for eyeballing an
// extraction run. Plots are a debugging aid, not part of the result set.
package monitor

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/depth.extract/internal/depth"
)

// traceGroup is one output PNG: a set of channels sharing a y axis.
type traceGroup struct {
	file    string
	title   string
	yLabel  string
	channel []string
}

var traceGroups = []traceGroup{
	{"centroid_px.png", "Centroid (px)", "Pixels", []string{"centroid_x_px", "centroid_y_px"}},
	{"centroid_mm.png", "Centroid (mm)", "Millimetres", []string{"centroid_x_mm", "centroid_y_mm"}},
	{"velocity_mm.png", "Velocity (mm/frame)", "Millimetres", []string{"velocity_2d_mm", "velocity_3d_mm"}},
	{"size_mm.png", "Body Size (mm)", "Millimetres", []string{"width_mm", "length_mm", "height_ave_mm"}},
	{"area.png", "Area", "Pixels / mm²", []string{"area_px", "area_mm"}},
	{"angle.png", "Orientation", "Radians", []string{"angle", "velocity_theta"}},
}

var traceColors = []color.Color{
	color.RGBA{R: 31, G: 119, B: 180, A: 255},
	color.RGBA{R: 255, G: 127, B: 14, A: 255},
	color.RGBA{R: 44, G: 160, B: 44, A: 255},
}

// PlotScalars writes one PNG per channel group under outputDir and returns
// the number of plots generated. NaN samples (frames with no subject) are
// left out of the traces.
func PlotScalars(s *depth.ScalarFeatures, fps float64, outputDir string) (int, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create output dir: %w", err)
	}
	if fps <= 0 {
		fps = 30
	}

	channels := s.Channels()
	count := 0
	for _, g := range traceGroups {
		p := plot.New()
		p.Title.Text = g.title
		p.X.Label.Text = "Time (s)"
		p.Y.Label.Text = g.yLabel

		added := 0
		for i, name := range g.channel {
			series, ok := channels[name]
			if !ok {
				continue
			}
			pts := make(plotter.XYs, 0, len(series))
			for j, v := range series {
				if math.IsNaN(v) {
					continue
				}
				pts = append(pts, plotter.XY{X: float64(j) / fps, Y: v})
			}
			if len(pts) == 0 {
				continue
			}
			line, err := plotter.NewLine(pts)
			if err != nil {
				return count, err
			}
			line.Color = traceColors[i%len(traceColors)]
			line.Width = vg.Points(1)
			p.Add(line)
			p.Legend.Add(name, line)
			added++
		}
		if added == 0 {
			continue
		}

		p.Legend.Top = true
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10

		file := filepath.Join(outputDir, g.file)
		if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
			return count, fmt.Errorf("save %s: %w", g.file, err)
		}
		count++
	}
	return count, nil
}

// MakePlotOutputDir returns a timestamped plot directory for a recording:
// plots/<recording_basename>/<timestamp>.
func MakePlotOutputDir(baseDir, recording string) string {
	ts := time.Now().Format("20060102_150405")
	if recording != "" {
		base := filepath.Base(recording)
		ext := filepath.Ext(base)
		return filepath.Join(baseDir, base[:len(base)-len(ext)], ts)
	}
	return filepath.Join(baseDir, "run_"+ts)
}

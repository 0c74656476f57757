package telemetry

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/navfusion/internal/ekf"
)

// Ratios are clipped here so a single rejected outlier does not flatten
// the rest of the plot.
const maxPlottedRatio = 10.0

var channelColors = [ekf.NumChannels]color.Color{
	color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 255},
	color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 255},
	color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 255},
	color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 255},
	color.RGBA{R: 0x94, G: 0x67, B: 0xbd, A: 255},
	color.RGBA{R: 0x8c, G: 0x56, B: 0x4b, A: 255},
}

// SaveTestRatioPlot writes a PNG of the per-channel test ratios in snaps,
// with the gate threshold drawn at 1.
func SaveTestRatioPlot(path string, snaps []ekf.DebugSnapshot) error {
	if len(snaps) == 0 {
		return fmt.Errorf("plot test ratios: no snapshots")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create plot dir: %w", err)
		}
	}

	p := plot.New()
	p.Title.Text = "Innovation test ratios"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Test ratio"
	p.Y.Min = 0

	t0 := snaps[0].TimeUS
	for ch := ekf.ChanVelN; ch < ekf.NumChannels; ch++ {
		pts := make(plotter.XYs, 0, len(snaps))
		for _, s := range snaps {
			r := s.TestRatio[ch]
			if math.IsNaN(r) || r == 0 {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(s.TimeUS-t0) / 1e6, Y: math.Min(r, maxPlottedRatio)})
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = channelColors[ch]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(ch.String(), line)
	}

	gate, err := plotter.NewLine(plotter.XYs{
		{X: 0, Y: 1},
		{X: float64(snaps[len(snaps)-1].TimeUS-t0) / 1e6, Y: 1},
	})
	if err != nil {
		return err
	}
	gate.Color = color.Gray{Y: 0x80}
	gate.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	p.Add(gate)
	p.Legend.Add("gate", gate)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	return nil
}

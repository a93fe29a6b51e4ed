package telemetry

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var ErrNoSamples = errors.New("telemetry: no samples recorded")

// WritePlot renders depth and high-water lines for every series into a single image
// The format follows the file extension (png, svg, pdf)
func (r *Recorder) WritePlot(path string, threshold float64) error {
	series := r.Series()
	start := r.Start()

	total := 0
	for _, s := range series {
		total += len(s.Samples)
	}
	if total == 0 {
		return ErrNoSamples
	}

	p := plot.New()
	p.Title.Text = "Penetration depth"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Depth"

	colors := palette(len(series))
	for i, s := range series {
		if len(s.Samples) == 0 {
			continue
		}
		depth := make(plotter.XYs, 0, len(s.Samples))
		high := make(plotter.XYs, 0, len(s.Samples))
		for _, smp := range s.Samples {
			x := smp.At.Sub(start).Seconds()
			depth = append(depth, plotter.XY{X: x, Y: smp.Depth})
			high = append(high, plotter.XY{X: x, Y: threshold + smp.HighWater})
		}

		depthLine, err := plotter.NewLine(depth)
		if err != nil {
			return err
		}
		depthLine.Color = colors[i]
		depthLine.Width = vg.Points(1)
		p.Add(depthLine)
		p.Legend.Add(s.Label, depthLine)

		highLine, err := plotter.NewLine(high)
		if err != nil {
			return err
		}
		highLine.Color = colors[i]
		highLine.Width = vg.Points(0.5)
		highLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(highLine)
	}

	// Activation threshold as a horizontal guide
	guide := plotter.NewFunction(func(float64) float64 { return threshold })
	guide.Color = color.Gray{Y: 128}
	guide.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
	p.Add(guide)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create plot dir: %w", err)
		}
	}
	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}

// palette spreads n hues evenly around the color wheel
func palette(n int) []color.Color {
	out := make([]color.Color, n)
	for i := range out {
		r, g, b := hslToRGB(float64(i)/float64(max(n, 1)), 0.7, 0.45)
		out[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return out
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	conv := func(t float64) uint8 {
		switch {
		case t < 0:
			t++
		case t > 1:
			t--
		}
		var v float64
		switch {
		case t < 1.0/6:
			v = p + (q-p)*6*t
		case t < 0.5:
			v = q
		case t < 2.0/3:
			v = p + (q-p)*(2.0/3-t)*6
		default:
			v = p
		}
		return uint8(v * 255)
	}
	return conv(h + 1.0/3), conv(h), conv(h - 1.0/3)
}

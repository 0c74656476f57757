package telemetry

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/navfusion/internal/ekf"
)

// RenderInnovationReport writes an HTML page with one chart each for
// innovations, test ratios and height measurements across snaps. The page
// is rendered in full before anything is written to w.
func RenderInnovationReport(w io.Writer, title string, snaps []ekf.DebugSnapshot) error {
	if len(snaps) == 0 {
		return fmt.Errorf("render report: no snapshots")
	}

	x := make([]string, len(snaps))
	t0 := snaps[0].TimeUS
	for i, s := range snaps {
		x[i] = fmt.Sprintf("%.2f", float64(s.TimeUS-t0)/1e6)
	}

	innov := newLineChart(title, "Innovations", "innovation", x)
	ratio := newLineChart(title, "Test ratios (>1 rejected)", "ratio", x)
	for ch := ekf.ChanVelN; ch < ekf.NumChannels; ch++ {
		innov.AddSeries(ch.String(), channelSeries(snaps, func(s ekf.DebugSnapshot) float64 { return s.Innov[ch] }))
		ratio.AddSeries(ch.String(), channelSeries(snaps, func(s ekf.DebugSnapshot) float64 { return s.TestRatio[ch] }))
	}

	height := newLineChart(title, "Height (down axis)", "m", x)
	height.AddSeries("pos_d_estimate", channelSeries(snaps, func(s ekf.DebugSnapshot) float64 { return s.PosDEstimate }))
	height.AddSeries("baro_measurement_d", channelSeries(snaps, func(s ekf.DebugSnapshot) float64 { return s.BaroMeasurementD }))
	height.AddSeries("range_measurement_d", channelSeries(snaps, func(s ekf.DebugSnapshot) float64 { return s.RangeMeasurementD }))

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(innov, ratio, height)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func newLineChart(pageTitle, title, yName string, x []string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: pageTitle, Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	line.SetXAxis(x)
	return line
}

// Non-finite samples become gaps.
func channelSeries(snaps []ekf.DebugSnapshot, value func(ekf.DebugSnapshot) float64) []opts.LineData {
	data := make([]opts.LineData, len(snaps))
	for i, s := range snaps {
		v := value(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			data[i] = opts.LineData{Value: "-"}
			continue
		}
		data[i] = opts.LineData{Value: v}
	}
	return data
}

package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/neurallap/companion/pkg/core"
)

// RenderChart writes an HTML speed-trace chart for r.
func RenderChart(w io.Writer, r core.LapReport) error {
	x := make([]string, TraceSamples)
	for i := range x {
		x[i] = strconv.Itoa(i)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: fmt.Sprintf("Lap %d", r.Lap), Theme: "dark", Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Lap %d  %s", r.Lap, r.LapTime), Subtitle: fmt.Sprintf("source=%s score=%d", r.Source, r.PilotScore)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "% lap", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "km/h", NameLocation: "middle", NameGap: 40}),
	)

	line.SetXAxis(x).AddSeries("You", lineData(r.Traces.SpeedYou))
	if len(r.Traces.SpeedRef) > 0 {
		line.AddSeries("Reference", lineData(r.Traces.SpeedRef))
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return fmt.Errorf("render lap %d chart: %w", r.Lap, err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteChart renders r into dir and returns the file path.
func WriteChart(dir string, r core.LapReport) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create chart dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("lap-%s-%03d-%s.html", r.Source, r.Lap, r.Time.Format("20060102-150405")))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create chart file: %w", err)
	}
	defer f.Close()

	if err := RenderChart(f, r); err != nil {
		return "", err
	}
	return path, nil
}

func lineData(values []float64) []opts.LineData {
	data := make([]opts.LineData, len(values))
	for i, v := range values {
		data[i] = opts.LineData{Value: v}
	}
	return data
}

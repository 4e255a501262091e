package ledger

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// ErrNotEnoughRows is returned when fewer than two rows are available to plot.
var ErrNotEnoughRows = errors.New("not enough rows to chart")

// ChartOptions controls the rendered chart.
type ChartOptions struct {
	Title  string
	Width  int
	Height int
}

// DefaultChartOptions returns a 1280x720 chart.
func DefaultChartOptions() ChartOptions {
	return ChartOptions{Title: "Extracted values", Width: 1280, Height: 720}
}

type seriesSpec struct {
	name  string
	color drawing.Color
	value func(Row) string
}

var chartSeries = []seriesSpec{
	{"Credits", chart.ColorRed, func(r Row) string { return r.Credits }},
	{"Bet", chart.ColorBlue, func(r Row) string { return r.Bet }},
	{"Win", chart.ColorGreen, func(r Row) string { return r.Win }},
}

// RenderChart plots credits, bet and win against frame number as PNG.
// Rows whose values do not parse are skipped for that series.
func RenderChart(rows []Row, opts ChartOptions, w io.Writer) error {
	if len(rows) < 2 {
		return ErrNotEnoughRows
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		def := DefaultChartOptions()
		opts.Width, opts.Height = def.Width, def.Height
	}

	var series []chart.Series
	maxY := 0.0
	for _, spec := range chartSeries {
		var xs, ys []float64
		for _, r := range rows {
			v, err := strconv.ParseFloat(spec.value(r), 64)
			if err != nil {
				continue
			}
			xs = append(xs, float64(r.Frame))
			ys = append(ys, v)
			maxY = max(maxY, v)
		}
		if len(xs) < 2 {
			continue
		}
		series = append(series, chart.ContinuousSeries{
			Name:    spec.name,
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeColor: spec.color,
				StrokeWidth: 2,
			},
		})
	}
	if len(series) == 0 {
		return ErrNotEnoughRows
	}
	// go-chart refuses zero-height ranges, so pin the axis explicitly.
	if maxY <= 0 {
		maxY = 1
	}

	graph := chart.Chart{
		Title:  opts.Title,
		Width:  opts.Width,
		Height: opts.Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name: "Frame",
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return strconv.Itoa(int(f))
				}
				return fmt.Sprint(v)
			},
		},
		YAxis: chart.YAxis{
			Name: "Value",
			Range: &chart.ContinuousRange{
				Min: 0.0,
				Max: maxY * 1.05,
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

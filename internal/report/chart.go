package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteChart renders an HTML page with one line chart per statistic.
func WriteChart(w io.Writer, title string, series []Series) error {
	names, groups := byName(series)
	page := components.NewPage()
	page.PageTitle = title
	for _, name := range names {
		page.AddCharts(newLineChart(name, groups[name]))
	}
	return page.Render(w)
}

func newLineChart(name string, series []Series) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: name, Subtitle: fmt.Sprintf("tracks=%d", len(series))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: name}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)

	for _, s := range series {
		data := make([]opts.LineData, 0, len(s.Points))
		for _, pt := range s.Points {
			if math.IsNaN(pt.Y) || math.IsInf(pt.Y, 0) {
				continue
			}
			data = append(data, opts.LineData{Value: []interface{}{pt.X, pt.Y}})
		}
		seriesOpts := []charts.SeriesOpts{
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		}
		if s.Summary.DOF > 0 && !math.IsNaN(s.Summary.Lower) {
			seriesOpts = append(seriesOpts, charts.WithMarkLineNameYAxisItemOpts(
				opts.MarkLineNameYAxisItem{Name: "expected", YAxis: s.Summary.DOF},
				opts.MarkLineNameYAxisItem{Name: "lower", YAxis: s.Summary.Lower},
				opts.MarkLineNameYAxisItem{Name: "upper", YAxis: s.Summary.Upper},
			))
		}
		line.AddSeries(fmt.Sprintf("%s %s", s.TrackID, s.Summary.Verdict), data, seriesOpts...)
	}
	return line
}

// SeriesSource loads the series shown by Handler.
type SeriesSource func(ctx context.Context, r *http.Request) (title string, series []Series, err error)

// Handler serves the chart page for whatever source returns.
func Handler(source SeriesSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		title, series, err := source(r.Context(), r)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to load series: %v", err), http.StatusInternalServerError)
			return
		}
		var buf bytes.Buffer
		if err := WriteChart(&buf, title, series); err != nil {
			http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})
}

package export

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/inferload/inferload/internal/metrics"
)

// WriteReport renders an HTML report: request latency and TTFT over the
// run, plus how the router spread requests across runtimes.
func WriteReport(path string, m *metrics.BenchmarkMetrics) error {
	page := components.NewPage()
	page.SetPageTitle("inferload report")

	page.AddCharts(
		latencyChart(m),
		routeChart(m),
	)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	if err := page.Render(file); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	slog.Info("saved report", "path", path)
	return nil
}

// latencyChart plots per-request latency and TTFT in send order.
func latencyChart(m *metrics.BenchmarkMetrics) *charts.Line {
	records := make([]*metrics.RequestOutput, len(m.AllResults))
	copy(records, m.AllResults)
	sort.Slice(records, func(i, j int) bool {
		return records[i].SendOutTime < records[j].SendOutTime
	})

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Request latency over run"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "send time (s)", Type: "category"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "seconds", Type: "value"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "400px"}),
	)

	xLabels := make([]string, 0, len(records))
	latencies := make([]opts.LineData, 0, len(records))
	ttfts := make([]opts.LineData, 0, len(records))
	for _, r := range records {
		xLabels = append(xLabels, strconv.FormatFloat(r.SendOutTime.Seconds(), 'f', 2, 64))
		latencies = append(latencies, opts.LineData{Value: r.RequestLatency.Seconds()})
		ttfts = append(ttfts, opts.LineData{Value: r.TTFT.Seconds()})
	}

	line.SetXAxis(xLabels).
		AddSeries("latency", latencies).
		AddSeries("ttft", ttfts)
	return line
}

// routeChart shows how many requests each runtime served.
func routeChart(m *metrics.BenchmarkMetrics) *charts.Bar {
	dests := make([]int, 0, len(m.RouteCounts))
	for dest := range m.RouteCounts {
		dests = append(dests, dest)
	}
	sort.Ints(dests)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Requests per runtime"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "400px"}),
	)

	xLabels := make([]string, 0, len(dests))
	counts := make([]opts.BarData, 0, len(dests))
	for _, dest := range dests {
		xLabels = append(xLabels, "runtime "+strconv.Itoa(dest))
		counts = append(counts, opts.BarData{Value: m.RouteCounts[dest]})
	}

	bar.SetXAxis(xLabels).AddSeries("requests", counts)
	return bar
}

package export

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/inferload/inferload/internal/metrics"
)

// WriteSummary saves the aggregate metrics as indented JSON. NaN statistics
// (empty finished window, degenerate timings) serialize as null.
func WriteSummary(path string, m *metrics.BenchmarkMetrics) error {
	summary := map[string]interface{}{
		"num_finished_requests": m.NumFinishedRequests,
		"average_finished_tpot": sanitize(m.AverageFinishedTpot),

		"throughput_tok_sec": sanitize(m.ThroughputTokSec),

		"average_request_latency": sanitize(m.AverageRequestLatency),
		"std_request_latency":     sanitize(m.StdRequestLatency),
		"p90_latency":             sanitize(m.P90Latency),
		"p99_latency":             sanitize(m.P99Latency),
		"max_latency":             sanitize(m.MaxLatency),

		"average_ttft":         sanitize(m.AverageTTFT),
		"average_tpot":         sanitize(m.AverageTpot),
		"prefill_decode_ratio": sanitize(m.PrefillDecodeRatio),

		"overall_latency":  sanitize(m.OverallLatency),
		"requests_per_sec": sanitize(m.RequestsPerSec),

		"route_counts": m.RouteCounts,
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "    ")
	if err := encoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	slog.Info("saved summary", "path", path)
	return nil
}

// WriteRecordsJSON saves every per-request record as a JSON array.
func WriteRecordsJSON(path string, records []*metrics.RequestOutput) error {
	rows := make([]map[string]interface{}, 0, len(records))
	for _, r := range records {
		row := rowFromRecord(r)
		rows = append(rows, map[string]interface{}{
			"success":              row.Success,
			"request_latency":      sanitize(row.RequestLatency),
			"ttft":                 sanitize(row.TTFT),
			"prompt_len":           row.PromptLen,
			"output_len":           row.OutputLen,
			"tpot":                 sanitize(row.Tpot),
			"prefill_decode_ratio": sanitize(row.PrefillDecodeRatio),
			"send_out_time":        sanitize(row.SendOutTime),
			"global_time":          sanitize(row.GlobalTime),
			"num_chunks":           row.NumChunks,
			"route_dest":           row.RouteDest,
			"error":                row.Error,
		})
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create records file: %w", err)
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(rows); err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	slog.Info("saved records", "path", path, "count", len(rows))
	return nil
}

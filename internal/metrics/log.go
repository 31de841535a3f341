package metrics

import "log/slog"

// LogSummary writes the run-level statistics through the structured logger.
func (m *BenchmarkMetrics) LogSummary(logger *slog.Logger) {
	logger.Info("run summary",
		"overall_latency_sec", m.OverallLatency,
		"requests_per_sec", m.RequestsPerSec,
		"throughput_tok_sec", m.ThroughputTokSec,
	)
	logger.Info("latency distribution",
		"mean", m.AverageRequestLatency,
		"std", m.StdRequestLatency,
		"p90", m.P90Latency,
		"p99", m.P99Latency,
		"max", m.MaxLatency,
	)
	logger.Info("token timings",
		"average_ttft", m.AverageTTFT,
		"average_tpot", m.AverageTpot,
		"prefill_decode_ratio", m.PrefillDecodeRatio,
	)
	logger.Info("finished window",
		"num_finished_requests", m.NumFinishedRequests,
		"average_finished_tpot", m.AverageFinishedTpot,
	)
	for dest, count := range m.RouteCounts {
		logger.Info("route count", "runtime", dest, "requests", count)
	}
}

package metrics

import (
	"math"
	"time"

	"github.com/inferload/inferload/internal/tokenizer"
)

// BenchmarkMetrics is the aggregate view over one completed run. It is pure
// derived data: recomputed from scratch by Aggregate, never updated
// incrementally. Fields restricted to a time window may be NaN when no
// request finished inside the window; callers must treat that as "empty
// window", not as an error.
type BenchmarkMetrics struct {
	NumFinishedRequests int     `json:"num_finished_requests"`
	AverageFinishedTpot float64 `json:"average_finished_tpot"`

	TTFTs []float64 `json:"ttfts"`
	Tpots []float64 `json:"tpots"`

	ThroughputTokSec float64 `json:"throughput_tok_sec"`

	AverageRequestLatency float64 `json:"average_request_latency"`
	StdRequestLatency     float64 `json:"std_request_latency"`
	P90Latency            float64 `json:"p90_latency"`
	P99Latency            float64 `json:"p99_latency"`
	MaxLatency            float64 `json:"max_latency"`

	AverageTTFT        float64 `json:"average_ttft"`
	AverageTpot        float64 `json:"average_tpot"`
	PrefillDecodeRatio float64 `json:"prefill_decode_ratio"`

	OverallLatency float64 `json:"overall_latency"`
	RequestsPerSec float64 `json:"requests_per_sec"`

	// RouteCounts maps runtime index to how many requests it served
	RouteCounts map[int]int `json:"route_counts"`

	AllResults []*RequestOutput `json:"all_results"`
}

// Aggregate computes run-level statistics over the completed records.
// Records missing a server-reported output length are resolved through the
// tokenizer first; that is the only input mutation. The latency distribution
// covers every record regardless of success — failed requests still carry
// the latency spent before the terminal decision.
func Aggregate(records []*RequestOutput, overallLatency, timeLimit time.Duration, tok tokenizer.Tokenizer) BenchmarkMetrics {
	for _, r := range records {
		r.Resolve(tok)
	}

	overall := overallLatency.Seconds()

	ttfts := make([]float64, 0, len(records))
	latencies := make([]float64, 0, len(records))
	var tpots, finishedTpots []float64
	var ratios []float64
	totalTokens := 0
	numFinished := 0
	routeCounts := make(map[int]int)

	for _, r := range records {
		ttfts = append(ttfts, r.TTFT.Seconds())
		latencies = append(latencies, r.RequestLatency.Seconds())
		ratios = append(ratios, r.PrefillDecodeRatio)
		totalTokens += r.TotalTokens()
		if r.RouteDest >= 0 {
			routeCounts[r.RouteDest]++
		}
		if !math.IsNaN(r.Tpot) {
			tpots = append(tpots, r.Tpot)
		}
		if r.Success && r.GlobalTime <= timeLimit {
			numFinished++
			if !math.IsNaN(r.Tpot) {
				finishedTpots = append(finishedTpots, r.Tpot)
			}
		}
	}

	return BenchmarkMetrics{
		NumFinishedRequests: numFinished,
		AverageFinishedTpot: mean(finishedTpots),

		TTFTs: ttfts,
		Tpots: tpots,

		ThroughputTokSec: float64(totalTokens) / overall,

		AverageRequestLatency: mean(latencies),
		StdRequestLatency:     stddev(latencies),
		P90Latency:            percentile(latencies, 90),
		P99Latency:            percentile(latencies, 99),
		MaxLatency:            maximum(latencies),

		AverageTTFT:        mean(ttfts),
		AverageTpot:        mean(tpots),
		PrefillDecodeRatio: mean(ratios),

		OverallLatency: overall,
		RequestsPerSec: float64(len(records)) / overall,

		RouteCounts: routeCounts,
		AllResults:  records,
	}
}

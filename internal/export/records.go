package export

import (
	"math"

	"github.com/inferload/inferload/internal/metrics"
)

// RecordRow is the flat per-request shape shared by the parquet and JSON
// writers. Durations are seconds; undefined derived values stay NaN in
// parquet and become null in JSON.
type RecordRow struct {
	Success            bool    `json:"success" parquet:"success"`
	RequestLatency     float64 `json:"request_latency" parquet:"request_latency"`
	TTFT               float64 `json:"ttft" parquet:"ttft"`
	PromptLen          int32   `json:"prompt_len" parquet:"prompt_len"`
	OutputLen          int32   `json:"output_len" parquet:"output_len"`
	Tpot               float64 `json:"tpot" parquet:"tpot"`
	PrefillDecodeRatio float64 `json:"prefill_decode_ratio" parquet:"prefill_decode_ratio"`
	SendOutTime        float64 `json:"send_out_time" parquet:"send_out_time"`
	GlobalTime         float64 `json:"global_time" parquet:"global_time"`
	NumChunks          int32   `json:"num_chunks" parquet:"num_chunks"`
	RouteDest          int32   `json:"route_dest" parquet:"route_dest"`
	Error              string  `json:"error" parquet:"error"`
}

func rowFromRecord(r *metrics.RequestOutput) RecordRow {
	numChunks := int32(0)
	if r.TTFT > 0 {
		numChunks = int32(len(r.ITL)) + 1
	}
	return RecordRow{
		Success:            r.Success,
		RequestLatency:     r.RequestLatency.Seconds(),
		TTFT:               r.TTFT.Seconds(),
		PromptLen:          int32(r.PromptLen),
		OutputLen:          int32(r.OutputLen),
		Tpot:               r.Tpot,
		PrefillDecodeRatio: r.PrefillDecodeRatio,
		SendOutTime:        r.SendOutTime.Seconds(),
		GlobalTime:         r.GlobalTime.Seconds(),
		NumChunks:          numChunks,
		RouteDest:          int32(r.RouteDest),
		Error:              r.Error,
	}
}

// sanitize maps NaN and infinities to nil so encoding/json accepts them.
func sanitize(f float64) interface{} {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

package metrics

import (
	"math"
	"time"

	"github.com/inferload/inferload/internal/tokenizer"
)

// RequestOutput is the record for one dispatched request, successful or not.
// The dispatcher creates it once; Resolve is the only mutation afterwards.
type RequestOutput struct {
	GeneratedText  string        `json:"generated_text"`
	Success        bool          `json:"success"`
	RequestLatency time.Duration `json:"request_latency_ns"`
	TTFT           time.Duration `json:"ttft_ns"`
	// ITL holds inter-token latencies in stream arrival order
	ITL       []time.Duration `json:"itl_ns"`
	PromptLen int             `json:"prompt_len"`
	// OutputLen is -1 until the server reports it or Resolve backfills it
	OutputLen int `json:"output_len"`
	// Tpot is NaN unless OutputLen > 1
	Tpot               float64       `json:"tpot"`
	PrefillDecodeRatio float64       `json:"prefill_decode_ratio"`
	SendOutTime        time.Duration `json:"send_out_time_ns"`
	GlobalTime         time.Duration `json:"global_time_ns"`
	Error              string        `json:"error"`
	RouteDest          int           `json:"route_dest"`

	resolved bool
}

// NewRequestOutput returns a record with the derived fields unresolved.
func NewRequestOutput() *RequestOutput {
	return &RequestOutput{
		OutputLen:          -1,
		Tpot:               math.NaN(),
		PrefillDecodeRatio: math.NaN(),
		RouteDest:          -1,
	}
}

// Resolve backfills OutputLen by token counting when the server did not
// report it, then derives Tpot and PrefillDecodeRatio. Idempotent; must run
// before any aggregate statistic that depends on these fields.
func (r *RequestOutput) Resolve(tok tokenizer.Tokenizer) {
	if r.resolved {
		return
	}
	if r.OutputLen < 0 {
		r.OutputLen = tok.CountTokens(r.GeneratedText)
	}
	latency := r.RequestLatency.Seconds()
	if r.OutputLen > 1 {
		r.Tpot = (latency - r.TTFT.Seconds()) / float64(r.OutputLen-1)
	}
	// Always derived, even on degenerate timings
	r.PrefillDecodeRatio = r.TTFT.Seconds() / latency
	r.resolved = true
}

// TotalTokens returns prompt plus output token count. Only meaningful after
// Resolve.
func (r *RequestOutput) TotalTokens() int {
	return r.PromptLen + r.OutputLen
}

// OverallThroughput returns tokens per second for this single request.
func (r *RequestOutput) OverallThroughput() float64 {
	return float64(r.TotalTokens()) / r.RequestLatency.Seconds()
}

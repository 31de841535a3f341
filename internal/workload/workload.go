package workload

import (
	"fmt"
	"math/rand"
	"strings"
)

// SamplingParams are passed through to the backend untouched, except for the
// request identifiers the dispatcher injects.
type SamplingParams map[string]interface{}

// Request is one unit of offered load: prompt text, sampling parameters and
// optionally the precomputed token ids the workload generator already knows.
type Request struct {
	Text           string
	SamplingParams SamplingParams
	InputIDs       []int
}

// Clone returns a request with its own copy of the sampling params map so the
// dispatcher can inject identifiers without racing other in-flight requests.
func (r Request) Clone() Request {
	params := make(SamplingParams, len(r.SamplingParams)+1)
	for k, v := range r.SamplingParams {
		params[k] = v
	}
	out := r
	out.SamplingParams = params
	return out
}

// SyntheticConfig controls the shared-prefix workload generator.
type SyntheticConfig struct {
	NumPrefixes int // distinct shared prefixes (cache-affinity groups)
	NumRequests int // total requests to generate
	PrefixWords int // words per shared prefix
	SuffixWords int // words per unique suffix
	MaxTokens   int // max_new_tokens sampling param
}

// DefaultSyntheticConfig returns the generator defaults used by the demo run.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		NumPrefixes: 4,
		NumRequests: 64,
		PrefixWords: 128,
		SuffixWords: 16,
		MaxTokens:   45,
	}
}

// GenerateSynthetic builds a shared-prefix workload: requests are grouped
// under NumPrefixes common prefixes so affinity-based routing has cached
// computation to exploit. The rand source makes runs reproducible.
func GenerateSynthetic(cfg SyntheticConfig, rng *rand.Rand) []Request {
	prefixes := make([]string, cfg.NumPrefixes)
	for i := range prefixes {
		prefixes[i] = randomWords(rng, cfg.PrefixWords, fmt.Sprintf("workload%d", i))
	}

	requests := make([]Request, 0, cfg.NumRequests)
	for i := 0; i < cfg.NumRequests; i++ {
		prefix := prefixes[i%cfg.NumPrefixes]
		suffix := randomWords(rng, cfg.SuffixWords, fmt.Sprintf("req%d", i))
		requests = append(requests, Request{
			Text: prefix + " " + suffix,
			SamplingParams: SamplingParams{
				"max_new_tokens": cfg.MaxTokens,
				"temperature":    0,
			},
		})
	}

	// Interleave prefix groups the way a mixed workload arrives
	rng.Shuffle(len(requests), func(i, j int) {
		requests[i], requests[j] = requests[j], requests[i]
	})
	return requests
}

var wordPool = []string{
	"model", "token", "cache", "prefix", "decode", "batch", "tensor",
	"kernel", "stream", "weight", "layer", "logit", "sample", "prompt",
}

func randomWords(rng *rand.Rand, n int, tag string) string {
	var b strings.Builder
	b.WriteString(tag)
	for i := 0; i < n; i++ {
		b.WriteByte(' ')
		b.WriteString(wordPool[rng.Intn(len(wordPool))])
	}
	return b.String()
}

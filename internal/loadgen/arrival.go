package loadgen

import (
	"math"
	"math/rand"
	"time"
)

// Arrival draws the interval to wait after issuing one request. An
// implementation must depend only on its own state and rand source, never
// on the wall clock, so schedules are reproducible under a fixed seed.
type Arrival interface {
	Name() string
	NextInterval() time.Duration
}

// PoissonArrival models an open-loop Poisson process: independent
// exponentially distributed intervals with mean 1/rate. An infinite rate
// collapses every interval to zero.
type PoissonArrival struct {
	rate float64
	rng  *rand.Rand
}

func NewPoissonArrival(rate float64, rng *rand.Rand) *PoissonArrival {
	return &PoissonArrival{rate: rate, rng: rng}
}

func (a *PoissonArrival) Name() string { return "poisson" }

func (a *PoissonArrival) NextInterval() time.Duration {
	if math.IsInf(a.rate, 1) {
		return 0
	}
	return time.Duration(a.rng.ExpFloat64() / a.rate * float64(time.Second))
}

// UniformArrival issues requests at a fixed rate: every interval is exactly
// 1/rate.
type UniformArrival struct {
	rate float64
}

func NewUniformArrival(rate float64) *UniformArrival {
	return &UniformArrival{rate: rate}
}

func (a *UniformArrival) Name() string { return "uniform" }

func (a *UniformArrival) NextInterval() time.Duration {
	if math.IsInf(a.rate, 1) {
		return 0
	}
	return time.Duration(float64(time.Second) / a.rate)
}

// BurstArrival fires the whole batch immediately.
type BurstArrival struct{}

func NewBurstArrival() *BurstArrival {
	return &BurstArrival{}
}

func (a *BurstArrival) Name() string { return "burst" }

func (a *BurstArrival) NextInterval() time.Duration { return 0 }

// Schedule precomputes the send-out offset for each of n requests: zero for
// the first, cumulative drawn intervals after. Useful for replaying the
// same arrival sequence across runs or feeding a simulator.
func Schedule(arrival Arrival, n int) []time.Duration {
	offsets := make([]time.Duration, n)
	for i := 1; i < n; i++ {
		offsets[i] = offsets[i-1] + arrival.NextInterval()
	}
	return offsets
}

// Compile-time interface checks
var (
	_ Arrival = (*PoissonArrival)(nil)
	_ Arrival = (*UniformArrival)(nil)
	_ Arrival = (*BurstArrival)(nil)
)

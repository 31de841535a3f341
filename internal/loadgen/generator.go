package loadgen

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/inferload/inferload/internal/metrics"
	"github.com/inferload/inferload/internal/workload"
)

// Dispatcher is what the generator drives; satisfied by dispatch.Engine.
// Issue runs the ordered bookkeeping of one request on the calling
// goroutine and returns the completion that streams the response.
type Dispatcher interface {
	Issue(ctx context.Context, req workload.Request) func() (*metrics.RequestOutput, error)
	StartRun()
	BeginExperiment()
}

// Generator replays a request sequence open-loop: each request is handed to
// the dispatcher the moment its scheduled offset elapses, never waiting for
// earlier requests to complete. Issue runs inline on the scheduling
// goroutine, so the dispatcher observes arrivals strictly in sequence order
// even when every interval is zero; completion order is whatever the
// backends produce.
type Generator struct {
	dispatcher Dispatcher
	arrival    Arrival
}

func New(dispatcher Dispatcher, arrival Arrival) *Generator {
	return &Generator{dispatcher: dispatcher, arrival: arrival}
}

// Run issues every request in sequence order and waits for joint
// completion. Results come back indexed by input position. The first
// transport-fatal dispatch error aborts the batch at the join; the error is
// returned alongside whatever records completed.
func (g *Generator) Run(ctx context.Context, requests []workload.Request) ([]*metrics.RequestOutput, error) {
	g.dispatcher.StartRun()
	g.dispatcher.BeginExperiment()

	results := make([]*metrics.RequestOutput, len(requests))
	errs := make([]error, len(requests))
	var wg sync.WaitGroup

	issued := 0
timer:
	for i, req := range requests {
		complete := g.dispatcher.Issue(ctx, req)
		wg.Add(1)
		issued++
		go func(i int, complete func() (*metrics.RequestOutput, error)) {
			defer wg.Done()
			results[i], errs[i] = complete()
		}(i, complete)

		if i == len(requests)-1 {
			break
		}
		interval := g.arrival.NextInterval()
		if interval == 0 {
			continue
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			slog.Warn("load generation cancelled", "issued", issued, "total", len(requests))
			break timer
		}
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

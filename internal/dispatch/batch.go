package dispatch

import (
	"context"
	"sync"

	"github.com/inferload/inferload/internal/metrics"
	"github.com/inferload/inferload/internal/workload"
)

// SendBatch dispatches the whole batch through a bounded worker pool and
// waits for completion. This is the closed-loop sibling of the open-loop
// generator: worker occupancy, not an arrival process, paces the requests.
// Results come back in input order; the first transport-fatal error aborts
// the batch.
func (e *Engine) SendBatch(ctx context.Context, requests []workload.Request, numWorkers int) ([]*metrics.RequestOutput, error) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	e.StartRun()
	e.BeginExperiment()

	results := make([]*metrics.RequestOutput, len(requests))
	errs := make([]error, len(requests))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i], errs[i] = e.Send(ctx, requests[i])
			}
		}()
	}

	for i := range requests {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

package loadgen

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferload/inferload/internal/metrics"
	"github.com/inferload/inferload/internal/workload"
)

// MockDispatcher records issue order and simulates per-request service time
// without touching the network. Issue appends on the scheduling goroutine;
// completions only read.
type MockDispatcher struct {
	Issued      []string
	StartCalls  int
	BeginCalls  int
	ServiceTime time.Duration
	SendErr     error
	ErrOn       string
}

func (m *MockDispatcher) Issue(ctx context.Context, req workload.Request) func() (*metrics.RequestOutput, error) {
	m.Issued = append(m.Issued, req.Text)

	return func() (*metrics.RequestOutput, error) {
		if m.ServiceTime > 0 {
			select {
			case <-time.After(m.ServiceTime):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if m.SendErr != nil && (m.ErrOn == "" || m.ErrOn == req.Text) {
			return nil, m.SendErr
		}
		out := metrics.NewRequestOutput()
		out.Success = true
		out.GeneratedText = "response to " + req.Text
		return out, nil
	}
}

func (m *MockDispatcher) StartRun()        { m.StartCalls++ }
func (m *MockDispatcher) BeginExperiment() { m.BeginCalls++ }

func makeRequests(n int) []workload.Request {
	reqs := make([]workload.Request, n)
	for i := range reqs {
		reqs[i] = workload.Request{Text: fmt.Sprintf("r%04d", i)}
	}
	return reqs
}

func TestRunDispatchesAllRequests(t *testing.T) {
	mock := &MockDispatcher{}
	g := New(mock, NewUniformArrival(1000)) // 1ms apart

	results, err := g.Run(context.Background(), makeRequests(5))
	require.NoError(t, err)

	require.Len(t, results, 5)
	for i, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, fmt.Sprintf("response to r%04d", i), r.GeneratedText)
	}
	assert.Equal(t, 1, mock.StartCalls)
	assert.Equal(t, 1, mock.BeginCalls)
}

func TestRunIssuesStrictlyInSequenceOrderUnderBurst(t *testing.T) {
	// Zero intervals are the adversarial case: nothing but the issue loop
	// itself enforces ordering.
	const n = 2000
	mock := &MockDispatcher{}
	g := New(mock, NewBurstArrival())

	requests := makeRequests(n)
	_, err := g.Run(context.Background(), requests)
	require.NoError(t, err)

	require.Len(t, mock.Issued, n)
	for i, text := range mock.Issued {
		if text != fmt.Sprintf("r%04d", i) {
			t.Fatalf("request %d issued out of order: got %s", i, text)
		}
	}
}

func TestRunIsOpenLoop(t *testing.T) {
	// Service time far exceeds the total arrival span; a closed loop would
	// need ~5x the service time to issue everything.
	mock := &MockDispatcher{ServiceTime: 200 * time.Millisecond}
	g := New(mock, NewBurstArrival())

	start := time.Now()
	results, err := g.Run(context.Background(), makeRequests(5))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Len(t, results, 5)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestRunReturnsFirstDispatchError(t *testing.T) {
	boom := errors.New("connection refused")
	mock := &MockDispatcher{SendErr: boom, ErrOn: "r0002"}
	g := New(mock, NewBurstArrival())

	results, err := g.Run(context.Background(), makeRequests(5))
	assert.ErrorIs(t, err, boom)
	// Completed records are still returned for inspection
	assert.NotNil(t, results[0])
	assert.Nil(t, results[2])
}

func TestRunCancelStopsIssuing(t *testing.T) {
	mock := &MockDispatcher{}
	g := New(mock, NewUniformArrival(10)) // 100ms apart

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, err := g.Run(ctx, makeRequests(50))
	require.Error(t, err)
	assert.Less(t, len(mock.Issued), 50)
}

func TestPoissonIntervalMeanApproximatesRate(t *testing.T) {
	const rate = 100.0
	a := NewPoissonArrival(rate, rand.New(rand.NewSource(1)))

	var sum time.Duration
	const n = 10000
	for i := 0; i < n; i++ {
		sum += a.NextInterval()
	}
	meanSec := sum.Seconds() / n
	// Mean of Exp(rate) is 1/rate; 10k draws keep us within a few percent
	assert.InDelta(t, 1.0/rate, meanSec, 0.001)
}

func TestPoissonInfiniteRateIsImmediate(t *testing.T) {
	a := NewPoissonArrival(math.Inf(1), rand.New(rand.NewSource(1)))
	for i := 0; i < 10; i++ {
		assert.Equal(t, time.Duration(0), a.NextInterval())
	}
}

func TestUniformInterval(t *testing.T) {
	a := NewUniformArrival(4)
	assert.Equal(t, 250*time.Millisecond, a.NextInterval())
	assert.Equal(t, 250*time.Millisecond, a.NextInterval())
}

func TestBurstInterval(t *testing.T) {
	a := NewBurstArrival()
	assert.Equal(t, time.Duration(0), a.NextInterval())
}

func TestScheduleIsCumulative(t *testing.T) {
	offsets := Schedule(NewUniformArrival(10), 4)
	require.Len(t, offsets, 4)
	assert.Equal(t, time.Duration(0), offsets[0])
	assert.Equal(t, 100*time.Millisecond, offsets[1])
	assert.Equal(t, 200*time.Millisecond, offsets[2])
	assert.Equal(t, 300*time.Millisecond, offsets[3])
}

func TestScheduleReproducibleWithSeed(t *testing.T) {
	a := Schedule(NewPoissonArrival(50, rand.New(rand.NewSource(9))), 20)
	b := Schedule(NewPoissonArrival(50, rand.New(rand.NewSource(9))), 20)
	assert.Equal(t, a, b)
}

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferload/inferload/internal/router"
	"github.com/inferload/inferload/internal/runtime"
	"github.com/inferload/inferload/internal/workload"
)

// generateBody is the request shape the servers in these tests decode.
type generateBody struct {
	Text           string                 `json:"text"`
	SamplingParams map[string]interface{} `json:"sampling_params"`
	Rid            string                 `json:"rid"`
}

func decodeBody(t *testing.T, r *http.Request) generateBody {
	t.Helper()
	var body generateBody
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func newEngine(t *testing.T, retry RetryConfig, urls ...string) *Engine {
	t.Helper()
	configs := make([]runtime.GPUConfig, len(urls))
	for i, u := range urls {
		configs[i] = runtime.GPUConfig{DeviceID: i, URL: u}
	}
	reg := runtime.NewRegistry("test-model")
	require.NoError(t, reg.Provision(context.Background(), configs, runtime.ProvisionOptions{}))

	rt := router.New(router.NewRoundRobinPolicy(), reg.Len())
	e := New(reg, rt, retry)
	e.StartRun()
	e.BeginExperiment()
	return e
}

func sampleRequest() workload.Request {
	return workload.Request{
		Text: "the quick brown fox",
		SamplingParams: workload.SamplingParams{
			"max_new_tokens": 16,
			"temperature":    0,
		},
	}
}

func TestSendCapturesStreamTimings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		time.Sleep(30 * time.Millisecond)
		fmt.Fprint(w, `{"text":"hello `)
		flusher.Flush()
		time.Sleep(20 * time.Millisecond)
		fmt.Fprint(w, `world","meta_info":{"prompt_tokens":5,"completion_tokens":7}}`)
	}))
	defer srv.Close()

	e := newEngine(t, RetryConfig{}, srv.URL)
	record, err := e.Send(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.True(t, record.Success)
	assert.Equal(t, "hello world", record.GeneratedText)
	assert.Equal(t, 5, record.PromptLen)
	assert.Equal(t, 7, record.OutputLen)
	assert.Equal(t, 0, record.RouteDest)

	assert.GreaterOrEqual(t, record.TTFT, 30*time.Millisecond)
	assert.Greater(t, record.RequestLatency, record.TTFT)
	require.Len(t, record.ITL, 1)
	assert.GreaterOrEqual(t, record.ITL[0], 20*time.Millisecond)
}

func TestSendInjectsRequestID(t *testing.T) {
	bodies := make(chan generateBody, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bodies <- decodeBody(t, r)
		fmt.Fprint(w, `{"text":"ok"}`)
	}))
	defer srv.Close()

	e := newEngine(t, RetryConfig{}, srv.URL)
	req := sampleRequest()
	req.SamplingParams["request_id"] = "rid-from-caller"
	req.SamplingParams["experiment_id"] = "exp-abc"

	_, err := e.Send(context.Background(), req)
	require.NoError(t, err)

	got := <-bodies
	assert.Equal(t, "rid-from-caller", got.Rid)
	assert.Equal(t, "rid-from-caller", got.SamplingParams["request_id"])
	// experiment_id routes, it is never forwarded to the backend
	assert.NotContains(t, got.SamplingParams, "experiment_id")
}

func TestSendGeneratesRequestIDWhenMissing(t *testing.T) {
	var rid atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid.Store(decodeBody(t, r).Rid)
		fmt.Fprint(w, `{"text":"ok"}`)
	}))
	defer srv.Close()

	e := newEngine(t, RetryConfig{}, srv.URL)
	original := sampleRequest()
	_, err := e.Send(context.Background(), original)
	require.NoError(t, err)

	assert.NotEmpty(t, rid.Load())
	// Send works on a clone; the caller's params stay untouched
	assert.NotContains(t, original.SamplingParams, "request_id")
}

func TestSendRetriesBackendErrorOnFreshRuntime(t *testing.T) {
	var hitsA, hitsB atomic.Int64
	ridSeen := make(chan string, 2)

	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsA.Add(1)
		ridSeen <- decodeBody(t, r).Rid
		time.Sleep(30 * time.Millisecond)
		fmt.Fprint(w, `{"error":"out of memory"}`)
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsB.Add(1)
		ridSeen <- decodeBody(t, r).Rid
		fmt.Fprint(w, `{"text":"recovered"}`)
	}))
	defer srvB.Close()

	e := newEngine(t, RetryConfig{}, srvA.URL, srvB.URL)
	record, err := e.Send(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.True(t, record.Success)
	assert.Equal(t, "recovered", record.GeneratedText)
	assert.Empty(t, record.Error)
	// Round robin sends the first attempt to A, the resend to B
	assert.Equal(t, int64(1), hitsA.Load())
	assert.Equal(t, int64(1), hitsB.Load())
	assert.Equal(t, 1, record.RouteDest)
	// Same rid on both attempts
	first, second := <-ridSeen, <-ridSeen
	assert.Equal(t, first, second)
	// Latency spans both attempts, not just the successful one
	assert.GreaterOrEqual(t, record.RequestLatency, 30*time.Millisecond)
}

func TestSendRetryBudgetExhaustedYieldsFailedRecord(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"error":"scheduler full"}`)
	}))
	defer srv.Close()

	e := newEngine(t, RetryConfig{MaxAttempts: 3}, srv.URL)
	record, err := e.Send(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, int64(3), hits.Load())
	assert.False(t, record.Success)
	assert.Contains(t, record.Error, "scheduler full")
	assert.Greater(t, record.RequestLatency, time.Duration(0))
}

func TestSendElapsedBudgetYieldsFailedRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		fmt.Fprint(w, `{"error":"scheduler full"}`)
	}))
	defer srv.Close()

	e := newEngine(t, RetryConfig{MaxElapsed: 60 * time.Millisecond}, srv.URL)
	record, err := e.Send(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.False(t, record.Success)
}

func TestSendTransportErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	e := newEngine(t, RetryConfig{}, srv.URL)
	record, err := e.Send(context.Background(), sampleRequest())

	require.Error(t, err)
	assert.Nil(t, record)
}

func TestSendMalformedPayloadIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `this is not json`)
	}))
	defer srv.Close()

	e := newEngine(t, RetryConfig{}, srv.URL)
	_, err := e.Send(context.Background(), sampleRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after full drain")
}

func TestSendCancelledContextPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"busy"}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	e := newEngine(t, RetryConfig{}, srv.URL)

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := e.Send(ctx, sampleRequest())
	require.Error(t, err)
}

func TestSendNoRuntimesIsFatal(t *testing.T) {
	reg := runtime.NewRegistry("test-model")
	rt := router.New(router.NewRoundRobinPolicy(), 0)
	e := New(reg, rt, RetryConfig{})
	e.StartRun()
	e.BeginExperiment()

	_, err := e.Send(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, router.ErrNoRuntimes)
}

func TestIssueSelectsRuntimeBeforeCompletionRuns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"text":"ok"}`)
	}))
	defer srv.Close()

	// Two index slots over the same backend; round robin makes the
	// selection order observable through RouteDest.
	e := newEngine(t, RetryConfig{}, srv.URL, srv.URL)

	first := e.Issue(context.Background(), sampleRequest())
	second := e.Issue(context.Background(), sampleRequest())

	// Completing out of order must not change the routing decisions made
	// at issue time.
	r2, err := second()
	require.NoError(t, err)
	r1, err := first()
	require.NoError(t, err)

	assert.Equal(t, 0, r1.RouteDest)
	assert.Equal(t, 1, r2.RouteDest)
}

func TestIssueAppendsSendTimeImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"text":"ok"}`)
	}))
	defer srv.Close()

	e := newEngine(t, RetryConfig{}, srv.URL)
	complete := e.Issue(context.Background(), sampleRequest())

	// The send log reflects the issue, not the completion
	require.Len(t, e.SendTimes(), 1)

	_, err := complete()
	require.NoError(t, err)
	require.Len(t, e.SendTimes(), 1)
}

func TestSendTimesLogGrowsPerRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"text":"ok"}`)
	}))
	defer srv.Close()

	e := newEngine(t, RetryConfig{}, srv.URL)
	for i := 0; i < 3; i++ {
		_, err := e.Send(context.Background(), sampleRequest())
		require.NoError(t, err)
	}

	times := e.SendTimes()
	require.Len(t, times, 3)
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i], times[i-1])
	}
}

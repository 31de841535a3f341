package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/inferload/inferload/internal/metrics"
	"github.com/inferload/inferload/internal/router"
	"github.com/inferload/inferload/internal/runtime"
	"github.com/inferload/inferload/internal/workload"
)

// RetryConfig bounds the resend loop for backend-reported errors. Zero
// values mean unbounded: keep trying until the backend accepts the request.
// Configure a cap when a persistently failing backend must not wedge the run.
type RetryConfig struct {
	MaxAttempts uint64
	MaxElapsed  time.Duration
}

// Engine drives one request to completion: runtime selection, streamed HTTP
// call, timing capture, resend on backend-reported error. It produces
// exactly one record per request; only transport-level failures surface as
// errors.
type Engine struct {
	registry *runtime.Registry
	router   *router.Router
	client   *http.Client
	retry    RetryConfig

	mu        sync.Mutex
	startTime time.Time
	expStart  time.Time
	sendLog   []time.Duration
}

// New creates an engine over the provisioned registry. The HTTP timeout is
// hours-scale by design: it exists only to avoid truly infinite hangs, not
// to bound individual requests.
func New(registry *runtime.Registry, rt *router.Router, retry RetryConfig) *Engine {
	return &Engine{
		registry: registry,
		router:   rt,
		retry:    retry,
		client: &http.Client{
			Timeout: 3 * time.Hour,
		},
	}
}

// StartRun pins the run-start timestamp the send log is measured against.
// The first call wins; later calls are no-ops.
func (e *Engine) StartRun() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startTime.IsZero() {
		e.startTime = time.Now()
	}
}

// BeginExperiment resets the experiment clock that global_time offsets are
// measured against.
func (e *Engine) BeginExperiment() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expStart = time.Now()
	if e.startTime.IsZero() {
		e.startTime = e.expStart
	}
}

// SendTimes returns a copy of the send-offset log.
func (e *Engine) SendTimes() []time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]time.Duration, len(e.sendLog))
	copy(out, e.sendLog)
	return out
}

func (e *Engine) recordSendTime() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sendLog = append(e.sendLog, time.Since(e.startTime))
}

// fatalError marks conditions the retry loop must not swallow: router
// configuration errors, transport failures, unparseable payloads.
type fatalError struct {
	err error
}

func (f *fatalError) Error() string { return f.err.Error() }
func (f *fatalError) Unwrap() error { return f.err }

// generateResponse is the decoded server payload after the stream drains.
type generateResponse struct {
	Text     string          `json:"text"`
	Error    json.RawMessage `json:"error,omitempty"`
	MetaInfo struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"meta_info"`
}

func (r *generateResponse) hasError() bool {
	return len(r.Error) > 0 && !bytes.Equal(r.Error, []byte("null"))
}

// Send dispatches one request and returns its record. Backend-reported
// errors are resent transparently against a freshly selected runtime with
// no delay; transport failures and unparseable payloads are fatal and
// returned as errors. The record's latency always measures from the
// original send, never per attempt.
func (e *Engine) Send(ctx context.Context, req workload.Request) (*metrics.RequestOutput, error) {
	return e.Issue(ctx, req)()
}

// Issue runs the ordered half of one dispatch on the calling goroutine:
// identifier bookkeeping, the send-time append and the initial runtime
// selection. Callers that need strict arrival order invoke Issue in
// sequence and run the returned completion concurrently; the completion
// streams the response and drives the resend loop. Resends reselect their
// runtime inside the completion.
func (e *Engine) Issue(ctx context.Context, req workload.Request) func() (*metrics.RequestOutput, error) {
	start := time.Now()
	req = req.Clone()

	experimentID := popString(req.SamplingParams, "experiment_id")
	if experimentID == "" {
		experimentID = randomID()
	}
	rid := popString(req.SamplingParams, "request_id")
	if rid == "" {
		rid = randomID()
	}
	req.SamplingParams["request_id"] = rid

	record := metrics.NewRequestOutput()
	if len(req.InputIDs) > 0 {
		record.PromptLen = len(req.InputIDs)
	}
	e.recordSendTime()

	key := router.SelectionKey{
		Text:         req.Text,
		ExperimentID: experimentID,
		RequestID:    rid,
		InputIDs:     req.InputIDs,
	}
	preselected, selectErr := e.router.Select(key)

	return func() (*metrics.RequestOutput, error) {
		if selectErr != nil {
			return nil, selectErr
		}

		attempt := func() error {
			idx := preselected
			if idx < 0 {
				var err error
				idx, err = e.router.Select(key)
				if err != nil {
					return backoff.Permanent(&fatalError{err})
				}
			}
			preselected = -1
			record.RouteDest = idx

			resp, err := e.streamOnce(ctx, e.registry.Endpoint(idx), req, rid, start, record)
			if err != nil {
				return backoff.Permanent(&fatalError{err})
			}
			if resp.hasError() {
				record.Error = strings.TrimSpace(string(resp.Error))
				slog.Debug("backend rejected request, reselecting runtime",
					"rid", rid, "runtime", idx, "error", record.Error)
				return fmt.Errorf("backend error from runtime %d: %s", idx, record.Error)
			}

			record.GeneratedText = resp.Text
			record.Success = true
			record.Error = ""
			if resp.MetaInfo.PromptTokens > 0 {
				record.PromptLen = resp.MetaInfo.PromptTokens
			}
			if resp.MetaInfo.CompletionTokens > 0 {
				record.OutputLen = resp.MetaInfo.CompletionTokens
			}
			return nil
		}

		if err := e.retryLoop(ctx, attempt); err != nil {
			var fatal *fatalError
			if errors.As(err, &fatal) {
				// A deadline that fired mid-stream is still the retry budget
				// running out, not a transport fault.
				if !(e.retry.MaxElapsed > 0 && errors.Is(fatal.err, context.DeadlineExceeded)) {
					return nil, fatal.err
				}
			}
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			// Retry budget exhausted: terminal failure record, not an engine
			// error. Latency covers everything spent before giving up.
			record.Success = false
			record.RequestLatency = time.Since(start)
			e.mu.Lock()
			record.GlobalTime = time.Since(e.expStart)
			e.mu.Unlock()
			return record, nil
		}
		return record, nil
	}
}

// retryLoop runs attempt with zero delay between tries, bounded only by the
// configured caps.
func (e *Engine) retryLoop(ctx context.Context, attempt func() error) error {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if e.retry.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, e.retry.MaxAttempts-1)
	}
	if e.retry.MaxElapsed > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.retry.MaxElapsed)
		defer cancel()
	}
	return backoff.Retry(attempt, backoff.WithContext(b, ctx))
}

// streamOnce performs one generate call and drains the chunked response,
// capturing time-to-first-chunk and inter-chunk latencies relative to the
// original request start.
func (e *Engine) streamOnce(ctx context.Context, ep runtime.Endpoint, req workload.Request, rid string, start time.Time, record *metrics.RequestOutput) (*generateResponse, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"text":            req.Text,
		"sampling_params": req.SamplingParams,
		"rid":             rid,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.GenerateURL(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generate call to %s: %w", ep.GenerateURL(), err)
	}
	defer resp.Body.Close()

	var body bytes.Buffer
	var ttft time.Duration
	var itl []time.Duration
	lastChunk := start

	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			now := time.Now()
			if ttft == 0 {
				ttft = now.Sub(start)
			} else {
				itl = append(itl, now.Sub(lastChunk))
			}
			lastChunk = now
			body.Write(buf[:n])
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("stream from %s: %w", ep.GenerateURL(), readErr)
		}
	}

	record.RequestLatency = time.Since(start)
	record.TTFT = ttft
	record.ITL = itl
	e.mu.Lock()
	record.GlobalTime = time.Since(e.expStart)
	record.SendOutTime = start.Sub(e.startTime)
	e.mu.Unlock()

	var decoded generateResponse
	if err := json.Unmarshal(body.Bytes(), &decoded); err != nil {
		return nil, fmt.Errorf("decode response from %s after full drain: %w", ep.GenerateURL(), err)
	}
	return &decoded, nil
}

func popString(params workload.SamplingParams, key string) string {
	v, ok := params[key]
	if !ok {
		return ""
	}
	delete(params, key)
	s, _ := v.(string)
	return s
}

// randomID returns a hex request identifier, matching the server's rid
// format.
func randomID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:])
}

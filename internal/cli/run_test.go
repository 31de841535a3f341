package cli

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferload/inferload/internal/config"
	"github.com/inferload/inferload/internal/metrics"
	"github.com/inferload/inferload/internal/tokenizer"
)

func TestBuildPolicy(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for _, name := range []string{"random", "round_robin", "consistent_hash", ""} {
		cfg := config.Default()
		cfg.Policy = name
		pol, err := buildPolicy(cfg, rng)
		require.NoError(t, err, name)
		require.NotNil(t, pol)
	}

	cfg := config.Default()
	cfg.Policy = "least_loaded"
	_, err := buildPolicy(cfg, rng)
	assert.Error(t, err)
}

func TestBuildArrival(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	cfg := config.Default()
	cfg.Arrival = "uniform"
	cfg.RequestRate = 4
	a, err := buildArrival(cfg, rng)
	require.NoError(t, err)
	assert.Equal(t, "uniform", a.Name())
	assert.Equal(t, 250*time.Millisecond, a.NextInterval())

	cfg.Arrival = "unknown"
	_, err = buildArrival(cfg, rng)
	assert.Error(t, err)
}

func TestBuildArrivalZeroRatePoissonIsImmediate(t *testing.T) {
	// With no rate configured, poisson degenerates to back-to-back sends
	cfg := config.Default()
	cfg.Arrival = "poisson"
	cfg.RequestRate = 0
	a, err := buildArrival(cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), a.NextInterval())
	assert.Equal(t, time.Duration(0), a.NextInterval())
}

func TestWriteOutputsProducesAllArtifacts(t *testing.T) {
	r := metrics.NewRequestOutput()
	r.Success = true
	r.RequestLatency = time.Second
	r.TTFT = 100 * time.Millisecond
	r.OutputLen = 10
	r.RouteDest = 0
	m := metrics.Aggregate([]*metrics.RequestOutput{r}, time.Second, time.Minute, tokenizer.NewHeuristic())

	dir := filepath.Join(t.TempDir(), "results")
	require.NoError(t, writeOutputs(dir, &m))

	for _, name := range []string{"summary.json", "records.json", "records.parquet", "report.html"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Greater(t, info.Size(), int64(0), name)
	}
}

func TestBuildArrivalInfiniteRateStaysImmediate(t *testing.T) {
	cfg := config.Default()
	cfg.Arrival = "poisson"
	cfg.RequestRate = math.Inf(1)
	a, err := buildArrival(cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), a.NextInterval())
}

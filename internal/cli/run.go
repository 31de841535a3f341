package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/inferload/inferload/internal/config"
	"github.com/inferload/inferload/internal/container"
	"github.com/inferload/inferload/internal/dispatch"
	"github.com/inferload/inferload/internal/export"
	"github.com/inferload/inferload/internal/gpu"
	"github.com/inferload/inferload/internal/loadgen"
	"github.com/inferload/inferload/internal/metrics"
	"github.com/inferload/inferload/internal/port"
	"github.com/inferload/inferload/internal/remote"
	"github.com/inferload/inferload/internal/router"
	"github.com/inferload/inferload/internal/runtime"
	"github.com/inferload/inferload/internal/tokenizer"
	"github.com/inferload/inferload/internal/workload"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Provision the runtime pool and drive one benchmark run",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		return runBenchmark(cfg)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runBenchmark(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rng := rand.New(rand.NewSource(cfg.Seed))

	reg := runtime.NewRegistry(cfg.ModelPath)
	opts, cleanup, err := provisionOptions(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := reg.Provision(ctx, cfg.GPUs, opts); err != nil {
		return fmt.Errorf("provision runtimes: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		_ = reg.Shutdown(shutdownCtx)
	}()

	pol, err := buildPolicy(cfg, rng)
	if err != nil {
		return err
	}
	rt := router.New(pol, reg.Len())
	eng := dispatch.New(reg, rt, dispatch.RetryConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		MaxElapsed:  cfg.RetryMaxElapsed.Std(),
	})

	if cfg.FlushCaches {
		reg.FlushCaches(ctx)
	}

	wl := workload.DefaultSyntheticConfig()
	wl.NumRequests = cfg.NumRequests
	requests := workload.GenerateSynthetic(wl, rng)

	arrival, err := buildArrival(cfg, rng)
	if err != nil {
		return err
	}

	slog.Info("starting run",
		"model", cfg.ModelPath, "runtimes", reg.Len(), "policy", rt.PolicyName(),
		"arrival", arrival.Name(), "rate", cfg.RequestRate, "requests", len(requests))

	gen := loadgen.New(eng, arrival)
	runStart := time.Now()
	results, err := gen.Run(ctx, requests)
	if err != nil {
		return fmt.Errorf("run aborted: %w", err)
	}
	overall := time.Since(runStart)

	m := metrics.Aggregate(results, overall, cfg.TimeLimit.Std(), tokenizer.NewHeuristic())
	m.LogSummary(slog.Default())

	return writeOutputs(cfg.OutputDir, &m)
}

// provisionOptions wires the collaborators the registry may need; docker,
// ports and the GPU probe are only set up when some config actually spawns
// locally.
func provisionOptions(cfg *config.Config) (runtime.ProvisionOptions, func(), error) {
	opts := runtime.ProvisionOptions{
		Image:         cfg.Image,
		ContextLength: cfg.ContextLength,
		ReadyTimeout:  cfg.ReadyTimeout.Std(),
		NewLauncher: func(c runtime.SSHConfig) runtime.RemoteLauncher {
			return remote.NewLauncher(c)
		},
	}
	cleanup := func() {}

	needsDocker := false
	for _, g := range cfg.GPUs {
		if g.URL == "" && g.SSH == nil {
			needsDocker = true
			break
		}
	}
	if needsDocker {
		svc, err := container.NewService()
		if err != nil {
			return opts, cleanup, fmt.Errorf("docker unavailable for local runtimes: %w", err)
		}
		opts.Docker = svc
		opts.Ports = port.NewManager(cfg.PortRangeMin, cfg.PortRangeMax, 30*time.Second)
		opts.GPUProbe = gpu.NewNVMLProvider()
		cleanup = func() { _ = svc.Close() }
	}
	return opts, cleanup, nil
}

func buildPolicy(cfg *config.Config, rng *rand.Rand) (router.Policy, error) {
	switch cfg.Policy {
	case "random":
		return router.NewRandomPolicy(rng), nil
	case "round_robin":
		return router.NewRoundRobinPolicy(), nil
	case "consistent_hash", "":
		return router.NewConsistentHashPolicy(cfg.PrefixLength, 0), nil
	default:
		return nil, fmt.Errorf("unknown policy %q", cfg.Policy)
	}
}

func buildArrival(cfg *config.Config, rng *rand.Rand) (loadgen.Arrival, error) {
	rate := cfg.RequestRate
	switch cfg.Arrival {
	case "poisson", "":
		if rate <= 0 {
			rate = math.Inf(1)
		}
		return loadgen.NewPoissonArrival(rate, rng), nil
	case "uniform":
		return loadgen.NewUniformArrival(rate), nil
	case "burst":
		return loadgen.NewBurstArrival(), nil
	default:
		return nil, fmt.Errorf("unknown arrival process %q", cfg.Arrival)
	}
}

func writeOutputs(dir string, m *metrics.BenchmarkMetrics) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory %s: %w", dir, err)
	}
	if err := export.WriteSummary(filepath.Join(dir, "summary.json"), m); err != nil {
		return err
	}
	if err := export.WriteRecordsJSON(filepath.Join(dir, "records.json"), m.AllResults); err != nil {
		return err
	}
	if err := export.WriteRecordsParquet(filepath.Join(dir, "records.parquet"), m.AllResults); err != nil {
		return err
	}
	return export.WriteReport(filepath.Join(dir, "report.html"), m)
}

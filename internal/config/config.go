package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inferload/inferload/internal/runtime"
)

// Duration is a time.Duration that decodes from YAML duration strings like
// "30s" or "10m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config describes one benchmark experiment.
type Config struct {
	// ModelPath is the checkpoint path or hub id served by every runtime
	ModelPath string `yaml:"model_path"`
	// GPUs defines the runtime pool; order defines the router index space
	GPUs []runtime.GPUConfig `yaml:"gpus"`

	// Policy selects the routing policy: random, round_robin,
	// consistent_hash
	Policy string `yaml:"policy"`
	// PrefixLength is the affinity key length for consistent_hash
	PrefixLength int `yaml:"prefix_length"`

	// Arrival selects the arrival process: poisson, uniform, burst
	Arrival string `yaml:"arrival"`
	// RequestRate is the offered load in requests per second; ignored for
	// burst arrivals
	RequestRate float64 `yaml:"request_rate"`
	// NumRequests is the workload size
	NumRequests int `yaml:"num_requests"`
	// TimeLimit bounds the finished-request window in aggregation
	TimeLimit Duration `yaml:"time_limit"`
	// Seed makes workload generation and arrival draws reproducible
	Seed int64 `yaml:"seed"`

	// RetryMaxAttempts and RetryMaxElapsed bound the resend loop for
	// backend-reported errors; zero means unbounded
	RetryMaxAttempts uint64   `yaml:"retry_max_attempts"`
	RetryMaxElapsed  Duration `yaml:"retry_max_elapsed"`

	// Image is the server image for locally spawned runtimes
	Image string `yaml:"image"`
	// ContextLength passed to spawned servers
	ContextLength int `yaml:"context_length"`
	// ReadyTimeout bounds the health wait for spawned servers
	ReadyTimeout Duration `yaml:"ready_timeout"`
	// PortRangeMin/Max bound host port allocation for spawned servers
	PortRangeMin int `yaml:"port_range_min"`
	PortRangeMax int `yaml:"port_range_max"`

	// FlushCaches clears backend KV caches before the run
	FlushCaches bool `yaml:"flush_caches"`

	// OutputDir receives the summary, records and report files
	OutputDir string `yaml:"output_dir"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		ModelPath:     "mistralai/Mistral-7B-v0.1",
		Policy:        "consistent_hash",
		PrefixLength:  512,
		Arrival:       "poisson",
		RequestRate:   8,
		NumRequests:   64,
		TimeLimit:     Duration(100 * time.Second),
		Seed:          1,
		Image:         "lmsysorg/sglang:latest",
		ContextLength: 4096,
		ReadyTimeout:  Duration(10 * time.Minute),
		PortRangeMin:  30000,
		PortRangeMax:  30100,
		FlushCaches:   true,
		OutputDir:     "results",
	}
}

// Load reads configuration from a YAML file, layering it over the defaults.
// An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations that cannot drive a run.
func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return fmt.Errorf("model_path is required")
	}
	if c.NumRequests <= 0 {
		return fmt.Errorf("num_requests must be positive, got %d", c.NumRequests)
	}
	if c.Arrival != "burst" && c.RequestRate <= 0 {
		return fmt.Errorf("request_rate must be positive for %s arrivals", c.Arrival)
	}
	if c.PortRangeMin > c.PortRangeMax {
		return fmt.Errorf("port range [%d, %d] is empty", c.PortRangeMin, c.PortRangeMax)
	}
	return nil
}

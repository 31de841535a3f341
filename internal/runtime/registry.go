package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/inferload/inferload/internal/container"
	"github.com/inferload/inferload/internal/gpu"
	"github.com/inferload/inferload/internal/port"
)

var (
	ErrNoGPUConfigs       = errors.New("no GPU configs supplied")
	ErrAlreadyProvisioned = errors.New("registry already provisioned")
)

// ProvisionOptions carries the collaborators Provision needs for the
// endpoint variants it may have to build.
type ProvisionOptions struct {
	// Image is the server image for locally spawned runtimes
	Image string
	// ContextLength passed to spawned servers
	ContextLength int
	// ReadyTimeout bounds the health wait for spawned servers
	ReadyTimeout time.Duration
	// Docker spawns local server containers; required only when a config
	// has neither URL nor SSH credentials
	Docker *container.Service
	// Ports allocates host ports for spawned servers
	Ports *port.Manager
	// NewLauncher builds the remote-execution collaborator for SSH configs
	NewLauncher func(SSHConfig) RemoteLauncher
	// GPUProbe, when set, validates local device ids against discovered
	// hardware and logs device specs. Probe failures degrade to a warning.
	GPUProbe gpu.Provider
}

// Registry owns the ordered endpoint list for one logical model. The order
// of the input configs defines the router's index space; the endpoint list
// is read-only after Provision.
type Registry struct {
	modelPath   string
	endpoints   []Endpoint
	httpClient  *http.Client
	provisioned bool
	shutdown    bool
}

// NewRegistry creates an empty registry for the given model.
func NewRegistry(modelPath string) *Registry {
	return &Registry{
		modelPath: modelPath,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Provision builds one endpoint per GPU config, preserving input order.
// Any endpoint that cannot be brought up is a fatal configuration error;
// the caller is expected to Shutdown the registry on any return path.
func (r *Registry) Provision(ctx context.Context, gpuConfigs []GPUConfig, opts ProvisionOptions) error {
	if r.provisioned {
		return ErrAlreadyProvisioned
	}
	if len(gpuConfigs) == 0 {
		return ErrNoGPUConfigs
	}

	deviceCount := r.probeDevices(opts.GPUProbe)

	for _, cfg := range gpuConfigs {
		ep, err := r.buildEndpoint(ctx, cfg, opts, deviceCount)
		if err != nil {
			return fmt.Errorf("provision gpu %d: %w", cfg.DeviceID, err)
		}
		r.endpoints = append(r.endpoints, ep)
		slog.Info("runtime provisioned",
			"runtime", ep.ID(), "gpu", ep.GPU(), "url", ep.URL(), "index", len(r.endpoints)-1)
	}
	r.provisioned = true
	return nil
}

// probeDevices returns the discovered device count, or -1 when no probe is
// available. Probe failures are not fatal; URL and SSH runtimes may live on
// machines this process cannot see.
func (r *Registry) probeDevices(probe gpu.Provider) int {
	if probe == nil {
		return -1
	}
	if err := probe.Init(); err != nil {
		slog.Warn("GPU probe init failed, skipping device validation", "error", err)
		return -1
	}
	defer probe.Shutdown()

	count, err := probe.DeviceCount()
	if err != nil {
		slog.Warn("GPU device count failed, skipping device validation", "error", err)
		return -1
	}
	if specs, err := probe.Specs(); err == nil {
		for _, s := range specs {
			slog.Info("discovered GPU", "index", s.Index, "name", s.Name, "memory_mb", s.MemoryTotal)
		}
	}
	// A busy device at provision time usually means a stale server is still
	// holding it; surface that before the run starts.
	if samples, err := probe.Metrics(); err == nil {
		for _, s := range samples {
			slog.Info("GPU state at provision",
				"index", s.Index, "gpu_util_percent", s.GPUUtil,
				"memory_used_mb", s.MemoryUsed, "temperature_c", s.Temperature)
		}
	}
	return count
}

func (r *Registry) buildEndpoint(ctx context.Context, cfg GPUConfig, opts ProvisionOptions, deviceCount int) (Endpoint, error) {
	id := uuid.New().String()

	switch {
	case cfg.URL != "":
		if cfg.SSH != nil {
			slog.Warn("gpu config has both url and ssh credentials; url takes precedence, remote boot skipped",
				"gpu", cfg.DeviceID, "url", cfg.URL)
		}
		return &urlEndpoint{base{id: id, url: cfg.URL, gpu: cfg.DeviceID}}, nil

	case cfg.SSH != nil:
		if opts.NewLauncher == nil {
			return nil, errors.New("ssh config supplied but no remote launcher available")
		}
		launcher := opts.NewLauncher(*cfg.SSH)
		// Remote servers get a deterministic port per device slot
		serverPort := 30000 + cfg.DeviceID
		url, err := launcher.StartServer(ctx, r.modelPath, cfg.DeviceID, serverPort, opts.ContextLength)
		if err != nil {
			return nil, fmt.Errorf("remote boot on %s: %w", cfg.SSH.Host, err)
		}
		return &sshEndpoint{base: base{id: id, url: url, gpu: cfg.DeviceID}, launcher: launcher}, nil

	default:
		if opts.Docker == nil {
			return nil, errors.New("local spawn requested but no docker service available")
		}
		if deviceCount >= 0 && cfg.DeviceID >= deviceCount {
			return nil, fmt.Errorf("device id %d out of range, %d GPUs discovered", cfg.DeviceID, deviceCount)
		}
		return r.spawnLocal(ctx, id, cfg, opts)
	}
}

func (r *Registry) spawnLocal(ctx context.Context, id string, cfg GPUConfig, opts ProvisionOptions) (Endpoint, error) {
	if opts.Ports == nil {
		return nil, errors.New("local spawn requested but no port manager available")
	}
	hostPort, err := opts.Ports.Allocate(id)
	if err != nil {
		return nil, fmt.Errorf("allocate server port: %w", err)
	}

	containerID, err := opts.Docker.SpawnServer(ctx, container.ServerConfig{
		RuntimeID:     id,
		Image:         opts.Image,
		ModelPath:     r.modelPath,
		DeviceID:      cfg.DeviceID,
		HostPort:      hostPort,
		ContextLength: opts.ContextLength,
	})
	if err != nil {
		_ = opts.Ports.Release(hostPort)
		return nil, fmt.Errorf("spawn server: %w", err)
	}

	url := fmt.Sprintf("http://localhost:%d", hostPort)
	readyTimeout := opts.ReadyTimeout
	if readyTimeout == 0 {
		readyTimeout = 10 * time.Minute
	}
	if err := opts.Docker.WaitForReady(ctx, url, readyTimeout); err != nil {
		_ = opts.Docker.RemoveServer(context.Background(), containerID, true)
		_ = opts.Ports.Release(hostPort)
		return nil, err
	}

	return &dockerEndpoint{
		base:        base{id: id, url: url, gpu: cfg.DeviceID},
		containerID: containerID,
		svc:         opts.Docker,
		releasePort: func() { _ = opts.Ports.Release(hostPort) },
	}, nil
}

// Endpoints returns the ordered endpoint list. Read-only after Provision.
func (r *Registry) Endpoints() []Endpoint {
	return r.endpoints
}

// Endpoint returns the endpoint at the given router index.
func (r *Registry) Endpoint(i int) Endpoint {
	return r.endpoints[i]
}

// Len returns the number of provisioned endpoints.
func (r *Registry) Len() int {
	return len(r.endpoints)
}

// ModelPath returns the model identifier the registry was built for.
func (r *Registry) ModelPath() string {
	return r.modelPath
}

// FlushCaches issues a cache-flush call to every runtime. Best-effort: an
// unreachable endpoint is logged and the remaining flushes still run.
func (r *Registry) FlushCaches(ctx context.Context) {
	for i, ep := range r.endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.FlushCacheURL(), nil)
		if err != nil {
			slog.Warn("flush cache request build failed", "runtime", i, "error", err)
			continue
		}
		resp, err := r.httpClient.Do(req)
		if err != nil {
			slog.Warn("flush cache failed", "runtime", i, "url", ep.FlushCacheURL(), "error", err)
			continue
		}
		resp.Body.Close()
	}
}

// Shutdown releases all runtimes. Idempotent.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r.shutdown {
		return nil
	}
	r.shutdown = true

	var firstErr error
	for _, ep := range r.endpoints {
		if err := ep.Shutdown(ctx); err != nil {
			slog.Warn("runtime shutdown failed", "runtime", ep.ID(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

package container

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

// serverPort is the port the inference server listens on inside the container
const serverPort = "30000/tcp"

// ServerConfig holds configuration for spawning a local inference server
type ServerConfig struct {
	RuntimeID     string // Used as container name
	Image         string // e.g., "lmsysorg/sglang:latest"
	ModelPath     string // Model checkpoint path or hub id
	DeviceID      int    // GPU index for NVIDIA_VISIBLE_DEVICES
	HostPort      int    // Host port bound to the server port
	ContextLength int    // Max context length passed to the server
	MemoryBytes   int64  // Memory limit in bytes, 0 for unlimited
}

// ServerInfo contains information about a running server container
type ServerInfo struct {
	ContainerID string
	HostPort    int
	State       string // "running", "exited", etc.
	Health      string // "healthy", "unhealthy", "starting", ""
}

// DockerClient interface for Docker operations (mockable)
type DockerClient interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ImageInspect(ctx context.Context, imageID string, inspectOpts ...client.ImageInspectOption) (image.InspectResponse, error)
	Close() error
}

// Compile-time interface check
var _ DockerClient = (*client.Client)(nil)

// Service wraps the Docker SDK for inference server container management
type Service struct {
	cli DockerClient
}

// NewService creates a Service with a Docker client from the environment
func NewService() (*Service, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Service{cli: cli}, nil
}

// NewServiceWithClient creates a Service with a provided client (for testing)
func NewServiceWithClient(cli DockerClient) *Service {
	return &Service{cli: cli}
}

// ensureImage pulls the server image if it's not available locally.
func (s *Service) ensureImage(ctx context.Context, imageName string) error {
	_, err := s.cli.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}

	slog.Info("image not found locally, pulling from registry", "image", imageName)

	reader, err := s.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	defer reader.Close()

	// Consume the reader to complete the pull (progress output is discarded)
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("error during image pull %s: %w", imageName, err)
	}

	slog.Info("image pulled successfully", "image", imageName)
	return nil
}

// SpawnServer creates and starts an inference server container bound to one
// GPU, returning its container id. The caller is responsible for waiting on
// server readiness via WaitForReady.
func (s *Service) SpawnServer(ctx context.Context, cfg ServerConfig) (string, error) {
	if err := s.ensureImage(ctx, cfg.Image); err != nil {
		return "", fmt.Errorf("failed to ensure image: %w", err)
	}

	containerConfig := &container.Config{
		Image: cfg.Image,
		Env: []string{
			fmt.Sprintf("NVIDIA_VISIBLE_DEVICES=%d", cfg.DeviceID),
			"NVIDIA_DRIVER_CAPABILITIES=all",
		},
		Cmd: []string{
			"python", "-m", "sglang.launch_server",
			"--model-path", cfg.ModelPath,
			"--host", "0.0.0.0",
			"--port", "30000",
			"--context-length", strconv.Itoa(cfg.ContextLength),
		},
		ExposedPorts: nat.PortSet{serverPort: struct{}{}},
	}

	hostConfig := &container.HostConfig{
		Runtime: "nvidia",
		Resources: container.Resources{
			Memory: cfg.MemoryBytes,
		},
		PortBindings: nat.PortMap{
			serverPort: []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: strconv.Itoa(cfg.HostPort)},
			},
		},
	}

	resp, err := s.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, cfg.RuntimeID)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := s.startWithRetry(ctx, resp.ID); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// startWithRetry starts a container with exponential backoff
func (s *Service) startWithRetry(ctx context.Context, containerID string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		if err := s.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
			return fmt.Errorf("failed to start container: %w", err)
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("failed to start container after retries: %w", err)
	}
	return nil
}

// WaitForReady polls the server health endpoint until it responds or the
// timeout elapses. Model loading dominates here, so intervals are coarse.
func (s *Service) WaitForReady(ctx context.Context, baseURL string, timeout time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = timeout

	httpClient := &http.Client{Timeout: 5 * time.Second}
	operation := func() error {
		resp, err := httpClient.Get(baseURL + "/health")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("health endpoint returned %s", resp.Status)
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("server at %s not ready within %s: %w", baseURL, timeout, err)
	}
	return nil
}

// StopServer stops a server container gracefully and waits for it to exit
func (s *Service) StopServer(ctx context.Context, containerID string, timeoutSeconds int) error {
	timeout := timeoutSeconds
	if err := s.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}

	waitCh, errCh := s.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case <-waitCh:
		return nil
	case err := <-errCh:
		return fmt.Errorf("error waiting for container to stop: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RemoveServer removes a server container and its volumes
func (s *Service) RemoveServer(ctx context.Context, containerID string, force bool) error {
	opts := container.RemoveOptions{RemoveVolumes: true, Force: force}
	if err := s.cli.ContainerRemove(ctx, containerID, opts); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// InspectServer returns state information about a server container
func (s *Service) InspectServer(ctx context.Context, containerID string) (*ServerInfo, error) {
	inspect, err := s.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	var hostPort int
	if inspect.NetworkSettings != nil && inspect.NetworkSettings.Ports != nil {
		if bindings, ok := inspect.NetworkSettings.Ports[serverPort]; ok && len(bindings) > 0 {
			if p, err := strconv.Atoi(bindings[0].HostPort); err == nil {
				hostPort = p
			}
		}
	}

	health := ""
	if inspect.State != nil && inspect.State.Health != nil {
		health = inspect.State.Health.Status
	}
	state := ""
	if inspect.State != nil {
		state = inspect.State.Status
	}

	return &ServerInfo{
		ContainerID: inspect.ID,
		HostPort:    hostPort,
		State:       state,
		Health:      health,
	}, nil
}

// Close closes the Docker client connection
func (s *Service) Close() error {
	if s.cli != nil {
		return s.cli.Close()
	}
	return nil
}

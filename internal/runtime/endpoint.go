package runtime

import (
	"context"
	"fmt"

	"github.com/inferload/inferload/internal/container"
)

// Endpoint is one backend capable of serving generate requests. Variants
// differ only in how the underlying server process is brought up and torn
// down.
type Endpoint interface {
	// ID is a stable identifier generated once at construction
	ID() string
	// URL is the base network address of the server
	URL() string
	// GenerateURL is the address generate requests are posted to
	GenerateURL() string
	// FlushCacheURL is the address of the cache-flush operation
	FlushCacheURL() string
	// GPU returns the owning device id
	GPU() int
	// Shutdown releases the backing server process, if any
	Shutdown(ctx context.Context) error
}

// base carries the attributes every variant shares.
type base struct {
	id  string
	url string
	gpu int
}

func (b *base) ID() string            { return b.id }
func (b *base) URL() string           { return b.url }
func (b *base) GenerateURL() string   { return b.url + "/generate" }
func (b *base) FlushCacheURL() string { return b.url + "/flush_cache" }
func (b *base) GPU() int              { return b.gpu }

// urlEndpoint fronts a pre-existing server the registry does not own.
type urlEndpoint struct {
	base
}

func (e *urlEndpoint) Shutdown(ctx context.Context) error {
	// The server existed before this run; leave it running.
	return nil
}

// dockerEndpoint owns a locally spawned server container.
type dockerEndpoint struct {
	base
	containerID string
	svc         *container.Service
	releasePort func()
}

func (e *dockerEndpoint) Shutdown(ctx context.Context) error {
	if err := e.svc.StopServer(ctx, e.containerID, 10); err != nil {
		return fmt.Errorf("stop runtime %s: %w", e.id, err)
	}
	if err := e.svc.RemoveServer(ctx, e.containerID, true); err != nil {
		return fmt.Errorf("remove runtime %s: %w", e.id, err)
	}
	if e.releasePort != nil {
		e.releasePort()
	}
	return nil
}

// sshEndpoint owns a server process booted on a remote host.
type sshEndpoint struct {
	base
	launcher RemoteLauncher
}

func (e *sshEndpoint) Shutdown(ctx context.Context) error {
	if err := e.launcher.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown remote runtime %s: %w", e.id, err)
	}
	return nil
}

// RemoteLauncher boots a server process on a remote host and returns its
// reachable base URL. Implemented by internal/remote; mocked in tests.
type RemoteLauncher interface {
	StartServer(ctx context.Context, modelPath string, deviceID, serverPort, contextLength int) (baseURL string, err error)
	Shutdown(ctx context.Context) error
}

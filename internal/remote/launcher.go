package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/crypto/ssh"

	"github.com/inferload/inferload/internal/runtime"
)

// Launcher boots an inference server process on a remote host over SSH and
// reports the address it becomes reachable on. One launcher owns one remote
// process.
type Launcher struct {
	cfg     runtime.SSHConfig
	client  *ssh.Client
	session *ssh.Session
}

func NewLauncher(cfg runtime.SSHConfig) *Launcher {
	return &Launcher{cfg: cfg}
}

// StartServer connects to the remote host, launches the server pinned to the
// given device, and waits for its health endpoint before returning the base
// URL.
func (l *Launcher) StartServer(ctx context.Context, modelPath string, deviceID, serverPort, contextLength int) (string, error) {
	if err := l.connect(); err != nil {
		return "", err
	}

	session, err := l.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session on %s: %w", l.cfg.Host, err)
	}
	l.session = session

	python := l.cfg.PythonPath
	if python == "" {
		python = "python"
	}
	cmd := fmt.Sprintf(
		"CUDA_VISIBLE_DEVICES=%d exec %s -m sglang.launch_server --model-path %s --host 0.0.0.0 --port %d --context-length %d",
		deviceID, python, modelPath, serverPort, contextLength,
	)
	if err := session.Start(cmd); err != nil {
		return "", fmt.Errorf("start remote server on %s: %w", l.cfg.Host, err)
	}
	slog.Info("remote server starting",
		"host", l.cfg.Host, "node", l.cfg.NodeName, "gpu", deviceID, "port", serverPort)

	baseURL := fmt.Sprintf("http://%s:%d", l.cfg.Host, serverPort)
	if err := l.waitForHealth(ctx, baseURL); err != nil {
		_ = l.Shutdown(context.Background())
		return "", err
	}
	return baseURL, nil
}

func (l *Launcher) connect() error {
	key, err := os.ReadFile(l.cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("read ssh key %s: %w", l.cfg.KeyFile, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return fmt.Errorf("parse ssh key %s: %w", l.cfg.KeyFile, err)
	}

	sshPort := l.cfg.Port
	if sshPort == 0 {
		sshPort = 22
	}
	addr := net.JoinHostPort(l.cfg.Host, strconv.Itoa(sshPort))

	clientCfg := &ssh.ClientConfig{
		User:            l.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // lab hosts, keys churn on reimage
		Timeout:         15 * time.Second,
	}
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	l.client = client
	return nil
}

// waitForHealth polls the remote server until it answers. Model loading on
// the remote GPU dominates this wait.
func (l *Launcher) waitForHealth(ctx context.Context, baseURL string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 10 * time.Minute

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
		return fmt.Errorf("remote server at %s not ready: %w", baseURL, err)
	}
	return nil
}

// Shutdown terminates the remote process and closes the connection.
func (l *Launcher) Shutdown(ctx context.Context) error {
	if l.session != nil {
		_ = l.session.Signal(ssh.SIGTERM)
		_ = l.session.Close()
		l.session = nil
	}
	if l.client != nil {
		err := l.client.Close()
		l.client = nil
		return err
	}
	return nil
}

// Compile-time interface check
var _ runtime.RemoteLauncher = (*Launcher)(nil)

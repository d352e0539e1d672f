// Package sandbox executes untrusted Python and shell snippets in an
// isolated container reached over HTTP. When auto-start is configured
// the container is started on first use through the Docker API and
// stopped again after an idle period.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/nevindra/lolo"
)

// ExecTimeout bounds one code execution end to end.
const ExecTimeout = 180 * time.Second

// Result is one execution's outcome.
type Result struct {
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
	ExitCode int      `json:"exit_code"`
	Images   []string `json:"images,omitempty"` // base64 PNGs produced by plotting
}

// Runner executes code in the sandbox container.
type Runner struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	// docker lifecycle; nil when auto-start is off
	docker    *client.Client
	container string
	idleStop  time.Duration

	mu       sync.Mutex
	lastUsed time.Time
	stopPing chan struct{}
}

// Option configures the Runner.
type Option func(*Runner)

// WithHTTPClient replaces the transport (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(r *Runner) { r.http = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithAutoStart enables Docker lifecycle management of the named
// container, stopping it after idleStop without executions.
func WithAutoStart(containerName string, idleStop time.Duration) Option {
	return func(r *Runner) {
		r.container = containerName
		r.idleStop = idleStop
	}
}

// New creates a Runner for the sandbox service at baseURL.
func New(baseURL string, opts ...Option) (*Runner, error) {
	r := &Runner{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: ExecTimeout + 10*time.Second},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(r)
	}
	if r.container != "" {
		docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("sandbox: docker client: %w", err)
		}
		r.docker = docker
		r.stopPing = make(chan struct{}, 1)
		go r.idleLoop()
	}
	return r, nil
}

// Close stops the idle loop. The container keeps its current state.
func (r *Runner) Close() error {
	if r.stopPing != nil {
		close(r.stopPing)
	}
	if r.docker != nil {
		return r.docker.Close()
	}
	return nil
}

// RunPython executes a Python snippet.
func (r *Runner) RunPython(ctx context.Context, code string, timeout time.Duration) (*Result, error) {
	return r.run(ctx, "/exec/python", code, timeout)
}

// RunShell executes a shell command inside the sandbox.
func (r *Runner) RunShell(ctx context.Context, command string, timeout time.Duration) (*Result, error) {
	return r.run(ctx, "/exec/shell", command, timeout)
}

func (r *Runner) run(ctx context.Context, path, code string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 || timeout > ExecTimeout {
		timeout = ExecTimeout
	}
	if err := r.ensureRunning(ctx); err != nil {
		return nil, err
	}
	r.touch()

	body, err := json.Marshal(struct {
		Code           string `json:"code"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}{Code: code, TimeoutSeconds: int(timeout.Seconds())})
	if err != nil {
		return nil, fmt.Errorf("sandbox: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout+15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sandbox: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &lolo.ErrHTTP{Status: resp.StatusCode, Body: string(data)}
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("sandbox: decode result: %w", err)
	}
	return &result, nil
}

// ensureRunning starts the managed container when needed. Without
// auto-start this is a no-op and the service is assumed reachable.
func (r *Runner) ensureRunning(ctx context.Context) error {
	if r.docker == nil {
		return nil
	}
	inspect, err := r.docker.ContainerInspect(ctx, r.container)
	if err != nil {
		return fmt.Errorf("sandbox: inspect %s: %w", r.container, err)
	}
	if inspect.State != nil && inspect.State.Running {
		if inspect.NetworkSettings != nil {
			r.checkPorts(inspect.NetworkSettings.Ports)
		}
		return nil
	}
	r.logger.Info("starting sandbox container", "container", r.container)
	if err := r.docker.ContainerStart(ctx, r.container, container.StartOptions{}); err != nil {
		return fmt.Errorf("sandbox: start %s: %w", r.container, err)
	}
	// Give the service a moment to bind before the first request.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
	}
	return nil
}

// checkPorts warns when the running container does not publish the port
// the base URL points at, which otherwise surfaces only as opaque
// connection errors on the first execution.
func (r *Runner) checkPorts(ports nat.PortMap) {
	u, err := url.Parse(r.baseURL)
	if err != nil || u.Port() == "" {
		return
	}
	want, err := nat.NewPort("tcp", u.Port())
	if err != nil {
		return
	}
	for exposed := range ports {
		if exposed == want || exposed.Port() == want.Port() {
			return
		}
	}
	r.logger.Warn("sandbox container does not expose the configured port",
		"container", r.container, "port", want.Port())
}

func (r *Runner) touch() {
	r.mu.Lock()
	r.lastUsed = time.Now()
	r.mu.Unlock()
}

// idleLoop stops the managed container after the idle period.
func (r *Runner) idleLoop() {
	if r.idleStop <= 0 {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopPing:
			return
		case <-ticker.C:
		}
		r.mu.Lock()
		idle := !r.lastUsed.IsZero() && time.Since(r.lastUsed) > r.idleStop
		if idle {
			r.lastUsed = time.Time{}
		}
		r.mu.Unlock()
		if !idle {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := r.docker.ContainerStop(ctx, r.container, container.StopOptions{}); err != nil {
			r.logger.Warn("stopping idle sandbox failed", "error", err)
		} else {
			r.logger.Info("stopped idle sandbox container", "container", r.container)
		}
		cancel()
	}
}

package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	backendDocker     = "docker"
	containerWorkDir  = "/workspace"
	sourceFileName    = "main.py"
	stdinFileName     = "input.txt"
	defaultPidsLimit  = 64
	defaultDockerTime = 5 * time.Second
)

// dockerAPI is the subset of the Docker client the executor drives.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// DockerConfig groups sandbox settings.
type DockerConfig struct {
	Host          string
	Image         string
	Timeout       time.Duration
	MemoryLimitMB int64
	CPUShares     int64
	PidsLimit     int64
	WorkspaceRoot string
	MaxOutput     int
	Logger        zerolog.Logger
}

// DockerExecutor runs each submission in a fresh, network-less Python container.
type DockerExecutor struct {
	api    dockerAPI
	cfg    DockerConfig
	tracer trace.Tracer
	log    zerolog.Logger
}

// NewDockerExecutor connects to the Docker daemon described by cfg.Host (or the environment).
func NewDockerExecutor(cfg DockerConfig) (*DockerExecutor, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newDockerExecutor(cli, cfg), nil
}

func newDockerExecutor(api dockerAPI, cfg DockerConfig) *DockerExecutor {
	if cfg.Image == "" {
		cfg.Image = "python:3.11-alpine"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDockerTime
	}
	if cfg.PidsLimit <= 0 {
		cfg.PidsLimit = defaultPidsLimit
	}
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}
	return &DockerExecutor{
		api:    api,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/stemsi/codexam/internal/executor"),
		log:    cfg.Logger.With().Str("component", "docker_executor").Logger(),
	}
}

// Execute runs req.Code with req.Stdin piped in.
func (e *DockerExecutor) Execute(parent context.Context, req Request) (Result, error) {
	ctx, span := e.tracer.Start(parent, "executor.docker.run", trace.WithAttributes(
		attribute.String("docker.image", e.cfg.Image),
	))
	defer span.End()

	fail := func(op string, err error) (Result, error) {
		execFailures.WithLabelValues(backendDocker).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	}

	workspace, err := os.MkdirTemp(e.cfg.WorkspaceRoot, "run-")
	if err != nil {
		return fail("create workspace", err)
	}
	defer os.RemoveAll(workspace)

	if err := os.WriteFile(filepath.Join(workspace, sourceFileName), []byte(req.Code), 0o644); err != nil {
		return fail("write source", err)
	}
	if err := os.WriteFile(filepath.Join(workspace, stdinFileName), []byte(req.Stdin), 0o644); err != nil {
		return fail("write stdin", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}

	pids := e.cfg.PidsLimit
	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Resources: container.Resources{
			Memory:    e.cfg.MemoryLimitMB * 1024 * 1024,
			CPUShares: e.cfg.CPUShares,
			PidsLimit: &pids,
		},
		Mounts: []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   workspace,
			Target:   containerWorkDir,
			ReadOnly: true,
		}},
	}
	cfg := &container.Config{
		Image:           e.cfg.Image,
		Cmd:             []string{"sh", "-c", "python -u " + sourceFileName + " < " + stdinFileName},
		WorkingDir:      containerWorkDir,
		Env:             []string{"PYTHONDONTWRITEBYTECODE=1"},
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
	}

	start := time.Now()
	resp, err := e.api.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return fail("container create", err)
	}
	containerID := resp.ID
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.api.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			e.log.Error().Err(err).Str("container_id", containerID).Msg("Failed to remove container")
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Register the wait before starting so a fast exit is not missed.
	statusCh, errCh := e.api.ContainerWait(runCtx, containerID, container.WaitConditionNextExit)

	if err := e.api.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fail("container start", err)
	}

	result := Result{}
	var waitErr error
	select {
	case status := <-statusCh:
		result.ExitCode = int(status.StatusCode)
		if status.Error != nil && status.Error.Message != "" {
			waitErr = errors.New(status.Error.Message)
		}
	case err := <-errCh:
		waitErr = err
	case <-runCtx.Done():
		waitErr = runCtx.Err()
	}
	result.Duration = time.Since(start)
	execDuration.WithLabelValues(backendDocker).Observe(result.Duration.Seconds())

	if waitErr != nil {
		switch {
		case parent.Err() != nil:
			return fail("container wait", parent.Err())
		case errors.Is(waitErr, context.DeadlineExceeded) || runCtx.Err() == context.DeadlineExceeded:
			result.TimedOut = true
			result.ExitCode = -1
			execTimeouts.WithLabelValues(backendDocker).Inc()
			span.SetStatus(codes.Error, "execution timed out")
			killCtx, cancelKill := context.WithTimeout(context.Background(), 2*time.Second)
			if err := e.api.ContainerKill(killCtx, containerID, "KILL"); err != nil {
				e.log.Warn().Err(err).Str("container_id", containerID).Msg("Failed to kill timed out container")
			}
			cancelKill()
		default:
			return fail("container wait", waitErr)
		}
	}

	logCtx, cancelLogs := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelLogs()
	logs, err := e.api.ContainerLogs(logCtx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return fail("container logs", err)
	}
	defer logs.Close()

	stdout, stderr := newCappedBuffer(e.cfg.MaxOutput), newCappedBuffer(e.cfg.MaxOutput)
	if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil {
		e.log.Warn().Err(err).Str("container_id", containerID).Msg("Failed to demultiplex container logs")
	}
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	span.SetAttributes(
		attribute.Int("exit_code", result.ExitCode),
		attribute.Bool("timed_out", result.TimedOut),
	)
	return result, nil
}

// Close releases the Docker client.
func (e *DockerExecutor) Close() error {
	if e.api == nil {
		return nil
	}
	return e.api.Close()
}

package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const backendProcess = "process"

// ProcessConfig configures the local interpreter runner.
type ProcessConfig struct {
	// Interpreter is the program that receives the source file path, e.g. "python3".
	Interpreter   string
	Timeout       time.Duration
	WorkspaceRoot string
	MaxOutput     int
	Logger        zerolog.Logger
}

// ProcessExecutor runs code with a host interpreter. It gives no isolation beyond a
// private temp directory and is meant for development and tests.
type ProcessExecutor struct {
	cfg ProcessConfig
	log zerolog.Logger
}

// NewProcessExecutor resolves the interpreter on PATH.
func NewProcessExecutor(cfg ProcessConfig) (*ProcessExecutor, error) {
	if cfg.Interpreter == "" {
		cfg.Interpreter = "python3"
	}
	path, err := exec.LookPath(cfg.Interpreter)
	if err != nil {
		return nil, fmt.Errorf("%w: interpreter %q: %w", ErrUnavailable, cfg.Interpreter, err)
	}
	cfg.Interpreter = path
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDockerTime
	}
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}
	return &ProcessExecutor{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "process_executor").Logger(),
	}, nil
}

func (e *ProcessExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	workspace, err := os.MkdirTemp(e.cfg.WorkspaceRoot, "run-")
	if err != nil {
		execFailures.WithLabelValues(backendProcess).Inc()
		return Result{}, fmt.Errorf("%w: create workspace: %w", ErrUnavailable, err)
	}
	defer os.RemoveAll(workspace)

	source := filepath.Join(workspace, sourceFileName)
	if err := os.WriteFile(source, []byte(req.Code), 0o600); err != nil {
		execFailures.WithLabelValues(backendProcess).Inc()
		return Result{}, fmt.Errorf("%w: write source: %w", ErrUnavailable, err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr := newCappedBuffer(e.cfg.MaxOutput), newCappedBuffer(e.cfg.MaxOutput)
	cmd := exec.CommandContext(runCtx, e.cfg.Interpreter, source)
	cmd.Dir = workspace
	cmd.Env = []string{"PATH=" + os.Getenv("PATH"), "HOME=" + workspace, "PYTHONDONTWRITEBYTECODE=1"}
	cmd.Stdin = strings.NewReader(req.Stdin)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	runErr := cmd.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	execDuration.WithLabelValues(backendProcess).Observe(result.Duration.Seconds())

	if runErr == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		execTimeouts.WithLabelValues(backendProcess).Inc()
		return result, nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	execFailures.WithLabelValues(backendProcess).Inc()
	e.log.Error().Err(runErr).Msg("Interpreter failed to start")
	return Result{}, fmt.Errorf("%w: run: %w", ErrUnavailable, runErr)
}

// Package execute runs a composed script inside its container image.
package execute

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/systemstart/cellpipe/pkg/rmd"
)

const (
	// ContainerWorkDir is where the job's work directory is mounted.
	ContainerWorkDir = "/work"
	// ThreadsEnv carries the thread allocation into the container.
	ThreadsEnv = "CELLPIPE_MAX_THREADS"

	defaultDocker      = "docker"
	defaultWaitDelay   = 10 * time.Second
	defaultKillTimeout = 30 * time.Second
)

var (
	ErrTimedOut       = errors.New("execution timed out")
	ErrCancelled      = errors.New("execution cancelled")
	ErrDockerNotFound = errors.New("docker binary not found")
)

// ExecutionError reports a container that exited non-zero. Stdout and Stderr
// are kept verbatim.
type ExecutionError struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("script exited with code %d\nstderr: %s", e.ExitCode, e.Stderr)
}

// Request describes one script execution.
type Request struct {
	// WorkDir is the host directory mounted at ContainerWorkDir.
	WorkDir string
	// Script and Report are file names relative to WorkDir.
	Script string
	Report string
	Image  string
	// Name is the container name, used to kill it on timeout.
	Name    string
	Threads int
	Timeout time.Duration
}

// Result is the outcome of a successful execution.
type Result struct {
	Threads  int
	Duration time.Duration
	Stdout   []byte
	Stderr   []byte
}

// Runner executes scripts through the docker CLI.
type Runner struct {
	// Docker is the docker binary; defaults to "docker" on PATH.
	Docker string
	// MaxThreads caps the threads any request receives. 0 means no cap.
	MaxThreads int
	Logger     *slog.Logger
}

func (r *Runner) docker() string {
	if r.Docker == "" {
		return defaultDocker
	}
	return r.Docker
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Threads returns the thread count a request with the given value receives.
func (r *Runner) Threads(requested int) int {
	n := max(requested, 1)
	if r.MaxThreads > 0 && n > r.MaxThreads {
		r.logger().Warn("capping threads to allocation", "requested", n, "maxThreads", r.MaxThreads)
		n = r.MaxThreads
	}
	return n
}

// Args returns the docker arguments for req with the given thread count.
func Args(req Request, threads int) []string {
	render := fmt.Sprintf("rmarkdown::render(%s, output_file = %s)", rmd.Quote(req.Script), rmd.Quote(req.Report))
	return []string{
		"run", "--rm",
		"--name", req.Name,
		"-v", req.WorkDir + ":" + ContainerWorkDir,
		"-w", ContainerWorkDir,
		"--cpus", strconv.Itoa(threads),
		"-e", ThreadsEnv + "=" + strconv.Itoa(threads),
		req.Image,
		"Rscript", "-e", render,
	}
}

// Run executes req and blocks until the container exits, the timeout elapses
// or ctx is cancelled. On timeout or cancellation the container is killed.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if req.WorkDir == "" || req.Script == "" || req.Image == "" || req.Name == "" {
		return nil, fmt.Errorf("work directory, script, image and name are required")
	}

	docker, err := exec.LookPath(r.docker())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDockerNotFound, err)
	}

	threads := r.Threads(req.Threads)

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	log := r.logger().With("container", req.Name, "image", req.Image)
	log.Info("running script", "script", req.Script, "threads", threads, "timeout", req.Timeout)

	cmd := exec.CommandContext(runCtx, docker, Args(req, threads)...)
	cmd.Dir = req.WorkDir
	cmd.WaitDelay = defaultWaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	switch {
	case ctx.Err() != nil:
		r.kill(docker, req.Name, log)
		return nil, fmt.Errorf("%w after %s: %w", ErrCancelled, elapsed.Round(time.Millisecond), ctx.Err())
	case runCtx.Err() != nil:
		r.kill(docker, req.Name, log)
		return nil, fmt.Errorf("%w after %s", ErrTimedOut, req.Timeout)
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ExecutionError{ExitCode: exitErr.ExitCode(), Stdout: stdout.String(), Stderr: stderr.String()}
		}
		return nil, fmt.Errorf("running docker: %w", err)
	}

	log.Info("script finished", "duration", elapsed.Round(time.Millisecond))
	return &Result{
		Threads:  threads,
		Duration: elapsed,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}, nil
}

// kill stops a container left behind by an interrupted run. The docker
// client being killed does not stop the container itself.
func (r *Runner) kill(docker, name string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultKillTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, docker, "kill", name).CombinedOutput()
	if err != nil {
		log.Warn("killing container", "error", err, "output", string(bytes.TrimSpace(out)))
		return
	}
	log.Info("killed container")
}

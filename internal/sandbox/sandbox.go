// Package sandbox runs an application command inside an isolated container
// with the task's input and output directories mounted.
package sandbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/seantiz/gantry/internal/taskerr"
)

// cleanupTimeout bounds the stop and remove calls made after a run, which
// use a fresh context so that cancellation never skips cleanup.
const cleanupTimeout = 30 * time.Second

// CreateSpec describes the container to create.
type CreateSpec struct {
	Name    string
	Image   string
	Command string
	Env     []string
	Labels  map[string]string
	// Binds are host:container bind mounts.
	Binds []string
}

// Runtime is a container engine.
type Runtime interface {
	// Create creates a container and returns its ID along with any
	// non-fatal warnings.
	Create(ctx context.Context, spec CreateSpec) (id string, warnings []string, err error)
	Start(ctx context.Context, id string) error
	// Wait blocks until the container exits and returns its exit status.
	Wait(ctx context.Context, id string) (int, error)
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	// Logs writes the container's combined output to w.
	Logs(ctx context.Context, id string, w io.Writer) error
}

// Spec is one sandboxed invocation.
type Spec struct {
	Name        string
	Image       string
	Command     string
	InputDir    string
	OutputDir   string
	InputMount  string
	OutputMount string
	Env         map[string]string
	Labels      map[string]string

	// LogWriter, if set, receives the container output line by line after
	// the container exits.
	LogWriter func(line string)
}

// Result reports how a container finished.
type Result struct {
	ContainerID string
	ExitCode    int
	Duration    time.Duration
}

// Runner drives a Runtime through create, start, wait and remove.
type Runner struct {
	rt     Runtime
	logger *slog.Logger
}

// NewRunner creates a runner over rt.
func NewRunner(rt Runtime, logger *slog.Logger) *Runner {
	return &Runner{rt: rt, logger: logger}
}

// Run creates the container, starts it and blocks until it exits. The
// container is removed on every path once it has been created.
//
// A non-zero exit status is logged but is not an error: whether the run
// produced what it should is decided when outputs are staged. Create, start
// and wait failures are retryable execution errors. If ctx is cancelled
// while waiting the container is stopped and ctx.Err() is returned.
func (r *Runner) Run(ctx context.Context, spec Spec) (*Result, error) {
	start := time.Now()
	defer func() {
		runDuration.Observe(time.Since(start).Seconds())
	}()

	id, warnings, err := r.rt.Create(ctx, CreateSpec{
		Name:    spec.Name,
		Image:   spec.Image,
		Command: spec.Command,
		Env:     envList(spec.Env),
		Labels:  spec.Labels,
		Binds: []string{
			spec.InputDir + ":" + spec.InputMount,
			spec.OutputDir + ":" + spec.OutputMount,
		},
	})
	if err != nil {
		runsTotal.WithLabelValues(outcomeError).Inc()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, taskerr.Execution("create container", spec.Image, err)
	}
	for _, w := range warnings {
		r.logger.Warn("container created with warning", "container_id", id, "name", spec.Name, "warning", w)
	}

	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := r.rt.Remove(cctx, id); err != nil {
			r.logger.Error("failed to remove container", "container_id", id, "error", err)
		}
	}()

	if err := r.rt.Start(ctx, id); err != nil {
		runsTotal.WithLabelValues(outcomeError).Inc()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, taskerr.Execution("start container", id, err)
	}
	r.logger.Info("container started", "container_id", id, "name", spec.Name, "image", spec.Image)

	code, err := r.rt.Wait(ctx, id)
	if ctxErr := ctx.Err(); ctxErr != nil {
		r.stop(id)
		runsTotal.WithLabelValues(outcomeCancelled).Inc()
		return nil, ctxErr
	}
	if err != nil {
		runsTotal.WithLabelValues(outcomeError).Inc()
		return nil, taskerr.Execution("wait for container", id, err)
	}

	if spec.LogWriter != nil {
		r.collectLogs(ctx, id, spec.LogWriter)
	}

	res := &Result{ContainerID: id, ExitCode: code, Duration: time.Since(start)}
	if code != 0 {
		runsTotal.WithLabelValues(outcomeNonZero).Inc()
		r.logger.Warn("container exited with non-zero status",
			"container_id", id,
			"name", spec.Name,
			"exit_code", code,
		)
	} else {
		runsTotal.WithLabelValues(outcomeExited).Inc()
		r.logger.Info("container exited", "container_id", id, "name", spec.Name, "duration_ms", res.Duration.Milliseconds())
	}
	return res, nil
}

func (r *Runner) stop(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := r.rt.Stop(ctx, id); err != nil {
		r.logger.Error("failed to stop container", "container_id", id, "error", err)
	}
}

func (r *Runner) collectLogs(ctx context.Context, id string, emit func(string)) {
	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := bufio.NewScanner(pr)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			emit(sc.Text())
		}
		// Drain so the writer never blocks on an over-long line.
		io.Copy(io.Discard, pr)
	}()

	err := r.rt.Logs(ctx, id, pw)
	pw.CloseWithError(err)
	<-done
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("failed to collect container logs", "container_id", id, "error", err)
	}
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return out
}

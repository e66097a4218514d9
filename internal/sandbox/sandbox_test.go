package sandbox_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/gantry/internal/sandbox"
	"github.com/seantiz/gantry/internal/taskerr"
)

// fakeRuntime records calls and lets each test script failures.
type fakeRuntime struct {
	mu       sync.Mutex
	calls    []string
	created  sandbox.CreateSpec
	warnings []string

	createErr error
	startErr  error
	waitErr   error
	exitCode  int
	logs      string
	// block makes Wait park until ctx is done.
	block bool
}

func (f *fakeRuntime) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeRuntime) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeRuntime) Create(_ context.Context, spec sandbox.CreateSpec) (string, []string, error) {
	f.record("create")
	f.created = spec
	if f.createErr != nil {
		return "", nil, f.createErr
	}
	return "c-1", f.warnings, nil
}

func (f *fakeRuntime) Start(context.Context, string) error {
	f.record("start")
	return f.startErr
}

func (f *fakeRuntime) Wait(ctx context.Context, _ string) (int, error) {
	f.record("wait")
	if f.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return f.exitCode, f.waitErr
}

func (f *fakeRuntime) Stop(context.Context, string) error {
	f.record("stop")
	return nil
}

func (f *fakeRuntime) Remove(ctx context.Context, _ string) error {
	f.record("remove")
	if ctx.Err() != nil {
		return fmt.Errorf("remove with done context: %w", ctx.Err())
	}
	return nil
}

func (f *fakeRuntime) Logs(_ context.Context, _ string, w io.Writer) error {
	f.record("logs")
	_, err := io.WriteString(w, f.logs)
	return err
}

func newRunner(rt sandbox.Runtime) *sandbox.Runner {
	return sandbox.NewRunner(rt, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func testSpec() sandbox.Spec {
	return sandbox.Spec{
		Name:        "task-1",
		Image:       "alpine:3",
		Command:     "cat /in/a > /out/b",
		InputDir:    "/work/task-1/data/input",
		OutputDir:   "/work/task-1/data/output",
		InputMount:  "/in",
		OutputMount: "/out",
		Env:         map[string]string{"B": "2", "A": "1"},
	}
}

func TestRunSuccess(t *testing.T) {
	rt := &fakeRuntime{warnings: []string{"low memory"}}
	res, err := newRunner(rt).Run(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 || res.ContainerID != "c-1" {
		t.Errorf("result = %+v", res)
	}

	wantBinds := []string{"/work/task-1/data/input:/in", "/work/task-1/data/output:/out"}
	if strings.Join(rt.created.Binds, ",") != strings.Join(wantBinds, ",") {
		t.Errorf("binds = %v, want %v", rt.created.Binds, wantBinds)
	}
	if strings.Join(rt.created.Env, ",") != "A=1,B=2" {
		t.Errorf("env = %v, want sorted A=1,B=2", rt.created.Env)
	}
	if rt.count("remove") != 1 {
		t.Errorf("remove calls = %d, want 1", rt.count("remove"))
	}
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	rt := &fakeRuntime{exitCode: 3}
	res, err := newRunner(rt).Run(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if rt.count("remove") != 1 {
		t.Errorf("remove calls = %d, want 1", rt.count("remove"))
	}
}

func TestRunCreateFailure(t *testing.T) {
	rt := &fakeRuntime{createErr: errors.New("no such image")}
	_, err := newRunner(rt).Run(context.Background(), testSpec())
	if taskerr.KindOf(err) != taskerr.KindExecution {
		t.Fatalf("kind = %q, want execution", taskerr.KindOf(err))
	}
	if !taskerr.Retryable(err) {
		t.Error("create failure should be retryable")
	}
	if rt.count("remove") != 0 {
		t.Error("remove called for a container that was never created")
	}
}

func TestRunStartFailureStillRemoves(t *testing.T) {
	rt := &fakeRuntime{startErr: errors.New("port in use")}
	_, err := newRunner(rt).Run(context.Background(), testSpec())
	if taskerr.KindOf(err) != taskerr.KindExecution {
		t.Fatalf("kind = %q, want execution", taskerr.KindOf(err))
	}
	if rt.count("remove") != 1 {
		t.Errorf("remove calls = %d, want 1", rt.count("remove"))
	}
}

func TestRunWaitFailure(t *testing.T) {
	rt := &fakeRuntime{waitErr: errors.New("daemon went away")}
	_, err := newRunner(rt).Run(context.Background(), testSpec())
	if taskerr.KindOf(err) != taskerr.KindExecution {
		t.Fatalf("kind = %q, want execution", taskerr.KindOf(err))
	}
	if rt.count("remove") != 1 {
		t.Errorf("remove calls = %d, want 1", rt.count("remove"))
	}
}

func TestRunCancelledStopsAndRemoves(t *testing.T) {
	rt := &fakeRuntime{block: true}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := newRunner(rt).Run(ctx, testSpec())
		done <- err
	}()
	for rt.count("wait") == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if rt.count("stop") != 1 {
		t.Errorf("stop calls = %d, want 1", rt.count("stop"))
	}
	// Remove must get a live context even though ctx is cancelled.
	if rt.count("remove") != 1 {
		t.Errorf("remove calls = %d, want 1", rt.count("remove"))
	}
}

func TestRunCollectsLogLines(t *testing.T) {
	rt := &fakeRuntime{logs: "line one\nline two\n"}
	var lines []string
	spec := testSpec()
	spec.LogWriter = func(line string) { lines = append(lines, line) }

	if _, err := newRunner(rt).Run(context.Background(), spec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(lines) != 2 || lines[0] != "line one" || lines[1] != "line two" {
		t.Errorf("lines = %q", lines)
	}
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/gantry/internal/catalog"
	"github.com/seantiz/gantry/internal/contextvar"
	"github.com/seantiz/gantry/internal/model"
	"github.com/seantiz/gantry/internal/sandbox"
	"github.com/seantiz/gantry/internal/staging"
	"github.com/seantiz/gantry/internal/taskerr"
)

// ErrTaskActive is returned by Submit when a task with the same ID is
// already running on this engine.
var ErrTaskActive = errors.New("task already running")

// Recorder persists run records and their events.
type Recorder interface {
	CreateRun(ctx context.Context, r *model.TaskRun) error
	UpdateRunState(ctx context.Context, id, state string) error
	FinishRun(ctx context.Context, r *model.TaskRun) error
	InsertEvent(ctx context.Context, runID string, seq int, line string) error
}

// Fetcher materializes catalog entries in a local directory.
type Fetcher interface {
	Fetch(ctx context.Context, desc *model.TaskDescriptor, entry *model.DataProduct, destName, workDir string) (string, error)
}

// Runner executes the application sandbox.
type Runner interface {
	Run(ctx context.Context, spec sandbox.Spec) (*sandbox.Result, error)
}

// Stager publishes produced outputs.
type Stager interface {
	Stage(ctx context.Context, desc *model.TaskDescriptor, outputDir string, vars staging.Variables) ([]staging.StagedOutput, error)
}

// Deps are the collaborators an Engine is built from.
type Deps struct {
	Registry  catalog.Registry
	Recorder  Recorder
	Fetcher   Fetcher
	Runner    Runner
	Stager    Stager
	Variables *contextvar.LevelStore
	// WorkDir is the root under which per-task directories are created.
	WorkDir string
	Logger  *slog.Logger
}

// Engine runs tasks through input staging, execution and output staging.
// Tasks run independently and may execute concurrently; each task's steps
// are strictly sequential.
type Engine struct {
	registry catalog.Registry
	recorder Recorder
	fetcher  Fetcher
	runner   Runner
	stager   Stager
	vars     *contextvar.LevelStore
	workDir  string
	logger   *slog.Logger
	broker   *EventBroker
	wg       sync.WaitGroup

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewEngine creates an engine from its collaborators.
func NewEngine(d Deps) *Engine {
	return &Engine{
		registry: d.Registry,
		recorder: d.Recorder,
		fetcher:  d.Fetcher,
		runner:   d.Runner,
		stager:   d.Stager,
		vars:     d.Variables,
		workDir:  d.WorkDir,
		logger:   d.Logger,
		broker:   NewEventBroker(),
		active:   make(map[string]context.CancelFunc),
	}
}

// Broker returns the engine's event broker for live subscriptions.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// Execute runs desc to completion and returns its outcome. It blocks until
// the task finishes or ctx is cancelled.
func (e *Engine) Execute(ctx context.Context, desc *model.TaskDescriptor) model.Outcome {
	ctx, release, err := e.track(ctx, desc.ID)
	if err != nil {
		return e.fail(desc, nil, time.Now(), err)
	}
	defer release()

	run, err := e.createRun(ctx, desc)
	if err != nil {
		return e.fail(desc, nil, time.Now(), err)
	}
	return e.execute(ctx, desc, run)
}

// Submit records a new run for desc and executes it in the background. The
// returned run is in the created state. The goroutine operates on its own
// copy of the descriptor.
func (e *Engine) Submit(ctx context.Context, desc *model.TaskDescriptor) (*model.TaskRun, error) {
	runCtx, release, err := e.track(context.WithoutCancel(ctx), desc.ID)
	if err != nil {
		return nil, err
	}

	run, err := e.createRun(ctx, desc)
	if err != nil {
		release()
		return nil, err
	}

	dCopy := *desc
	rCopy := *run
	e.wg.Go(func() {
		defer release()
		e.execute(runCtx, &dCopy, &rCopy)
	})
	return run, nil
}

// Wait blocks until all submitted tasks have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Cancel cancels a running task. It reports whether the task was found.
// The task stops at the next step boundary, or sooner if the step in
// progress observes cancellation.
func (e *Engine) Cancel(taskID string) bool {
	e.mu.Lock()
	cancel, ok := e.active[taskID]
	e.mu.Unlock()
	if ok {
		cancel()
		e.logger.Info("task cancel requested", "task_id", taskID)
	}
	return ok
}

// Active reports whether a task is currently running.
func (e *Engine) Active(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[taskID]
	return ok
}

// InFlight returns the number of tasks currently running.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// CancelAll cancels every running task.
func (e *Engine) CancelAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cancel := range e.active {
		cancel()
	}
}

func (e *Engine) track(parent context.Context, taskID string) (context.Context, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[taskID]; ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrTaskActive, taskID)
	}
	ctx, cancel := context.WithCancel(parent)
	e.active[taskID] = cancel
	return ctx, func() {
		cancel()
		e.mu.Lock()
		delete(e.active, taskID)
		e.mu.Unlock()
	}, nil
}

func (e *Engine) createRun(ctx context.Context, desc *model.TaskDescriptor) (*model.TaskRun, error) {
	run := &model.TaskRun{
		ID:            model.NewID(),
		TaskID:        desc.ID,
		ApplicationID: desc.ApplicationID,
		GatewayID:     desc.GatewayID,
		State:         model.StateCreated,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.recorder.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// runState tracks a run in progress.
type runState struct {
	e    *Engine
	desc *model.TaskDescriptor
	run  *model.TaskRun
	seq  atomic.Int32
	// stage is the current stage and when it was entered.
	stage      string
	stageStart time.Time
}

// emit persists an event line and publishes it to live subscribers.
func (rs *runState) emit(line string) {
	seq := int(rs.seq.Add(1) - 1)
	if err := rs.e.recorder.InsertEvent(context.Background(), rs.run.ID, seq, line); err != nil {
		rs.e.logger.Error("failed to persist event", "task_id", rs.desc.ID, "run_id", rs.run.ID, "seq", seq, "error", err)
	}
	rs.e.broker.Publish(model.TaskEvent{
		RunID:     rs.run.ID,
		Seq:       seq,
		Line:      line,
		CreatedAt: time.Now().UTC(),
	})
}

// enter moves the run to state. Cancellation is checked first so that a
// cancelled task never starts its next step.
func (rs *runState) enter(ctx context.Context, state string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rs.observeStage()
	if err := rs.e.recorder.UpdateRunState(context.WithoutCancel(ctx), rs.run.ID, state); err != nil {
		return fmt.Errorf("record state %s: %w", state, err)
	}
	rs.run.State = state
	rs.stage = state
	rs.stageStart = time.Now()
	rs.e.logger.Info("task state changed", "task_id", rs.desc.ID, "run_id", rs.run.ID, "state", state)
	rs.emit("state " + state)
	return nil
}

func (rs *runState) observeStage() {
	if rs.stage != "" {
		stageSeconds.WithLabelValues(rs.stage).Observe(time.Since(rs.stageStart).Seconds())
		rs.stage = ""
	}
}

func (e *Engine) execute(ctx context.Context, desc *model.TaskDescriptor, run *model.TaskRun) model.Outcome {
	defer e.broker.Close(run.ID)
	tasksInFlight.Inc()
	defer tasksInFlight.Dec()

	start := time.Now()
	rs := &runState{e: e, desc: desc, run: run}

	err := e.pipeline(ctx, rs)
	rs.observeStage()

	var out model.Outcome
	if err != nil {
		if cerr := ctx.Err(); cerr != nil && taskerr.KindOf(err) != taskerr.KindCancelled {
			// A step that wrapped the cancellation in its own error kind
			// is still a cancelled task.
			err = fmt.Errorf("%w: %v", cerr, err)
		}
		out = e.fail(desc, run, start, err)
	} else {
		out = e.succeed(desc, run, start)
	}
	rs.emit(out.Message)
	return out
}

func (e *Engine) pipeline(ctx context.Context, rs *runState) error {
	desc := rs.desc
	if err := ValidateTaskID(desc.ID); err != nil {
		return taskerr.Configuration("check task id", desc.ID, err)
	}
	tasksRoot := filepath.Join(e.workDir, "tasks")
	taskDir := filepath.Join(tasksRoot, desc.ID, "data")
	if rel, err := filepath.Rel(tasksRoot, taskDir); err != nil || !filepath.IsLocal(rel) {
		return taskerr.Configuration("check task id", desc.ID, ErrInvalidTaskID)
	}
	inputDir := filepath.Join(taskDir, "input")
	outputDir := filepath.Join(taskDir, "output")

	if err := rs.enter(ctx, model.StateInputStaging); err != nil {
		return err
	}
	// A previous run of the same task may have left files behind.
	if err := os.RemoveAll(taskDir); err != nil {
		return fmt.Errorf("clear working directory: %w", err)
	}
	for _, dir := range []string{inputDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create working directory: %w", err)
		}
	}

	vars := e.scope(desc)
	for _, in := range desc.Inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.stageInput(ctx, rs, vars, in, inputDir); err != nil {
			return err
		}
	}

	if err := rs.enter(ctx, model.StateExecuting); err != nil {
		return err
	}
	res, err := e.runner.Run(ctx, sandbox.Spec{
		Name:        "gantry-" + rs.run.ID,
		Image:       desc.Sandbox.Image,
		Command:     desc.Sandbox.Command,
		InputDir:    inputDir,
		OutputDir:   outputDir,
		InputMount:  desc.Sandbox.InputMount,
		OutputMount: desc.Sandbox.OutputMount,
		Env:         desc.Environment,
		Labels: map[string]string{
			"gantry.task_id": desc.ID,
			"gantry.run_id":  rs.run.ID,
		},
		LogWriter: rs.emit,
	})
	if err != nil {
		return err
	}
	rs.emit(fmt.Sprintf("sandbox exited with status %d", res.ExitCode))

	if err := rs.enter(ctx, model.StateOutputStaging); err != nil {
		return err
	}
	staged, err := e.stager.Stage(ctx, desc, outputDir, vars)
	if err != nil {
		return err
	}
	for _, s := range staged {
		rs.emit(fmt.Sprintf("output %s registered as %s", s.ID, s.URI))
	}
	return nil
}

// stageInput resolves one declared input and downloads it into dir.
func (e *Engine) stageInput(ctx context.Context, rs *runState, vars contextvar.Variables, in model.InputSpec, dir string) error {
	desc := rs.desc
	uri, bound, err := bindInput(desc, vars, in.ID)
	if err != nil {
		return taskerr.Binding("bind input", in.ID, err)
	}
	if !bound {
		if in.Required {
			return taskerr.Binding("bind input", in.ID, errors.New("required input is not bound"))
		}
		e.logger.Warn("optional input not bound, skipping", "task_id", desc.ID, "input_id", in.ID)
		return nil
	}
	if uri == "" {
		return taskerr.Binding("bind input", in.ID, errors.New("binding resolved to an empty value"))
	}

	entry, err := e.registry.GetDataProduct(ctx, uri)
	if errors.Is(err, catalog.ErrNotFound) {
		if in.Required {
			return taskerr.Binding("look up input", uri, err)
		}
		e.logger.Warn("optional input not in catalog, skipping", "task_id", desc.ID, "input_id", in.ID, "uri", uri)
		return nil
	}
	if err != nil {
		return taskerr.Binding("look up input", uri, err)
	}

	local, err := e.fetcher.Fetch(ctx, desc, entry, in.Name, dir)
	if err != nil {
		return err
	}
	rs.emit(fmt.Sprintf("input %s staged from %s", in.ID, uri))
	e.logger.Debug("input ready", "task_id", desc.ID, "input_id", in.ID, "local_path", local)
	return nil
}

// bindInput returns the catalog URI bound to an input: the literal value if
// one is set, otherwise the value of the named context variable. bound is
// false when the task carries no binding for the input.
func bindInput(desc *model.TaskDescriptor, vars contextvar.Variables, inputID string) (uri string, bound bool, err error) {
	b, ok := desc.Binding(inputID)
	if !ok {
		return "", false, nil
	}
	if b.Value != "" {
		return b.Value, true, nil
	}
	if b.ContextVariable == "" {
		return "", true, nil
	}
	v, _, err := vars.Get(b.ContextVariable)
	if err != nil {
		return "", true, err
	}
	return v, true, nil
}

func (e *Engine) scope(desc *model.TaskDescriptor) *contextvar.Scope {
	id := desc.ContextScope
	if id == "" {
		id = desc.ID
	}
	return e.vars.Scope(id)
}

func (e *Engine) succeed(desc *model.TaskDescriptor, run *model.TaskRun, start time.Time) model.Outcome {
	retryable := false
	dur := int(time.Since(start).Milliseconds())
	run.State = model.StateSucceeded
	run.Message = fmt.Sprintf("task %s succeeded", desc.ID)
	run.Retryable = &retryable
	run.DurationMS = &dur
	if err := e.recorder.FinishRun(context.Background(), run); err != nil {
		e.logger.Error("failed to record finished run", "task_id", desc.ID, "run_id", run.ID, "error", err)
	}

	taskOutcomes.WithLabelValues("success", "").Inc()
	e.logger.Info("task succeeded", "task_id", desc.ID, "run_id", run.ID, "duration_ms", dur)
	return model.Outcome{Success: true, Message: run.Message}
}

// fail records the failed run, if there is one, and builds the outcome.
func (e *Engine) fail(desc *model.TaskDescriptor, run *model.TaskRun, start time.Time, err error) model.Outcome {
	out := OutcomeFor(desc.ID, err)
	taskOutcomes.WithLabelValues("failure", out.Kind).Inc()

	attrs := []any{
		"task_id", desc.ID,
		"gateway_id", desc.GatewayID,
		"kind", out.Kind,
		"retryable", out.Retryable,
		"error", err,
	}
	if run != nil {
		attrs = append(attrs, "run_id", run.ID)
	}
	e.logger.Error("task failed", attrs...)

	if run == nil {
		return out
	}

	dur := int(time.Since(start).Milliseconds())
	run.State = model.StateFailed
	if out.Kind == string(taskerr.KindCancelled) {
		run.State = model.StateCancelled
	}
	run.Message = out.Message
	run.Retryable = &out.Retryable
	run.ErrorKind = out.Kind
	run.DurationMS = &dur
	if ferr := e.recorder.FinishRun(context.Background(), run); ferr != nil {
		e.logger.Error("failed to record finished run", "task_id", desc.ID, "run_id", run.ID, "error", ferr)
	}
	return out
}

// OutcomeFor builds the failure outcome reported for err.
func OutcomeFor(taskID string, err error) model.Outcome {
	kind := taskerr.KindOf(err)
	return model.Outcome{
		Success:   false,
		Message:   fmt.Sprintf("task %s failed: %v", taskID, err),
		Retryable: kind.Retryable(),
		Kind:      string(kind),
	}
}

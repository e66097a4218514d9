package model

import "time"

// Run state constants.
const (
	StateCreated       = "created"
	StateInputStaging  = "input_staging"
	StateExecuting     = "executing"
	StateOutputStaging = "output_staging"
	StateSucceeded     = "succeeded"
	StateFailed        = "failed"
	StateCancelled     = "cancelled"
)

// validTransitions maps each run state to the set of states it may transition to.
var validTransitions = map[string]map[string]bool{
	StateCreated: {
		StateInputStaging: true,
		StateFailed:       true,
		StateCancelled:    true,
	},
	StateInputStaging: {
		StateExecuting: true,
		StateFailed:    true,
		StateCancelled: true,
	},
	StateExecuting: {
		StateOutputStaging: true,
		StateFailed:        true,
		StateCancelled:     true,
	},
	StateOutputStaging: {
		StateSucceeded: true,
		StateFailed:    true,
		StateCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one state to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether a run in this state will not change again.
func IsTerminal(state string) bool {
	return state == StateSucceeded || state == StateFailed || state == StateCancelled
}

// SandboxSpec names the image to run, the shell command, and where the
// input and output directories are mounted inside the sandbox.
type SandboxSpec struct {
	Image       string `json:"image"`
	Command     string `json:"command"`
	InputMount  string `json:"input_mount"`
	OutputMount string `json:"output_mount"`
}

// InputSpec declares an input the application consumes.
type InputSpec struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Required bool   `json:"required" yaml:"required"`
}

// InputBinding supplies a value for an input, either as a literal catalog
// URI or as the name of a context variable that holds one. The literal wins
// when both are set.
type InputBinding struct {
	ID              string `json:"id"`
	Value           string `json:"value,omitempty"`
	ContextVariable string `json:"context_variable,omitempty"`
}

// OutputSpec declares an output the application produces and where it is
// published. StorageResourceID is empty when no destination was bound.
type OutputSpec struct {
	ID                string `json:"id" yaml:"id"`
	Name              string `json:"name" yaml:"name"`
	Required          bool   `json:"required" yaml:"required"`
	StorageResourceID string `json:"storage_resource_id,omitempty" yaml:"-"`
	ContextVariable   string `json:"context_variable,omitempty" yaml:"-"`
}

// TaskDescriptor is everything the engine needs to execute one task. It is
// immutable once built.
type TaskDescriptor struct {
	ID                     string            `json:"id"`
	WorkDir                string            `json:"work_dir"`
	ApplicationID          string            `json:"application_id,omitempty"`
	GatewayID              string            `json:"gateway_id"`
	GroupResourceProfileID string            `json:"group_resource_profile_id"`
	ContextScope           string            `json:"context_scope"`
	Sandbox                SandboxSpec       `json:"sandbox"`
	Inputs                 []InputSpec       `json:"inputs"`
	Bindings               []InputBinding    `json:"bindings"`
	Outputs                []OutputSpec      `json:"outputs"`
	Environment            map[string]string `json:"environment,omitempty"`
}

// Binding returns the binding for the given input ID.
func (d *TaskDescriptor) Binding(inputID string) (InputBinding, bool) {
	for _, b := range d.Bindings {
		if b.ID == inputID {
			return b, true
		}
	}
	return InputBinding{}, false
}

// Outcome is the result reported back to the scheduler.
type Outcome struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Kind      string `json:"kind,omitempty"`
}

// OutputBinding binds a declared output to its destination storage resource
// and the context variable that receives the new catalog URI.
type OutputBinding struct {
	ID                string `json:"id"`
	StorageResourceID string `json:"storage_resource_id"`
	ContextVariable   string `json:"context_variable,omitempty"`
}

// TaskRequest is the wire form of a task as handed over by the scheduler.
type TaskRequest struct {
	TaskID                 string            `json:"task_id"`
	ApplicationID          string            `json:"application_id"`
	GatewayID              string            `json:"gateway_id"`
	GroupResourceProfileID string            `json:"group_resource_profile_id"`
	ContextScope           string            `json:"context_scope,omitempty"`
	Bindings               []InputBinding    `json:"bindings,omitempty"`
	Outputs                []OutputBinding   `json:"outputs,omitempty"`
	Arguments              map[string]string `json:"arguments,omitempty"`
}

// TaskRun is the persisted record of one execution attempt of a task.
type TaskRun struct {
	ID            string     `json:"id"`
	TaskID        string     `json:"task_id"`
	ApplicationID string     `json:"application_id"`
	GatewayID     string     `json:"gateway_id"`
	State         string     `json:"state"`
	Message       string     `json:"message,omitempty"`
	Retryable     *bool      `json:"retryable,omitempty"`
	ErrorKind     string     `json:"error_kind,omitempty"`
	DurationMS    *int       `json:"duration_ms,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// TaskEvent is a single persisted progress line of a run.
type TaskEvent struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}

// Job is the scheduler's view of a job on a compute resource.
type Job struct {
	ID          string    `json:"id"`
	State       string    `json:"state"`
	BackendCode int       `json:"backend_code"`
	UpdatedAt   time.Time `json:"updated_at"`
}

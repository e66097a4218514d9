package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/seantiz/gantry/internal/catalog"
	"github.com/seantiz/gantry/internal/model"
	"github.com/seantiz/gantry/internal/param"
	"github.com/seantiz/gantry/internal/taskerr"
)

// ErrUndeclaredArgument is wrapped when a request passes an argument the
// application does not declare.
var ErrUndeclaredArgument = errors.New("argument not declared by application")

// ErrInvalidTaskID is wrapped when a task ID cannot name a directory of its
// own under the work directory.
var ErrInvalidTaskID = errors.New("task id must be a single path element")

// ValidateTaskID reports whether id can be used as a task ID. The ID names
// the task's local working directory and its remote output directory, so it
// must be one clean path element.
func ValidateTaskID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidTaskID, id)
	}
	return nil
}

// Prepare merges a task request with its registered application into an
// executable descriptor. Typed arguments are coerced and exposed to the
// sandbox as environment variables named after the parameter.
//
// Every failure is a configuration error: retrying the same request cannot
// succeed.
func (e *Engine) Prepare(ctx context.Context, req model.TaskRequest) (*model.TaskDescriptor, error) {
	if req.ApplicationID == "" {
		return nil, taskerr.Configuration("prepare task", req.TaskID, errors.New("application_id is required"))
	}
	if req.GatewayID == "" {
		return nil, taskerr.Configuration("prepare task", req.TaskID, errors.New("gateway_id is required"))
	}

	app, err := e.registry.GetApplication(ctx, req.ApplicationID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, taskerr.Configuration("look up application", req.ApplicationID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("look up application %s: %w", req.ApplicationID, err)
	}

	taskID := req.TaskID
	if taskID == "" {
		taskID = model.NewID()
	}
	if err := ValidateTaskID(taskID); err != nil {
		return nil, taskerr.Configuration("prepare task", taskID, err)
	}

	env, err := coerceArguments(app.Parameters, req.Arguments)
	if err != nil {
		return nil, taskerr.Configuration("coerce arguments", req.ApplicationID, err)
	}

	outputs := make([]model.OutputSpec, len(app.Outputs))
	for i, out := range app.Outputs {
		for _, b := range req.Outputs {
			if b.ID == out.ID {
				out.StorageResourceID = b.StorageResourceID
				out.ContextVariable = b.ContextVariable
				break
			}
		}
		outputs[i] = out
	}

	return &model.TaskDescriptor{
		ID:                     taskID,
		WorkDir:                e.workDir,
		ApplicationID:          app.ID,
		GatewayID:              req.GatewayID,
		GroupResourceProfileID: req.GroupResourceProfileID,
		ContextScope:           req.ContextScope,
		Sandbox: model.SandboxSpec{
			Image:       app.Image,
			Command:     app.Command,
			InputMount:  app.InputDir,
			OutputMount: app.OutputDir,
		},
		Inputs:      slices.Clone(app.Inputs),
		Bindings:    slices.Clone(req.Bindings),
		Outputs:     outputs,
		Environment: env,
	}, nil
}

func coerceArguments(decls []model.ParameterDecl, args map[string]string) (map[string]string, error) {
	for name := range args {
		if !slices.ContainsFunc(decls, func(d model.ParameterDecl) bool { return d.Name == name }) {
			return nil, fmt.Errorf("%w: %s", ErrUndeclaredArgument, name)
		}
	}

	env := make(map[string]string, len(decls))
	for _, d := range decls {
		t, err := param.ParseType(d.Type)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", d.Name, err)
		}
		v, err := param.CoerceString(param.Spec{Name: d.Name, Type: t}, args[d.Name])
		if err != nil {
			return nil, err
		}
		if v.Set {
			env[d.Name] = v.String()
		}
	}
	return env, nil
}

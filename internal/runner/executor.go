package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"gridci/internal/secrets"
	"gridci/internal/workflow"
)

// Executor runs a single step: shell commands through "sh -c", action
// references through the registry.
type Executor struct {
	registry *Registry
}

// NewExecutor creates an executor over the given action registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// StepInput carries the per-instance context a step executes in. Run, With
// and Env values are already interpolated.
type StepInput struct {
	Workdir string
	Env     map[string]string
	Secrets secrets.Store
	Event   workflow.Event
	Timeout time.Duration
}

// RunStep executes one step and returns its combined output plus the
// failure, if any. Non-zero exit of a run step is a failure; an unknown
// action reference is a failure too.
func (e *Executor) RunStep(ctx context.Context, step workflow.Step, in StepInput) (string, error) {
	if in.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.Timeout)
		defer cancel()
	}

	var out bytes.Buffer

	if step.Uses != "" {
		action, ok := e.registry.Get(step.Uses)
		if !ok {
			return "", fmt.Errorf("unknown action %q", step.Uses)
		}
		err := action.Run(ctx, &ActionContext{
			Workdir: in.Workdir,
			With:    step.With,
			Env:     in.Env,
			Secrets: in.Secrets,
			Event:   in.Event,
			Output:  &out,
		})
		return out.String(), err
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", step.Run)
	cmd.Dir = in.Workdir
	cmd.Env = os.Environ()
	for k, v := range in.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	return out.String(), err
}

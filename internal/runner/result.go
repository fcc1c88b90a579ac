package runner

import (
	"time"

	"gridci/internal/workflow"
)

// Status is the outcome of a run, job instance, or step.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

// StepResult records how one step ended. Output is captured (and redacted)
// combined stdout/stderr; LogPath points at the persisted copy.
type StepResult struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Output  string `json:"output,omitempty"`
	LogPath string `json:"logPath,omitempty"`
	Error   string `json:"error,omitempty"`
}

// InstanceResult records one job instance's execution. Steps appear in
// declaration order; once a step fails, the rest are marked skipped.
type InstanceResult struct {
	Instance workflow.JobInstance `json:"instance"`
	Label    string               `json:"label"`
	Status   Status               `json:"status"`
	Steps    []StepResult         `json:"steps"`
}

// RunResult is the outcome of one triggered run across all its instances.
type RunResult struct {
	ID         string           `json:"id"`
	Workflow   string           `json:"workflow"`
	Event      workflow.Event   `json:"event"`
	Status     Status           `json:"status"`
	Instances  []InstanceResult `json:"instances"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt,omitempty"`
}

// Failed reports whether any instance failed.
func (r *RunResult) Failed() bool {
	for _, inst := range r.Instances {
		if inst.Status == StatusFailure {
			return true
		}
	}
	return false
}

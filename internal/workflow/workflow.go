package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Workflow is a parsed CI descriptor: trigger rules plus a set of jobs,
// each of which may fan out over a build matrix.
type Workflow struct {
	Name string   `yaml:"name"`
	On   Triggers `yaml:"on"`
	Jobs []Job    `yaml:"-"`
}

// Job is one named entry under "jobs". Declaration order is preserved so
// expansion is deterministic.
type Job struct {
	ID       string            `yaml:"-"`
	RunsOn   string            `yaml:"runs-on"`
	Env      map[string]string `yaml:"env,omitempty"`
	Strategy Strategy          `yaml:"strategy,omitempty"`
	Steps    []Step            `yaml:"steps"`
}

// Strategy holds the job's matrix, if any.
type Strategy struct {
	Matrix Matrix `yaml:"matrix,omitempty"`
}

// Step is a single unit of work: either a built-in action reference (uses)
// or a shell command (run), never both. An "if" guard over matrix and event
// variables gates execution.
type Step struct {
	Name string            `yaml:"name"`
	Uses string            `yaml:"uses,omitempty"`
	Run  string            `yaml:"run,omitempty"`
	With map[string]string `yaml:"with,omitempty"`
	Env  map[string]string `yaml:"env,omitempty"`
	If   string            `yaml:"if,omitempty"`
}

// UnmarshalYAML decodes the workflow, keeping the jobs mapping in
// declaration order.
func (w *Workflow) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name string    `yaml:"name"`
		On   Triggers  `yaml:"on"`
		Jobs yaml.Node `yaml:"jobs"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	w.Name = raw.Name
	w.On = raw.On

	if raw.Jobs.Kind == 0 {
		return nil
	}
	if raw.Jobs.Kind != yaml.MappingNode {
		return fmt.Errorf("jobs: expected a mapping")
	}
	for i := 0; i < len(raw.Jobs.Content); i += 2 {
		key := raw.Jobs.Content[i]
		var job Job
		if err := raw.Jobs.Content[i+1].Decode(&job); err != nil {
			return fmt.Errorf("job %q: %w", key.Value, err)
		}
		job.ID = key.Value
		w.Jobs = append(w.Jobs, job)
	}
	return nil
}

// Job returns the job with the given id.
func (w *Workflow) Job(id string) (Job, bool) {
	for _, job := range w.Jobs {
		if job.ID == id {
			return job, true
		}
	}
	return Job{}, false
}

// Validate checks the descriptor for structural errors: missing triggers,
// empty jobs, steps with both or neither of uses/run, guards that do not
// compile, and variable references to undeclared matrix axes.
func (w *Workflow) Validate() error {
	if len(w.On.Rules()) == 0 {
		return fmt.Errorf("workflow %q: no trigger rules under \"on\"", w.Name)
	}
	for kind, rule := range w.On.Rules() {
		if err := rule.ValidatePatterns(); err != nil {
			return fmt.Errorf("on.%s: %w", kind, err)
		}
	}
	if len(w.Jobs) == 0 {
		return fmt.Errorf("workflow %q: no jobs", w.Name)
	}
	for _, job := range w.Jobs {
		if err := job.validate(); err != nil {
			return fmt.Errorf("job %q: %w", job.ID, err)
		}
	}
	return nil
}

func (j *Job) validate() error {
	if len(j.Steps) == 0 {
		return fmt.Errorf("no steps")
	}
	vars := j.declaredVars()
	for i, step := range j.Steps {
		label := step.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		if step.Uses == "" && step.Run == "" {
			return fmt.Errorf("step %s: needs either uses or run", label)
		}
		if step.Uses != "" && step.Run != "" {
			return fmt.Errorf("step %s: uses and run are mutually exclusive", label)
		}
		if step.If != "" {
			if _, err := CompileGuard(step.If); err != nil {
				return fmt.Errorf("step %s: guard: %w", label, err)
			}
		}
		for _, s := range step.refSources() {
			if err := ValidateRefs(s, vars); err != nil {
				return fmt.Errorf("step %s: %w", label, err)
			}
		}
	}
	return nil
}

// declaredVars lists the variable names steps of this job may reference.
func (j *Job) declaredVars() map[string]bool {
	vars := map[string]bool{
		"event.kind":   true,
		"event.branch": true,
		"event.ref":    true,
	}
	for _, axis := range j.Strategy.Matrix.Axes {
		vars["matrix."+axis.Name] = true
	}
	return vars
}

// refSources returns every string in the step that may contain ${{ }} refs.
func (s *Step) refSources() []string {
	out := []string{s.Run}
	for _, v := range s.With {
		out = append(out, v)
	}
	for _, v := range s.Env {
		out = append(out, v)
	}
	return out
}

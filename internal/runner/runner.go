package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gridci/internal/journal"
	"gridci/internal/secrets"
	"gridci/internal/storage"
	"gridci/internal/workflow"
	"gridci/pkg/hashutil"
)

// Config configures a Runner. Zero values get sensible defaults.
type Config struct {
	SourceDir    string        // source tree the checkout action copies
	WorkspaceDir string        // per-instance workdirs; temp dirs when empty
	LogDir       string        // step log storage, default "./logs"
	JournalPath  string        // step-result journal; disabled when empty
	KeyDir       string        // journal signing keys, default "./keys"
	StepTimeout  time.Duration // per-step deadline, default 5m
	MaxParallel  int           // concurrent instances, 0 = unbounded
	Secrets      secrets.Store
	Registry     *Registry
	Logger       *slog.Logger
}

// Runner ties together expansion, guard evaluation, step execution, log
// storage and the journal. Job instances run concurrently; steps within an
// instance run strictly in order with fail-fast semantics.
type Runner struct {
	executor     *Executor
	logStore     *storage.RunStorage
	journal      *journal.Journal
	secrets      secrets.Store
	logger       *slog.Logger
	stepTimeout  time.Duration
	maxParallel  int
	workspaceDir string
}

// New builds a Runner from cfg. A journal that cannot be opened is logged
// and left off; it must never block the pipeline.
func New(cfg Config) *Runner {
	if cfg.LogDir == "" {
		cfg.LogDir = "./logs"
	}
	if cfg.StepTimeout == 0 {
		cfg.StepTimeout = 5 * time.Minute
	}
	if cfg.Secrets == nil {
		cfg.Secrets = secrets.NewEnv()
	}
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry(cfg.SourceDir)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Runner{
		executor:     NewExecutor(cfg.Registry),
		logStore:     storage.NewRunStorage(cfg.LogDir),
		secrets:      cfg.Secrets,
		logger:       cfg.Logger,
		stepTimeout:  cfg.StepTimeout,
		maxParallel:  cfg.MaxParallel,
		workspaceDir: cfg.WorkspaceDir,
	}

	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			cfg.Logger.Warn("cannot open journal, continuing without it", "path", cfg.JournalPath, "error", err)
		} else {
			keyDir := cfg.KeyDir
			if keyDir == "" {
				keyDir = "./keys"
			}
			pub, priv, err := journal.EnsureKeys(keyDir)
			if err != nil {
				cfg.Logger.Warn("cannot init journal keys, continuing without journal", "error", err)
			} else {
				j.SetKeys(pub, priv)
				r.journal = j
			}
		}
	}
	return r
}

// Journal exposes the runner's journal, or nil when disabled.
func (r *Runner) Journal() *journal.Journal { return r.journal }

// Plan returns the job instances an event would create: none when the event
// matches no trigger rule, the full matrix expansion otherwise.
func Plan(wf *workflow.Workflow, ev workflow.Event) []workflow.JobInstance {
	if !wf.On.Matches(ev) {
		return nil
	}
	return wf.Expand()
}

// Run executes every planned instance and reports the aggregate outcome.
// Instance failures are isolated: one failing instance never stops another,
// it only fails the overall run status.
func (r *Runner) Run(ctx context.Context, wf *workflow.Workflow, ev workflow.Event) *RunResult {
	return r.RunAs(ctx, uuid.NewString(), wf, ev)
}

// RunAs is Run with a caller-chosen run id, for callers that hand out the
// id before execution starts.
func (r *Runner) RunAs(ctx context.Context, runID string, wf *workflow.Workflow, ev workflow.Event) *RunResult {
	res := &RunResult{
		ID:        runID,
		Workflow:  wf.Name,
		Event:     ev,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}

	instances := Plan(wf, ev)
	if len(instances) == 0 {
		res.Status = StatusSuccess
		res.FinishedAt = time.Now().UTC()
		return res
	}

	r.logger.Info("run started", "run", res.ID, "workflow", wf.Name,
		"event", ev.Kind, "branch", ev.Branch, "instances", len(instances))

	results := make([]InstanceResult, len(instances))
	var g errgroup.Group
	if r.maxParallel > 0 {
		g.SetLimit(r.maxParallel)
	}
	for i, inst := range instances {
		i, inst := i, inst
		g.Go(func() error {
			results[i] = r.runInstance(ctx, wf, inst, ev, res.ID)
			return nil
		})
	}
	_ = g.Wait()

	res.Instances = results
	res.Status = StatusSuccess
	if res.Failed() {
		res.Status = StatusFailure
	}
	res.FinishedAt = time.Now().UTC()

	r.logger.Info("run finished", "run", res.ID, "status", res.Status)
	return res
}

func (r *Runner) runInstance(ctx context.Context, wf *workflow.Workflow, inst workflow.JobInstance, ev workflow.Event, runID string) InstanceResult {
	result := InstanceResult{
		Instance: inst,
		Label:    inst.Label(),
		Status:   StatusRunning,
	}

	job, ok := wf.Job(inst.Job)
	if !ok {
		result.Status = StatusFailure
		result.Steps = []StepResult{{
			Name:   inst.Job,
			Status: StatusFailure,
			Error:  fmt.Sprintf("job %q not in workflow", inst.Job),
		}}
		return result
	}

	workdir, err := r.instanceWorkdir(runID, inst)
	if err != nil {
		result.Status = StatusFailure
		result.Steps = []StepResult{{
			Name:   "workspace",
			Status: StatusFailure,
			Error:  err.Error(),
		}}
		return result
	}
	if r.workspaceDir == "" {
		// Temp workspaces hold a full source copy; drop them once the
		// instance is done.
		defer os.RemoveAll(workdir)
	}

	vars := workflow.InstanceVars(inst, ev)
	redactor := secrets.NewRedactor()
	store := recordingStore{inner: r.secrets, redactor: redactor}

	log := r.logger.With("run", runID, "instance", result.Label)
	log.Info("instance started")

	failed := false
	for i, step := range job.Steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step-%d", i+1)
		}

		if failed {
			result.Steps = append(result.Steps, StepResult{Name: name, Status: StatusSkipped})
			continue
		}

		if step.If != "" {
			run, evalErr := evalGuard(step.If, inst.Values, ev)
			if evalErr != nil {
				// A broken guard is a descriptor bug, not a skip.
				result.Steps = append(result.Steps, StepResult{
					Name:   name,
					Status: StatusFailure,
					Error:  evalErr.Error(),
				})
				failed = true
				continue
			}
			if !run {
				log.Debug("step skipped by guard", "step", name, "guard", step.If)
				result.Steps = append(result.Steps, StepResult{Name: name, Status: StatusSkipped})
				continue
			}
		}

		resolved := interpolateStep(step, vars)
		env := mergeEnv(job.Env, resolved.Env, vars)

		log.Info("step started", "step", name)
		output, runErr := r.executor.RunStep(ctx, resolved, StepInput{
			Workdir: workdir,
			Env:     env,
			Secrets: store,
			Event:   ev,
			Timeout: r.stepTimeout,
		})
		output = redactor.Redact(output)

		stepRes := StepResult{Name: name, Status: StatusSuccess, Output: output}
		if runErr != nil {
			stepRes.Status = StatusFailure
			stepRes.Error = runErr.Error()
			failed = true
		}

		logPath, logErr := r.logStore.SaveStepLog(runID, result.Label, name, output)
		if logErr != nil {
			log.Warn("cannot save step log", "step", name, "error", logErr)
		} else {
			stepRes.LogPath = logPath
		}

		r.journalStep(runID, result.Label, name, string(stepRes.Status), output, log)

		result.Steps = append(result.Steps, stepRes)
		if runErr != nil {
			log.Warn("step failed, halting instance", "step", name, "error", runErr)
		} else {
			log.Info("step finished", "step", name)
		}
	}

	result.Status = StatusSuccess
	if failed {
		result.Status = StatusFailure
	}
	log.Info("instance finished", "status", result.Status)
	return result
}

// journalStep appends a step record to the journal. Best-effort: a journal
// problem is logged and never fails the step.
func (r *Runner) journalStep(runID, instance, step, status, output string, log *slog.Logger) {
	if r.journal == nil {
		return
	}
	if _, err := r.journal.Record(runID, instance, step, status, hashutil.HashString(output)); err != nil {
		log.Warn("cannot append journal entry", "step", step, "error", err)
	}
}

func (r *Runner) instanceWorkdir(runID string, inst workflow.JobInstance) (string, error) {
	if r.workspaceDir == "" {
		return os.MkdirTemp("", "gridci-"+inst.Job+"-")
	}
	dir := filepath.Join(r.workspaceDir, runID, inst.ID)
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

func evalGuard(src string, matrix map[string]string, ev workflow.Event) (bool, error) {
	guard, err := workflow.CompileGuard(src)
	if err != nil {
		return false, err
	}
	return guard.Eval(matrix, ev)
}

// interpolateStep resolves ${{ }} references in run, with and env values.
func interpolateStep(step workflow.Step, vars map[string]string) workflow.Step {
	out := step
	out.Run = workflow.ExpandRefs(step.Run, vars)
	if len(step.With) > 0 {
		out.With = make(map[string]string, len(step.With))
		for k, v := range step.With {
			out.With[k] = workflow.ExpandRefs(v, vars)
		}
	}
	if len(step.Env) > 0 {
		out.Env = make(map[string]string, len(step.Env))
		for k, v := range step.Env {
			out.Env[k] = workflow.ExpandRefs(v, vars)
		}
	}
	return out
}

// mergeEnv layers step env over job env, interpolating job-level values.
func mergeEnv(jobEnv, stepEnv, vars map[string]string) map[string]string {
	env := make(map[string]string, len(jobEnv)+len(stepEnv))
	for k, v := range jobEnv {
		env[k] = workflow.ExpandRefs(v, vars)
	}
	for k, v := range stepEnv {
		env[k] = v
	}
	return env
}

// recordingStore registers every resolved secret value with the redactor so
// it can be scrubbed from captured output.
type recordingStore struct {
	inner    secrets.Store
	redactor *secrets.Redactor
}

func (s recordingStore) Get(name string) (string, bool) {
	v, ok := s.inner.Get(name)
	if ok {
		s.redactor.Add(v)
	}
	return v, ok
}

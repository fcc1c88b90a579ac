package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gridci/internal/runner"
	"gridci/internal/workflow"
)

// runnerFlags holds the execution options shared by run and serve.
type runnerFlags struct {
	sourceDir   string
	workspace   string
	logDir      string
	journalPath string
	keyDir      string
	stepTimeout time.Duration
	maxParallel int
}

func (f *runnerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sourceDir, "source", ".", "Source tree the checkout action copies")
	cmd.Flags().StringVar(&f.workspace, "workspace", "", "Base directory for instance workspaces (temp dirs when empty)")
	cmd.Flags().StringVar(&f.logDir, "logs", "./logs", "Directory for step logs")
	cmd.Flags().StringVar(&f.journalPath, "journal", "./journal.jsonl", "Step-result journal file (empty disables)")
	cmd.Flags().StringVar(&f.keyDir, "keys", "./keys", "Directory for journal signing keys")
	cmd.Flags().DurationVar(&f.stepTimeout, "step-timeout", 5*time.Minute, "Per-step deadline")
	cmd.Flags().IntVar(&f.maxParallel, "parallel", 0, "Max concurrent job instances (0 = unbounded)")
}

func (f *runnerFlags) config() runner.Config {
	return runner.Config{
		SourceDir:    f.sourceDir,
		WorkspaceDir: f.workspace,
		LogDir:       f.logDir,
		JournalPath:  f.journalPath,
		KeyDir:       f.keyDir,
		StepTimeout:  f.stepTimeout,
		MaxParallel:  f.maxParallel,
	}
}

// eventFlags holds the simulated trigger event for run and expand.
type eventFlags struct {
	kind   string
	branch string
	ref    string
}

func (f *eventFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "event", "push", "Event kind (push or pull_request)")
	cmd.Flags().StringVar(&f.branch, "branch", "master", "Event branch")
	cmd.Flags().StringVar(&f.ref, "ref", "", "Event ref (defaults to branch)")
}

func (f *eventFlags) event() (workflow.Event, error) {
	kind := workflow.EventKind(f.kind)
	if kind != workflow.EventPush && kind != workflow.EventPullRequest {
		return workflow.Event{}, fmt.Errorf("unknown event kind %q", f.kind)
	}
	ref := f.ref
	if ref == "" {
		ref = f.branch
	}
	return workflow.Event{Kind: kind, Branch: f.branch, Ref: ref}, nil
}

func init() {
	var (
		rf runnerFlags
		ef eventFlags
	)
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Match an event against the workflow and execute the resulting job instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := workflow.Load(workflowFile)
			if err != nil {
				return err
			}
			ev, err := ef.event()
			if err != nil {
				return err
			}

			if len(runner.Plan(wf, ev)) == 0 {
				fmt.Printf("event %s on %q matches no trigger rule, nothing to run\n", ev.Kind, ev.Branch)
				return nil
			}

			r := runner.New(rf.config())
			res := r.Run(cmd.Context(), wf, ev)
			printRun(res)
			if res.Status == runner.StatusFailure {
				return fmt.Errorf("run %s failed", res.ID)
			}
			return nil
		},
	}
	rf.register(runCmd)
	ef.register(runCmd)
	rootCmd.AddCommand(runCmd)
}

func printRun(res *runner.RunResult) {
	fmt.Printf("run %s: %s\n", res.ID, res.Status)
	for _, inst := range res.Instances {
		fmt.Printf("  %s: %s\n", inst.Label, inst.Status)
		for _, step := range inst.Steps {
			line := fmt.Sprintf("    %-10s %s", step.Status, step.Name)
			if step.Error != "" {
				line += " (" + step.Error + ")"
			}
			fmt.Println(line)
		}
	}
}

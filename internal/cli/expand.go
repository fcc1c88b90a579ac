package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"gridci/internal/runner"
	"gridci/internal/workflow"
)

func init() {
	var ef eventFlags
	expandCmd := &cobra.Command{
		Use:   "expand",
		Short: "Print the job instances an event would create, without executing",
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := workflow.Load(workflowFile)
			if err != nil {
				return err
			}
			ev, err := ef.event()
			if err != nil {
				return err
			}

			plan := runner.Plan(wf, ev)
			if len(plan) == 0 {
				fmt.Printf("event %s on %q matches no trigger rule\n", ev.Kind, ev.Branch)
				return nil
			}
			fmt.Printf("%d instance(s):\n", len(plan))
			for _, inst := range plan {
				fmt.Printf("  %s\n", inst.Label())
				keys := make([]string, 0, len(inst.Values))
				for k := range inst.Values {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Printf("    %s: %s\n", k, inst.Values[k])
				}
			}
			return nil
		},
	}
	ef.register(expandCmd)
	rootCmd.AddCommand(expandCmd)
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gridci/internal/workflow"
)

func init() {
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse the workflow descriptor and run static checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := workflow.Load(workflowFile)
			if err != nil {
				return err
			}
			total := 0
			for _, job := range wf.Jobs {
				total += job.Strategy.Matrix.Size()
			}
			fmt.Printf("%s: ok (%d job(s), %d instance(s) per matching run)\n",
				workflowFile, len(wf.Jobs), total)
			return nil
		},
	}
	rootCmd.AddCommand(validateCmd)
}

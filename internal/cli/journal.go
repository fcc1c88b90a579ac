package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"gridci/internal/journal"
)

func init() {
	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect and verify the step-result journal",
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect <journal.jsonl>",
		Short: "Print journal entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := journal.Open(args[0])
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			for _, e := range j.Entries() {
				fmt.Printf("index=%d run=%s instance=%q step=%q status=%s hash=%s\n",
					e.Index, e.RunID, e.Instance, e.Step, e.Status, shortHash(e.Hash))
			}
			return nil
		},
	}

	var keyDir string
	verifyCmd := &cobra.Command{
		Use:   "verify <journal.jsonl>",
		Short: "Verify the journal hash chain and signatures against the trusted key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := journal.LoadPublicKey(filepath.Join(keyDir, "journal.pub"))
			if err != nil {
				return fmt.Errorf("load trusted public key: %w", err)
			}
			j, err := journal.Open(args[0])
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			j.SetKeys(pub, nil)
			if err := j.Verify(); err != nil {
				return fmt.Errorf("journal verification failed: %w", err)
			}
			fmt.Println("journal verification ok")
			return nil
		},
	}
	verifyCmd.Flags().StringVar(&keyDir, "keys", "./keys", "Directory holding the trusted journal public key")

	journalCmd.AddCommand(inspectCmd, verifyCmd)
	rootCmd.AddCommand(journalCmd)
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}

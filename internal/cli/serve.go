package cli

import (
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"gridci/internal/runner"
	"gridci/internal/server"
	"gridci/internal/workflow"
)

func init() {
	var (
		rf   runnerFlags
		addr string
	)
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP control surface and react to delivered events",
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := workflow.Load(workflowFile)
			if err != nil {
				return err
			}

			r := runner.New(rf.config())
			srv := server.New(wf, workflowFile, r, slog.Default())

			watcher := server.NewWatcher(workflowFile, func() {
				if err := srv.Reload(); err != nil {
					slog.Warn("keeping previous workflow", "error", err)
				}
			}, slog.Default())
			if err := watcher.Start(); err != nil {
				return err
			}
			defer watcher.Stop()

			slog.Info("gridci serving", "addr", addr, "workflow", wf.Name)
			return http.ListenAndServe(addr, srv.Router())
		},
	}
	rf.register(serveCmd)
	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	rootCmd.AddCommand(serveCmd)
}

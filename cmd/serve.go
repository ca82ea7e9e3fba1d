package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP service",
		Long: `Serves the streaming crawl, cancel, and result endpoints along with
health checks and Prometheus metrics. SIGINT or SIGTERM cancels live sessions
and drains the server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.Serve(cmd.Context(), nil)
		},
	}
}

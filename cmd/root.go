// Package cmd defines the sitegraph command line: serve runs the HTTP service
// and crawl runs one session in the foreground.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/app"
	"github.com/JakeFAU/sitegraph/internal/config"
	"github.com/JakeFAU/sitegraph/internal/logging"
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to inject fakes.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "sitegraph",
		Short: "Maps a website's page graph and streams progress as Server-Sent Events.",
		Long: `sitegraph crawls the same-domain pages of a site breadth first, extracts
per-page metadata, optionally labels every discovered path with an AI model,
and streams progress to the caller as Server-Sent Events.`,
		SilenceUsage: true,

		// Builds the shared services once the flags are parsed.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			a, ok := cmd.Context().Value(appKey).(*app.App)
			if !ok {
				return nil
			}
			closeErr := a.Close(context.WithoutCancel(cmd.Context()))
			_ = zap.L().Sync()
			return closeErr
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file (YAML, JSON, or TOML)")
	cmd.AddCommand(newServeCmd(), newCrawlCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the root command until it finishes or the process receives
// SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "sitegraph:", err)
		stop()
		os.Exit(1)
	}
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/id/uuid"
	"github.com/JakeFAU/sitegraph/internal/pipeline"
	"github.com/JakeFAU/sitegraph/internal/progress/sinks"
)

type crawlFlags struct {
	sessionID string
	maxDepth  int
	maxPages  int
	enrich    bool
	bots      []string
}

func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl URL",
		Short: "Crawls one site and writes the event stream to stdout",
		Long: `Runs a single session in the foreground and writes the same
Server-Sent Event frames the HTTP service would stream. SIGINT cancels the
session; the stream then ends with a cancelled event.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args[0], flags)
		},
	}
	cmd.Flags().StringVar(&flags.sessionID, "session-id", "", "session id (default: a new UUIDv7)")
	cmd.Flags().IntVar(&flags.maxDepth, "max-depth", -1, "maximum link depth (default: crawler.max_depth_default)")
	cmd.Flags().IntVar(&flags.maxPages, "max-pages", 0, "page cap (default: crawler.max_pages_default)")
	cmd.Flags().BoolVar(&flags.enrich, "ai", false, "label every discovered path with the enrichment model")
	cmd.Flags().StringSliceVar(&flags.bots, "bots", nil, "bot selectors recorded on the result")
	return cmd
}

func runCrawl(cmd *cobra.Command, rawURL string, flags crawlFlags) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if flags.sessionID == "" {
		if flags.sessionID, err = uuid.New().NewID(); err != nil {
			return err
		}
	}
	req := pipeline.Request{
		URL:          rawURL,
		Bots:         flags.bots,
		AIEnrichment: flags.enrich,
		SessionID:    flags.sessionID,
		PageLimit:    flags.maxPages,
	}
	if flags.maxDepth >= 0 {
		req.MaxDepth = &flags.maxDepth
	}

	res, err := a.Runner().Run(cmd.Context(), req, sinks.NewSSESink(cmd.OutOrStdout()))
	if err != nil {
		if cmd.Context().Err() != nil {
			zap.L().Info("crawl cancelled", zap.String("session_id", req.SessionID))
			return nil
		}
		return fmt.Errorf("crawl %s: %w", rawURL, err)
	}
	zap.L().Info("crawl finished",
		zap.String("session_id", res.SessionID),
		zap.Int("pages", res.TotalPagesCrawled))
	return nil
}

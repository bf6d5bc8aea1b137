package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"textbook-rag/internal/content"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-ingest markdown files as they change",
	Args:  cobra.NoArgs,
	RunE:  withApp(runWatch),
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "quiet period before changed files are ingested")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(ctx context.Context, cmd *cobra.Command, _ []string) error {
	logger := application.Logger
	cmd.Printf("watching %s\n", contentDir)
	return content.Watch(ctx, contentDir, watchDebounce, logger, func(ctx context.Context, paths []string) {
		var existing []string
		for _, p := range paths {
			if fileExists(p) {
				existing = append(existing, p)
			}
		}
		if len(existing) == 0 {
			return
		}
		docs, err := loadDocuments(contentDir, existing, defaultLanguage())
		if err != nil {
			logger.Warn("load changed content failed", "err", err)
			return
		}
		_ = printResults(cmd, application.Ingest.IngestBatch(ctx, toInputs(docs)))
	})
}

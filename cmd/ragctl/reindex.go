package main

import (
	"context"

	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Re-embed every archived source",
	Long:  "Re-ingests all archived sources, e.g. after switching embedding models.",
	Args:  cobra.NoArgs,
	RunE:  withApp(runReindex),
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(ctx context.Context, cmd *cobra.Command, _ []string) error {
	results, err := application.Ingest.Reindex(ctx)
	if err != nil {
		return err
	}
	return printResults(cmd, results)
}

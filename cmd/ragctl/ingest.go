package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"textbook-rag/internal/app"
	"textbook-rag/internal/content"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Ingest markdown content into the index",
	Long: `Segments, embeds and indexes markdown files.
With no arguments every file under the content directory is ingested.`,
	RunE: withApp(runIngest),
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(ctx context.Context, cmd *cobra.Command, args []string) error {
	docs, err := loadDocuments(contentDir, args, defaultLanguage())
	if err != nil {
		return err
	}
	results := application.Ingest.IngestBatch(ctx, toInputs(docs))
	return printResults(cmd, results)
}

// loadDocuments reads the named files, or the whole tree when none are given.
func loadDocuments(root string, paths []string, lang string) ([]content.Document, error) {
	if len(paths) == 0 {
		return content.Load(root, lang)
	}
	docs := make([]content.Document, 0, len(paths))
	for _, p := range paths {
		doc, err := content.LoadFile(root, p, lang)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

func toInputs(docs []content.Document) []app.IngestInput {
	inputs := make([]app.IngestInput, len(docs))
	for i, d := range docs {
		inputs[i] = app.IngestInput{SourceID: d.SourceID, Text: d.Body, Language: d.Language}
	}
	return inputs
}

func printResults(cmd *cobra.Command, results []app.IngestResult) error {
	failed := 0
	for _, r := range results {
		if len(r.Errors) > 0 {
			failed++
			cmd.Printf("FAIL %s: %s\n", r.SourceID, r.Errors[0])
			continue
		}
		cmd.Printf("ok   %s (%d chunks)\n", r.SourceID, r.ChunksWritten)
	}
	cmd.Printf("%d sources, %d failed\n", len(results), failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d sources failed", failed, len(results))
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

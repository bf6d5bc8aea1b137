package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"textbook-rag/internal/model"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [file...]",
	Short: "Queue markdown content for the ingestion worker",
	RunE:  withApp(runEnqueue),
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(ctx context.Context, cmd *cobra.Command, args []string) error {
	if application.Jobs == nil {
		return errors.New("rabbitmq is not configured")
	}
	docs, err := loadDocuments(contentDir, args, defaultLanguage())
	if err != nil {
		return err
	}
	for _, d := range docs {
		job := model.IngestJob{
			JobID:      uuid.NewString(),
			SourceID:   d.SourceID,
			Text:       d.Body,
			Language:   d.Language,
			EnqueuedAt: time.Now().UTC(),
		}
		if err := application.Jobs.Publish(ctx, job, 1); err != nil {
			return err
		}
		cmd.Printf("queued %s as %s\n", d.SourceID, job.JobID)
	}
	return nil
}

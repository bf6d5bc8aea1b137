package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"textbook-rag/internal/bootstrap"
)

var (
	configFile string
	contentDir string
	language   string

	application *bootstrap.App
)

var rootCmd = &cobra.Command{
	Use:           "ragctl",
	Short:         "Operate the textbook RAG service",
	Long:          "ragctl loads textbook content into the index, queues ingestion jobs and re-embeds archived sources.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default configs/config.toml)")
	rootCmd.PersistentFlags().StringVar(&contentDir, "content", "content", "textbook content directory")
	rootCmd.PersistentFlags().StringVar(&language, "language", "", "language for files without frontmatter (default first configured)")
}

// withApp wires the application for one command run and releases it after.
func withApp(fn func(ctx context.Context, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			if err := os.Setenv("CONFIG_FILE", configFile); err != nil {
				return err
			}
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := bootstrap.New(ctx, bootstrap.Options{})
		if err != nil {
			return fmt.Errorf("bootstrap failed: %w", err)
		}
		application = app
		defer func() {
			if err := app.Close(); err != nil {
				app.Logger.Error("close resources failed", "err", err)
			}
		}()
		return fn(ctx, cmd, args)
	}
}

func defaultLanguage() string {
	if language != "" {
		return language
	}
	if application != nil && len(application.Config.RAG.Languages) > 0 {
		return application.Config.RAG.Languages[0]
	}
	return "en"
}

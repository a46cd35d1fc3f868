// Package cli implements the docqa command line: ingest files, ask questions
// and manage the document collection.
package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/docqa/internal/app"
	"github.com/nikhilbhutani/docqa/internal/config"
	"github.com/nikhilbhutani/docqa/internal/document"
	"github.com/nikhilbhutani/docqa/internal/rag"
)

var (
	pipeline  rag.Pipeline
	extractor *document.Extractor
	closeApp  = func() {}

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "docqa",
	Short: "Ask questions about your documents",
	Long: `docqa ingests PDF, DOCX and text documents into a vector index and
answers questions about them with cited, grounded responses.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) { closeApp() },
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setup builds the pipeline from configuration unless one was already set.
func setup(cmd *cobra.Command, _ []string) error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if pipeline != nil {
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := app.New(cmdContext(cmd), cfg)
	if err != nil {
		return err
	}
	pipeline = a.Pipeline
	extractor = a.Extractor
	closeApp = a.Close
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

var errNotConfigured = errors.New("pipeline not configured")

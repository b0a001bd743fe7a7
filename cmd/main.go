package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-ingest/internal/app"
	"github.com/yungbote/neurobridge-ingest/internal/services"
)

var rootCmd = &cobra.Command{
	Use:   "neurobridge-ingest",
	Short: "Document ingestion service",
	Long:  `Stores user files in per-user namespaces, extracts their text and notifies the indexer.`,
	// No subcommand runs the server.
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Delete stored objects with no file record and resend undelivered index notifications",
	Args:  cobra.NoArgs,
	RunE:  runReconcile,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Ingest a local file for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

var (
	sweepOlderThan time.Duration
	sweepDryRun    bool
	sweepLimit     int
	reindexLimit   int
	skipReindex    bool

	ingestUser        string
	ingestContentType string
	ingestOrigin      string
)

func init() {
	reconcileCmd.Flags().DurationVar(&sweepOlderThan, "older-than", services.DefaultSweepOlderThan, "Only consider objects older than this")
	reconcileCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "Report orphans without deleting them")
	reconcileCmd.Flags().IntVar(&sweepLimit, "limit", 0, "Maximum orphans to handle (0 = no limit)")
	reconcileCmd.Flags().IntVar(&reindexLimit, "reindex-limit", 0, "Maximum index-pending records to resend (0 = no limit)")
	reconcileCmd.Flags().BoolVar(&skipReindex, "skip-reindex", false, "Only sweep orphans")

	ingestCmd.Flags().StringVarP(&ingestUser, "user", "u", "", "Owning user id")
	ingestCmd.Flags().StringVar(&ingestContentType, "content-type", "", "Declared content type")
	ingestCmd.Flags().StringVar(&ingestOrigin, "origin", "", "Origin tag (upload, channel, meeting_transcript)")
	_ = ingestCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(serveCmd, reconcileCmd, ingestCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	application, err := app.New(cmd.Context())
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer application.Close()
	return application.Run(cmd.Context())
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	application, err := app.New(cmd.Context())
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer application.Close()

	report, err := application.Services.Reconcile.Sweep(cmd.Context(), services.SweepOptions{
		OlderThan: sweepOlderThan,
		DryRun:    sweepDryRun,
		Limit:     sweepLimit,
	})
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	out := map[string]any{"sweep": report}
	if !skipReindex {
		reindex, err := application.Services.Reconcile.Reindex(cmd.Context(), reindexLimit, sweepDryRun)
		if err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
		out["reindex"] = reindex
	}
	return printJSON(cmd, out)
}

func runIngest(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	application, err := app.New(cmd.Context())
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer application.Close()

	rec, err := application.Services.Ingestion.Ingest(cmd.Context(), services.IngestRequest{
		UserID:      ingestUser,
		FileName:    filepath.Base(args[0]),
		Data:        data,
		ContentType: ingestContentType,
		Origin:      ingestOrigin,
	})
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	return printJSON(cmd, rec)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/binlens/internal/control"
	"github.com/vietddude/binlens/internal/core/worker"
)

var pruneOlderThan time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete journal entries older than the retention period",
	Run:   runPrune,
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "override journal.retention")
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	retention := cfg.Journal.Retention
	if pruneOlderThan > 0 {
		retention = pruneOlderThan
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	journal, _, err := control.OpenJournal(ctx, *cfg)
	if err != nil {
		slog.Error("Failed to open journal", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = journal.Close()
	}()

	pruner := worker.NewPruner(journal, journal.Backend(), retention, 0, slog.Default())
	removed := pruner.Prune(ctx)

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d journal entries older than %s\n", removed, retention)
}

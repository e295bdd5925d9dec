package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/binlens/internal/control"
	"github.com/vietddude/binlens/internal/core/domain"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent failures recorded in the journal",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of records to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	journal, _, err := control.OpenJournal(ctx, *cfg)
	if err != nil {
		slog.Error("Failed to open journal", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = journal.Close()
	}()

	errs, err := journal.RecentErrors(ctx, statusLimit)
	if err != nil {
		slog.Error("Failed to query journal", "error", err)
		os.Exit(1)
	}
	partials, err := journal.RecentPartials(ctx, statusLimit)
	if err != nil {
		slog.Error("Failed to query partial results", "error", err)
		os.Exit(1)
	}

	printStatus(cmd.OutOrStdout(), errs, partials)
}

func printStatus(out io.Writer, errs []domain.OperationError, partials []domain.PartialResult) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tCOMPONENT\tOPERATION\tATTEMPT\tCATEGORY\tSEVERITY\tACTION\tOUTCOME\tMESSAGE")
	for _, e := range errs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.Component, e.Operation, e.Attempt,
			e.Category, e.Severity, e.Action, e.Outcome, truncate(e.Message, 60))
	}
	_ = w.Flush()

	if len(partials) == 0 {
		return
	}

	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tCOMPONENT\tOPERATION\tCOMPLETENESS\tCONFIDENCE\tSTEPS")
	for _, p := range partials {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%d\n",
			p.Timestamp.Format(time.RFC3339), p.Component, p.Operation,
			p.Completeness, p.Confidence, len(p.CompletedSteps))
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

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
	"github.com/vietddude/binlens/internal/infra/routing"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Probe every configured backend and print its health",
	Run:   runProviders,
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

func runProviders(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	factory := routing.NewFactory(cfg.Factory, nil, slog.Default())
	for _, p := range cfg.Providers {
		if err := factory.AddProvider(p); err != nil {
			slog.Error("Failed to add provider", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Factory.InitTimeout+cfg.Factory.HealthTimeout)
	defer cancel()

	factory.RefreshHealth(ctx)
	printProviders(cmd.OutOrStdout(), factory.Statuses())

	if err := factory.Cleanup(ctx); err != nil {
		slog.Warn("Failed to clean up providers", "error", err)
	}
}

func printProviders(out io.Writer, statuses []routing.Status) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROVIDER\tKIND\tVENDOR\tENABLED\tHEALTHY\tLATENCY\tMODELS\tERROR")

	for _, st := range statuses {
		healthy, latency, models, errMsg := "-", "-", "-", ""
		if h := st.Health; h != nil {
			healthy = fmt.Sprint(h.Healthy)
			if h.Latency != nil {
				latency = h.Latency.Round(time.Millisecond).String()
			}
			if len(h.Models) > 0 {
				models = fmt.Sprint(len(h.Models))
			}
			errMsg = h.Error
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\t%s\t%s\n",
			st.ID, st.Kind, st.Vendor, st.Enabled, healthy, latency, models, errMsg)
	}
	_ = w.Flush()
}

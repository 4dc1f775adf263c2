// Command somictl is the operator tool for the savings ledger: it rebuilds
// and inspects the aggregator projection, reads the event journal, runs the
// interest calculator offline and mints operator tokens.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/forgo/somi/api/internal/config"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "somictl",
		Short:         "somictl - operator tooling for the Somi savings ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("journal", "", "event journal path (defaults to JOURNAL_PATH)")
	rootCmd.PersistentFlags().String("projection", "", "projection store path (defaults to PROJECTION_PATH)")

	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(totalsCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(plansCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(interestCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(migrateCmd())

	return rootCmd
}

// storagePaths resolves the journal and projection paths from flags, then
// the environment
func storagePaths(cmd *cobra.Command) (journalPath, projectionPath string, err error) {
	cfg, err := config.Load()
	if err != nil {
		return "", "", err
	}
	journalPath = cfg.Storage.JournalPath
	projectionPath = cfg.Storage.ProjectionPath
	if v, _ := cmd.Flags().GetString("journal"); v != "" {
		journalPath = v
	}
	if v, _ := cmd.Flags().GetString("projection"); v != "" {
		projectionPath = v
	}
	return journalPath, projectionPath, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Command admin inspects a server data directory: the index read-model, the
// event journal and snapshots. It also validates tuning files offline.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	dataDir string
}

func newRootCmd(out io.Writer) *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Inspect somnia server data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&f.dataDir, "data", envOr("SOMNIA_DATA_DIR", "./data"), "runtime data directory")

	root.AddCommand(
		newGroupsCmd(f),
		newLunarCmd(f),
		newCountsCmd(f),
		newJournalCmd(f),
		newSnapshotCmd(f),
		newValidateCmd(),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

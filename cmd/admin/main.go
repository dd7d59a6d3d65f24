// Command admin is the operator CLI for the puzzle registry: offline tools
// that work on the data dir and thin clients for a running server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Operate a crossword puzzle registry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("data", "./data", "runtime data directory")
	root.PersistentFlags().String("url", "http://127.0.0.1:8080", "server base url")

	snap := &cobra.Command{Use: "snapshot", Short: "Inspect, take and restore registry snapshots"}
	snap.AddCommand(newSnapshotInspectCmd(), newSnapshotRestoreCmd(), newSnapshotTakeCmd())

	audit := &cobra.Command{Use: "audit", Short: "Read the audit trail"}
	audit.AddCommand(newAuditTailCmd())

	root.AddCommand(
		newHashCmd(),
		newTokenCmd(),
		snap,
		audit,
		newPayoutsCmd(),
		newUnsolvedCmd(),
		newStatusCmd(),
		newCreateCmd(),
	)
	return root
}

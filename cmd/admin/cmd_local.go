package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"crossword.ai/internal/config"
	"crossword.ai/internal/persistence/indexdb"
	persistlog "crossword.ai/internal/persistence/log"
	"crossword.ai/internal/persistence/snapshot"
	"crossword.ai/internal/persistence/store"
	"crossword.ai/internal/registry"
	"crossword.ai/internal/transport/identity"
)

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <solution>",
		Short: "Print the solution hash a puzzle is registered under",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), registry.SolutionHash(registry.SHA256, args[0]))
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "token <account>",
		Short: "Print the auth token for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv(config.EnvHMACSecret)
			}
			v := identity.NewVerifier(secret)
			if !v.Enabled() {
				return fmt.Errorf("no secret: pass --secret or set %s", config.EnvHMACSecret)
			}
			fmt.Fprintln(cmd.OutOrStdout(), v.Token(args[0]))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "hmac secret (default $"+config.EnvHMACSecret+")")
	return cmd
}

func newSnapshotInspectCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Print a snapshot header, or the whole snapshot with --full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !full {
				h, err := snapshot.ReadHeader(args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), h)
			}
			snap, err := snapshot.ReadSnapshot(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "print puzzles and the unsolved index too")
	return cmd
}

func newSnapshotRestoreCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "restore <path>",
		Short: "Load a snapshot into the configured (empty) store",
		Long: "Load a snapshot into the store named by the config file. The store must\n" +
			"hold no puzzles yet and the server must not be running.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if strings.EqualFold(cfg.Store.Backend, store.BackendMemory) {
				return errors.New("memory store: nothing to restore into (the server loads snapshots itself)")
			}
			snap, err := snapshot.ReadSnapshot(args[0])
			if err != nil {
				return err
			}
			path := cfg.Store.Path
			if !filepath.IsAbs(path) {
				path = filepath.Join(dataDir, path)
			}
			st, err := store.Open(store.Config{Backend: cfg.Store.Backend, Path: path})
			if err != nil {
				return err
			}
			defer st.Close()
			if err := registry.ImportSnapshot(st, snap); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored puzzles=%d unsolved=%d into %s\n", len(snap.Puzzles), len(snap.Unsolved), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "./configs/registry.yaml", "registry config path")
	return cmd
}

func newAuditTailCmd() *cobra.Command {
	var (
		n    int
		hash string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the newest audit entries as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data")
			dir := persistlog.AuditDir(dataDir)
			var (
				entries []registry.AuditEntry
				err     error
			)
			if hash == "" {
				entries, err = persistlog.TailAudit(dir, n)
			} else {
				entries, err = persistlog.ReadAudit(dir)
				entries = filterAudit(entries, registry.NormalizeHash(hash), n)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of entries")
	cmd.Flags().StringVar(&hash, "hash", "", "only entries for this solution hash")
	return cmd
}

func filterAudit(entries []registry.AuditEntry, hash string, n int) []registry.AuditEntry {
	var out []registry.AuditEntry
	for _, e := range entries {
		if e.SolutionHash == hash {
			out = append(out, e)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func newPayoutsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "payouts",
		Short: "List recorded payouts from the index database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data")
			path := filepath.Join(dataDir, "index", "registry.sqlite")
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("index database: %w", err)
			}
			idx, err := indexdb.OpenSQLite(path)
			if err != nil {
				return err
			}
			defer idx.Close()
			rows, err := idx.ListPayouts(context.Background(), limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.PaidAt, r.ID, r.To, r.Amount, r.PuzzleHash)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"somnia.ai/internal/persistence/indexdb"
)

func openIndex(dataDir, dbPath string) (*indexdb.SQLiteIndex, error) {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = indexdb.SQLitePath(dataDir)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("index %s: %w", path, err)
	}
	return indexdb.OpenSQLite(path)
}

func newGroupsCmd(f *rootFlags) *cobra.Command {
	var (
		kind   string
		limit  int
		dbPath string
	)
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "List recent group lifecycles, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			idx, err := openIndex(f.dataDir, dbPath)
			if err != nil {
				return err
			}
			defer idx.Close()
			recs, err := idx.RecentGroups(context.Background(), kind, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tTIER\tMEMBERS\tFORMED\tSTATUS")
			for _, g := range recs {
				status := "active"
				if g.DissolvedTick != nil {
					status = fmt.Sprintf("%s @%d", g.Reason, *g.DissolvedTick)
				}
				variant := g.Variant
				if variant == "" {
					variant = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", g.ID, g.Kind, variant, len(g.Members), when(g.FormedTick, g.FormedAt), status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "filter by group kind (ritual, entanglement, portal)")
	cmd.Flags().IntVar(&limit, "limit", 20, "result limit")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite db path (default: <data>/index/somnia.sqlite)")
	return cmd
}

func newLunarCmd(f *rootFlags) *cobra.Command {
	var (
		env    string
		limit  int
		dbPath string
	)
	cmd := &cobra.Command{
		Use:   "lunar",
		Short: "Show announced lunar phase changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			idx, err := openIndex(f.dataDir, dbPath)
			if err != nil {
				return err
			}
			defer idx.Close()
			recs, err := idx.LunarHistory(context.Background(), env, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENV\tDAY\tPHASE\tMULT\tWHEN")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%d\t%s\tx%.2f\t%s\n", r.Env, r.Day, r.Name, r.Multiplier, when(r.Tick, r.At))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "filter by environment id")
	cmd.Flags().IntVar(&limit, "limit", 20, "result limit")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite db path (default: <data>/index/somnia.sqlite)")
	return cmd
}

func newCountsCmd(f *rootFlags) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Count groups ever formed, by kind",
		RunE: func(cmd *cobra.Command, _ []string) error {
			idx, err := openIndex(f.dataDir, dbPath)
			if err != nil {
				return err
			}
			defer idx.Close()
			counts, err := idx.CountsByKind(context.Background())
			if err != nil {
				return err
			}
			for _, k := range sortedKeys(counts) {
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s\n", k, humanize.Comma(int64(counts[k])))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite db path (default: <data>/index/somnia.sqlite)")
	return cmd
}

// when renders a tick with its wall-clock age when one was recorded.
func when(tick uint64, at time.Time) string {
	if at.IsZero() {
		return fmt.Sprintf("tick %d", tick)
	}
	return fmt.Sprintf("tick %d (%s)", tick, humanize.Time(at))
}

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"somnia.ai/internal/persistence/snapshot"
	"somnia.ai/internal/sim/lunar"
)

func newSnapshotCmd(f *rootFlags) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Describe the latest engine snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := strings.TrimSpace(path)
			if p == "" {
				p = snapshot.Path(f.dataDir)
			}
			snap, err := snapshot.ReadSnapshot(p)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			created := time.UnixMilli(snap.Header.CreatedMS)
			fmt.Fprintf(out, "snapshot v%d tick=%d written %s\n", snap.Header.Version, snap.Header.Tick, humanize.Time(created))
			fmt.Fprintf(out, "tick_rate_hz=%d day_length=%d\n", snap.TickRate, snap.DayLength)
			fmt.Fprintf(out, "groups_formed=%s lunar_changes=%s\n",
				humanize.Comma(int64(snap.Counters.GroupsFormed)), humanize.Comma(int64(snap.Counters.LunarChanges)))
			for _, r := range sortedKeys(snap.Counters.SessionsEnded) {
				fmt.Fprintf(out, "  ended %-12s %s\n", r, humanize.Comma(int64(snap.Counters.SessionsEnded[r])))
			}
			for _, l := range snap.Lunar {
				ph := lunar.PhaseOf(l.Day)
				fmt.Fprintf(out, "  lunar %-16s day %d %s\n", l.Env, l.Day, ph)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "snapshot path (default: <data>/snapshots/latest.snap.zst)")
	return cmd
}

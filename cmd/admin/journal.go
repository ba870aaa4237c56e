package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	persistlog "somnia.ai/internal/persistence/log"
	"somnia.ai/internal/sim/events"
)

var errStop = errors.New("stop")

func newJournalCmd(f *rootFlags) *cobra.Command {
	var (
		typ       string
		sinceTick uint64
		limit     int
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print events from the compressed event journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := persistlog.JournalDir(f.dataDir)
			files, err := persistlog.JournalFiles(dir)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no journal files in %s", dir)
			}
			out := cmd.OutOrStdout()
			want := strings.ToUpper(strings.TrimSpace(typ))
			seen, shown := 0, 0
			err = persistlog.ReadJournal(dir, func(e events.Event) error {
				seen++
				if e.Tick < sinceTick || (want != "" && string(e.Type) != want) {
					return nil
				}
				if limit > 0 && shown >= limit {
					return errStop
				}
				shown++
				if asJSON {
					b, err := json.Marshal(e)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(b))
					return nil
				}
				fmt.Fprintln(out, describe(e))
				return nil
			})
			if err != nil && !errors.Is(err, errStop) {
				return err
			}
			if !asJSON {
				fmt.Fprintf(out, "-- %s events read from %d files, %s shown\n", humanize.Comma(int64(seen)), len(files), humanize.Comma(int64(shown)))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "only this event type (GROUP_FORMED, GROUP_DISSOLVED, LUNAR_PHASE_CHANGED, SESSION_ENDED)")
	cmd.Flags().Uint64Var(&sinceTick, "since-tick", 0, "skip events before this tick")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many events (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON lines")
	return cmd
}

func describe(e events.Event) string {
	switch e.Type {
	case events.TypeGroupFormed:
		kind := e.Kind
		if e.Variant != "" {
			kind += "/" + e.Variant
		}
		return fmt.Sprintf("%8d  formed     %-28s %s [%s]", e.Tick, e.GroupID, kind, strings.Join(e.Members, ","))
	case events.TypeGroupDissolved:
		return fmt.Sprintf("%8d  dissolved  %-28s %s", e.Tick, e.GroupID, e.Reason)
	case events.TypeLunarPhaseChanged:
		if e.Lunar == nil {
			return fmt.Sprintf("%8d  lunar      %s", e.Tick, e.EnvID)
		}
		return fmt.Sprintf("%8d  lunar      %-28s %s (x%.2f) day %d", e.Tick, e.EnvID, e.Lunar.Name, e.Lunar.Multiplier, e.Lunar.Day)
	case events.TypeSessionEnded:
		return fmt.Sprintf("%8d  ended      %-28s %s %s after %d ticks", e.Tick, e.ActorID, e.Kind, e.Reason, e.Ticks)
	}
	return fmt.Sprintf("%8d  %s", e.Tick, e.Type)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

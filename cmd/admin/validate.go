package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"somnia.ai/internal/sim/catalogs"
	"somnia.ai/internal/sim/tuning"
)

func newValidateCmd() *cobra.Command {
	var catalogDir string
	cmd := &cobra.Command{
		Use:   "validate <tuning.yaml>",
		Short: "Check a tuning file (and optionally a catalog directory)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := tuning.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok (tick_rate_hz=%d formation_poll_ticks=%d portal_ttl_ticks=%d)\n",
				args[0], t.TickRateHz, t.FormationPollTicks, t.PortalTTLTicks)
			if catalogDir == "" {
				return nil
			}
			cats, err := catalogs.Load(catalogDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: ok (%d effects, %d cues)\n", catalogDir, len(cats.Effects.IDs), len(cats.Cues.IDs))
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogDir, "catalogs", "", "directory with effects.json and cues.json")
	return cmd
}

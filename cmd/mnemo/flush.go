package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func flushCMD(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Persist cache-resident records to the durable store",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfgPath(), false)
			if err != nil {
				return err
			}
			// close performs the forced flush.
			return a.close(cmd.Context())
		},
	}
}

func statsCMD(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print cache statistics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfgPath(), false)
			if err != nil {
				return err
			}
			defer a.closeStores()

			stats, err := a.gated.GetCacheStats(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"cache": stats,
				"state": a.gated.State().String(),
			})
		},
	}
}

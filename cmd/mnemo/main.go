package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "mnemo",
		Short:         "Tiered record store and episodic exemplar manager for agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (env MNEMO_* overrides)")

	cfg := func() string { return cfgPath }
	root.AddCommand(
		serveCMD(cfg),
		migrateCMD(cfg),
		flushCMD(cfg),
		statsCMD(cfg),
		exampleCMD(cfg),
	)
	return root
}

package cli

import (
	"github.com/spf13/cobra"
)

var (
	// cfgFile is the path to the experiment config (empty = defaults)
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "inferload",
		Short: "Routing-aware load benchmark for pools of inference runtimes",
		Long: `inferload replays a workload against a pool of inference backends at a
controlled arrival rate, routes each request under a pluggable selection
policy, and aggregates per-request and run-level performance metrics.`,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "experiment config file (YAML)")
}

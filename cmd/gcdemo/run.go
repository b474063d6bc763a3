package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newRunCmd())
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [a|b|all]",
		Short: "Run a scenario",
		Long: `The run command executes one scenario, or both.

  a    copy and release handles over one scalar
  b    walk a five element array with a cursor until it runs off the end

Example:
  gcdemo run a
  gcdemo run all --alloc mmap --trace`,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"a", "b", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario := "all"
			if len(args) == 1 {
				scenario = args[0]
			}
			return run(cmd.OutOrStdout(), newLogger(cmd.ErrOrStderr()), scenario, allocKind, trace)
		},
	}
}

// cmd/relive/main.go
//
// Entry point for the relive CLI. `relive run` (the default) starts the
// reload pipeline for a project; `relive bundle` is the default build tool the
// pipeline launches in the background.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &runOptions{}
	root := &cobra.Command{
		Use:           "relive",
		Short:         "Live-reload Go views into a running host",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReload(cmd, opts)
		},
	}
	opts.bind(root)
	root.AddCommand(
		newRunCmd(),
		newInitCmd(),
		newBundleCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the relive version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relive %s\n", version)
		},
	}
}

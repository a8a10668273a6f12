// Package cmd implements renderctl's command tree. Grounded on
// tomasbasham-har-capture's internal/cmd package structure (root command +
// one file per subcommand, each a *cobra.Command constructor), simplified
// to this service's needs: no separate IOStreams/printer layer, since
// renderctl has no streaming-capture options to route.
package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the `renderctl` command and its subcommands.
func NewRootCommand() *cobra.Command {
	var addr string
	var timeout time.Duration

	root := &cobra.Command{
		Use:           "renderctl",
		Short:         "Operator CLI for a running renderd instance",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&addr, "addr", "http://127.0.0.1:8080", "renderd base address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(newStatusCommand(&addr, &timeout))
	root.AddCommand(newRecycleCommand(&addr, &timeout))
	root.AddCommand(newTakeoverCommand(&addr, &timeout))
	root.AddCommand(newWatchCommand(&addr))

	return root
}

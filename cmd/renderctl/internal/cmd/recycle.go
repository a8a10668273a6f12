package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRecycleCommand(addr *string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "recycle",
		Short: "Trigger an orderly Main/Standby recycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := postRecycle(*addr, *timeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recycle: %s\n", result.Result)
			return nil
		},
	}
}

// newTakeoverCommand is a thin alias over the same recycle control-plane
// action: the Supervisor Provider exposes exactly one manual orderly-swap
// primitive (RecycleMain), so a forced takeover and a recycle are the same
// request from the operator's point of view.
func newTakeoverCommand(addr *string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "takeover",
		Short: "Force Standby to take over from Main",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := postRecycle(*addr, *timeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "takeover: %s\n", result.Result)
			return nil
		},
	}
}

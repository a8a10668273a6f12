package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand(addr *string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the renderd provider's current health",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := fetchHealth(*addr, *timeout)
			if err != nil {
				return err
			}
			printHealth(cmd, report)
			return nil
		},
	}
}

func printHealth(cmd *cobra.Command, report *healthReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "status:   %s\n", report.Status)
	fmt.Fprintf(out, "provider: %s (running=%t)\n", report.Provider.Kind, report.Provider.Running)
	if report.Supervisor != nil {
		fmt.Fprintf(out, "main:     role=%s status=%s\n", report.Supervisor.Main.Role, report.Supervisor.Main.Status)
		fmt.Fprintf(out, "standby:  role=%s status=%s\n", report.Supervisor.Standby.Role, report.Supervisor.Standby.Status)
	}
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/doeshing/hostq/internal/app"
)

// NewDebugCommand creates the debug command. The flag is read per question,
// so a running daemon picks up changes without a restart.
func NewDebugCommand(container *app.Container) *cobra.Command {
	debugCmd := &cobra.Command{
		Use:   "debug",
		Short: "Toggle answer traces and verbose telemetry",
	}

	set := func(enabled bool) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if err := container.Flags.SetDebug(enabled); err != nil {
				return fmt.Errorf("failed to update debug flag: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Debug %s\n", onOff(enabled))
			return nil
		}
	}

	debugCmd.AddCommand(
		&cobra.Command{Use: "on", Short: "Attach traces to answers", RunE: set(true)},
		&cobra.Command{Use: "off", Short: "Stop attaching traces", RunE: set(false)},
		&cobra.Command{
			Use:   "status",
			Short: "Show the debug flag",
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Debug %s (%s)\n", onOff(container.Flags.DebugEnabled()), container.Flags.Path())
				return nil
			},
		},
	)
	return debugCmd
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

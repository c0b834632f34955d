package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/doeshing/hostq/internal/app"
	"github.com/doeshing/hostq/internal/domain"
)

// NewProbesCommand creates the probes command with list and run.
func NewProbesCommand(container *app.Container) *cobra.Command {
	probesCmd := &cobra.Command{
		Use:   "probes",
		Short: "Inspect and run catalog probes",
	}

	var raw bool
	runCmd := &cobra.Command{
		Use:   "run <probe-id> [key=value...]",
		Short: "Run one probe through the guardrail and print its fields",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.Runner == nil {
				return errors.New(ErrProbeRunnerUnavailable)
			}
			params, err := parseProbeParams(args[1:])
			if err != nil {
				return err
			}
			result := container.Runner.Run(cmd.Context(), args[0], params)
			displayProbeResult(cmd.OutOrStdout(), result, raw)
			if !result.Success {
				return fmt.Errorf("probe %s failed", args[0])
			}
			return nil
		},
	}
	runCmd.Flags().BoolVar(&raw, "raw", false, "Also print the raw command output")

	probesCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the allowlisted probes",
			RunE: func(cmd *cobra.Command, args []string) error {
				if container.Runner == nil {
					return errors.New(ErrProbeRunnerUnavailable)
				}
				listProbes(cmd.OutOrStdout(), container.Runner.Catalog())
				return nil
			},
		},
		runCmd,
	)
	return probesCmd
}

func listProbes(out io.Writer, specs []domain.ProbeSpec) {
	for _, spec := range specs {
		fmt.Fprintf(out, "%-20s %-9s %s\n", spec.ID, spec.Class, spec.Description)
		fmt.Fprintf(out, "    %s\n", strings.Join(spec.Argv, " "))
	}
}

func parseProbeParams(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%s: %q", ErrInvalidProbeParam, arg)
		}
		params[key] = value
	}
	return params, nil
}

func displayProbeResult(out io.Writer, result domain.ProbeResult, raw bool) {
	if !result.Success {
		fmt.Fprintf(out, "[FAILED] %s - %s\n", result.ProbeID, result.Error)
		return
	}
	cached := ""
	if result.FromCache {
		cached = ", cached"
	}
	fmt.Fprintf(out, "[OK] %s (%s%s)\n", result.ProbeID, result.Duration.Round(time.Millisecond), cached)

	keys := make([]string, 0, len(result.Fields))
	for key := range result.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(out, "  %s = %s\n", key, result.Fields[key])
	}
	if raw && result.Payload != "" {
		fmt.Fprintf(out, "\n%s\n", strings.TrimRight(result.Payload, "\n"))
	}
}

package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/doeshing/hostq/internal/app"
	"github.com/doeshing/hostq/internal/infrastructure/cli/helpers"
	"github.com/doeshing/hostq/internal/infrastructure/security"
)

// NewGuardrailCommand creates the guardrail command with enable/disable subcommands
func NewGuardrailCommand(container *app.Container) *cobra.Command {
	guardrailCmd := &cobra.Command{
		Use:   "guardrail",
		Short: "Manage the probe command guardrail",
	}

	guardrailCmd.AddCommand(
		newGuardrailEnableCommand(container),
		newGuardrailDisableCommand(container),
		newGuardrailStatusCommand(container),
		newGuardrailCheckCommand(container),
	)

	return guardrailCmd
}

// newGuardrailEnableCommand enables the guardrail
func newGuardrailEnableCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Enable danger-pattern rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setGuardrailState(cmd.Context(), cmd.OutOrStdout(), container, true)
		},
	}
}

// newGuardrailDisableCommand disables the guardrail
func newGuardrailDisableCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Disable danger-pattern rules (the probe allowlist still applies)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setGuardrailState(cmd.Context(), cmd.OutOrStdout(), container, false)
		},
	}
}

// newGuardrailStatusCommand shows current guardrail status
func newGuardrailStatusCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show guardrail status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showGuardrailStatus(cmd.Context(), cmd.OutOrStdout(), container)
		},
	}
}

// newGuardrailCheckCommand evaluates a command line against the rules
func newGuardrailCheckCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "check -- <command> [args...]",
		Short: "Show how the rules classify a command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkCommand(cmd.Context(), cmd.OutOrStdout(), container, args)
		},
	}
}

// setGuardrailState enables or disables guardrails
func setGuardrailState(ctx context.Context, out io.Writer, container *app.Container, enabled bool) error {
	cfg, err := container.ConfigProvider.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg.Security.Enabled = enabled

	if err := helpers.SaveConfigWithValidation(container, cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(out, "Guardrails %s successfully.\n", enabledLabel(enabled))
	return nil
}

// showGuardrailStatus displays the current guardrail status
func showGuardrailStatus(ctx context.Context, out io.Writer, container *app.Container) error {
	cfg, err := container.ConfigProvider.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	fmt.Fprintf(out, "Guardrails are currently %s.\n", enabledLabel(cfg.Security.Enabled))
	if cfg.Security.RulesFile != "" {
		fmt.Fprintf(out, "Rules file: %s\n", cfg.Security.RulesFile)
	}
	if guardrail, err := security.NewGuardrail(cfg.Security.RulesFile, cfg.Security.Enabled); err == nil {
		fmt.Fprintf(out, "Danger patterns: %d\n", guardrail.RuleCount())
	}
	return nil
}

// checkCommand runs the rules against argv regardless of the enabled flag
func checkCommand(ctx context.Context, out io.Writer, container *app.Container, argv []string) error {
	cfg, err := container.ConfigProvider.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	guardrail, err := security.NewGuardrail(cfg.Security.RulesFile, true)
	if err != nil {
		return fmt.Errorf("failed to load guardrail rules: %w", err)
	}
	risk, err := guardrail.Evaluate(argv)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Risk: %s (%s)\n", strings.ToUpper(string(risk.Level)), risk.Action)
	for _, reason := range risk.Reasons {
		fmt.Fprintf(out, " - %s\n", reason)
	}
	return nil
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

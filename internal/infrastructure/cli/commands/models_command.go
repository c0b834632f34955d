package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/doeshing/hostq/internal/app"
	"github.com/doeshing/hostq/internal/infrastructure/cli/helpers"
)

// Backend roles a model can be assigned to.
const (
	roleDrafting = "drafting"
	roleAuditing = "auditing"
)

// NewModelsCommand creates the models command with all subcommands
func NewModelsCommand(container *app.Container) *cobra.Command {
	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect backend models and their roles",
	}

	modelsCmd.AddCommand(
		newModelsListCommand(container),
		newModelsUseCommand(container),
	)

	return modelsCmd
}

// newModelsListCommand creates the 'models list' subcommand
func newModelsListCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listModels(cmd.Context(), cmd.OutOrStdout(), container)
		},
	}
}

// newModelsUseCommand creates the 'models use' subcommand
func newModelsUseCommand(container *app.Container) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "use <name>",
		Short: "Assign a model to the drafting or auditing role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return assignModelRole(cmd.Context(), cmd.OutOrStdout(), container, args[0], role)
		},
	}

	cmd.Flags().StringVar(&role, "role", roleDrafting, "Role to assign (drafting or auditing)")
	return cmd
}

// listModels lists all configured models and the roles they serve
func listModels(ctx context.Context, out io.Writer, container *app.Container) error {
	cfg, err := container.ConfigProvider.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if len(cfg.Models) == 0 {
		fmt.Fprintln(out, "No models configured; the heuristic backend answers compute questions.")
		return nil
	}

	drafting, _ := cfg.DraftingModel()
	auditing, _ := cfg.AuditingModel()

	fmt.Fprintf(out, "NAME\tMODEL ID\tENDPOINT\tROLES\n")
	for _, model := range cfg.Models {
		var roles []string
		if model.Name == drafting.Name {
			roles = append(roles, roleDrafting)
		}
		if model.Name == auditing.Name {
			roles = append(roles, roleAuditing)
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\n",
			model.Name,
			model.ModelID,
			model.Endpoint,
			strings.Join(roles, ","))
	}
	return nil
}

// assignModelRole points a role at a configured model and saves the config
func assignModelRole(ctx context.Context, out io.Writer, container *app.Container, name, role string) error {
	cfg, err := container.ConfigProvider.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if !cfg.HasModel(name) {
		return fmt.Errorf("model %s not found", name)
	}

	switch role {
	case roleDrafting:
		cfg.Roles.Drafting = name
	case roleAuditing:
		cfg.Roles.Auditing = name
	default:
		return fmt.Errorf("unknown role %q (want %s or %s)", role, roleDrafting, roleAuditing)
	}

	if err := helpers.SaveConfigWithValidation(container, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s role now uses %s.\n", role, name)
	return nil
}

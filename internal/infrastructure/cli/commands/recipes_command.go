package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/doeshing/hostq/internal/app"
	"github.com/doeshing/hostq/internal/domain"
)

// NewRecipesCommand creates the recipes command with list and clear.
func NewRecipesCommand(container *app.Container) *cobra.Command {
	recipesCmd := &cobra.Command{
		Use:   "recipes",
		Short: "Inspect the learned answer recipes",
	}

	recipesCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List learned recipes per intent",
			RunE: func(cmd *cobra.Command, args []string) error {
				if container.Recipes == nil {
					return errors.New(ErrRecipeStoreUnavailable)
				}
				listRecipes(cmd.OutOrStdout(), container.Recipes.List(time.Now()))
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Forget every learned recipe",
			RunE: func(cmd *cobra.Command, args []string) error {
				if container.Recipes == nil {
					return errors.New(ErrRecipeStoreUnavailable)
				}
				n := container.Recipes.Count()
				if err := container.Recipes.Clear(cmd.Context()); err != nil {
					return fmt.Errorf("failed to clear recipes: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d recipe(s).\n", n)
				return nil
			},
		},
	)
	return recipesCmd
}

func listRecipes(out io.Writer, recipes []domain.Recipe) {
	if len(recipes) == 0 {
		fmt.Fprintln(out, MsgNoRecipes)
		return
	}
	for _, r := range recipes {
		used := "never"
		if !r.LastUsedAt.IsZero() {
			used = humanize.Time(r.LastUsedAt)
		}
		fmt.Fprintf(out, "%-14s %s  reliability %.2f  used %dx (last %s)\n",
			r.Intent, shortID(r.ID), r.Reliability, r.Usage, used)
		fmt.Fprintf(out, "    probes: %s\n", strings.Join(r.Probes, ", "))
		fmt.Fprintf(out, "    tokens: %s\n", strings.Join(r.Tokens, " "))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

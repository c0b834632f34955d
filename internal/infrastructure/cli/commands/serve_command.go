package commands

import (
	"github.com/spf13/cobra"

	"github.com/doeshing/hostq/internal/app"
)

// NewServeCommand creates the serve command, which runs the daemon until
// interrupted.
func NewServeCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:         "serve",
		Short:       "Run the hostq daemon on the local socket",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationContainer: containerOwned},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunDaemon(cmd.Context(), container)
		},
	}
}

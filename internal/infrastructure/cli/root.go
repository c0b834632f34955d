package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/doeshing/hostq/internal/app"
	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/infrastructure/cli/commands"
	"github.com/doeshing/hostq/internal/infrastructure/ipc"
)

// Options holds CLI-level configuration.
type Options struct {
	Verbose    bool
	ConfigPath string
}

// session owns the container for one CLI invocation. The container is built
// once the subcommand is known, so only `serve` pays for the config watcher.
type session struct {
	opts      Options
	container *app.Container
	mustClose bool
}

func (s *session) open(cmd *cobra.Command) error {
	if !commands.NeedsContainer(cmd) {
		return nil
	}
	built, err := app.BuildContainer(cmd.Context(), app.Options{
		Verbose:    s.opts.Verbose,
		ConfigPath: s.opts.ConfigPath,
		Watch:      commands.OwnsContainer(cmd),
	})
	if err != nil {
		return err
	}
	*s.container = *built
	s.mustClose = !commands.OwnsContainer(cmd)
	return nil
}

// close flushes state for every command except serve, which closes the
// container itself when the daemon stops.
func (s *session) close() error {
	if !s.mustClose {
		return nil
	}
	s.mustClose = false
	ctx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()
	return s.container.Close(ctx)
}

// newRootCmd wires the cobra root command.
func newRootCmd(ctx context.Context, opts Options) (*cobra.Command, *session) {
	sess := &session{opts: opts, container: &app.Container{}}
	container := sess.container
	askCmd := newAskCommand(container)

	root := &cobra.Command{
		Use:   "hostq [question]",
		Short: "hostq - ask questions about this machine",
		Long:  "hostq answers natural-language questions about the running host under a strict time budget.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return askCmd.RunE(cmd, args)
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return sess.open(cmd)
		},
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetContext(ctx)
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().BoolVarP(&sess.opts.Verbose, "verbose", "v", opts.Verbose, "Enable debug logging")
	root.PersistentFlags().StringVar(&sess.opts.ConfigPath, "config", opts.ConfigPath, "Config file (default ~/.hostq/config.yaml)")
	root.Flags().AddFlagSet(askCmd.Flags())

	root.AddCommand(
		askCmd,
		commands.NewServeCommand(container),
		commands.NewDoctorCommand(container),
		commands.NewHistoryCommand(container),
		commands.NewRecipesCommand(container),
		commands.NewTrustCommand(container),
		commands.NewProbesCommand(container),
		commands.NewDebugCommand(container),
		commands.NewConfigCommand(container),
		commands.NewModelsCommand(container),
		commands.NewGuardrailCommand(container),
		commands.NewVersionCommand(),
	)
	return root, sess
}

func newAskCommand(container *app.Container) *cobra.Command {
	var (
		interactive bool
		local       bool
		asJSON      bool
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about this host",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			mode := domain.ModeOneShot
			if interactive {
				mode = domain.ModeInteractive
			}
			text := strings.Join(args, " ")

			answer, err := askQuestion(ctx, cmd, container, text, mode, local)
			if err != nil {
				return err
			}
			if asJSON {
				return RenderJSON(cmd.OutOrStdout(), answer)
			}
			RenderAnswer(cmd.OutOrStdout(), answer, ColorEnabled(cmd.OutOrStdout()))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Mark the question as interactive")
	cmd.Flags().BoolVar(&local, "local", false, "Answer in-process without contacting the daemon")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the answer envelope as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort the request after this long (0 keeps the engine budget)")
	return cmd
}

// askQuestion prefers the daemon and falls back to the in-process engine
// when no daemon is listening.
func askQuestion(ctx context.Context, cmd *cobra.Command, container *app.Container, text string, mode domain.InteractionMode, local bool) (domain.Answer, error) {
	if !local && container.Client != nil {
		answer, err := container.Client.Ask(ctx, text, mode)
		if err == nil {
			return answer, nil
		}
		if !errors.Is(err, ipc.ErrDaemonUnavailable) {
			return domain.Answer{}, fmt.Errorf("ask daemon: %w", err)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "hostq: daemon not running, answering in-process")
	}
	if container.QueryService == nil {
		return domain.Answer{}, fmt.Errorf("query service unavailable")
	}
	return container.QueryService.AnswerQuestion(ctx, text, mode), nil
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, opts Options, args []string) int {
	root, sess := newRootCmd(ctx, opts)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	err = errors.Join(err, sess.close())
	if err != nil {
		fmt.Fprintf(os.Stderr, "hostq: %v\n", err)
		return 1
	}
	return 0
}

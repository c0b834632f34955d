package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/doeshing/hostq/internal/domain"
)

// CommandRunner executes one rendered argv.
type CommandRunner interface {
	Execute(ctx context.Context, argv []string) domain.ExecutionResult
}

// LocalExecutor runs allow-listed commands directly, never through a shell.
type LocalExecutor struct {
	env []string
}

// NewLocalExecutor builds an executor that pins the C locale so parsers see
// stable output.
func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{env: append(os.Environ(), "LC_ALL=C", "LANG=C", "SYSTEMD_PAGER=", "SYSTEMD_COLORS=0")}
}

// Execute implements CommandRunner.
func (e *LocalExecutor) Execute(ctx context.Context, argv []string) domain.ExecutionResult {
	result := domain.ExecutionResult{Argv: argv}
	if len(argv) == 0 {
		result.Err = errors.New("empty argv")
		return result
	}

	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Env = e.env
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	result.Duration = time.Since(start)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		result.ExitCode = -1
		result.Err = ctx.Err()
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		result.Err = err
	case err != nil:
		result.ExitCode = -1
		result.Err = err
	}
	return result
}

var _ CommandRunner = (*LocalExecutor)(nil)

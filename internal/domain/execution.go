package domain

import "time"

// ExecutionResult wraps the raw output of one allow-listed command.
type ExecutionResult struct {
	Argv     []string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	Err      error
}

// Succeeded reports a clean zero exit.
func (r ExecutionResult) Succeeded() bool {
	return r.Err == nil && r.ExitCode == 0
}

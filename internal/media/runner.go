package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

const stderrTailLimit = 2048

// CommandResult is the captured outcome of one process execution.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts process execution so the argument builders can be tested without a transcoder.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner executes commands via os/exec.
type ExecRunner struct{}

// Run executes one command and captures stdout, stderr and the exit code.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	// #nosec G204 -- the binary comes from configuration and arguments are built internally.
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result := CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}

	if runErr != nil {
		result.ExitCode = -1

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}

		return result, runErr
	}

	return result, nil
}

// CommandLog captures one external command invocation.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stderr   string   `json:"stderr"`
}

// CommandError is an operation-aware error carrying the failed command.
type CommandError struct {
	Operation  string
	CommandLog CommandLog
	Err        error
}

// Error formats the failure for logs.
func (e *CommandError) Error() string {
	if e == nil {
		return ""
	}

	return fmt.Sprintf(
		"%s: %v (cmd=%s exit=%d)",
		e.Operation,
		e.Err,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes the underlying execution error.
func (e *CommandError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// run executes a command and converts a failure into a *CommandError.
func run(ctx context.Context, runner Runner, operation, name string, args []string) (CommandResult, error) {
	result, err := runner.Run(ctx, name, args...)
	if err != nil {
		return result, &CommandError{
			Operation: operation,
			CommandLog: CommandLog{
				Command:  name,
				Args:     args,
				ExitCode: result.ExitCode,
				Stderr:   tail(result.Stderr, stderrTailLimit),
			},
			Err: err,
		}
	}

	return result, nil
}

func tail(text string, limit int) string {
	if len(text) <= limit {
		return text
	}

	return text[len(text)-limit:]
}

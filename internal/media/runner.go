// Package media wraps the external audio tooling: ffmpeg capture, container
// decode/encode and the sample normalization speech models expect.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// String renders the invocation as a shell-like line.
func (l CommandLog) String() string {
	if len(l.Args) == 0 {
		return l.Command
	}
	return l.Command + " " + strings.Join(l.Args, " ")
}

// CommandError reports a command that could not be run or exited non-zero.
type CommandError struct {
	Message    string
	CommandLog CommandLog
	Err        error
}

// Error formats command failures for logs and UI.
func (e *CommandError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s (cmd=%s exit=%d)", e.Message, e.CommandLog.Command, e.CommandLog.ExitCode)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *CommandError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CommandResult is a process execution response.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts process execution for testability.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner executes commands via os/exec.
type ExecRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
// ExitCode is -1 when the process never started.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// IsExitError reports whether err came from a process that ran and exited
// non-zero, as opposed to one that could not be started.
func IsExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

func emitLog(cb func(CommandLog), log CommandLog) {
	if cb != nil {
		cb(log)
	}
}

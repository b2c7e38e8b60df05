package gotest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ErrTestFailed is returned by a Runner when the command ran but exited
// with a non-zero status.
var ErrTestFailed = errors.New("command exited with failure")

// Runner executes a command in dir and returns its combined output.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var out bytes.Buffer

	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out.Bytes(), fmt.Errorf("%w: %s %v: exit %d", ErrTestFailed, name, args, exitErr.ExitCode())
	}

	if err != nil {
		return out.Bytes(), fmt.Errorf("run %s: %w", name, err)
	}

	return out.Bytes(), nil
}

package main

import (
	"context"
	"errors"

	"github.com/containerd/errdefs"
	"github.com/spf13/cobra"

	"github.com/spin-stack/submount/internal/lifecycle"
)

// Exit codes follow mount(8).
const (
	exitSuccess = 0
	exitUsage   = 1
	exitSystem  = 2
	exitFailure = 32
)

// usageError marks errors caused by the invocation rather than the system.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func exitCode(err error) int {
	var ue usageError
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, lifecycle.ErrOutOfMemory),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return exitSystem
	case errors.As(err, &ue), errdefs.IsInvalidArgument(err):
		return exitUsage
	default:
		return exitFailure
	}
}

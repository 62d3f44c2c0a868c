// Package hook dispatches the stages of a mount operation to registered
// hooksets.
//
// A hookset registers callbacks for named stages when the operation starts.
// Callbacks return the registrations they want scheduled next instead of
// mutating the table themselves, so every transition of the stage graph is
// visible to the caller that drives the operation.
package hook

import (
	"context"
	"errors"
	"fmt"

	"github.com/spin-stack/submount/internal/mnt"
)

// Stage is a point in a mount operation at which callbacks run.
// Stages always run in ascending order.
type Stage int

const (
	// StagePrepTarget runs before anything touches the target.
	StagePrepTarget Stage = iota
	// StageMountPre runs right before the mount syscall.
	StageMountPre
	// StageMountPost runs after a successful mount syscall.
	StageMountPost

	numStages
)

func (s Stage) String() string {
	switch s {
	case StagePrepTarget:
		return "prep-target"
	case StageMountPre:
		return "mount-pre"
	case StageMountPost:
		return "mount-post"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Func is a stage callback. data is the Data field of the registration that
// scheduled it. The returned registrations are appended to the operation.
type Func func(ctx context.Context, c *Context, data any) ([]Registration, error)

// Registration schedules Fn at Stage on behalf of Hookset.
type Registration struct {
	Stage   Stage
	Hookset string
	Name    string
	Data    any
	Fn      Func
}

// Hookset is a feature taking part in mount operations.
type Hookset interface {
	Name() string
	// Init returns the initial registrations of the hookset.
	Init(ctx context.Context, c *Context) ([]Registration, error)
	// Deinit runs when the operation ends, whether it succeeded or not.
	Deinit(ctx context.Context, c *Context) error
}

// Mounter performs the actual mount and unmount of a request.
type Mounter interface {
	Mount(ctx context.Context, fs *mnt.FS) error
	Unmount(ctx context.Context, fs *mnt.FS) error
}

var (
	// ErrInvalidRegistration is returned when a registration lacks a callback,
	// an owner, or names an unknown stage.
	ErrInvalidRegistration = errors.New("invalid hook registration")

	// ErrStagePassed is returned when a callback schedules work for a stage
	// that has already run.
	ErrStagePassed = errors.New("stage already executed")

	// ErrAlreadyRun is returned when Run is called twice on one Context.
	ErrAlreadyRun = errors.New("operation already run")
)

// StageError is a failed stage callback.
type StageError struct {
	Stage   Stage
	Hookset string
	Name    string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s hook %s/%s: %v", e.Stage, e.Hookset, e.Name, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func (r Registration) validate() error {
	switch {
	case r.Fn == nil:
		return fmt.Errorf("%w: %s/%s has no callback", ErrInvalidRegistration, r.Hookset, r.Name)
	case r.Hookset == "":
		return fmt.Errorf("%w: %s has no hookset", ErrInvalidRegistration, r.Name)
	case r.Stage < 0 || r.Stage >= numStages:
		return fmt.Errorf("%w: %s/%s: unknown %s", ErrInvalidRegistration, r.Hookset, r.Name, r.Stage)
	}
	return nil
}

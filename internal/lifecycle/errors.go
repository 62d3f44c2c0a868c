// Package lifecycle tracks the life of a subdirectory redirection.
// This file defines sentinel errors and structured error types for the pipeline.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
	"golang.org/x/sys/unix"
)

// Sentinel errors for pipeline failures.
// Use errors.Is() to check for these error types.
var (
	// ErrUnsupported indicates the platform cannot create mount namespaces.
	ErrUnsupported = fmt.Errorf("mount namespaces not supported: %w", errdefs.ErrNotImplemented)

	// ErrMalformedOption indicates a mount option with invalid syntax.
	ErrMalformedOption = fmt.Errorf("malformed mount option: %w", errdefs.ErrInvalidArgument)

	// ErrOutOfMemory indicates the kernel refused an allocation (ENOMEM).
	ErrOutOfMemory = fmt.Errorf("out of memory: %w", errdefs.ErrResourceExhausted)

	// ErrNamespaceUnavailable indicates the current namespace could not be
	// saved or a new one could not be created.
	ErrNamespaceUnavailable = errors.New("mount namespace unavailable")

	// ErrDirectoryCreateFailed indicates the staging directory could not be created.
	ErrDirectoryCreateFailed = errors.New("staging directory creation failed")

	// ErrPrivateMountFailed indicates the staging directory could not be made private.
	ErrPrivateMountFailed = errors.New("cannot make staging directory private")

	// ErrApplyFlagsFailed indicates the subdirectory bind or the staging
	// unmount failed during promotion.
	ErrApplyFlagsFailed = errors.New("failed to apply mount flags")

	// ErrInvalidStateTransition indicates an invalid state machine transition was attempted.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrCleanupIncomplete indicates cleanup did not fully complete.
	ErrCleanupIncomplete = errors.New("cleanup incomplete")
)

// Step identifies the OS operation that failed.
type Step string

const (
	StepOpenNamespace    Step = "open_namespace"
	StepUnshare          Step = "unshare"
	StepMkdir            Step = "mkdir"
	StepMarkPrivate      Step = "mark_private"
	StepSelfBind         Step = "self_bind"
	StepBindSubdir       Step = "bind_subdir"
	StepUnmountStaging   Step = "unmount_staging"
	StepRestoreNamespace Step = "restore_namespace"
)

// kind maps a step to the error kind it reports.
func (s Step) kind() error {
	switch s {
	case StepOpenNamespace, StepUnshare, StepRestoreNamespace:
		return ErrNamespaceUnavailable
	case StepMkdir:
		return ErrDirectoryCreateFailed
	case StepMarkPrivate, StepSelfBind:
		return ErrPrivateMountFailed
	case StepBindSubdir, StepUnmountStaging:
		return ErrApplyFlagsFailed
	default:
		return nil
	}
}

// StepError is a failed OS operation. It matches the error kind of its step
// with errors.Is, and ErrOutOfMemory when the kernel answered ENOMEM.
type StepError struct {
	Step Step
	Path string
	Err  error
}

func (e *StepError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Step, e.Path, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	if target == ErrOutOfMemory && errors.Is(e.Err, unix.ENOMEM) {
		return true
	}
	k := e.Step.kind()
	return k != nil && target == k
}

// NewStepError creates a new error for a failed step.
func NewStepError(step Step, path string, err error) *StepError {
	return &StepError{Step: step, Path: path, Err: err}
}

// CleanupPhase identifies the phase of staging teardown where an error occurred.
type CleanupPhase string

const (
	PhaseStagingUnmount   CleanupPhase = "staging_unmount"
	PhaseNamespaceRestore CleanupPhase = "namespace_restore"
	PhaseHandleRelease    CleanupPhase = "handle_release"
)

// CleanupError represents an error during staging teardown.
type CleanupError struct {
	Phase CleanupPhase
	Err   error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup failed at %s: %v", e.Phase, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// NewCleanupError creates a new cleanup error for the given phase.
func NewCleanupError(phase CleanupPhase, err error) *CleanupError {
	return &CleanupError{Phase: phase, Err: err}
}

// CleanupResult collects errors from all teardown phases.
//
//nolint:errname // CleanupResult is a result container that can be used as an error
type CleanupResult struct {
	Errors []*CleanupError
}

// Add records an error for a teardown phase.
// Nil errors are ignored.
func (r *CleanupResult) Add(phase CleanupPhase, err error) {
	if err != nil {
		r.Errors = append(r.Errors, NewCleanupError(phase, err))
	}
}

// HasErrors returns true if any teardown phase failed.
func (r *CleanupResult) HasErrors() bool {
	return len(r.Errors) > 0
}

func (r *CleanupResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return fmt.Sprintf("cleanup completed with errors: %s", strings.Join(msgs, "; "))
}

// Is reports ErrCleanupIncomplete for a result that carries errors.
func (r *CleanupResult) Is(target error) bool {
	return target == ErrCleanupIncomplete && r.HasErrors()
}

// Unwrap exposes the phase errors to errors.Is and errors.As.
func (r *CleanupResult) Unwrap() []error {
	errs := make([]error, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, e)
	}
	return errs
}

// AsError returns the CleanupResult as an error, or nil if no errors occurred.
func (r *CleanupResult) AsError() error {
	if !r.HasErrors() {
		return nil
	}
	return r
}

// FailedPhases returns the list of phases that failed.
func (r *CleanupResult) FailedPhases() []CleanupPhase {
	phases := make([]CleanupPhase, 0, len(r.Errors))
	for _, e := range r.Errors {
		phases = append(phases, e.Phase)
	}
	return phases
}

// StateTransitionError represents an invalid state transition attempt.
type StateTransitionError struct {
	From    string
	To      string
	Current string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s (current state: %s)", e.From, e.To, e.Current)
}

func (e *StateTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

// NewStateTransitionError creates a new state transition error.
func NewStateTransitionError(from, to, current string) *StateTransitionError {
	return &StateTransitionError{From: from, To: to, Current: current}
}

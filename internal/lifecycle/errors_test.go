package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"golang.org/x/sys/unix"
)

func TestSentinelErrors(t *testing.T) {
	sentinels := []error{
		ErrUnsupported,
		ErrMalformedOption,
		ErrOutOfMemory,
		ErrNamespaceUnavailable,
		ErrDirectoryCreateFailed,
		ErrPrivateMountFailed,
		ErrApplyFlagsFailed,
		ErrInvalidStateTransition,
		ErrCleanupIncomplete,
	}

	for i, err1 := range sentinels {
		for j, err2 := range sentinels {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("sentinel errors should be distinct: %v == %v", err1, err2)
			}
		}
	}
}

func TestSentinelErrdefsClasses(t *testing.T) {
	if !errdefs.IsNotImplemented(ErrUnsupported) {
		t.Error("ErrUnsupported should be a not-implemented error")
	}
	if !errdefs.IsInvalidArgument(ErrMalformedOption) {
		t.Error("ErrMalformedOption should be an invalid-argument error")
	}
	if !errdefs.IsResourceExhausted(ErrOutOfMemory) {
		t.Error("ErrOutOfMemory should be a resource-exhausted error")
	}
}

func TestStepError(t *testing.T) {
	tests := []struct {
		step Step
		kind error
	}{
		{StepOpenNamespace, ErrNamespaceUnavailable},
		{StepUnshare, ErrNamespaceUnavailable},
		{StepRestoreNamespace, ErrNamespaceUnavailable},
		{StepMkdir, ErrDirectoryCreateFailed},
		{StepMarkPrivate, ErrPrivateMountFailed},
		{StepSelfBind, ErrPrivateMountFailed},
		{StepBindSubdir, ErrApplyFlagsFailed},
		{StepUnmountStaging, ErrApplyFlagsFailed},
	}

	for _, tt := range tests {
		t.Run(string(tt.step), func(t *testing.T) {
			inner := unix.EPERM
			err := fmt.Errorf("wrapped: %w", NewStepError(tt.step, "/run/mount/tmptgt", inner))

			if !errors.Is(err, tt.kind) {
				t.Errorf("expected %v to match %v", err, tt.kind)
			}
			if !errors.Is(err, unix.EPERM) {
				t.Error("should unwrap to the errno")
			}
			if errors.Is(err, ErrOutOfMemory) {
				t.Error("EPERM must not match ErrOutOfMemory")
			}
			if !strings.Contains(err.Error(), string(tt.step)) {
				t.Errorf("message should name the step: %s", err)
			}
		})
	}
}

func TestStepErrorOutOfMemory(t *testing.T) {
	err := NewStepError(StepUnshare, "", unix.ENOMEM)
	if !errors.Is(err, ErrOutOfMemory) {
		t.Error("ENOMEM should match ErrOutOfMemory")
	}
	if !errors.Is(err, ErrNamespaceUnavailable) {
		t.Error("step kind should still match")
	}
}

func TestCleanupResult(t *testing.T) {
	t.Run("empty result", func(t *testing.T) {
		result := &CleanupResult{}

		if result.HasErrors() {
			t.Error("empty result should not have errors")
		}
		if result.Error() != "" {
			t.Error("empty result should have empty error string")
		}
		if result.AsError() != nil {
			t.Error("empty result AsError should return nil")
		}
		if errors.Is(result, ErrCleanupIncomplete) {
			t.Error("empty result should not match ErrCleanupIncomplete")
		}
	})

	t.Run("with errors", func(t *testing.T) {
		result := &CleanupResult{}
		result.Add(PhaseStagingUnmount, errors.New("busy"))
		result.Add(PhaseNamespaceRestore, nil)
		result.Add(PhaseHandleRelease, errors.New("bad fd"))

		if len(result.Errors) != 2 {
			t.Fatalf("expected 2 errors, got %d", len(result.Errors))
		}
		msg := result.Error()
		if !strings.Contains(msg, "staging_unmount") || !strings.Contains(msg, "handle_release") {
			t.Errorf("error message should list failed phases: %s", msg)
		}
		if result.AsError() == nil {
			t.Error("AsError should return the result")
		}
	})
}

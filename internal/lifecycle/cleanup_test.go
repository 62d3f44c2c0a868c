package lifecycle

import (
	"context"
	"errors"
	"testing"
)

func TestCleanupOrchestrator_ExecuteOrder(t *testing.T) {
	var order []string

	record := func(name string) CleanupFunc {
		return func(ctx context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	c := NewCleanupOrchestrator(CleanupPhases{
		StagingUnmount:   record("unmount"),
		NamespaceRestore: record("restore"),
		HandleRelease:    record("release"),
	})

	result := c.Execute(context.Background())
	if result.HasErrors() {
		t.Errorf("unexpected errors: %v", result.Error())
	}

	expectedOrder := []string{"unmount", "restore", "release"}
	if len(order) != len(expectedOrder) {
		t.Fatalf("expected %d cleanup calls, got %d", len(expectedOrder), len(order))
	}
	for i, expected := range expectedOrder {
		if order[i] != expected {
			t.Errorf("cleanup order[%d] = %q, want %q", i, order[i], expected)
		}
	}
}

func TestCleanupOrchestrator_CollectsAllErrors(t *testing.T) {
	errUnmount := errors.New("unmount error")
	errRestore := errors.New("restore error")
	released := false

	c := NewCleanupOrchestrator(CleanupPhases{
		StagingUnmount:   func(ctx context.Context) error { return errUnmount },
		NamespaceRestore: func(ctx context.Context) error { return errRestore },
		HandleRelease: func(ctx context.Context) error {
			released = true
			return nil
		},
	})

	result := c.Execute(context.Background())

	if !released {
		t.Error("handle release must run after earlier failures")
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(result.Errors))
	}
	phases := result.FailedPhases()
	if phases[0] != PhaseStagingUnmount || phases[1] != PhaseNamespaceRestore {
		t.Errorf("unexpected failed phases: %v", phases)
	}
	if !errors.Is(result, errRestore) {
		t.Error("result should unwrap to phase errors")
	}
	if !errors.Is(result, ErrCleanupIncomplete) {
		t.Error("result with errors should match ErrCleanupIncomplete")
	}
}

func TestCleanupOrchestrator_RunsOnce(t *testing.T) {
	restores := 0
	c := NewCleanupOrchestrator(CleanupPhases{
		NamespaceRestore: func(ctx context.Context) error {
			restores++
			return nil
		},
	})

	c.Execute(context.Background())
	result := c.Execute(context.Background())

	if restores != 1 {
		t.Errorf("restore ran %d times, want 1", restores)
	}
	if result.HasErrors() {
		t.Errorf("second execute reported errors: %v", result)
	}
	if !c.done() {
		t.Error("done() = false after execute")
	}
}

func TestCleanupOrchestrator_NilPhasesSkipped(t *testing.T) {
	c := NewCleanupOrchestrator(CleanupPhases{})
	if !c.done() {
		t.Error("orchestrator without phases should be done")
	}

	result := c.Execute(context.Background())
	if result.HasErrors() {
		t.Errorf("unexpected errors: %v", result)
	}
	if len(c.completedPhases()) != 0 {
		t.Errorf("expected no completed phases, got %v", c.completedPhases())
	}
}

func (c *CleanupOrchestrator) done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, phase := range c.phases {
		if phase.fn != nil && !phase.done {
			return false
		}
	}
	return true
}

func (c *CleanupOrchestrator) completedPhases() []CleanupPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	var phases []CleanupPhase
	for _, phase := range c.phases {
		if phase.done {
			phases = append(phases, phase.name)
		}
	}
	return phases
}

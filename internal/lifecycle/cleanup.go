// Package lifecycle tracks the life of a subdirectory redirection.
// This file implements the staging teardown orchestrator.
package lifecycle

import (
	"context"
	"sync"

	"github.com/containerd/log"
)

// CleanupFunc is a function that performs a cleanup operation.
type CleanupFunc func(ctx context.Context) error

// cleanupPhase represents a single cleanup phase with its function and state.
type cleanupPhase struct {
	name CleanupPhase
	fn   CleanupFunc
	done bool
}

// CleanupOrchestrator runs the staging teardown in a fixed order:
//
//	staging unmount -> namespace restore -> handle release
//
// Every phase is attempted even if an earlier one fails, and every phase runs
// at most once: executing the orchestrator again only runs phases that were
// never reached.
type CleanupOrchestrator struct {
	mu     sync.Mutex
	phases []cleanupPhase
}

// CleanupPhases configures all cleanup functions at once.
// Phases left nil are skipped.
type CleanupPhases struct {
	StagingUnmount   CleanupFunc
	NamespaceRestore CleanupFunc
	HandleRelease    CleanupFunc
}

// NewCleanupOrchestrator creates a new cleanup orchestrator with the given phases.
func NewCleanupOrchestrator(phases CleanupPhases) *CleanupOrchestrator {
	return &CleanupOrchestrator{
		phases: []cleanupPhase{
			{name: PhaseStagingUnmount, fn: phases.StagingUnmount},
			{name: PhaseNamespaceRestore, fn: phases.NamespaceRestore},
			{name: PhaseHandleRelease, fn: phases.HandleRelease},
		},
	}
}

// Execute runs the cleanup sequence and returns the collected errors.
func (c *CleanupOrchestrator) Execute(ctx context.Context) *CleanupResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := &CleanupResult{}
	logger := log.G(ctx)

	for i := range c.phases {
		phase := &c.phases[i]

		if phase.fn == nil || phase.done {
			continue
		}

		logger.WithField("phase", string(phase.name)).Debug("cleanup: executing phase")
		phase.done = true

		if err := phase.fn(ctx); err != nil {
			result.Add(phase.name, err)
		}
	}

	if result.HasErrors() {
		logger.WithField("failed_phases", result.FailedPhases()).Warn("cleanup completed with errors")
	}

	return result
}

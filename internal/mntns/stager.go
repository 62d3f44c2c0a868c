package mntns

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/containerd/log"

	"github.com/spin-stack/submount/internal/lifecycle"
	"github.com/spin-stack/submount/internal/paths"
)

const stagingDirPerm = 0o700

// Stager enters and leaves the private staging namespace.
type Stager struct {
	sys    Sys
	topDir string
	dir    string
}

// NewStager returns a stager for the fixed staging directory.
func NewStager(sys Sys) *Stager {
	return &Stager{
		sys:    sys,
		topDir: paths.RuntimeTopDir,
		dir:    paths.StagingDir,
	}
}

// Dir returns the staging directory.
func (s *Stager) Dir() string {
	return s.dir
}

// Enter moves the calling goroutine into a new private mount namespace with
// an isolated staging directory. The goroutine stays wired to its OS thread
// until the returned guard restored the original namespace.
//
// On failure everything done so far is rolled back and the error carries the
// kind of the failing step.
func (s *Stager) Enter(ctx context.Context) (*Guard, error) {
	if !s.sys.Supported() {
		return nil, lifecycle.ErrUnsupported
	}

	runtime.LockOSThread()

	saved, err := s.sys.CurrentNamespace()
	if err != nil {
		runtime.UnlockOSThread()
		return nil, lifecycle.NewStepError(lifecycle.StepOpenNamespace, "", err)
	}

	if err := s.sys.Unshare(); err != nil {
		if cerr := saved.Close(); cerr != nil {
			log.G(ctx).WithError(cerr).Warn("failed to close saved mount namespace")
		}
		runtime.UnlockOSThread()
		return nil, lifecycle.NewStepError(lifecycle.StepUnshare, "", err)
	}

	g := s.newGuard(saved, true)
	logger := log.G(ctx).WithField("saved_ns", saved.String())
	logger.Debug("entered private mount namespace")

	if err := s.sys.MkdirAll(s.dir, stagingDirPerm); err != nil {
		return nil, g.rollback(ctx, lifecycle.NewStepError(lifecycle.StepMkdir, s.dir, err))
	}

	if err := s.makePrivate(ctx); err != nil {
		return nil, g.rollback(ctx, err)
	}

	logger.WithField("staging", s.dir).Debug("staging directory ready")
	return g, nil
}

// makePrivate isolates the staging directory. Marking the runtime directory
// works when it is a mount of its own; otherwise the staging directory is
// bound onto itself so it has a mount whose propagation can be changed.
// A self-bind whose private mark fails stays mounted until rollback.
func (s *Stager) makePrivate(ctx context.Context) error {
	err := s.sys.MakePrivate(s.topDir)
	if err == nil {
		return nil
	}
	log.G(ctx).WithError(err).WithField("path", s.topDir).Debug("cannot make runtime directory private, binding staging directory")

	if err := s.sys.BindSelf(s.dir); err != nil {
		return lifecycle.NewStepError(lifecycle.StepSelfBind, s.dir, err)
	}
	if err := s.sys.MakePrivate(s.dir); err != nil {
		return lifecycle.NewStepError(lifecycle.StepMarkPrivate, s.dir, err)
	}
	return nil
}

// Leave unmounts the staging directory and, when saved is not nil, switches
// back into saved and closes it. Calling it again with an already closed
// handle is the caller's problem; use Guard.Release for exactly-once
// semantics.
func (s *Stager) Leave(ctx context.Context, saved Handle) error {
	return s.newGuard(saved, false).Release(ctx)
}

// Verify reports an error when the staging directory still carries a mount
// in the current namespace.
func (s *Stager) Verify() error {
	mounted, err := s.sys.Mounted(s.dir)
	if err != nil {
		return fmt.Errorf("check %s: %w", s.dir, err)
	}
	if mounted {
		return fmt.Errorf("staging directory %s is still mounted", s.dir)
	}
	return nil
}

// Guard owns the reference to the namespace that was active before Enter.
type Guard struct {
	stager *Stager
	saved  Handle
	pinned bool

	mu       sync.Mutex
	active   bool
	released bool
	cleanup  *lifecycle.CleanupOrchestrator
}

func (s *Stager) newGuard(saved Handle, pinned bool) *Guard {
	g := &Guard{
		stager: s,
		saved:  saved,
		pinned: pinned,
		active: saved != nil,
	}
	phases := lifecycle.CleanupPhases{
		StagingUnmount: func(context.Context) error {
			return s.unmountStaging()
		},
	}
	if saved != nil {
		phases.NamespaceRestore = g.restore
		phases.HandleRelease = func(context.Context) error {
			return saved.Close()
		}
	}
	g.cleanup = lifecycle.NewCleanupOrchestrator(phases)
	return g
}

// Active reports whether the calling thread still runs in the private
// namespace entered by this guard.
func (g *Guard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Release unmounts the staging directory, restores the saved namespace and
// closes the saved handle. Every step is attempted; failures are aggregated.
// Only the first call does anything.
func (g *Guard) Release(ctx context.Context) error {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return nil
	}
	g.released = true
	g.mu.Unlock()

	return g.cleanup.Execute(ctx).AsError()
}

func (g *Guard) restore(ctx context.Context) error {
	if err := g.stager.sys.SetNamespace(g.saved); err != nil {
		// Keep the thread locked; it is discarded when the goroutine exits.
		return lifecycle.NewStepError(lifecycle.StepRestoreNamespace, "", err)
	}

	g.mu.Lock()
	g.active = false
	g.mu.Unlock()

	if g.pinned {
		runtime.UnlockOSThread()
	}
	log.G(ctx).WithField("ns", g.saved.String()).Debug("restored mount namespace")
	return nil
}

func (g *Guard) rollback(ctx context.Context, cause error) error {
	if err := g.Release(ctx); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (s *Stager) unmountStaging() error {
	if err := s.sys.Unmount(s.dir); err != nil {
		return lifecycle.NewStepError(lifecycle.StepUnmountStaging, s.dir, err)
	}
	return nil
}

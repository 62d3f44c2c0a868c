package subdir

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/containerd/log"
	"github.com/google/uuid"

	"github.com/spin-stack/submount/internal/hook"
	"github.com/spin-stack/submount/internal/lifecycle"
	"github.com/spin-stack/submount/internal/mnt"
	"github.com/spin-stack/submount/internal/mntns"
)

// Recorder persists the state transitions of redirected mounts.
type Recorder interface {
	Record(ctx context.Context, t lifecycle.Transition) error
}

// Hookset takes part in mount operations and redirects the ones carrying
// X-mount.subdir.
type Hookset struct {
	sys      mntns.Sys
	stager   *mntns.Stager
	recorder Recorder
}

// Opt configures a Hookset.
type Opt func(*Hookset)

// WithRecorder records every state transition to r.
func WithRecorder(r Recorder) Opt {
	return func(h *Hookset) {
		h.recorder = r
	}
}

// New returns the hookset operating on sys.
func New(sys mntns.Sys, opts ...Opt) *Hookset {
	h := &Hookset{
		sys:    sys,
		stager: mntns.NewStager(sys),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

var _ hook.Hookset = (*Hookset)(nil)

// operation is the state of one redirected mount. It travels with the
// registrations it schedules and is also kept as hookset data so Deinit can
// clean up when the operation ends early.
type operation struct {
	id     string
	subdir string
	source string
	target string
	guard  *mntns.Guard
	sm     *lifecycle.StateMachine
}

func (h *Hookset) Name() string {
	return HooksetName
}

// Init registers detection for the target preparation stage.
func (h *Hookset) Init(context.Context, *hook.Context) ([]hook.Registration, error) {
	return []hook.Registration{{
		Stage:   hook.StagePrepTarget,
		Hookset: HooksetName,
		Name:    "detect",
		Fn:      h.prepareTarget,
	}}, nil
}

// Deinit drops whatever the operation left registered and, if the private
// namespace is still active, leaves it.
func (h *Hookset) Deinit(ctx context.Context, c *hook.Context) error {
	if n := c.RemoveHooks(HooksetName); n > 0 {
		log.G(ctx).WithField("count", n).Debug("subdir: removed hooks")
	}

	op, ok := c.HookData(HooksetName).(*operation)
	if !ok {
		return nil
	}
	c.SetHookData(HooksetName, nil)

	var err error
	if op.guard != nil {
		log.G(ctx).WithField("id", op.id).Debug("subdir: operation ended while staged, leaving namespace")
		c.FS().SetTarget(op.target)
		err = op.guard.Release(ctx)
		op.guard = nil
	}

	if prev, aborted := op.sm.Abort(); aborted {
		h.record(ctx, op, prev, lifecycle.StateAborted, errors.New("operation ended before promotion"))
	}
	return err
}

func (h *Hookset) prepareTarget(ctx context.Context, c *hook.Context, _ any) ([]hook.Registration, error) {
	if c.Action() != mnt.ActionMount || c.Flags()&mnt.FlagXFstabComm == 0 {
		return nil, nil
	}

	fs := c.FS()
	if fs.Target() == "" {
		return nil, nil
	}
	subdir, found, err := Detect(fs.Options())
	if err != nil || !found {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("operation id: %w", err)
	}

	op := &operation{
		id:     id.String(),
		subdir: subdir,
		source: fs.Source(),
		target: fs.Target(),
		sm:     lifecycle.NewStateMachine(),
	}
	if err := op.sm.Transition(lifecycle.StateIdle, lifecycle.StateDirectiveDetected); err != nil {
		return nil, err
	}
	c.SetHookData(HooksetName, op)
	h.record(ctx, op, lifecycle.StateIdle, lifecycle.StateDirectiveDetected, nil)

	log.G(ctx).WithFields(log.Fields{
		"id":     op.id,
		"subdir": subdir,
	}).Debug("subdir: directive detected")

	return []hook.Registration{{
		Stage:   hook.StageMountPre,
		Hookset: HooksetName,
		Name:    "stage",
		Data:    op,
		Fn:      h.mountPre,
	}}, nil
}

func (h *Hookset) mountPre(ctx context.Context, c *hook.Context, data any) ([]hook.Registration, error) {
	op, err := operationOf(data)
	if err != nil {
		return nil, err
	}

	fs := c.FS()
	op.target = fs.Target()

	g, err := h.stager.Enter(ctx)
	if err != nil {
		h.abort(ctx, op, err)
		return nil, err
	}
	op.guard = g
	fs.SetTarget(h.stager.Dir())

	if err := op.sm.Transition(lifecycle.StateDirectiveDetected, lifecycle.StateStaged); err != nil {
		return nil, err
	}
	h.record(ctx, op, lifecycle.StateDirectiveDetected, lifecycle.StateStaged, nil)

	return []hook.Registration{{
		Stage:   hook.StageMountPost,
		Hookset: HooksetName,
		Name:    "promote",
		Data:    op,
		Fn:      h.mountPost,
	}}, nil
}

func (h *Hookset) mountPost(ctx context.Context, c *hook.Context, data any) ([]hook.Registration, error) {
	op, err := operationOf(data)
	if err != nil {
		return nil, err
	}
	if op.subdir == "" || op.guard == nil {
		return nil, nil
	}

	c.FS().SetTarget(op.target)

	err = h.promote(ctx, op)

	if rerr := op.guard.Release(ctx); rerr != nil {
		log.G(ctx).WithError(rerr).WithField("id", op.id).Warn("subdir: leaving staging namespace failed")
	}
	op.guard = nil

	if err != nil {
		h.abort(ctx, op, err)
		return nil, err
	}

	if err := op.sm.Transition(lifecycle.StateStaged, lifecycle.StatePromoted); err != nil {
		return nil, err
	}
	h.record(ctx, op, lifecycle.StateStaged, lifecycle.StatePromoted, nil)
	return nil, nil
}

// promote binds the subdirectory of the staged mount onto the real target
// and unmounts the staging directory. Both steps are always attempted.
func (h *Hookset) promote(ctx context.Context, op *operation) error {
	staging := h.stager.Dir()
	src := filepath.Join(staging, op.subdir)

	log.G(ctx).WithFields(log.Fields{
		"id":     op.id,
		"source": src,
		"target": op.target,
	}).Debug("subdir: promoting")

	var errs []error
	if err := h.sys.BindRecursive(src, op.target); err != nil {
		errs = append(errs, lifecycle.NewStepError(lifecycle.StepBindSubdir, op.target, err))
	}
	if err := h.sys.Unmount(staging); err != nil {
		errs = append(errs, lifecycle.NewStepError(lifecycle.StepUnmountStaging, staging, err))
	}
	return errors.Join(errs...)
}

func (h *Hookset) abort(ctx context.Context, op *operation, cause error) {
	if prev, ok := op.sm.Abort(); ok {
		h.record(ctx, op, prev, lifecycle.StateAborted, cause)
	}
}

func (h *Hookset) record(ctx context.Context, op *operation, from, to lifecycle.OpState, cause error) {
	if h.recorder == nil {
		return
	}
	t := lifecycle.Transition{
		ID:     op.id,
		Source: op.source,
		Target: op.target,
		Subdir: op.subdir,
		From:   from,
		To:     to,
		Err:    cause,
		At:     time.Now(),
	}
	if err := h.recorder.Record(ctx, t); err != nil {
		log.G(ctx).WithError(err).WithField("id", op.id).Warn("subdir: failed to record transition")
	}
}

func operationOf(data any) (*operation, error) {
	op, ok := data.(*operation)
	if !ok || op == nil {
		return nil, fmt.Errorf("subdir: unexpected hook data %T", data)
	}
	return op, nil
}

package hook

import (
	"context"
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/spin-stack/submount/internal/mnt"
)

type entry struct {
	Registration
	done bool
}

// Context is one mount operation: the request, the hooksets taking part and
// the table of registered callbacks. It is not safe for concurrent use.
type Context struct {
	fs       *mnt.FS
	action   mnt.Action
	flags    mnt.Flags
	mounter  Mounter
	hooksets []Hookset

	entries []*entry
	data    map[string]any
	current Stage
	started bool
}

// NewContext prepares an operation on fs. Invocation flags default to the
// ones derived from the option string.
func NewContext(fs *mnt.FS, action mnt.Action, mounter Mounter, hooksets ...Hookset) *Context {
	return &Context{
		fs:       fs,
		action:   action,
		flags:    fs.UserFlags(),
		mounter:  mounter,
		hooksets: hooksets,
		data:     make(map[string]any),
		current:  -1,
	}
}

func (c *Context) FS() *mnt.FS        { return c.fs }
func (c *Context) Action() mnt.Action { return c.action }
func (c *Context) Flags() mnt.Flags   { return c.flags }

// SetFlags overrides the invocation flags.
func (c *Context) SetFlags(f mnt.Flags) {
	c.flags = f
}

// Append schedules registrations. Registrations for a stage that is running
// are picked up by that stage; registrations for a stage that already ran are
// rejected.
func (c *Context) Append(regs ...Registration) error {
	for _, r := range regs {
		if err := r.validate(); err != nil {
			return err
		}
		if r.Stage < c.current {
			return fmt.Errorf("%w: %s/%s scheduled for %s during %s", ErrStagePassed, r.Hookset, r.Name, r.Stage, c.current)
		}
		c.entries = append(c.entries, &entry{Registration: r})
	}
	return nil
}

// RemoveHooks drops every registration owned by hookset, executed or not,
// and returns how many were removed.
func (c *Context) RemoveHooks(hookset string) int {
	kept := c.entries[:0]
	n := 0
	for _, e := range c.entries {
		if e.Hookset == hookset {
			n++
			continue
		}
		kept = append(kept, e)
	}
	clear(c.entries[len(kept):])
	c.entries = kept
	return n
}

// Registered returns the registrations currently in the table, in order.
func (c *Context) Registered() []Registration {
	regs := make([]Registration, 0, len(c.entries))
	for _, e := range c.entries {
		regs = append(regs, e.Registration)
	}
	return regs
}

// HookData returns the value stored for hookset, or nil.
func (c *Context) HookData(hookset string) any {
	return c.data[hookset]
}

// SetHookData stores v for hookset. A nil v deletes the entry.
func (c *Context) SetHookData(hookset string, v any) {
	if v == nil {
		delete(c.data, hookset)
		return
	}
	c.data[hookset] = v
}

// Run executes the operation. Hooksets are always deinitialized, in reverse
// order, once they were initialized; their errors are joined with the error
// of the operation itself.
func (c *Context) Run(ctx context.Context) error {
	if c.started {
		return ErrAlreadyRun
	}
	c.started = true

	ctx = log.WithLogger(ctx, log.G(ctx).WithFields(log.Fields{
		"action": c.action.String(),
		"target": c.fs.Target(),
	}))

	var (
		err    error
		inited []Hookset
	)
	for _, hs := range c.hooksets {
		regs, ierr := hs.Init(ctx, c)
		inited = append(inited, hs)
		if ierr == nil {
			ierr = c.Append(regs...)
		}
		if ierr != nil {
			err = fmt.Errorf("init %s: %w", hs.Name(), ierr)
			break
		}
	}

	if err == nil {
		err = c.run(ctx)
	}

	var derrs []error
	for i := len(inited) - 1; i >= 0; i-- {
		hs := inited[i]
		if derr := hs.Deinit(ctx, c); derr != nil {
			log.G(ctx).WithError(derr).WithField("hookset", hs.Name()).Warn("hookset deinit failed")
			derrs = append(derrs, fmt.Errorf("deinit %s: %w", hs.Name(), derr))
		}
	}

	return errors.Join(append([]error{err}, derrs...)...)
}

func (c *Context) run(ctx context.Context) error {
	if c.mounter == nil {
		return fmt.Errorf("no mounter: %w", errdefs.ErrFailedPrecondition)
	}

	switch c.action {
	case mnt.ActionMount:
		if err := c.runStage(ctx, StagePrepTarget); err != nil {
			return err
		}
		if err := c.runStage(ctx, StageMountPre); err != nil {
			return err
		}
		if err := c.mounter.Mount(ctx, c.fs); err != nil {
			return fmt.Errorf("mount %s on %s: %w", c.fs.Source(), c.fs.Target(), err)
		}
		return c.runStage(ctx, StageMountPost)
	case mnt.ActionUmount:
		if err := c.runStage(ctx, StagePrepTarget); err != nil {
			return err
		}
		if err := c.mounter.Unmount(ctx, c.fs); err != nil {
			return fmt.Errorf("unmount %s: %w", c.fs.Target(), err)
		}
		return nil
	default:
		return fmt.Errorf("action %s: %w", c.action, errdefs.ErrInvalidArgument)
	}
}

// runStage calls every pending callback of stage in registration order,
// including callbacks scheduled by the stage itself.
func (c *Context) runStage(ctx context.Context, stage Stage) error {
	c.current = stage
	for {
		e := c.nextPending(stage)
		if e == nil {
			return nil
		}
		e.done = true

		log.G(ctx).WithFields(log.Fields{
			"stage":   stage.String(),
			"hookset": e.Hookset,
			"hook":    e.Name,
		}).Debug("hook: calling")

		regs, err := e.Fn(ctx, c, e.Data)
		if err == nil {
			err = c.Append(regs...)
		}
		if err != nil {
			return &StageError{Stage: stage, Hookset: e.Hookset, Name: e.Name, Err: err}
		}
	}
}

func (c *Context) nextPending(stage Stage) *entry {
	for _, e := range c.entries {
		if e.Stage == stage && !e.done {
			return e
		}
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/containerd/log"
	"github.com/spf13/cobra"

	"github.com/spin-stack/submount/internal/hook"
	"github.com/spin-stack/submount/internal/lock"
	"github.com/spin-stack/submount/internal/lock/flock"
	"github.com/spin-stack/submount/internal/mnt"
	"github.com/spin-stack/submount/internal/mntns"
	"github.com/spin-stack/submount/internal/mountutil"
	"github.com/spin-stack/submount/internal/paths"
	"github.com/spin-stack/submount/internal/subdir"
)

type mountOptions struct {
	fstype  string
	options string
	verify  bool
}

func newMountCmd(a *app) *cobra.Command {
	var opts mountOptions
	cmd := &cobra.Command{
		Use:   "mount [flags] SOURCE TARGET",
		Short: "Mount SOURCE on TARGET, exposing only X-mount.subdir when given",
		Example: `  submount mount -t ext4 -o X-mount.subdir=export /dev/sdb1 /mnt/data
  submount mount -o 'ro,X-mount.mkdir=0750,X-mount.subdir="srv/www"' /dev/sdc1 /srv/www`,
		Args: usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := mnt.NewFS(args[0], args[1], opts.fstype, opts.options)
			return a.mount(commandContext(cmd), fs, opts.verify)
		},
	}
	cmd.Flags().StringVarP(&opts.fstype, "types", "t", "", "filesystem type")
	cmd.Flags().StringVarP(&opts.options, "options", "o", "", "comma separated mount options")
	cmd.Flags().BoolVar(&opts.verify, "verify", false, "check the mount table after mounting")
	return cmd
}

func (a *app) hooksets(ctx context.Context) ([]hook.Hookset, func()) {
	var subdirOpts []subdir.Opt
	closeFn := func() {}

	j, err := a.openJournal()
	switch {
	case err != nil:
		log.G(ctx).WithError(err).Warn("continuing without operation journal")
	case j != nil:
		subdirOpts = append(subdirOpts, subdir.WithRecorder(j))
		closeFn = func() {
			if err := j.Close(); err != nil {
				log.G(ctx).WithError(err).Warn("failed to close journal")
			}
		}
	}

	return []hook.Hookset{
		mountutil.Mkdir{},
		subdir.New(a.sys, subdirOpts...),
	}, closeFn
}

func (a *app) mount(ctx context.Context, fs *mnt.FS, verify bool) error {
	_, redirected, err := subdir.Detect(fs.Options())
	if err != nil {
		return err
	}

	hooksets, closeJournal := a.hooksets(ctx)
	defer closeJournal()

	c := hook.NewContext(fs, mnt.ActionMount, a.mounter, hooksets...)
	run := func() error { return c.Run(ctx) }

	if redirected {
		l := lock.WithTimeout(flock.New(paths.LockPath(a.cfg.Paths)), a.cfg.Timeouts.GetLockAcquire())
		err = lock.WithLock(ctx, l, run)
	} else {
		err = run()
	}
	if err != nil {
		return err
	}

	if verify {
		return a.verify(fs, redirected)
	}
	return nil
}

func (a *app) verify(fs *mnt.FS, redirected bool) error {
	var errs []error
	if redirected {
		if err := mntns.NewStager(a.sys).Verify(); err != nil {
			errs = append(errs, err)
		}
	}
	mounted, err := a.sys.Mounted(fs.Target())
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("check %s: %w", fs.Target(), err))
	case !mounted:
		errs = append(errs, fmt.Errorf("%s is not a mount point", fs.Target()))
	}
	if len(errs) > 0 {
		return fmt.Errorf("verify: %w", errors.Join(errs...))
	}
	return nil
}

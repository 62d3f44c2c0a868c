// Package mountutil performs the mount requests driven by the dispatch
// engine.
package mountutil

import (
	"context"
	"fmt"

	"github.com/containerd/containerd/v2/core/mount"
	"github.com/containerd/log"

	"github.com/spin-stack/submount/internal/mnt"
	"github.com/spin-stack/submount/internal/optstr"
)

// Mounter mounts requests with the kernel. Userspace options are stripped
// before the mount syscall.
type Mounter struct{}

// New returns a Mounter.
func New() *Mounter {
	return &Mounter{}
}

func (*Mounter) Mount(ctx context.Context, fs *mnt.FS) error {
	kernel, user := optstr.Split(fs.Options())
	m := mount.Mount{
		Type:    fs.FSType(),
		Source:  fs.Source(),
		Options: kernel,
	}
	fields := log.Fields{
		"type":    m.Type,
		"source":  m.Source,
		"target":  fs.Target(),
		"options": m.Options,
	}
	if len(user) > 0 {
		fields["userspace"] = user
	}

	if err := m.Mount(fs.Target()); err != nil {
		log.G(ctx).WithFields(fields).WithError(err).Error("mount failed")
		return err
	}
	log.G(ctx).WithFields(fields).Info("mounted")
	return nil
}

func (*Mounter) Unmount(ctx context.Context, fs *mnt.FS) error {
	if err := mount.UnmountAll(fs.Target(), 0); err != nil {
		return fmt.Errorf("unmount %s: %w", fs.Target(), err)
	}
	log.G(ctx).WithField("target", fs.Target()).Info("unmounted")
	return nil
}

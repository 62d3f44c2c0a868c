//go:build linux

package mntns

import (
	"errors"
	"fmt"
	"os"

	"github.com/containerd/containerd/v2/core/mount"
	"github.com/containerd/errdefs"
	"github.com/moby/sys/mountinfo"
	"github.com/moby/sys/userns"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

type hostSys struct{}

// Host returns the primitives of the running kernel.
func Host() Sys {
	return hostSys{}
}

func (hostSys) Supported() bool {
	_, err := os.Stat("/proc/self/ns/mnt")
	return err == nil
}

// CurrentNamespace opens the namespace of the calling thread. /proc/self
// resolves to the thread group leader, which may sit in another namespace.
func (hostSys) CurrentNamespace() (Handle, error) {
	h, err := netns.GetFromPath(fmt.Sprintf("/proc/%d/task/%d/ns/mnt", os.Getpid(), unix.Gettid()))
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (hostSys) Unshare() error {
	err := unix.Unshare(unix.CLONE_NEWNS)
	if errors.Is(err, unix.EPERM) && !userns.RunningInUserNS() {
		return fmt.Errorf("%w (CAP_SYS_ADMIN required)", err)
	}
	return err
}

func (hostSys) SetNamespace(h Handle) error {
	ns, ok := h.(*netns.NsHandle)
	if !ok {
		return fmt.Errorf("namespace handle %T: %w", h, errdefs.ErrInvalidArgument)
	}
	return netns.Setns(*ns, unix.CLONE_NEWNS)
}

func (hostSys) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (hostSys) MakePrivate(path string) error {
	return unix.Mount("none", path, "", unix.MS_PRIVATE, "")
}

func (hostSys) BindSelf(path string) error {
	m := mount.Mount{
		Type:    "bind",
		Source:  path,
		Options: []string{"bind"},
	}
	return m.Mount(path)
}

func (hostSys) BindRecursive(source, target string) error {
	m := mount.Mount{
		Type:    "bind",
		Source:  source,
		Options: []string{"rbind"},
	}
	return m.Mount(target)
}

func (hostSys) Unmount(path string) error {
	if err := mount.Unmount(path, 0); err != nil && !errors.Is(err, unix.ENOENT) {
		return err
	}
	return nil
}

func (hostSys) Mounted(path string) (bool, error) {
	ok, err := mountinfo.Mounted(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return ok, err
}

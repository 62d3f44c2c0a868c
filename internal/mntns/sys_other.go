//go:build !linux

package mntns

import (
	"os"

	"github.com/spin-stack/submount/internal/lifecycle"
)

type hostSys struct{}

// Host returns primitives that refuse every operation: mount namespaces
// only exist on Linux.
func Host() Sys {
	return hostSys{}
}

func (hostSys) Supported() bool { return false }

func (hostSys) CurrentNamespace() (Handle, error)  { return nil, lifecycle.ErrUnsupported }
func (hostSys) Unshare() error                     { return lifecycle.ErrUnsupported }
func (hostSys) SetNamespace(Handle) error          { return lifecycle.ErrUnsupported }
func (hostSys) MkdirAll(string, os.FileMode) error { return lifecycle.ErrUnsupported }
func (hostSys) MakePrivate(string) error           { return lifecycle.ErrUnsupported }
func (hostSys) BindSelf(string) error              { return lifecycle.ErrUnsupported }
func (hostSys) BindRecursive(string, string) error { return lifecycle.ErrUnsupported }
func (hostSys) Unmount(string) error               { return lifecycle.ErrUnsupported }
func (hostSys) Mounted(string) (bool, error)       { return false, lifecycle.ErrUnsupported }

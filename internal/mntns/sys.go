// Package mntns isolates mounts in a private mount namespace.
//
// A Stager moves the calling thread into a fresh mount namespace and prepares
// a staging directory whose mounts do not propagate back to the original
// namespace. The returned Guard restores the original namespace exactly once.
package mntns

import (
	"os"
)

// Handle is an open reference to a mount namespace.
type Handle interface {
	Close() error
	String() string
}

// Sys is the set of OS primitives used to stage mounts. Every call acts on
// the mount namespace of the calling thread.
type Sys interface {
	// Supported reports whether mount namespaces can be created.
	Supported() bool
	// CurrentNamespace opens a reference to the current mount namespace.
	CurrentNamespace() (Handle, error)
	// Unshare moves the calling thread into a new mount namespace.
	Unshare() error
	// SetNamespace moves the calling thread into the namespace of h.
	SetNamespace(h Handle) error
	MkdirAll(path string, perm os.FileMode) error
	// MakePrivate sets the propagation of the mount at path to private.
	MakePrivate(path string) error
	// BindSelf bind mounts path onto itself.
	BindSelf(path string) error
	// BindRecursive bind mounts source and every mount below it onto target.
	BindRecursive(source, target string) error
	// Unmount removes the top mount at path. A path that carries no mount
	// or does not exist is not an error.
	Unmount(path string) error
	Mounted(path string) (bool, error)
}

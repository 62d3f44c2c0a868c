// Package mnt describes a pending mount request.
package mnt

import (
	"fmt"

	"github.com/spin-stack/submount/internal/optstr"
)

// Action is the kind of operation a request performs.
type Action int

const (
	ActionNone Action = iota
	ActionMount
	ActionUmount
)

// String returns a human-readable name for the action.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionMount:
		return "mount"
	case ActionUmount:
		return "umount"
	default:
		return fmt.Sprintf("unknown(%d)", a)
	}
}

// Flags are userspace invocation flags derived from the option string.
type Flags uint32

const (
	// FlagXFstabComm is set when the request carries "X-" options, which
	// only appear in mount-table (fstab style) invocations. "x-" comments do
	// not set it.
	FlagXFstabComm Flags = 1 << iota
)

// FS is the filesystem description of a mount request. The target is the
// only field that changes while a request is processed.
type FS struct {
	source  string
	target  string
	fstype  string
	options string
}

// NewFS returns a request description.
func NewFS(source, target, fstype, options string) *FS {
	return &FS{
		source:  source,
		target:  target,
		fstype:  fstype,
		options: options,
	}
}

func (fs *FS) Source() string { return fs.source }
func (fs *FS) Target() string { return fs.target }
func (fs *FS) FSType() string { return fs.fstype }

// Options returns the full option string, userspace options included.
func (fs *FS) Options() string { return fs.options }

// SetTarget replaces the mount point.
func (fs *FS) SetTarget(target string) {
	fs.target = target
}

// UserFlags derives the invocation flags from the option string.
func (fs *FS) UserFlags() Flags {
	var f Flags
	if optstr.HasFstabComm(fs.options) {
		f |= FlagXFstabComm
	}
	return f
}

func (fs *FS) String() string {
	return fmt.Sprintf("%s on %s type %s (%s)", fs.source, fs.target, fs.fstype, fs.options)
}

//go:build !linux

// Package mountutil performs the mount requests driven by the dispatch
// engine.
package mountutil

import (
	"context"

	"github.com/spin-stack/submount/internal/lifecycle"
	"github.com/spin-stack/submount/internal/mnt"
)

// Mounter refuses every request outside Linux.
type Mounter struct{}

func New() *Mounter {
	return &Mounter{}
}

func (*Mounter) Mount(context.Context, *mnt.FS) error   { return lifecycle.ErrUnsupported }
func (*Mounter) Unmount(context.Context, *mnt.FS) error { return lifecycle.ErrUnsupported }

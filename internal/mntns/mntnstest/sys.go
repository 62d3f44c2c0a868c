// Package mntnstest provides an in-memory mntns.Sys for tests.
//
// The fake models namespaces as copies of their parent's mount table. A mount
// made in a namespace propagates to the parent unless the mount point lies
// below a path marked private in that namespace. Self-binds stay local.
package mntnstest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/spin-stack/submount/internal/mnt"
	"github.com/spin-stack/submount/internal/mntns"
)

// HostNS is the namespace the fake starts in.
const HostNS = 1

// Op names a primitive of mntns.Sys.
type Op string

const (
	OpCurrent       Op = "current"
	OpUnshare       Op = "unshare"
	OpSetNamespace  Op = "setns"
	OpMkdirAll      Op = "mkdir"
	OpMakePrivate   Op = "private"
	OpBindSelf      Op = "bindself"
	OpBindRecursive Op = "rbind"
	OpUnmount       Op = "umount"
	OpMount         Op = "mount"
	OpClose         Op = "close"
)

// Call is one recorded primitive.
type Call struct {
	Op   Op
	Path string
}

// Bind is a recursive bind performed through the fake.
type Bind struct {
	NS     int
	Source string
	Target string
	// Origin is Source resolved through the mount table, e.g. /dev/sdb1/export.
	Origin string
}

type namespace struct {
	id      int
	parent  *namespace
	mounts  map[string][]string
	private map[string]bool
}

type failure struct {
	op   Op
	path string
}

// Sys is a recording fake of mntns.Sys.
type Sys struct {
	// Unsupported makes Supported report false.
	Unsupported bool

	mu       sync.Mutex
	current  *namespace
	byID     map[int]*namespace
	dirs     map[string]os.FileMode
	calls    []Call
	binds    []Bind
	failures map[failure]error
	open     int
}

var _ mntns.Sys = (*Sys)(nil)

// New returns a fake whose thread runs in HostNS.
func New() *Sys {
	host := &namespace{
		id:      HostNS,
		mounts:  make(map[string][]string),
		private: make(map[string]bool),
	}
	return &Sys{
		current:  host,
		byID:     map[int]*namespace{HostNS: host},
		dirs:     make(map[string]os.FileMode),
		failures: make(map[failure]error),
	}
}

// Fail makes op fail with err. An empty path matches every path.
func (s *Sys) Fail(op Op, path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[failure{op, path}] = err
}

// Calls returns the primitives called so far.
func (s *Sys) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// Namespace returns the namespace the fake thread runs in.
func (s *Sys) Namespace() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.id
}

// Mounts returns how many mounts are stacked on path in namespace ns.
func (s *Sys) Mounts(ns int, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.byID[ns]
	if !ok {
		return 0
	}
	return len(n.mounts[path])
}

// Binds returns the recursive binds performed so far.
func (s *Sys) Binds() []Bind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.binds)
}

// OpenHandles returns the number of namespace handles not closed yet.
func (s *Sys) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// IsDir reports whether MkdirAll created path.
func (s *Sys) IsDir(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dirs[path]
	return ok
}

// DirPerm returns the mode path was created with.
func (s *Sys) DirPerm(path string) os.FileMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirs[path]
}

// MountAt mounts source on target in the current namespace, as the mount
// syscall would.
func (s *Sys) MountAt(source, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpMount, target); err != nil {
		return err
	}
	s.mount(s.current, source, target)
	return nil
}

func (s *Sys) Supported() bool {
	return !s.Unsupported
}

func (s *Sys) CurrentNamespace() (mntns.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpCurrent, ""); err != nil {
		return nil, err
	}
	s.open++
	return &handle{sys: s, id: s.current.id}, nil
}

func (s *Sys) Unshare() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpUnshare, ""); err != nil {
		return err
	}
	mounts := make(map[string][]string, len(s.current.mounts))
	for p, stack := range s.current.mounts {
		mounts[p] = slices.Clone(stack)
	}
	ns := &namespace{
		id:      len(s.byID) + 1,
		parent:  s.current,
		mounts:  mounts,
		private: maps.Clone(s.current.private),
	}
	s.byID[ns.id] = ns
	s.current = ns
	return nil
}

func (s *Sys) SetNamespace(h mntns.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fh, ok := h.(*handle)
	if !ok || fh.sys != s {
		return fmt.Errorf("foreign namespace handle %T", h)
	}
	if err := s.record(OpSetNamespace, fh.String()); err != nil {
		return err
	}
	if fh.closed {
		return os.ErrClosed
	}
	s.current = s.byID[fh.id]
	return nil
}

func (s *Sys) MkdirAll(path string, perm os.FileMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpMkdirAll, path); err != nil {
		return err
	}
	if _, ok := s.dirs[path]; !ok {
		s.dirs[path] = perm
	}
	return nil
}

func (s *Sys) MakePrivate(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpMakePrivate, path); err != nil {
		return err
	}
	s.current.private[path] = true
	return nil
}

func (s *Sys) BindSelf(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpBindSelf, path); err != nil {
		return err
	}
	s.current.mounts[path] = append(s.current.mounts[path], s.resolve(s.current, path))
	return nil
}

func (s *Sys) BindRecursive(source, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpBindRecursive, target); err != nil {
		return err
	}
	origin := s.resolve(s.current, source)
	s.binds = append(s.binds, Bind{NS: s.current.id, Source: source, Target: target, Origin: origin})
	s.mount(s.current, origin, target)
	return nil
}

func (s *Sys) Unmount(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpUnmount, path); err != nil {
		return err
	}
	for ns := s.current; ns != nil; ns = ns.parent {
		stack := ns.mounts[path]
		if len(stack) == 0 {
			break
		}
		private := isPrivate(ns, path)
		if len(stack) == 1 {
			delete(ns.mounts, path)
			delete(ns.private, path)
		} else {
			ns.mounts[path] = stack[:len(stack)-1]
		}
		if private {
			break
		}
	}
	return nil
}

func (s *Sys) Mounted(path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.current.mounts[path]) > 0, nil
}

// record logs the call and returns the injected failure, if any.
func (s *Sys) record(op Op, path string) error {
	s.calls = append(s.calls, Call{Op: op, Path: path})
	if err, ok := s.failures[failure{op, path}]; ok {
		return err
	}
	if err, ok := s.failures[failure{op, ""}]; ok {
		return err
	}
	return nil
}

func (s *Sys) mount(ns *namespace, source, target string) {
	for ; ns != nil; ns = ns.parent {
		ns.mounts[target] = append(ns.mounts[target], source)
		if isPrivate(ns, target) {
			return
		}
	}
}

// resolve maps path to the source of the closest mount covering it.
func (s *Sys) resolve(ns *namespace, path string) string {
	for p := path; ; p = filepath.Dir(p) {
		if stack := ns.mounts[p]; len(stack) > 0 {
			rest := strings.TrimPrefix(path, p)
			return stack[len(stack)-1] + rest
		}
		if p == "/" || p == "." {
			return path
		}
	}
}

func isPrivate(ns *namespace, path string) bool {
	for p := path; ; p = filepath.Dir(p) {
		if ns.private[p] {
			return true
		}
		if p == "/" || p == "." {
			return false
		}
	}
}

type handle struct {
	sys    *Sys
	id     int
	closed bool
}

func (h *handle) Close() error {
	h.sys.mu.Lock()
	defer h.sys.mu.Unlock()
	if err := h.sys.record(OpClose, h.String()); err != nil {
		return err
	}
	if h.closed {
		return errors.New("namespace handle closed twice")
	}
	h.closed = true
	h.sys.open--
	return nil
}

func (h *handle) String() string {
	return fmt.Sprintf("mnt:[%d]", h.id)
}

// Mounter performs mount requests through a fake Sys.
type Mounter struct {
	Sys *Sys
	// Err, when set, fails every mount.
	Err error
}

func (m *Mounter) Mount(_ context.Context, fs *mnt.FS) error {
	if m.Err != nil {
		return m.Err
	}
	return m.Sys.MountAt(fs.Source(), fs.Target())
}

func (m *Mounter) Unmount(_ context.Context, fs *mnt.FS) error {
	return m.Sys.Unmount(fs.Target())
}

package mntns_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/spin-stack/submount/internal/lifecycle"
	"github.com/spin-stack/submount/internal/mntns"
	"github.com/spin-stack/submount/internal/mntns/mntnstest"
	"github.com/spin-stack/submount/internal/paths"
)

type call = mntnstest.Call

func TestEnterAndRelease(t *testing.T) {
	sys := mntnstest.New()
	s := mntns.NewStager(sys)
	ctx := context.Background()

	g, err := s.Enter(ctx)
	require.NoError(t, err)
	assert.True(t, g.Active())
	assert.NotEqual(t, mntnstest.HostNS, sys.Namespace())
	assert.True(t, sys.IsDir(paths.StagingDir))
	assert.Equal(t, os.FileMode(0o700), sys.DirPerm(paths.StagingDir), "staging directory must be owner-only")

	want := []call{
		{Op: mntnstest.OpCurrent},
		{Op: mntnstest.OpUnshare},
		{Op: mntnstest.OpMkdirAll, Path: paths.StagingDir},
		{Op: mntnstest.OpMakePrivate, Path: paths.RuntimeTopDir},
	}
	if diff := cmp.Diff(want, sys.Calls()); diff != "" {
		t.Fatalf("enter calls mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, g.Release(ctx))
	assert.False(t, g.Active())
	assert.Equal(t, mntnstest.HostNS, sys.Namespace())
	assert.Zero(t, sys.OpenHandles())

	want = append(want,
		call{Op: mntnstest.OpUnmount, Path: paths.StagingDir},
		call{Op: mntnstest.OpSetNamespace, Path: "mnt:[1]"},
		call{Op: mntnstest.OpClose, Path: "mnt:[1]"},
	)
	if diff := cmp.Diff(want, sys.Calls()); diff != "" {
		t.Fatalf("release calls mismatch (-want +got):\n%s", diff)
	}
}

func TestEnterFallsBackToSelfBind(t *testing.T) {
	sys := mntnstest.New()
	sys.Fail(mntnstest.OpMakePrivate, paths.RuntimeTopDir, unix.EINVAL)
	s := mntns.NewStager(sys)
	ctx := context.Background()

	g, err := s.Enter(ctx)
	require.NoError(t, err)

	staged := sys.Namespace()
	assert.Equal(t, 1, sys.Mounts(staged, paths.StagingDir))
	assert.Zero(t, sys.Mounts(mntnstest.HostNS, paths.StagingDir))

	calls := sys.Calls()
	want := []call{
		{Op: mntnstest.OpMakePrivate, Path: paths.RuntimeTopDir},
		{Op: mntnstest.OpBindSelf, Path: paths.StagingDir},
		{Op: mntnstest.OpMakePrivate, Path: paths.StagingDir},
	}
	if diff := cmp.Diff(want, calls[len(calls)-3:]); diff != "" {
		t.Fatalf("fallback calls mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, g.Release(ctx))
	assert.Zero(t, sys.Mounts(staged, paths.StagingDir))
	assert.Equal(t, mntnstest.HostNS, sys.Namespace())
}

func TestEnterRollback(t *testing.T) {
	tests := []struct {
		name     string
		fail     map[mntnstest.Op]string
		wantKind error
	}{
		{
			name:     "open namespace",
			fail:     map[mntnstest.Op]string{mntnstest.OpCurrent: ""},
			wantKind: lifecycle.ErrNamespaceUnavailable,
		},
		{
			name:     "unshare",
			fail:     map[mntnstest.Op]string{mntnstest.OpUnshare: ""},
			wantKind: lifecycle.ErrNamespaceUnavailable,
		},
		{
			name:     "mkdir",
			fail:     map[mntnstest.Op]string{mntnstest.OpMkdirAll: paths.StagingDir},
			wantKind: lifecycle.ErrDirectoryCreateFailed,
		},
		{
			name: "self bind",
			fail: map[mntnstest.Op]string{
				mntnstest.OpMakePrivate: paths.RuntimeTopDir,
				mntnstest.OpBindSelf:    paths.StagingDir,
			},
			wantKind: lifecycle.ErrPrivateMountFailed,
		},
		{
			name:     "both private marks",
			fail:     map[mntnstest.Op]string{mntnstest.OpMakePrivate: ""},
			wantKind: lifecycle.ErrPrivateMountFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sys := mntnstest.New()
			for op, path := range tt.fail {
				sys.Fail(op, path, unix.EPERM)
			}
			s := mntns.NewStager(sys)

			g, err := s.Enter(context.Background())
			require.Error(t, err)
			assert.Nil(t, g)
			assert.ErrorIs(t, err, tt.wantKind)
			assert.ErrorIs(t, err, unix.EPERM)

			assert.Equal(t, mntnstest.HostNS, sys.Namespace(), "namespace not restored")
			assert.Zero(t, sys.OpenHandles(), "namespace handle leaked")
			for ns := mntnstest.HostNS; ns <= 2; ns++ {
				assert.Zero(t, sys.Mounts(ns, paths.StagingDir), "staging mount left in namespace %d", ns)
			}
		})
	}
}

func TestEnterRollbackLeavesSelfBindToUnmount(t *testing.T) {
	sys := mntnstest.New()
	sys.Fail(mntnstest.OpMakePrivate, "", unix.EPERM)
	s := mntns.NewStager(sys)

	_, err := s.Enter(context.Background())
	require.ErrorIs(t, err, lifecycle.ErrPrivateMountFailed)

	var se *lifecycle.StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, lifecycle.StepMarkPrivate, se.Step)

	calls := sys.Calls()
	want := []call{
		{Op: mntnstest.OpBindSelf, Path: paths.StagingDir},
		{Op: mntnstest.OpMakePrivate, Path: paths.StagingDir},
		{Op: mntnstest.OpUnmount, Path: paths.StagingDir},
		{Op: mntnstest.OpSetNamespace, Path: "mnt:[1]"},
		{Op: mntnstest.OpClose, Path: "mnt:[1]"},
	}
	if diff := cmp.Diff(want, calls[len(calls)-5:]); diff != "" {
		t.Fatalf("rollback calls mismatch (-want +got):\n%s", diff)
	}
}

func TestEnterOutOfMemory(t *testing.T) {
	sys := mntnstest.New()
	sys.Fail(mntnstest.OpUnshare, "", unix.ENOMEM)

	_, err := mntns.NewStager(sys).Enter(context.Background())
	require.ErrorIs(t, err, lifecycle.ErrOutOfMemory)
	require.ErrorIs(t, err, lifecycle.ErrNamespaceUnavailable)
}

func TestEnterUnsupported(t *testing.T) {
	sys := mntnstest.New()
	sys.Unsupported = true

	_, err := mntns.NewStager(sys).Enter(context.Background())
	require.ErrorIs(t, err, lifecycle.ErrUnsupported)
	assert.Empty(t, sys.Calls())
}

func TestReleaseIdempotent(t *testing.T) {
	sys := mntnstest.New()
	ctx := context.Background()

	g, err := mntns.NewStager(sys).Enter(ctx)
	require.NoError(t, err)

	require.NoError(t, g.Release(ctx))
	n := len(sys.Calls())
	require.NoError(t, g.Release(ctx))
	assert.Len(t, sys.Calls(), n, "second release touched the system")
}

func TestReleaseRestoreFailure(t *testing.T) {
	sys := mntnstest.New()
	ctx := context.Background()

	g, err := mntns.NewStager(sys).Enter(ctx)
	require.NoError(t, err)

	sys.Fail(mntnstest.OpSetNamespace, "", unix.EBADF)
	err = g.Release(ctx)
	require.ErrorIs(t, err, lifecycle.ErrCleanupIncomplete)
	require.ErrorIs(t, err, lifecycle.ErrNamespaceUnavailable)

	assert.True(t, g.Active(), "failed restore must keep the guard active")
	assert.Zero(t, sys.OpenHandles(), "handle must be released even if restore fails")
}

func TestLeave(t *testing.T) {
	t.Run("without saved namespace", func(t *testing.T) {
		sys := mntnstest.New()
		s := mntns.NewStager(sys)
		ctx := context.Background()

		require.NoError(t, s.Leave(ctx, nil))
		require.NoError(t, s.Leave(ctx, nil))

		want := []call{
			{Op: mntnstest.OpUnmount, Path: paths.StagingDir},
			{Op: mntnstest.OpUnmount, Path: paths.StagingDir},
		}
		if diff := cmp.Diff(want, sys.Calls()); diff != "" {
			t.Fatalf("leave calls mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("with saved namespace", func(t *testing.T) {
		sys := mntnstest.New()
		s := mntns.NewStager(sys)
		ctx := context.Background()

		saved, err := sys.CurrentNamespace()
		require.NoError(t, err)
		require.NoError(t, sys.Unshare())
		require.NoError(t, sys.MountAt("/dev/sdb1", s.Dir()))

		require.NoError(t, s.Leave(ctx, saved))
		assert.Equal(t, mntnstest.HostNS, sys.Namespace())
		assert.Zero(t, sys.OpenHandles())
		assert.Zero(t, sys.Mounts(2, s.Dir()))
	})

	t.Run("unmount failure still restores", func(t *testing.T) {
		sys := mntnstest.New()
		s := mntns.NewStager(sys)
		ctx := context.Background()

		saved, err := sys.CurrentNamespace()
		require.NoError(t, err)
		require.NoError(t, sys.Unshare())
		busy := errors.New("device or resource busy")
		sys.Fail(mntnstest.OpUnmount, "", busy)

		err = s.Leave(ctx, saved)
		require.ErrorIs(t, err, busy)
		assert.Equal(t, mntnstest.HostNS, sys.Namespace())
		assert.Zero(t, sys.OpenHandles())
	})
}

func TestVerify(t *testing.T) {
	sys := mntnstest.New()
	s := mntns.NewStager(sys)

	require.NoError(t, s.Verify())

	require.NoError(t, sys.MountAt("/dev/sdb1", s.Dir()))
	require.Error(t, s.Verify())
}

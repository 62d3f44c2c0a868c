package flock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockExcludesSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "submount.lock")
	first := New(path)
	second := New(path)

	require.NoError(t, first.Lock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.Error(t, second.Lock(ctx))

	require.NoError(t, first.Unlock(context.Background()))
	require.NoError(t, second.Lock(context.Background()))
	require.NoError(t, second.Unlock(context.Background()))
}

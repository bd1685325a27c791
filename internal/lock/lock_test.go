package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireIsExclusive(t *testing.T) {
	dir := t.TempDir()

	l1, ok, err := TryAcquire(dir)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = TryAcquire(dir)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l1.Release())

	l2, ok, err := TryAcquire(dir)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l2.Release())
}

func TestReleaseNil(t *testing.T) {
	var l *RunLock
	assert.NoError(t, l.Release())
}

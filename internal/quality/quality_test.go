package quality

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAllPass(t *testing.T) {
	r := NewExecRunner()
	report, err := r.Run(context.Background(), t.TempDir(), []string{"true", "echo hello"})
	require.NoError(t, err)
	assert.True(t, report.Passed)
	require.Len(t, report.Commands, 2)
	assert.Equal(t, "hello", report.Commands[1].Output)
}

func TestRunContinuesAfterFailure(t *testing.T) {
	r := NewExecRunner()
	report, err := r.Run(context.Background(), t.TempDir(), []string{"false", "echo still-ran"})
	require.NoError(t, err)
	assert.False(t, report.Passed)
	require.Len(t, report.Commands, 2)
	assert.False(t, report.Commands[0].Passed)
	assert.Equal(t, 1, report.Commands[0].ExitCode)
	assert.True(t, report.Commands[1].Passed)
}

func TestRunNoGates(t *testing.T) {
	r := NewExecRunner()
	report, err := r.Run(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Empty(t, report.Commands)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewExecRunner()
	_, err := r.Run(ctx, t.TempDir(), []string{"true"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutputTail(t *testing.T) {
	long := strings.Repeat("x", outputTailLimit*2)
	got := tail(long)
	assert.LessOrEqual(t, len(got), outputTailLimit+len("[truncated] "))
	assert.True(t, strings.HasPrefix(got, "[truncated] "))

	// Truncation never splits a multi-byte rune. The trailing byte makes
	// the naive cut land in the middle of a two-byte rune.
	long = strings.Repeat("é", outputTailLimit) + "x"
	got = tail(long)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasPrefix(got, "[truncated] é"))
}

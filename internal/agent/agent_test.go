package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCLIAdapter(t *testing.T) {
	_, err := NewCLIAdapter(Config{Type: "exec"}, "/repo")
	assert.Error(t, err)

	_, err = NewCLIAdapter(Config{Type: "copilot"}, "/repo")
	assert.Error(t, err)

	a, err := NewCLIAdapter(Config{Type: "claude"}, "/repo")
	require.NoError(t, err)
	require.NotNil(t, a)
}

func TestCommandBuilding(t *testing.T) {
	a, err := NewCLIAdapter(Config{Type: "claude"}, "/repo")
	require.NoError(t, err)

	cmd, sessionID := a.command(Options{Model: "anthropic/claude"})
	assert.NotEmpty(t, sessionID)
	assert.Equal(t, []string{
		"claude", "--model", "anthropic/claude",
		"--output-format", "text", "--print", "--dangerously-skip-permissions",
	}, cmd)

	// Continuing a session threads the resume flag and keeps the id.
	cmd, sessionID = a.command(Options{SessionID: "sess-7"})
	assert.Equal(t, "sess-7", sessionID)
	assert.Contains(t, cmd, "--resume")
	assert.Contains(t, cmd, "sess-7")

	ex, err := NewCLIAdapter(Config{Type: "exec", Cmd: []string{"my-agent", "--json"}}, "/repo")
	require.NoError(t, err)
	cmd, _ = ex.command(Options{})
	assert.Equal(t, []string{"my-agent", "--json"}, cmd)
}

func TestSplitOutput(t *testing.T) {
	// Bare structured document.
	body, meta, err := splitOutput([]byte(`{"result":"complete","commit":"abc"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":"complete","commit":"abc"}`, string(body))
	assert.Nil(t, meta.CostUSD)

	// Envelope with usage; cost of zero stays set.
	body, meta, err = splitOutput([]byte(`{"result":{"readiness":"ready","items":[]},"usage":{"tokens_in":10,"tokens_out":3,"cost_usd":0}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"readiness":"ready","items":[]}`, string(body))
	assert.Equal(t, int64(10), meta.TokensIn)
	require.NotNil(t, meta.CostUSD)
	assert.Equal(t, 0.0, *meta.CostUSD)

	_, _, err = splitOutput([]byte(`not json`))
	assert.Error(t, err)
}

func TestErrorClassification(t *testing.T) {
	te := &TimeoutError{Role: "reviewer", Timeout: 2 * time.Minute}
	assert.True(t, IsTimeout(te))
	assert.False(t, IsTimeout(errors.New("other")))
	assert.False(t, IsCanceled(te))
	assert.True(t, IsCanceled(context.Canceled))

	oe := &OutputError{Role: "author", Err: errors.New("bad json")}
	assert.False(t, IsTimeout(oe))
	assert.Contains(t, oe.Error(), "author")
}

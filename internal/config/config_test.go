package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
agents:
  author:
    type: claude
    model: anthropic/claude-sonnet-4
    timeout: 10m
  reviewer:
    type: exec
    cmd: ["review-agent", "--json"]
limits:
  max_quality_retries: 1
  max_review_iterations: 5
quality_gates:
  - go vet ./...
  - go test ./...
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.Agents[RoleAuthor].Timeout)
	assert.Equal(t, []string{"review-agent", "--json"}, cfg.Agents[RoleReviewer].Cmd)
	assert.Equal(t, 1, cfg.Limits.MaxQualityRetries)
	assert.Equal(t, 5, cfg.Limits.MaxReviewIterations)
	assert.Len(t, cfg.QualityGates, 2)

	// Defaults fill unset fields.
	assert.Equal(t, 3, cfg.Limits.MaxAutoRetries)
	assert.Equal(t, DefaultReviewerTimeout, cfg.Agents[RoleReviewer].Timeout)
	assert.Equal(t, filepath.Join(".5x", "reviews"), cfg.Paths.ReviewsDir)
}

func TestLoadMissingRole(t *testing.T) {
	path := writeConfig(t, `
agents:
  author:
    type: claude
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reviewer")
}

func TestLoadSchemaViolation(t *testing.T) {
	path := writeConfig(t, `
agents:
  author:
    type: copilot
  reviewer:
    type: claude
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation failed")
}

func TestValidateRaw(t *testing.T) {
	assert.NoError(t, validateRaw(map[string]any{
		"agents": map[string]any{"author": map[string]any{"type": "claude"}},
	}))

	err := validateRaw(map[string]any{
		"limits": map[string]any{"max_review_iterations": 0},
	})
	require.Error(t, err)
	// Violations name the offending config path.
	assert.Contains(t, err.Error(), "max_review_iterations")
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, check(cfg))
	assert.Equal(t, DefaultReviewerTimeout, cfg.Agents[RoleReviewer].Timeout)
}

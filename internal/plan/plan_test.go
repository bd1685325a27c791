package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParse(t *testing.T) {
	path := writePlan(t, `# My Plan

Intro text.

## Phase 1: Set up storage

- [x] create schema
- [ ] add indexes

## Phase 1.1: Migrations

Some prose.

## Phase 20: Wire the loop

- [ ] transition table
`)
	p, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, p.Phases, 3)
	assert.Equal(t, []string{"1", "1.1", "20"}, p.PhaseIDs())
	assert.Equal(t, "Set up storage", p.Phases[0].Title)

	require.Len(t, p.Phases[0].Checklist, 2)
	assert.True(t, p.Phases[0].Checklist[0].Done)
	assert.False(t, p.Phases[0].Checklist[1].Done)
	assert.Empty(t, p.Phases[1].Checklist)

	ph := p.Phase("20")
	require.NotNil(t, ph)
	assert.Equal(t, "Wire the loop", ph.Title)
	assert.Nil(t, p.Phase("2"))
}

func TestParseEmptyPlan(t *testing.T) {
	p, err := Parse(writePlan(t, "# Nothing here\n\njust prose\n"))
	require.NoError(t, err)
	assert.Empty(t, p.Phases)
}

func TestParseDuplicatePhase(t *testing.T) {
	_, err := Parse(writePlan(t, "## Phase 1: A\n\n## Phase 1: B\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate phase number")
}

func TestContainsIDs(t *testing.T) {
	assert.True(t, ContainsIDs([]string{"1", "2"}, []string{"2", "1"}))
	// Appended phases are a legal superset.
	assert.True(t, ContainsIDs([]string{"1", "2"}, []string{"1", "2", "3"}))
	// Renumbering or dropping an existing phase is not.
	assert.False(t, ContainsIDs([]string{"1", "2"}, []string{"1", "20", "3"}))
	assert.False(t, ContainsIDs([]string{"1", "2"}, []string{"1"}))
}

func TestReviewPathForPhase(t *testing.T) {
	assert.Equal(t, "/r/plan-phase-1-review.md", ReviewPathForPhase("/r/plan.md", "1"))
	assert.Equal(t, "/r/plan-phase-1.1-review.md", ReviewPathForPhase("/r/plan.md", "1.1"))
	assert.Equal(t, "/r/review-2.md", ReviewPathForPhase("/r/review-{phase}.md", "2"))
	// Unsafe characters are sanitized.
	assert.Equal(t, "/r/plan-phase-1-2-review.md", ReviewPathForPhase("/r/plan.md", "1/2"))
}

func TestWithinDir(t *testing.T) {
	assert.True(t, WithinDir("/a/reviews", "/a/reviews/plan-review.md"))
	assert.True(t, WithinDir("/a/reviews", "/a/reviews/sub/x.md"))
	assert.False(t, WithinDir("/a/reviews", "/a/other/x.md"))
	assert.False(t, WithinDir("/a/reviews", "/a/reviews/../secrets.md"))
}

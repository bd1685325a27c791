package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/protocol"
)

func TestRenderAllTemplates(t *testing.T) {
	data := Data{
		PlanPath:      "/p/plan.md",
		ReviewPath:    "/r/plan-phase-1-review.md",
		Phase:         "1",
		Title:         "Set up storage",
		Commit:        "abc123",
		Guidance:      "prefer smaller commits",
		QualityReport: "go test: FAIL",
		Items: []protocol.ReviewItem{
			{ID: "p1-1", Title: "missing test", Action: protocol.ActionAutoFix, Reason: "store has no coverage"},
		},
	}
	for _, name := range []string{
		AuthorPhase, AuthorQualityFix, AuthorAutoFix, AuthorContinue,
		ReviewerPhase, ReviewerFollowup, PlanReview, PlanAutoFix,
	} {
		out, err := Render(name, data)
		require.NoError(t, err, name)
		assert.NotEmpty(t, out, name)
	}
}

func TestRenderContent(t *testing.T) {
	out, err := Render(ReviewerFollowup, Data{Phase: "2", Commit: "def456", ReviewPath: "/r/x.md"})
	require.NoError(t, err)
	assert.Contains(t, out, "def456")
	assert.Contains(t, out, "addendum")

	out, err = Render(AuthorAutoFix, Data{
		Phase:      "1",
		PlanPath:   "/p/plan.md",
		ReviewPath: "/r/x.md",
		Items:      []protocol.ReviewItem{{ID: "a", Title: "b", Reason: "c"}},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "[a] b: c")

	_, err = Render("nope", Data{})
	assert.Error(t, err)
}

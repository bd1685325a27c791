// Package prompt renders the prompt templates sent to agents.
package prompt

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/protocol"
)

// Template names. The name is recorded with every agent result so resumed
// runs can match stored steps to the call that produced them.
const (
	AuthorPhase      = "author_phase"
	AuthorQualityFix = "author_quality_fix"
	AuthorAutoFix    = "author_autofix"
	AuthorContinue   = "author_continue"
	ReviewerPhase    = "reviewer_phase"
	ReviewerFollowup = "reviewer_followup"
	PlanReview       = "plan_review"
	PlanAutoFix      = "plan_autofix"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var templates = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"join": strings.Join,
}).ParseFS(templatesFS, "templates/*.tmpl"))

// Data carries everything any template may reference.
type Data struct {
	PlanPath      string
	ReviewPath    string
	Phase         string
	Title         string
	Commit        string
	Guidance      string
	QualityReport string
	Items         []protocol.ReviewItem
}

// Render renders the named template.
func Render(name string, data Data) (string, error) {
	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, name+".tmpl", data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return b.String(), nil
}

// Package plan parses implementation plan documents and resolves per-phase
// review file paths.
package plan

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Phase is one top-level unit of work in a plan document. The Number is a
// stable textual identifier ("1", "1.1", "20") and the primary key within a
// plan; renumbering mid-run is fatal to the orchestrator.
type Phase struct {
	Number    string
	Title     string
	Checklist []ChecklistItem
}

// ChecklistItem is one completion-gate entry under a phase heading.
// Checklist completion is informational only; gating uses the store.
type ChecklistItem struct {
	Text string
	Done bool
}

// Plan is a parsed plan document.
type Plan struct {
	Path   string
	Phases []Phase
}

var (
	phaseHeadingRe = regexp.MustCompile(`^##\s+Phase\s+([0-9]+(?:\.[0-9]+)*)\s*:\s*(.+?)\s*$`)
	checklistRe    = regexp.MustCompile(`^\s*[-*]\s+\[([ xX])\]\s+(.*)$`)
)

// Parse reads and parses a plan file. The plan path is canonicalized so it
// stays stable across worktrees.
func Parse(path string) (*Plan, error) {
	abs, err := CanonicalPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open plan: %w", err)
	}
	defer f.Close()

	p := &Plan{Path: abs}
	var current *Phase
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := phaseHeadingRe.FindStringSubmatch(line); m != nil {
			p.Phases = append(p.Phases, Phase{Number: m[1], Title: m[2]})
			current = &p.Phases[len(p.Phases)-1]
			continue
		}
		if current == nil {
			continue
		}
		if m := checklistRe.FindStringSubmatch(line); m != nil {
			current.Checklist = append(current.Checklist, ChecklistItem{
				Text: m[2],
				Done: m[1] != " ",
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	seen := make(map[string]bool, len(p.Phases))
	for _, ph := range p.Phases {
		if seen[ph.Number] {
			return nil, fmt.Errorf("plan %s: duplicate phase number %q", abs, ph.Number)
		}
		seen[ph.Number] = true
	}
	return p, nil
}

// CanonicalPath resolves a plan path to its absolute, symlink-free form.
func CanonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve plan path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

// PhaseIDs returns the ordered phase numbers.
func (p *Plan) PhaseIDs() []string {
	ids := make([]string, 0, len(p.Phases))
	for _, ph := range p.Phases {
		ids = append(ids, ph.Number)
	}
	return ids
}

// Phase returns the phase with the given number, or nil.
func (p *Plan) Phase(number string) *Phase {
	for i := range p.Phases {
		if p.Phases[i].Number == number {
			return &p.Phases[i]
		}
	}
	return nil
}

// ContainsIDs reports whether after contains every id in before. The author
// may append phases mid-run, so a superset is legal; dropping or renaming an
// existing number is not.
func ContainsIDs(before, after []string) bool {
	set := make(map[string]bool, len(after))
	for _, id := range after {
		set[id] = true
	}
	for _, id := range before {
		if !set[id] {
			return false
		}
	}
	return true
}

var phaseTokenRe = regexp.MustCompile(`[^0-9A-Za-z._-]`)

// PhaseToken sanitizes a phase number for use in file names.
func PhaseToken(phase string) string {
	return phaseTokenRe.ReplaceAllString(phase, "-")
}

// ReviewPathForPhase derives the per-phase review file from a configured
// review path. A "{phase}" token is substituted when present; otherwise a
// per-phase filename is derived from the base path. A pre-existing
// single-file review is never reused across phases.
func ReviewPathForPhase(reviewPath, phase string) string {
	token := PhaseToken(phase)
	if strings.Contains(reviewPath, "{phase}") {
		return strings.ReplaceAll(reviewPath, "{phase}", token)
	}
	ext := filepath.Ext(reviewPath)
	base := strings.TrimSuffix(reviewPath, ext)
	if ext == "" {
		ext = ".md"
	}
	return fmt.Sprintf("%s-phase-%s-review%s", base, token, ext)
}

// WithinDir reports whether path resolves inside dir. Stored review paths
// that escape the configured reviews directory are rejected.
func WithinDir(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

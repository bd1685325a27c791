package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/agent"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/config"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/engine"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/store"
)

func stateDir(root string) string {
	return filepath.Join(root, ".5x")
}

func openStore() (*store.Store, string, func(), error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, "", func() {}, err
	}
	dir := stateDir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", func() {}, err
	}
	db, err := store.Open(filepath.Join(dir, "5x.db"))
	if err != nil {
		return nil, "", func() {}, err
	}
	return store.NewStore(db), root, func() { _ = db.Close() }, nil
}

func loadConfig(root string) (config.Config, error) {
	path := cfgFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func buildAdapter(role string, cfg config.Config, root string) (agent.Adapter, error) {
	ac, ok := cfg.Agents[role]
	if !ok {
		return nil, fmt.Errorf("missing agent config for role %q", role)
	}
	useTTY := false
	if ac.UseTTY != nil {
		useTTY = *ac.UseTTY
	}
	adapter, err := agent.NewCLIAdapter(agent.Config{Type: ac.Type, Cmd: ac.Cmd, UseTTY: useTTY}, root)
	if err != nil {
		return nil, fmt.Errorf("%s agent: %w", role, err)
	}
	return adapter, nil
}

func roleConfig(role string, cfg config.Config) engine.RoleConfig {
	ac := cfg.Agents[role]
	timeout := ac.Timeout
	if role == config.RoleReviewer && timeout == 0 {
		timeout = config.DefaultReviewerTimeout
	}
	return engine.RoleConfig{Model: ac.Model, Timeout: timeout}
}

func engineConfig(cfg config.Config, root, planPath, reviewPath string) engine.Config {
	reviewsDir := cfg.Paths.ReviewsDir
	if !filepath.IsAbs(reviewsDir) {
		reviewsDir = filepath.Join(root, reviewsDir)
	}
	return engine.Config{
		PlanPath:     planPath,
		ReviewPath:   reviewPath,
		ReviewsDir:   reviewsDir,
		ProjectRoot:  root,
		QualityGates: cfg.QualityGates,
		Limits:       cfg.Limits,
		Author:       roleConfig(config.RoleAuthor, cfg),
		Reviewer:     roleConfig(config.RoleReviewer, cfg),
		Quiet:        func() bool { return quiet },
	}
}

// defaultReviewPath derives the review file base for a plan when none is
// configured. The engine appends the per-phase suffix.
func defaultReviewPath(reviewsDir, planPath string) string {
	base := strings.TrimSuffix(filepath.Base(planPath), filepath.Ext(planPath))
	return filepath.Join(reviewsDir, base+"-review.md")
}

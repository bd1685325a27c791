// Package config provides configuration loading and management for 5x.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Agents       map[string]AgentConfig `json:"agents"        yaml:"agents"        mapstructure:"agents"`
	Limits       Limits                 `json:"limits"        yaml:"limits"        mapstructure:"limits"`
	QualityGates []string               `json:"quality_gates" yaml:"quality_gates" mapstructure:"quality_gates"`
	Paths        Paths                  `json:"paths"         yaml:"paths"         mapstructure:"paths"`
}

// Agent roles configured under agents.
const (
	RoleAuthor   = "author"
	RoleReviewer = "reviewer"
)

// AgentConfig describes how to run one agent role.
type AgentConfig struct {
	Type    string        `json:"type"              yaml:"type"              mapstructure:"type"`
	Cmd     []string      `json:"cmd,omitempty"     yaml:"cmd,omitempty"     mapstructure:"cmd"`
	Model   string        `json:"model,omitempty"   yaml:"model,omitempty"   mapstructure:"model"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" mapstructure:"timeout"`
	UseTTY  *bool         `json:"use_tty,omitempty" yaml:"use_tty,omitempty" mapstructure:"use_tty"`
}

// Limits bounds the loops.
type Limits struct {
	MaxQualityRetries   int `json:"max_quality_retries"   yaml:"max_quality_retries"   mapstructure:"max_quality_retries"`
	MaxReviewIterations int `json:"max_review_iterations" yaml:"max_review_iterations" mapstructure:"max_review_iterations"`
	MaxAutoRetries      int `json:"max_auto_retries"      yaml:"max_auto_retries"      mapstructure:"max_auto_retries"`
}

// Paths locates plan and review documents under the project root.
type Paths struct {
	PlansDir   string `json:"plans_dir"   yaml:"plans_dir"   mapstructure:"plans_dir"`
	ReviewsDir string `json:"reviews_dir" yaml:"reviews_dir" mapstructure:"reviews_dir"`
}

// DefaultReviewerTimeout applies when the reviewer role has no timeout.
const DefaultReviewerTimeout = 120 * time.Second

// Default returns the configuration written by `5x init`.
func Default() Config {
	return Config{
		Agents: map[string]AgentConfig{
			RoleAuthor:   {Type: "claude", Model: "anthropic/claude-sonnet-4"},
			RoleReviewer: {Type: "claude", Model: "anthropic/claude-opus-4", Timeout: DefaultReviewerTimeout},
		},
		Limits: Limits{
			MaxQualityRetries:   2,
			MaxReviewIterations: 3,
			MaxAutoRetries:      3,
		},
		Paths: Paths{
			PlansDir:   filepath.Join(".5x", "plans"),
			ReviewsDir: filepath.Join(".5x", "reviews"),
		},
	}
}

// Load reads, validates and decodes the config file.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := validateRaw(v.AllSettings()); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := check(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Limits.MaxQualityRetries == 0 {
		cfg.Limits.MaxQualityRetries = def.Limits.MaxQualityRetries
	}
	if cfg.Limits.MaxReviewIterations == 0 {
		cfg.Limits.MaxReviewIterations = def.Limits.MaxReviewIterations
	}
	if cfg.Limits.MaxAutoRetries == 0 {
		cfg.Limits.MaxAutoRetries = def.Limits.MaxAutoRetries
	}
	if cfg.Paths.PlansDir == "" {
		cfg.Paths.PlansDir = def.Paths.PlansDir
	}
	if cfg.Paths.ReviewsDir == "" {
		cfg.Paths.ReviewsDir = def.Paths.ReviewsDir
	}
	if reviewer, ok := cfg.Agents[RoleReviewer]; ok && reviewer.Timeout == 0 {
		reviewer.Timeout = DefaultReviewerTimeout
		cfg.Agents[RoleReviewer] = reviewer
	}
}

func check(cfg Config) error {
	for _, role := range []string{RoleAuthor, RoleReviewer} {
		if _, ok := cfg.Agents[role]; !ok {
			return fmt.Errorf("missing agent config for role %q", role)
		}
	}
	if cfg.Limits.MaxReviewIterations <= 0 {
		return fmt.Errorf("limits.max_review_iterations must be > 0")
	}
	if cfg.Limits.MaxQualityRetries < 0 {
		return fmt.Errorf("limits.max_quality_retries must be >= 0")
	}
	if cfg.Limits.MaxAutoRetries <= 0 {
		return fmt.Errorf("limits.max_auto_retries must be > 0")
	}
	return nil
}

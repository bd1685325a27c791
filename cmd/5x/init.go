package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultConfigYAML = `agents:
  author:
    type: claude
    model: anthropic/claude-sonnet-4
  reviewer:
    type: claude
    model: anthropic/claude-opus-4
    timeout: 120s
limits:
  max_quality_retries: 2
  max_review_iterations: 3
  max_auto_retries: 3
quality_gates: []
paths:
  plans_dir: .5x/plans
  reviews_dir: .5x/reviews
`

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:          "init",
		Short:        "Scaffold the .5x state directory and default config",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := os.Getwd()
			if err != nil {
				return err
			}
			dir := stateDir(root)
			for _, sub := range []string{"", "plans", "reviews", "logs", "locks"} {
				if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
					return err
				}
			}
			cfgPath := filepath.Join(dir, "config.yaml")
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", cfgPath)
			}
			if err := os.WriteFile(cfgPath, []byte(defaultConfigYAML), 0o644); err != nil {
				return err
			}
			fmt.Printf("initialized %s\n", dir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

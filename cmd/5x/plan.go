package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/plan"
)

func planCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:          "plan <path>",
		Short:        "Parse and inspect a plan document",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			pl, err := plan.Parse(args[0])
			if err != nil {
				return err
			}
			if output == "yaml" {
				body, err := yaml.Marshal(pl)
				if err != nil {
					return err
				}
				fmt.Print(string(body))
				return nil
			}
			fmt.Printf("%s: %d phases\n", pl.Path, len(pl.Phases))
			for _, ph := range pl.Phases {
				done := 0
				for _, item := range ph.Checklist {
					if item.Done {
						done++
					}
				}
				fmt.Printf("  %-6s %s", ph.Number, ph.Title)
				if len(ph.Checklist) > 0 {
					fmt.Printf("  (%d/%d checked)", done, len(ph.Checklist))
				}
				fmt.Println()
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or yaml")
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/plan"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/store"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/tui"
)

func statusCmd() *cobra.Command {
	var showReview bool
	cmd := &cobra.Command{
		Use:          "status [plan]",
		Short:        "Show runs, phase progress and escalations",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()
			ctx := cmd.Context()

			planPath := ""
			if len(args) == 1 {
				planPath, err = plan.CanonicalPath(args[0])
				if err != nil {
					return err
				}
			}

			runs, err := st.ListRuns(ctx, planPath)
			if err != nil {
				return err
			}
			view := tui.StatusView{Runs: runs}
			if planPath != "" {
				view.Progress, err = st.GetPhaseProgress(ctx, planPath)
				if err != nil {
					return err
				}
			}
			if len(runs) > 0 {
				view.Events, err = st.ListRunEvents(ctx, runs[0].ID)
				if err != nil {
					return err
				}
			}
			fmt.Print(tui.RenderStatus(view))

			if showReview {
				path := latestReviewPath(runs)
				if path == "" {
					return fmt.Errorf("no review document recorded yet")
				}
				out, err := tui.RenderReview(path)
				if err != nil {
					return err
				}
				fmt.Print(out)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showReview, "review", false, "render the most recent review document")
	return cmd
}

func latestReviewPath(runs []store.Run) string {
	for _, r := range runs {
		if r.ReviewPath != "" {
			return r.ReviewPath
		}
	}
	return ""
}

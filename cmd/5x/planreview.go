package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/config"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/engine"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/gate"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/quality"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/tui"
)

func planReviewCmd() *cobra.Command {
	var auto bool
	var reviewPath string
	cmd := &cobra.Command{
		Use:          "plan-review <plan>",
		Short:        "Review a plan document before implementation starts",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, root, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}

			author, err := buildAdapter(config.RoleAuthor, cfg, root)
			if err != nil {
				return err
			}
			reviewer, err := buildAdapter(config.RoleReviewer, cfg, root)
			if err != nil {
				return err
			}

			gates := gate.Gates{}
			if !auto {
				gates = tui.Gates()
			}

			ecfg := engineConfig(cfg, root, args[0], reviewPath)
			ecfg.Auto = auto

			eng := engine.New(st, author, reviewer, quality.NewExecRunner(), gates, ecfg)
			res, err := eng.ReviewPlan(ctx)
			if err != nil {
				if ctx.Err() != nil {
					log.Warn().Msg("interrupted; the plan review stays active and will resume on the next invocation")
					return fmt.Errorf("plan review interrupted")
				}
				return err
			}
			if res.Aborted {
				return fmt.Errorf("plan review aborted")
			}
			if !res.Approved {
				return fmt.Errorf("plan not approved")
			}
			fmt.Printf("plan approved; review notes at %s\n", res.ReviewPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&auto, "auto", false, "run unattended, aborting instead of waiting on escalations")
	cmd.Flags().StringVar(&reviewPath, "review", "", "plan review file path")
	return cmd
}

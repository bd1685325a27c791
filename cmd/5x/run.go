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
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/git"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/lock"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/quality"
	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/tui"
)

func runCmd() *cobra.Command {
	var auto bool
	var allowDirty bool
	var skipQuality bool
	var startPhase string
	var reviewPath string
	cmd := &cobra.Command{
		Use:          "run <plan>",
		Short:        "Execute a plan phase by phase",
		Long:         "Execute a plan phase by phase: the author agent implements each phase, quality gates run, and the reviewer agent approves or requests corrections.",
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

			if !allowDirty && git.Available(ctx, root) {
				dirty, err := git.IsDirty(ctx, root)
				if err != nil {
					return err
				}
				if dirty {
					return fmt.Errorf("working tree has uncommitted changes; commit them or pass --allow-dirty")
				}
			}

			runLock, ok, err := lock.TryAcquire(stateDir(root))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("another 5x run is active in this project")
			}
			defer func() { _ = runLock.Release() }()

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
			ecfg.SkipQuality = skipQuality
			ecfg.StartPhase = startPhase
			if ecfg.ReviewPath == "" {
				ecfg.ReviewPath = defaultReviewPath(ecfg.ReviewsDir, args[0])
			}

			eng := engine.New(st, author, reviewer, quality.NewExecRunner(), gates, ecfg)
			res, err := eng.Run(ctx)
			if err != nil {
				if ctx.Err() != nil {
					log.Warn().Msg("interrupted; the run stays active and will resume on the next invocation")
					return fmt.Errorf("run interrupted")
				}
				return err
			}
			for _, esc := range res.Escalations {
				log.Warn().Str("phase", esc.Phase).Str("reason", esc.Reason).Msg("escalation")
			}
			if res.Aborted {
				return fmt.Errorf("run aborted after %d of %d phases", res.PhasesCompleted, res.TotalPhases)
			}
			if !res.Complete {
				fmt.Printf("stopped after %d of %d phases; re-run to continue\n", res.PhasesCompleted, res.TotalPhases)
				return nil
			}
			fmt.Printf("completed %d of %d phases\n", res.PhasesCompleted, res.TotalPhases)
			return nil
		},
	}
	cmd.Flags().BoolVar(&auto, "auto", false, "run unattended, aborting instead of waiting on escalations")
	cmd.Flags().BoolVar(&allowDirty, "allow-dirty", false, "allow starting with uncommitted changes")
	cmd.Flags().BoolVar(&skipQuality, "skip-quality", false, "skip quality gates for this run")
	cmd.Flags().StringVar(&startPhase, "start-phase", "", "start at this phase number")
	cmd.Flags().StringVar(&reviewPath, "review", "", "review file path ({phase} token supported)")
	return cmd
}

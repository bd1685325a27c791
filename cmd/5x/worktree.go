package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/git"
)

func worktreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worktree",
		Short: "Manage isolated run worktrees",
	}
	cmd.AddCommand(worktreeAddCmd())
	cmd.AddCommand(worktreeRemoveCmd())
	return cmd
}

func worktreeAddCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:          "add <branch>",
		Short:        "Create a worktree on a branch for an isolated run",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := os.Getwd()
			if err != nil {
				return err
			}
			branch := args[0]
			target := dir
			if target == "" {
				target = filepath.Join(stateDir(root), "worktrees", branch)
			}
			if err := git.AddWorktree(cmd.Context(), root, target, branch); err != nil {
				return err
			}
			fmt.Printf("worktree ready at %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "worktree directory (default .5x/worktrees/<branch>)")
	return cmd
}

func worktreeRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "remove <dir>",
		Short:        "Remove a run worktree",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := os.Getwd()
			if err != nil {
				return err
			}
			return git.RemoveWorktree(cmd.Context(), root, args[0])
		},
	}
}

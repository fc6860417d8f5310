// SPDX-License-Identifier: BSD-3-Clause
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gx-tools/gx/internal/cleanup"
	"github.com/gx-tools/gx/internal/config"
)

func newCleanupCommand(cfg *config.Config) *cobra.Command {
	var list, all, includeRemote, force bool

	cmd := &cobra.Command{
		Use:   "cleanup [change-id]",
		Short: "Remove change branches for merged or closed pull requests",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, err := newStore()
			if err != nil {
				return err
			}
			cwd, _ := cmd.Flags().GetString("cwd")
			if cwd == "" {
				if wd, err := os.Getwd(); err == nil {
					cwd = wd
				}
			}
			opts := cleanup.Options{IncludeRemote: includeRemote, Force: force, SearchRoot: cwd}

			switch {
			case list:
				states, err := cleanup.List(store)
				if err != nil {
					return err
				}
				for _, s := range states {
					fmt.Fprintln(cmd.OutOrStdout(), s.ChangeID)
				}
				return nil
			case all:
				results, err := cleanup.All(ctx, store, opts)
				if err != nil {
					return err
				}
				for changeID, outcomes := range results {
					printCleanupOutcomes(cmd, changeID, outcomes)
				}
				return nil
			case len(args) == 1:
				state, err := store.Load(args[0])
				if err != nil {
					return err
				}
				if state == nil {
					return fmt.Errorf("no such change %q", args[0])
				}
				outcomes, err := cleanup.One(ctx, store, state, opts)
				if err != nil {
					return err
				}
				printCleanupOutcomes(cmd, args[0], outcomes)
				return nil
			default:
				return fmt.Errorf("cleanup requires --list, --all, or a change id")
			}
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "print changes eligible for cleanup without mutating anything")
	cmd.Flags().BoolVar(&all, "all", false, "clean up every eligible change")
	cmd.Flags().BoolVar(&includeRemote, "include-remote", false, "also delete the remote change branch")
	cmd.Flags().BoolVar(&force, "force", false, "clean up regardless of PR status")

	return cmd
}

func printCleanupOutcomes(cmd *cobra.Command, changeID string, outcomes []cleanup.RepoOutcome) {
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s: %v\n", changeID, o.RepoSlug, o.Err)
		case o.Skipped:
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: skipped (%s)\n", changeID, o.RepoSlug, o.Reason)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: cleaned up\n", changeID, o.RepoSlug)
		}
	}
}

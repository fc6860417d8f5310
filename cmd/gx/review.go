// SPDX-License-Identifier: BSD-3-Clause
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gx-tools/gx/internal/config"
	"github.com/gx-tools/gx/internal/ghbridge"
	"github.com/gx-tools/gx/internal/review"
)

type reviewFlags struct {
	accounts []string
	patterns []string
}

func newReviewCommand(cfg *config.Config) *cobra.Command {
	flags := &reviewFlags{}

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Inspect and act on pull requests opened by a batch",
	}
	cmd.PersistentFlags().StringArrayVar(&flags.accounts, "org", nil, "account(s) to query (default: auto-detect, then default-user-org)")
	cmd.PersistentFlags().StringArrayVarP(&flags.patterns, "pattern", "p", nil, "repo filter pattern(s)")

	cmd.AddCommand(newReviewLsCommand(cfg, flags))
	cmd.AddCommand(newReviewApproveCommand(cfg, flags))
	cmd.AddCommand(newReviewMergeCommand(cfg, flags))
	cmd.AddCommand(newReviewDeleteCommand(cfg, flags))
	cmd.AddCommand(newReviewPurgeCommand(cfg, flags))

	return cmd
}

func resolveReviewContext(cmd *cobra.Command, cfg *config.Config, flags *reviewFlags) (context.Context, []string, *ghbridge.Bridge, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, nil, err
		}
		cwd = wd
	}
	accounts := review.ResolveAccounts(flags.accounts, cwd, cfg.DefaultUserOrg)
	if len(accounts) == 0 {
		return nil, nil, nil, fmt.Errorf("no account resolved: pass --org or set default-user-org")
	}
	return ctx, accounts, ghbridge.New(cfg), nil
}

func newReviewLsCommand(cfg *config.Config, flags *reviewFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <change-id>...",
		Short: "List pull requests opened for the given change ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, accounts, bridge, err := resolveReviewContext(cmd, cfg, flags)
			if err != nil {
				return err
			}
			store, err := newStore()
			if err != nil {
				return err
			}
			for _, changeID := range args {
				prs, err := review.ListByChangeID(ctx, bridge, accounts, changeID, store)
				if err != nil {
					return err
				}
				for _, a := range prs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t#%d\t%s\t%s\n", changeID, a.PR.RepoSlug, a.PR.Number, a.PR.State, a.PR.URL)
				}
			}
			return nil
		},
	}
}

func newReviewApproveCommand(cfg *config.Config, flags *reviewFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <change-id>",
		Short: "Approve every pull request opened for a change id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, accounts, bridge, err := resolveReviewContext(cmd, cfg, flags)
			if err != nil {
				return err
			}
			store, err := newStore()
			if err != nil {
				return err
			}
			prs, err := review.ListByChangeID(ctx, bridge, accounts, args[0], store)
			if err != nil {
				return err
			}
			for _, approveErr := range review.Approve(ctx, bridge, store, args[0], prs) {
				fmt.Fprintln(cmd.ErrOrStderr(), approveErr)
			}
			return nil
		},
	}
}

func newReviewMergeCommand(cfg *config.Config, flags *reviewFlags) *cobra.Command {
	var admin bool
	cmd := &cobra.Command{
		Use:   "merge <change-id>",
		Short: "Merge every pull request opened for a change id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, accounts, bridge, err := resolveReviewContext(cmd, cfg, flags)
			if err != nil {
				return err
			}
			store, err := newStore()
			if err != nil {
				return err
			}
			prs, err := review.ListByChangeID(ctx, bridge, accounts, args[0], store)
			if err != nil {
				return err
			}
			for _, mergeErr := range review.Merge(ctx, bridge, store, args[0], prs, admin) {
				fmt.Fprintln(cmd.ErrOrStderr(), mergeErr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "bypass branch protection when merging")
	return cmd
}

func newReviewDeleteCommand(cfg *config.Config, flags *reviewFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <change-id>",
		Short: "Close every pull request opened for a change id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, accounts, bridge, err := resolveReviewContext(cmd, cfg, flags)
			if err != nil {
				return err
			}
			store, err := newStore()
			if err != nil {
				return err
			}
			prs, err := review.ListByChangeID(ctx, bridge, accounts, args[0], store)
			if err != nil {
				return err
			}
			for _, deleteErr := range review.Delete(ctx, bridge, store, args[0], prs) {
				fmt.Fprintln(cmd.ErrOrStderr(), deleteErr)
			}
			return nil
		},
	}
}

func newReviewPurgeCommand(cfg *config.Config, flags *reviewFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Close PRs and delete every change branch across known repos",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, accounts, bridge, err := resolveReviewContext(cmd, cfg, flags)
			if err != nil {
				return err
			}
			store, err := newStore()
			if err != nil {
				return err
			}
			states, err := store.List()
			if err != nil {
				return err
			}
			for _, state := range states {
				prs, err := review.ListByChangeID(ctx, bridge, accounts, state.ChangeID, store)
				if err != nil {
					continue
				}
				repoPaths := make(map[string]string)
				for slug, r := range state.Repositories {
					if r.LocalPath != "" {
						repoPaths[slug] = r.LocalPath
					}
				}
				for _, purgeErr := range review.Purge(ctx, bridge, store, state.ChangeID, prs, repoPaths) {
					fmt.Fprintln(cmd.ErrOrStderr(), purgeErr)
				}
			}
			return nil
		},
	}
}

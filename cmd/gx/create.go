// SPDX-License-Identifier: BSD-3-Clause
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gx-tools/gx/internal/change"
	"github.com/gx-tools/gx/internal/config"
	"github.com/gx-tools/gx/internal/discover"
	"github.com/gx-tools/gx/internal/ghbridge"
	"github.com/gx-tools/gx/internal/gitfs"
	"github.com/gx-tools/gx/internal/logctx"
	"github.com/gx-tools/gx/internal/model"
	"github.com/gx-tools/gx/internal/statestore"
)

// createFlags collects the flags shared by `create` and all of its
// subcommands, since cobra's persistent flags are only visible once the
// subcommand has been selected on the command line.
type createFlags struct {
	files    []string
	filters  []string
	changeID string
	commit   string
	pr       string // "", "true", "draft"
}

func bindCreateFlags(cmd *cobra.Command, f *createFlags) {
	cmd.Flags().StringArrayVar(&f.files, "files", nil, "glob(s) identifying files to target within each repo")
	cmd.Flags().StringArrayVarP(&f.filters, "pattern", "p", nil, "repo name/slug filter pattern(s)")
	cmd.Flags().StringVarP(&f.changeID, "change-id", "x", "", "change id (default: GX-<timestamp>)")
	cmd.Flags().StringVar(&f.commit, "commit", "", "commit message; omitted means dry-run preview")
	cmd.Flags().StringVar(&f.pr, "pr", "", "open a pull request after pushing (\"draft\" for a draft PR)")
	cmd.Flags().Lookup("pr").NoOptDefVal = "true"
}

func newCreateCommand(cfg *config.Config) *cobra.Command {
	flags := &createFlags{}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Apply a coordinated mutation across discovered repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, cfg, flags, model.Change{})
		},
	}
	bindCreateFlags(cmd, flags)

	cmd.AddCommand(newCreateAddCommand(cfg, flags))
	cmd.AddCommand(newCreateDeleteCommand(cfg, flags))
	cmd.AddCommand(newCreateSubCommand(cfg, flags))
	cmd.AddCommand(newCreateRegexCommand(cfg, flags))

	return cmd
}

func newCreateAddCommand(cfg *config.Config, flags *createFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <path> <content>",
		Short: "Create a new file in every matched repo",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, cfg, flags, model.Change{
				Kind:       model.KindAdd,
				AddPath:    args[0],
				AddContent: []byte(args[1]),
			})
		},
	}
	bindCreateFlags(cmd, flags)
	return cmd
}

func newCreateDeleteCommand(cfg *config.Config, flags *createFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete every file matched by --files in each matched repo",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, cfg, flags, model.Change{Kind: model.KindDelete})
		},
	}
	bindCreateFlags(cmd, flags)
	return cmd
}

func newCreateSubCommand(cfg *config.Config, flags *createFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sub <literal> <replacement>",
		Short: "Replace a literal string wherever it occurs in the matched files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, cfg, flags, model.Change{
				Kind:        model.KindSub,
				Literal:     args[0],
				Replacement: args[1],
			})
		},
	}
	bindCreateFlags(cmd, flags)
	return cmd
}

func newCreateRegexCommand(cfg *config.Config, flags *createFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regex <pattern> <replacement>",
		Short: "Replace every regex match in the matched files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, cfg, flags, model.Change{
				Kind:        model.KindRegex,
				Pattern:     args[0],
				Replacement: args[1],
			})
		},
	}
	bindCreateFlags(cmd, flags)
	return cmd
}

// defaultChangeID produces GX-<ISO-8601-seconds>, colons replaced with
// hyphens for filesystem friendliness, per spec.md §6's branch-name
// contract.
func defaultChangeID() string {
	ts := time.Now().UTC().Format("2006-01-02T15-04-05Z")
	return "GX-" + ts
}

func runCreate(cmd *cobra.Command, cfg *config.Config, flags *createFlags, kind model.Change) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		cwd = wd
	}
	maxDepth, _ := cmd.Flags().GetInt("max-depth")
	jobsFlag, _ := cmd.Flags().GetString("jobs")
	jobs := cfg.Jobs
	if jobsFlag != "" {
		jobs = jobsFlag
	}

	repos, err := discover.Walk(ctx, cwd, maxDepth, cfg.RepoDiscovery.IgnorePatterns)
	if err != nil {
		return fmt.Errorf("discovering repositories: %w", err)
	}
	repos = discover.Filter(repos, flags.filters)

	targets := make(map[model.Repo][]string)
	for _, repo := range repos {
		files, err := gitfs.FindFilesMulti(repo.Path, flags.files)
		if err != nil {
			logctx.G(ctx).Warnf("skipping %s: %v", repo.Name, err)
			continue
		}
		if kind.Kind != model.KindAdd && len(files) == 0 {
			continue
		}
		targets[repo] = files
	}

	if kind.Kind == "" {
		return previewCreate(cmd, targets)
	}

	changeID := flags.changeID
	if changeID == "" {
		changeID = defaultChangeID()
	}

	prMode := model.PRNone
	switch strings.ToLower(flags.pr) {
	case "draft":
		prMode = model.PRDraft
	case "true":
		prMode = model.PRNormal
	}

	spec := model.ChangeSpec{
		ID:            changeID,
		Kind:          kind,
		FileGlobs:     flags.files,
		CommitMessage: flags.commit,
		PRMode:        prMode,
	}

	store, err := newStore()
	if err != nil {
		return err
	}

	pipeline := &change.Pipeline{Bridge: ghbridge.New(cfg), Store: store}

	nameColumn := change.NameColumnWidth(repos)
	results := pipeline.RunBatch(ctx, spec, targets, config.ResolveJobs(jobs), func(r model.CreateResult) {
		fmt.Fprintln(cmd.OutOrStdout(), change.FormatProgressLine(r, nameColumn))
	})

	failures := change.FailureCount(results)
	if failures > 0 {
		exitCode := failures
		if exitCode > 255 {
			exitCode = 255
		}
		os.Exit(exitCode)
	}
	return nil
}

func previewCreate(cmd *cobra.Command, targets map[model.Repo][]string) error {
	out := cmd.OutOrStdout()
	for repo, files := range targets {
		fmt.Fprintf(out, "%s (%s)\n", repo.Name, repo.Path)
		for _, f := range files {
			fmt.Fprintf(out, "  %s\n", f)
		}
	}
	return nil
}

func newStore() (*statestore.Store, error) {
	dir, err := statestore.DefaultDir()
	if err != nil {
		return nil, err
	}
	return statestore.New(dir)
}

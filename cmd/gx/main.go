// SPDX-License-Identifier: BSD-3-Clause
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/rancher/wrangler/v3/pkg/signals"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gx-tools/gx/internal/config"
	"github.com/gx-tools/gx/internal/logctx"
)

// Gx is the root command's receiver, mirroring the teacher's
// one-struct-per-command convention.
type Gx struct{}

func New(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gx COMMAND",
		Short: "Coordinated, parallel, multi-repository git operations",
		Long: heredoc.Doc(`
			gx drives the same mutation across many git repositories at once:
			discover repos under a working tree, apply a file edit, commit,
			push, and open pull requests, then track and clean up the result.
		`),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	cmd.PersistentFlags().String("cwd", "", "working tree root to discover repos under (default: current directory)")
	cmd.PersistentFlags().Int("max-depth", cfg.RepoDiscovery.MaxDepth, "directory depth to walk when discovering repos")
	cmd.PersistentFlags().String("jobs", cfg.Jobs, "worker pool size (\"nproc\" for CPU count)")

	cmd.AddCommand(newCreateCommand(cfg))
	cmd.AddCommand(newReviewCommand(cfg))
	cmd.AddCommand(newCleanupCommand(cfg))
	cmd.AddCommand(newRollbackCommand(cfg))

	return cmd
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(lvl)
	}
	if cfg.Logging.File != "" {
		if f, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			logger.SetOutput(f)
		}
	}

	ctx := signals.SetupSignalContext()
	ctx = logctx.WithLogger(ctx, logrus.NewEntry(logger))

	cmd := New(cfg)
	cmd.SetContext(ctx)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(ctx, err))
	}
}

// exitCodeFor maps a top-level command error to a process exit code. Batch
// commands set their own exit code via os.Exit before returning here;
// anything reaching this point is a pre-batch failure (invalid flags,
// unparseable config), which exits 2 per the error-handling design.
func exitCodeFor(_ context.Context, _ error) int {
	return 2
}

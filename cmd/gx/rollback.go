// SPDX-License-Identifier: BSD-3-Clause
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gx-tools/gx/internal/config"
	"github.com/gx-tools/gx/internal/gitprim"
	"github.com/gx-tools/gx/internal/txn"
)

func newRollbackCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Inspect and recover from interrupted batches",
	}
	cmd.AddCommand(newRollbackListCommand())
	cmd.AddCommand(newRollbackRunCommand())
	cmd.AddCommand(newRollbackValidateCommand())
	cmd.AddCommand(newRollbackCleanupCommand())
	return cmd
}

type recoveryRecord struct {
	id       string
	path     string
	changeID string
	repoPath string
	phase    string
}

func listRecoveryRecords() ([]recoveryRecord, error) {
	dir, err := txn.RecoveryDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []recoveryRecord
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		changeID, repoPath, phase, err := txn.LoadRecovery(path)
		if err != nil {
			continue
		}
		records = append(records, recoveryRecord{
			id:       strings.TrimSuffix(e.Name(), ".json"),
			path:     path,
			changeID: changeID,
			repoPath: repoPath,
			phase:    phase,
		})
	}
	return records, nil
}

func newRollbackListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recovery records left behind by interrupted batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := listRecoveryRecords()
			if err != nil {
				return err
			}
			for _, r := range records {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", r.id, r.changeID, r.repoPath, r.phase)
			}
			return nil
		},
	}
}

func findRecoveryRecord(id string) (recoveryRecord, error) {
	records, err := listRecoveryRecords()
	if err != nil {
		return recoveryRecord{}, err
	}
	for _, r := range records {
		if r.id == id {
			return r, nil
		}
	}
	return recoveryRecord{}, fmt.Errorf("no recovery record %q", id)
}

// recoverRepo applies the best-effort, phase-driven recovery a separate
// process can perform for a repo it never ran the original pipeline in:
// the original transaction's thunks died with that process, so recovery
// falls back to generic git primitives bounded by the recorded phase
// rather than replaying the exact rollback stack, per spec.md §7's
// "interrupted process... observable via a dedicated rollback path" note.
func recoverRepo(ctx context.Context, r recoveryRecord) error {
	if _, err := os.Stat(r.repoPath); err != nil {
		return fmt.Errorf("repo path %s no longer exists: %w", r.repoPath, err)
	}

	switch r.phase {
	case "push":
		if err := gitprim.DeleteRemoteBranch(ctx, r.repoPath, r.changeID); err != nil {
			return err
		}
		fallthrough
	case "commit":
		_ = gitprim.ResetCommit(ctx, r.repoPath)
		fallthrough
	case "change_branch":
		if exists, _ := gitprim.BranchExistsLocal(ctx, r.repoPath, r.changeID); exists {
			_ = gitprim.DeleteLocalBranch(ctx, r.repoPath, r.changeID)
		}
	}

	return gitprim.ResetHard(ctx, r.repoPath)
}

func newRollbackRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Execute best-effort recovery for one interrupted batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			r, err := findRecoveryRecord(args[0])
			if err != nil {
				return err
			}
			if err := recoverRepo(ctx, r); err != nil {
				return err
			}
			return os.Remove(r.path)
		},
	}
}

func newRollbackValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <id>",
		Short: "Report whether a recovery record still matches on-disk repo state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			r, err := findRecoveryRecord(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(r.repoPath); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: repo path missing: %v\n", r.id, err)
				return nil
			}
			branch, err := gitprim.CurrentBranch(ctx, r.repoPath)
			if err != nil {
				return err
			}
			dirty, err := gitprim.HasUncommittedChanges(ctx, r.repoPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: phase=%s branch=%s dirty=%v\n", r.id, r.phase, branch, dirty)
			return nil
		},
	}
}

func newRollbackCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove recovery records whose repo path no longer exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := listRecoveryRecords()
			if err != nil {
				return err
			}
			for _, r := range records {
				if _, err := os.Stat(r.repoPath); err != nil {
					if rmErr := os.Remove(r.path); rmErr == nil {
						fmt.Fprintf(cmd.OutOrStdout(), "removed stale recovery record %s (%s)\n", r.id, r.repoPath)
					}
				}
			}
			return nil
		},
	}
}

// Package txn implements spec.md §4.7: a LIFO stack of typed rollback
// actions with commit/rollback semantics and optional on-disk recovery
// records for crash recovery. No direct teacher analogue exists (governctl
// has no rollback engine); grounded on the ad-hoc `defer func(){ ... }()`
// rollback blocks in the teacher's cmd/governctl/pr/merge.go (remote branch
// cleanup, temp dir removal on failure), generalized into an explicit stack
// type per spec.md §9's "multiple cleanup/rollback actions" design note.
package txn

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/gx-tools/gx/internal/logctx"
)

// Kind classifies a rollback action, per spec.md §4.7.
type Kind int

const (
	File Kind = iota
	Git
	Branch
	Stash
	Remote
	Cleanup
)

func (k Kind) String() string {
	switch k {
	case File:
		return "File"
	case Git:
		return "Git"
	case Branch:
		return "Branch"
	case Stash:
		return "Stash"
	case Remote:
		return "Remote"
	case Cleanup:
		return "Cleanup"
	default:
		return "Unknown"
	}
}

// RollbackAction is an inert record capturing only what it needs (paths,
// branch names, stash refs) to undo one side effect. Thunks must not
// capture cross-phase references; later phases must not invalidate earlier
// captures, per spec.md §9.
type RollbackAction struct {
	Kind        Kind
	Description string
	Thunk       func(ctx context.Context) error
}

// Transaction is a per-repo LIFO stack of pending rollback actions.
type Transaction struct {
	actions      []RollbackAction
	committed    bool
	recoveryPath string
	changeID     string
	repoPath     string
	phase        string
}

// New creates an empty transaction, optionally backed by an on-disk
// recovery record at recoveryPath (empty string disables persistence).
func New(recoveryPath string) *Transaction {
	return &Transaction{recoveryPath: recoveryPath}
}

// Push appends a rollback action and, if recovery persistence is enabled,
// updates the on-disk record.
func (t *Transaction) Push(ctx context.Context, kind Kind, description string, thunk func(ctx context.Context) error) {
	t.actions = append(t.actions, RollbackAction{Kind: kind, Description: description, Thunk: thunk})
	t.persist(ctx)
}

// DryRunPlan returns the planned LIFO rollback order without executing it.
func (t *Transaction) DryRunPlan() []string {
	plan := make([]string, len(t.actions))
	for i, a := range t.actions {
		plan[len(t.actions)-1-i] = a.Description
	}
	return plan
}

// Rollback pops every action LIFO and invokes it. Failures are logged and
// do not abort remaining rollbacks. Idempotent once actions are drained or
// the transaction is committed.
func (t *Transaction) Rollback(ctx context.Context) {
	if t.committed {
		return
	}
	for i := len(t.actions) - 1; i >= 0; i-- {
		a := t.actions[i]
		if err := a.Thunk(ctx); err != nil {
			logctx.G(ctx).WithField("kind", a.Kind).WithField("action", a.Description).
				Warnf("rollback step failed: %v", err)
		}
	}
	t.actions = nil
	t.removeRecovery()
}

// RollbackKind selectively executes and removes actions of kind k, in LIFO
// order among themselves, leaving the other actions on the stack.
func (t *Transaction) RollbackKind(ctx context.Context, k Kind) {
	if t.committed {
		return
	}
	var remaining []RollbackAction
	var matched []RollbackAction
	for _, a := range t.actions {
		if a.Kind == k {
			matched = append(matched, a)
		} else {
			remaining = append(remaining, a)
		}
	}
	for i := len(matched) - 1; i >= 0; i-- {
		a := matched[i]
		if err := a.Thunk(ctx); err != nil {
			logctx.G(ctx).WithField("kind", a.Kind).WithField("action", a.Description).
				Warnf("rollback step failed: %v", err)
		}
	}
	t.actions = remaining
	t.persist(ctx)
}

// Commit executes all Cleanup-kind actions (e.g. backup-sidecar deletion),
// discards the remainder, and marks the transaction committed. Subsequent
// Rollback calls are no-ops.
func (t *Transaction) Commit(ctx context.Context) {
	for _, a := range t.actions {
		if a.Kind != Cleanup {
			continue
		}
		if err := a.Thunk(ctx); err != nil {
			logctx.G(ctx).WithField("action", a.Description).Warnf("cleanup action failed: %v", err)
		}
	}
	t.actions = nil
	t.committed = true
	t.removeRecovery()
}

// recoveryRecord is the on-disk shape persisted for crash recovery.
type recoveryRecord struct {
	ChangeID  string    `json:"change_id"`
	RepoPath  string    `json:"repo_path"`
	Phase     string    `json:"phase"`
	UpdatedAt time.Time `json:"updated_at"`
	Actions   []string  `json:"actions"`
}

// RecoveryDir returns the default recovery-record directory,
// ~/.gx/recovery, per spec.md §6.
func RecoveryDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".gx", "recovery"), nil
}

// NewWithRecovery creates a transaction that persists its state to a
// uniquely named recovery record under dir, tagged with changeID, repoPath
// and the current phase marker.
func NewWithRecovery(dir, changeID, repoPath, phase string) (*Transaction, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, uuid.NewString()+".json")
	t := New(path)
	t.phase = phase
	t.changeID = changeID
	t.repoPath = repoPath
	return t, nil
}

// SetPhase updates the current phase marker recorded in the recovery file.
func (t *Transaction) SetPhase(ctx context.Context, phase string) {
	t.phase = phase
	t.persist(ctx)
}

func (t *Transaction) persist(ctx context.Context) {
	if t.recoveryPath == "" {
		return
	}
	rec := recoveryRecord{
		ChangeID:  t.changeID,
		RepoPath:  t.repoPath,
		Phase:     t.phase,
		UpdatedAt: time.Now(),
	}
	for _, a := range t.actions {
		rec.Actions = append(rec.Actions, fmt.Sprintf("%s: %s", a.Kind, a.Description))
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		logctx.G(ctx).Warnf("recovery record marshal failed: %v", err)
		return
	}
	tmp := t.recoveryPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logctx.G(ctx).Warnf("recovery record write failed: %v", err)
		return
	}
	if err := os.Rename(tmp, t.recoveryPath); err != nil {
		logctx.G(ctx).Warnf("recovery record rename failed: %v", err)
	}
}

func (t *Transaction) removeRecovery() {
	if t.recoveryPath == "" {
		return
	}
	_ = os.Remove(t.recoveryPath)
}

// LoadRecovery reads a persisted recovery record from path.
func LoadRecovery(path string) (changeID, repoPath, phase string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", "", err
	}
	var rec recoveryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", "", "", err
	}
	return rec.ChangeID, rec.RepoPath, rec.Phase, nil
}

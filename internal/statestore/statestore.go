// Package statestore implements spec.md §4.10: one JSON file per change-id
// under ~/.gx/changes/, atomic temp+rename writes, and age-based purge. No
// direct teacher analogue exists; grounded on the teacher's YAML-file-per-
// entity idiom (internal/repo, internal/label load one file per declared
// object) translated to JSON per spec.md §3, with the single-writer-per-
// change-id mutex spec.md §5 requires.
package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gx-tools/gx/internal/logctx"
	"github.com/gx-tools/gx/internal/model"
)

// Store persists ChangeState values as one JSON file per change-id.
type Store struct {
	dir string

	mu      sync.Mutex
	writers map[string]*sync.Mutex
}

// DefaultDir returns ~/.gx/changes, the layout spec.md §3/§6 specifies.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".gx", "changes"), nil
}

// New creates a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, writers: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) writerFor(changeID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.writers[changeID]
	if !ok {
		m = &sync.Mutex{}
		s.writers[changeID] = m
	}
	return m
}

func (s *Store) path(changeID string) string {
	return filepath.Join(s.dir, changeID+".json")
}

// Save persists state, bumping UpdatedAt and writing atomically (temp file
// + rename) so readers never observe a half-written file. Writes for the
// same change-id are serialized through a per-change-id mutex.
func (s *Store) Save(state *model.ChangeState) error {
	w := s.writerFor(state.ChangeID)
	w.Lock()
	defer w.Unlock()

	state.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal change state %s: %w", state.ChangeID, err)
	}

	final := s.path(state.ChangeID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write change state %s: %w", state.ChangeID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename change state %s: %w", state.ChangeID, err)
	}
	return nil
}

// Load reads a single change-id's state, returning (nil, nil) when it does
// not exist.
func (s *Store) Load(changeID string) (*model.ChangeState, error) {
	data, err := os.ReadFile(s.path(changeID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var state model.ChangeState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse change state %s: %w", changeID, err)
	}
	return &state, nil
}

// List returns every stored ChangeState, sorted by CreatedAt descending.
// Malformed files are skipped with a warning rather than aborting the
// listing.
func (s *Store) List() ([]*model.ChangeState, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var states []*model.ChangeState
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		changeID := e.Name()[:len(e.Name())-len(".json")]
		state, err := s.Load(changeID)
		if err != nil {
			logctx.G(context.Background()).Warnf("skipping malformed change state %s: %v", e.Name(), err)
			continue
		}
		if state == nil {
			continue
		}
		states = append(states, state)
	}

	sort.Slice(states, func(i, j int) bool { return states[i].CreatedAt.After(states[j].CreatedAt) })
	return states, nil
}

// Delete removes a change-id's persisted state. Missing files are not an
// error.
func (s *Store) Delete(changeID string) error {
	err := os.Remove(s.path(changeID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CleanupOld deletes FullyMerged or Abandoned entries whose UpdatedAt is
// older than days.
func (s *Store) CleanupOld(days int) (deleted []string, err error) {
	states, err := s.List()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	for _, state := range states {
		if state.Status != model.StatusFullyMerged && state.Status != model.StatusAbandoned {
			continue
		}
		if state.UpdatedAt.After(cutoff) {
			continue
		}
		if err := s.Delete(state.ChangeID); err != nil {
			return deleted, err
		}
		deleted = append(deleted, state.ChangeID)
	}
	return deleted, nil
}

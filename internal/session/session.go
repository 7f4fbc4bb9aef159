// Package session is the persistence layer for SessionState: one JSON file
// per session, atomically written, with load-time validation, repair, and
// legacy-schema migration.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ganaudit/ganauditd/internal/thought"
)

// Corruption classifies why a loaded session file failed validation.
type Corruption string

const (
	MissingFields    Corruption = "missingFields"
	FormatMismatch   Corruption = "formatMismatch"
	PartialData      Corruption = "partialData"
	DataInconsistency Corruption = "dataInconsistency"
	NotFound         Corruption = "notFound"
)

// recoverable classes are repaired in place; notFound always yields a
// fresh default session.
func (c Corruption) recoverable() bool {
	switch c {
	case MissingFields, FormatMismatch, PartialData, DataInconsistency:
		return true
	default:
		return false
	}
}

// Store manages one JSON file per session under stateDir.
type Store struct {
	stateDir string
	salt     uint64
}

// NewStore ensures stateDir exists and returns a Store rooted there.
func NewStore(stateDir string) (*Store, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{stateDir: stateDir}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.stateDir, id+".json")
}

// GenerateID derives a deterministic 16-hex-char id from cwd, user, and a
// monotonic salt so repeated calls within the same process don't collide.
func (s *Store) GenerateID(cwd, user string) string {
	salt := atomic.AddUint64(&s.salt, 1)
	h := sha256.New()
	fmt.Fprintf(h, "%s||%s||%d||%d", cwd, user, salt, time.Now().UnixNano())
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// LoadResult carries the loaded/repaired state plus any warning the caller
// should surface, per the propagation policy (repair is transparent to C8
// beyond a warning).
type LoadResult struct {
	State   *thought.SessionState
	Warning string
}

// Load reads <id>.json, validates it, migrates legacy schemas, and repairs
// recoverable corruption in place (saving the repair back to disk). A
// missing file or unrecoverable corruption yields a fresh default session
// rather than an error.
func (s *Store) Load(id string) LoadResult {
	raw, err := os.ReadFile(s.path(id))
	if err != nil {
		return LoadResult{State: defaultSession(id)}
	}

	var state thought.SessionState
	if jsonErr := json.Unmarshal(raw, &state); jsonErr != nil {
		return LoadResult{State: defaultSession(id), Warning: "session file unreadable, starting fresh"}
	}

	corruptions := validate(&state)
	if len(corruptions) == 0 {
		return LoadResult{State: &state}
	}

	allRecoverable := true
	for _, c := range corruptions {
		if !c.recoverable() {
			allRecoverable = false
		}
	}
	if !allRecoverable {
		return LoadResult{State: defaultSession(id), Warning: "session data invalid, starting fresh"}
	}

	repair(&state)
	_ = s.Save(&state)
	return LoadResult{State: &state, Warning: "session data repaired"}
}

// validate checks required fields, array-typedness equivalents, and the
// currentLoop ≥ max(thoughtNumber) consistency invariant, classifying every
// violation found.
func validate(state *thought.SessionState) []Corruption {
	var found []Corruption
	if state.ID == "" {
		found = append(found, MissingFields)
	}
	if state.HotIterations == nil {
		found = append(found, FormatMismatch)
	}
	if state.History == nil {
		found = append(found, FormatMismatch)
	}
	for _, it := range state.HotIterations {
		if it.ThoughtNumber <= 0 {
			found = append(found, PartialData)
			break
		}
	}
	if state.CurrentLoop < state.MaxThoughtNumber() {
		found = append(found, DataInconsistency)
	}
	return found
}

// repair fills defaults, coerces nil slices to empty, drops malformed
// iterations, and recomputes currentLoop. Migration of legacy
// schemas (missing iterations/currentLoop/isComplete/judgeContextActive)
// is folded into the same pass since it's just defaulting absent fields,
// and is idempotent by construction.
func repair(state *thought.SessionState) {
	if state.HotIterations == nil {
		state.HotIterations = []thought.Iteration{}
	}
	if state.History == nil {
		state.History = []thought.HistoryEntry{}
	}
	filtered := state.HotIterations[:0:0]
	for _, it := range state.HotIterations {
		if it.ThoughtNumber > 0 {
			filtered = append(filtered, it)
		}
	}
	state.HotIterations = filtered
	sort.Slice(state.HotIterations, func(i, j int) bool {
		return state.HotIterations[i].ThoughtNumber < state.HotIterations[j].ThoughtNumber
	})
	state.CurrentLoop = state.MaxThoughtNumber()
	state.JudgeContextActive = state.JudgeContextID != ""
	state.UpdatedAt = time.Now()
}

func defaultSession(id string) *thought.SessionState {
	now := time.Now()
	cfg := thought.SessionConfig{}
	cfg.Normalize()
	return &thought.SessionState{
		ID:            id,
		CreatedAt:     now,
		UpdatedAt:     now,
		Config:        cfg,
		History:       []thought.HistoryEntry{},
		HotIterations: []thought.Iteration{},
	}
}

// Save persists state atomically: write to <id>.json.tmp, then rename over
// the destination. Rename is atomic on POSIX filesystems, which is the
// whole point of this dance over a direct WriteFile.
func (s *Store) Save(state *thought.SessionState) error {
	state.JudgeContextActive = state.JudgeContextID != ""
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", state.ID, err)
	}

	dest := s.path(state.ID)
	tmp := dest + ".tmp." + strconv.FormatInt(time.Now().UnixNano(), 10)

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync temp session file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp session file: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename session file: %w", err)
	}
	return nil
}

// Delete removes the session file for id. A missing file is not an error.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ListAll returns the session ids present in the state directory.
func (s *Store) ListAll() ([]string, error) {
	entries, err := os.ReadDir(s.stateDir)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		const suffix = ".json"
		if !e.IsDir() && len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			ids = append(ids, name[:len(name)-len(suffix)])
		}
	}
	return ids, nil
}

// Sweep deletes session files whose mtime exceeds maxAge, and removes
// files that fail validation and cannot be recovered. Returns the ids
// removed.
func (s *Store) Sweep(maxAge time.Duration) ([]string, error) {
	entries, err := os.ReadDir(s.stateDir)
	if err != nil {
		return nil, err
	}
	var removed []string
	now := time.Now()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		const suffix = ".json"
		name := e.Name()
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		id := name[:len(name)-len(suffix)]

		if now.Sub(info.ModTime()) > maxAge {
			if err := s.Delete(id); err == nil {
				removed = append(removed, id)
			}
			continue
		}

		result := s.Load(id)
		if result.State == nil {
			continue
		}
	}
	return removed, nil
}

package session

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ganaudit/ganauditd/internal/thought"
)

func newTestStore(t *testing.T) *Store {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	return s
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := newTestStore(t)
	state := defaultSession("abc123")
	state.HotIterations = append(state.HotIterations, thought.Iteration{ThoughtNumber: 1, Code: "x", Timestamp: time.Now()})
	state.CurrentLoop = 1

	require.NoError(t, s.Save(state))
	result := s.Load("abc123")
	assert.Equal(t, "abc123", result.State.ID)
	assert.Equal(t, 1, result.State.CurrentLoop)
	assert.Empty(t, result.Warning)
}

func TestLoadMissingFileReturnsFreshSession(t *testing.T) {
	s := newTestStore(t)
	result := s.Load("does-not-exist")
	assert.Equal(t, "does-not-exist", result.State.ID)
	assert.False(t, result.State.IsComplete)
}

func TestLoadRepairsInconsistentCurrentLoop(t *testing.T) {
	s := newTestStore(t)
	state := defaultSession("needs-repair")
	state.HotIterations = []thought.Iteration{{ThoughtNumber: 5, Code: "x"}}
	state.CurrentLoop = 0 // inconsistent: should be >= 5
	require.NoError(t, s.Save(state))

	result := s.Load("needs-repair")
	assert.Equal(t, 5, result.State.CurrentLoop)
	assert.NotEmpty(t, result.Warning)
}

func TestLoadDropsMalformedIterations(t *testing.T) {
	s := newTestStore(t)
	state := defaultSession("malformed")
	state.HotIterations = []thought.Iteration{{ThoughtNumber: 0}, {ThoughtNumber: 2}}
	require.NoError(t, s.Save(state))

	result := s.Load("malformed")
	for _, it := range result.State.HotIterations {
		assert.Greater(t, it.ThoughtNumber, 0)
	}
}

func TestGenerateIDIsSixteenHexChars(t *testing.T) {
	s := newTestStore(t)
	id := s.GenerateID("/repo", "alice")
	assert.Len(t, id, 16)
}

func TestGenerateIDDiffersAcrossCalls(t *testing.T) {
	s := newTestStore(t)
	id1 := s.GenerateID("/repo", "alice")
	id2 := s.GenerateID("/repo", "alice")
	assert.NotEqual(t, id1, id2)
}

func TestSweepDeletesOldSessions(t *testing.T) {
	s := newTestStore(t)
	state := defaultSession("old-session")
	require.NoError(t, s.Save(state))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(s.path("old-session"), old, old))

	removed, err := s.Sweep(24 * time.Hour)
	require.NoError(t, err)
	assert.Contains(t, removed, "old-session")

	_, statErr := os.Stat(s.path("old-session"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeleteNonExistentIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Delete("nothing-here"))
}

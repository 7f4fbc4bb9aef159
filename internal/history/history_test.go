package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ganaudit/ganauditd/internal/thought"
)

func TestCompressDecompressRoundTrips(t *testing.T) {
	it := thought.Iteration{ThoughtNumber: 3, Code: "function f(){return 1}", Timestamp: time.Now()}
	blob, err := compress(it)
	require.NoError(t, err)

	got, err := decompress(blob)
	require.NoError(t, err)
	assert.Equal(t, it.ThoughtNumber, got.ThoughtNumber)
	assert.Equal(t, it.Code, got.Code)
}

func TestAppendThenMaterializeReturnsAllIterations(t *testing.T) {
	s := New(DefaultLimits())
	s.Append("sess-1", thought.Iteration{ThoughtNumber: 1, Code: "a", Timestamp: time.Now()})
	s.Append("sess-1", thought.Iteration{ThoughtNumber: 2, Code: "b", Timestamp: time.Now()})

	all := s.Materialize("sess-1")
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[0].ThoughtNumber)
	assert.Equal(t, 2, all[1].ThoughtNumber)
}

func TestOptimizeCompressesOldLargeIterations(t *testing.T) {
	limits := Limits{
		CompressionAge:        time.Millisecond,
		CompressionThreshold:  10, // tiny, so any iteration above 10 bytes qualifies
		MaxIterationsInMemory: 1000,
		MaxMemoryUsage:        1 << 30,
	}
	s := New(limits)
	old := thought.Iteration{ThoughtNumber: 1, Code: "a long enough body to exceed threshold", Timestamp: time.Now().Add(-time.Hour)}
	s.Append("sess-2", old)
	time.Sleep(2 * time.Millisecond)
	s.Optimize("sess-2")

	sh := s.sessions["sess-2"]
	assert.Empty(t, sh.hot)
	assert.Len(t, sh.cold, 1)

	all := s.Materialize("sess-2")
	require.Len(t, all, 1)
	assert.Equal(t, old.Code, all[0].Code)
}

func TestTrimsHotListPastMaxIterationsInMemory(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxIterationsInMemory = 2
	limits.CompressionAge = time.Hour // nothing ages out independently
	s := New(limits)

	for i := 1; i <= 5; i++ {
		s.Append("sess-3", thought.Iteration{ThoughtNumber: i, Code: "x", Timestamp: time.Now()})
	}

	sh := s.sessions["sess-3"]
	assert.LessOrEqual(t, len(sh.hot), 2)
	all := s.Materialize("sess-3")
	assert.Len(t, all, 5)
}

func TestExportThenSyncRoundTripsHotAndCold(t *testing.T) {
	limits := Limits{
		CompressionAge:        time.Millisecond,
		CompressionThreshold:  10,
		MaxIterationsInMemory: 1000,
		MaxMemoryUsage:        1 << 30,
	}
	s := New(limits)
	s.Append("sess-4", thought.Iteration{ThoughtNumber: 1, Code: "a long enough body to exceed threshold", Timestamp: time.Now().Add(-time.Hour)})
	s.Append("sess-4", thought.Iteration{ThoughtNumber: 2, Code: "b", Timestamp: time.Now()})
	s.Optimize("sess-4")

	hot, cold := s.Export("sess-4")
	require.Len(t, cold, 1)
	blob := cold[1]
	assert.Equal(t, len(blob.BlobBase64) > 0, true)
	assert.Positive(t, blob.OriginalSize)
	assert.Positive(t, blob.CompressedSize)

	fresh := New(limits)
	fresh.Sync("sess-4", hot, cold)
	all := fresh.Materialize("sess-4")
	require.Len(t, all, 2)
}

func TestSyncReplacesRatherThanMergesPriorState(t *testing.T) {
	s := New(DefaultLimits())
	s.Append("sess-5", thought.Iteration{ThoughtNumber: 99, Code: "stale", Timestamp: time.Now()})

	s.Sync("sess-5", []thought.Iteration{{ThoughtNumber: 1, Code: "fresh", Timestamp: time.Now()}}, nil)

	all := s.Materialize("sess-5")
	require.Len(t, all, 1)
	assert.Equal(t, "fresh", all[0].Code)
}

func TestEmergencyCleanupEvictsLargestSessionsFirst(t *testing.T) {
	limits := Limits{
		CompressionAge:        time.Hour,
		CompressionThreshold:  1 << 20,
		MaxIterationsInMemory: 1000,
		MaxMemoryUsage:        1, // force immediate pressure
	}
	s := New(limits)
	s.Append("small", thought.Iteration{ThoughtNumber: 1, Code: "x", Timestamp: time.Now()})
	s.Append("big", thought.Iteration{ThoughtNumber: 1, Code: "a much longer candidate body here", Timestamp: time.Now()})

	stats := s.Stats()
	assert.LessOrEqual(t, stats.Sessions, 2)
}

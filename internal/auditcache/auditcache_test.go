package auditcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ganaudit/ganauditd/internal/thought"
)

func TestStoreThenLookupReturnsSameReview(t *testing.T) {
	c := New(10, time.Hour)
	fp := ComputeFingerprint("code", "config", "pack")
	rev := thought.Review{Overall: 90, Verdict: thought.VerdictPass}
	rev.Normalize()

	c.Store(fp, rev)
	got, ok := c.Lookup(fp)
	require.True(t, ok)
	assert.Equal(t, rev.Overall, got.Overall)
	assert.Equal(t, rev.Verdict, got.Verdict)
}

func TestLookupClonesSoCallerMutationDoesNotAffectStore(t *testing.T) {
	c := New(10, time.Hour)
	fp := ComputeFingerprint("code", "config", "pack")
	rev := thought.Review{Overall: 50, Verdict: thought.VerdictRevise}
	rev.Normalize()
	c.Store(fp, rev)

	got, _ := c.Lookup(fp)
	got.Citations = append(got.Citations, "mutated")

	got2, _ := c.Lookup(fp)
	assert.Empty(t, got2.Citations)
}

func TestEvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	c := New(2, time.Hour)
	fpA := ComputeFingerprint("a", "", "")
	fpB := ComputeFingerprint("b", "", "")
	fpC := ComputeFingerprint("c", "", "")

	c.Store(fpA, thought.Review{Overall: 1})
	c.Store(fpB, thought.Review{Overall: 2})
	c.Lookup(fpA) // touch A, making B the LRU
	c.Store(fpC, thought.Review{Overall: 3})

	_, okA := c.Lookup(fpA)
	_, okB := c.Lookup(fpB)
	_, okC := c.Lookup(fpC)
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)
}

func TestTTLBoundary(t *testing.T) {
	c := New(10, 20*time.Millisecond)
	fp := ComputeFingerprint("code", "", "")
	c.Store(fp, thought.Review{Overall: 10})

	time.Sleep(5 * time.Millisecond)
	_, ok := c.Lookup(fp)
	assert.True(t, ok, "entry should still be live before TTL elapses")

	time.Sleep(30 * time.Millisecond)
	_, ok = c.Lookup(fp)
	assert.False(t, ok, "entry should be evicted once past TTL")
}

func TestStatsCountHitsAndMisses(t *testing.T) {
	c := New(10, time.Hour)
	fp := ComputeFingerprint("code", "", "")
	c.Lookup(fp) // miss
	c.Store(fp, thought.Review{Overall: 1})
	c.Lookup(fp) // hit

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

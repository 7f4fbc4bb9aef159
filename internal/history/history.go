// Package history owns the per-session iteration list and its compressed
// tail: a hot in-memory slice plus a gzip-compressed cold map, kept under
// configured age/size/count/byte bounds via periodic optimization passes.
package history

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/ganaudit/ganauditd/internal/thought"
)

// MemoryWarningPct and MemoryCriticalPct mirror the two-tier threshold
// model used for host memory pressure, repurposed here to the byte budget
// tracked across all sessions' iteration history.
const (
	MemoryWarningPct  = 80
	MemoryCriticalPct = 90
)

// Limits bounds the optimization pass.
type Limits struct {
	CompressionAge       time.Duration
	CompressionThreshold int // serialized size in bytes above which a hot iteration is compressed
	MaxIterationsInMemory int
	MaxMemoryUsage       int64 // total tracked bytes across all sessions
}

// DefaultLimits matches the defaults implied by spec.md's configuration
// knobs section.
func DefaultLimits() Limits {
	return Limits{
		CompressionAge:        10 * time.Minute,
		CompressionThreshold:  2048,
		MaxIterationsInMemory: 50,
		MaxMemoryUsage:        64 * 1024 * 1024,
	}
}

// coldBlob is a cold-tier iteration's gzip-compressed JSON plus the
// metadata persisted alongside it (thought.ColdIteration) — it never
// carries the decompressed thought.Iteration alongside the bytes, since
// that would defeat the point of compressing it in the first place.
type coldBlob struct {
	originalSize   int
	compressedAt   time.Time
	bytes          []byte // gzip-compressed JSON
}

type sessionHistory struct {
	hot  []thought.Iteration
	cold map[int]*coldBlob // thoughtNumber -> compressed iteration
}

func (sh *sessionHistory) trackedBytes() int64 {
	var n int64
	for _, it := range sh.hot {
		n += int64(estimateSize(it))
	}
	for _, c := range sh.cold {
		n += int64(len(c.bytes))
	}
	return n
}

// Store manages iteration history for every known session.
type Store struct {
	mu       sync.Mutex
	limits   Limits
	sessions map[string]*sessionHistory

	lastThreshold int
}

// New builds a Store bounded by limits.
func New(limits Limits) *Store {
	return &Store{limits: limits, sessions: make(map[string]*sessionHistory)}
}

func (s *Store) sessionFor(sessionID string) *sessionHistory {
	sh, ok := s.sessions[sessionID]
	if !ok {
		sh = &sessionHistory{cold: make(map[int]*coldBlob)}
		s.sessions[sessionID] = sh
	}
	return sh
}

// Append adds it to sessionId's hot list, then runs the optimization pass
// for that session followed by a global emergency check.
func (s *Store) Append(sessionID string, it thought.Iteration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh := s.sessionFor(sessionID)
	sh.hot = append(sh.hot, it)
	s.optimizeLocked(sessionID)
	s.emergencyCleanupLocked()
}

// Materialize returns every iteration for sessionId — hot and decompressed
// cold — ordered by thoughtNumber, for read paths that need the full
// expanded state.
func (s *Store) Materialize(sessionID string) []thought.Iteration {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]thought.Iteration, 0, len(sh.hot)+len(sh.cold))
	out = append(out, sh.hot...)
	for _, c := range sh.cold {
		it, err := decompress(c.bytes)
		if err == nil {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThoughtNumber < out[j].ThoughtNumber })
	return out
}

// Sync reconciles this Store's in-memory view of sessionId with what was
// just loaded from persistent storage: it's the load-time half of the
// hot/cold split living outside thought.SessionState's own JSON shape. It
// replaces, rather than merges, the tracked hot/cold sets, so a session
// reloaded fresh from disk (possibly in a new process) starts from exactly
// what was persisted instead of whatever this Store previously held.
func (s *Store) Sync(sessionID string, hot []thought.Iteration, cold map[int]thought.ColdIteration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh := &sessionHistory{
		hot:  append([]thought.Iteration(nil), hot...),
		cold: make(map[int]*coldBlob, len(cold)),
	}
	for n, c := range cold {
		raw, err := base64.StdEncoding.DecodeString(c.BlobBase64)
		if err != nil {
			continue
		}
		sh.cold[n] = &coldBlob{originalSize: c.OriginalSize, compressedAt: c.CompressedAt, bytes: raw}
	}
	s.sessions[sessionID] = sh
}

// Export returns sessionId's current hot iteration list and its cold map in
// thought.SessionState's persisted shape, for the caller to write back
// alongside the rest of a session's state.
func (s *Store) Export(sessionID string) ([]thought.Iteration, map[int]thought.ColdIteration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	hot := append([]thought.Iteration(nil), sh.hot...)
	var cold map[int]thought.ColdIteration
	if len(sh.cold) > 0 {
		cold = make(map[int]thought.ColdIteration, len(sh.cold))
		for n, c := range sh.cold {
			cold[n] = thought.ColdIteration{
				OriginalSize:   c.originalSize,
				CompressedSize: len(c.bytes),
				CompressedAt:   c.compressedAt,
				BlobBase64:     base64.StdEncoding.EncodeToString(c.bytes),
			}
		}
	}
	return hot, cold
}

// Optimize runs the compress/trim pass for sessionId outside of Append,
// e.g. from a periodic sweeper.
func (s *Store) Optimize(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.optimizeLocked(sessionID)
}

// optimizeLocked must be called with s.mu held.
func (s *Store) optimizeLocked(sessionID string) {
	sh, ok := s.sessions[sessionID]
	if !ok {
		return
	}

	now := time.Now()
	var kept []thought.Iteration
	for _, it := range sh.hot {
		age := now.Sub(it.Timestamp)
		size := estimateSize(it)
		if age > s.limits.CompressionAge && size > s.limits.CompressionThreshold {
			blob, err := compress(it)
			if err == nil {
				sh.cold[it.ThoughtNumber] = &coldBlob{originalSize: size, compressedAt: now, bytes: blob}
				continue
			}
		}
		kept = append(kept, it)
	}
	sh.hot = kept

	if len(sh.hot) > s.limits.MaxIterationsInMemory {
		sort.Slice(sh.hot, func(i, j int) bool { return sh.hot[i].ThoughtNumber < sh.hot[j].ThoughtNumber })
		overflow := len(sh.hot) - s.limits.MaxIterationsInMemory
		for _, it := range sh.hot[:overflow] {
			blob, err := compress(it)
			if err == nil {
				sh.cold[it.ThoughtNumber] = &coldBlob{originalSize: estimateSize(it), compressedAt: now, bytes: blob}
			}
		}
		sh.hot = sh.hot[overflow:]
	}
}

// emergencyCleanupLocked implements the two-tier threshold model: once
// total tracked bytes exceed maxMemoryUsage, whole sessions are evicted
// (descending memory footprint first) until usage falls back under the
// warning threshold's complement (80% of the limit).
func (s *Store) emergencyCleanupLocked() {
	total := s.totalBytesLocked()
	if s.limits.MaxMemoryUsage <= 0 || total <= s.limits.MaxMemoryUsage {
		return
	}

	type footprint struct {
		id    string
		bytes int64
	}
	var ranked []footprint
	for id, sh := range s.sessions {
		ranked = append(ranked, footprint{id: id, bytes: sh.trackedBytes()})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].bytes > ranked[j].bytes })

	targetLow := s.limits.MaxMemoryUsage * MemoryWarningPct / 100
	for _, f := range ranked {
		if total <= targetLow {
			break
		}
		delete(s.sessions, f.id)
		total -= f.bytes
	}
}

func (s *Store) totalBytesLocked() int64 {
	var n int64
	for _, sh := range s.sessions {
		n += sh.trackedBytes()
	}
	return n
}

// EmergencyCleanup runs the emergency eviction pass directly; exposed for
// a periodic sweeper independent of any particular Append call.
func (s *Store) EmergencyCleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emergencyCleanupLocked()
}

// Stats reports byte usage and the threshold crossed, if any.
type Stats struct {
	TotalBytes      int64
	Sessions        int
	ThresholdPct    int // 0, 80, or 90
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.totalBytesLocked()
	pct := 0
	if s.limits.MaxMemoryUsage > 0 {
		usedPct := int(total * 100 / s.limits.MaxMemoryUsage)
		if usedPct >= MemoryCriticalPct {
			pct = MemoryCriticalPct
		} else if usedPct >= MemoryWarningPct {
			pct = MemoryWarningPct
		}
	}
	return Stats{TotalBytes: total, Sessions: len(s.sessions), ThresholdPct: pct}
}

func estimateSize(it thought.Iteration) int {
	data, err := json.Marshal(it)
	if err != nil {
		return 0
	}
	return len(data)
}

func compress(it thought.Iteration) ([]byte, error) {
	data, err := json.Marshal(it)
	if err != nil {
		return nil, fmt.Errorf("marshal iteration: %w", err)
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(blob []byte) (thought.Iteration, error) {
	r, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return thought.Iteration{}, fmt.Errorf("gzip reader: %w", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return thought.Iteration{}, fmt.Errorf("gzip read: %w", err)
	}
	var it thought.Iteration
	if err := json.Unmarshal(data, &it); err != nil {
		return thought.Iteration{}, fmt.Errorf("unmarshal iteration: %w", err)
	}
	return it, nil
}

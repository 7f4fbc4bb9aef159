// Package thought holds the value types shared across the audit core:
// the inbound Thought request, the per-session configuration, the judge's
// Review record, and the SessionState that ties iterations together.
package thought

import "time"

// Thought is a single tool-call payload submitting a candidate artifact
// for review.
type Thought struct {
	Text              string `json:"thought"`
	Number            int    `json:"thoughtNumber"`
	TotalEstimate     int    `json:"totalThoughts"`
	NextThoughtNeeded bool   `json:"nextThoughtNeeded"`
	NeedsMoreThoughts bool   `json:"needsMoreThoughts,omitempty"`
	IsRevision        bool   `json:"isRevision,omitempty"`
	RevisesNumber     int    `json:"revisesThought,omitempty"`
	BranchFromNumber  int    `json:"branchFromThought,omitempty"`
	BranchID          string `json:"branchId,omitempty"`
	LoopID            string `json:"loopId,omitempty"`
}

// Scope selects how the context pack is assembled for a session.
type Scope string

const (
	ScopeDiff      Scope = "diff"
	ScopePaths     Scope = "paths"
	ScopeWorkspace Scope = "workspace"
)

// SessionConfig is extracted from a fenced ```gan-config``` block inside a
// Thought's text and merges over whatever config the session already had.
type SessionConfig struct {
	Task        string   `json:"task,omitempty"`
	Scope       Scope    `json:"scope,omitempty"`
	Paths       []string `json:"paths,omitempty"`
	Threshold   int      `json:"threshold,omitempty"`
	MaxCycles   int      `json:"maxCycles,omitempty"`
	Candidates  int      `json:"candidates,omitempty"`
	Judges      []string `json:"judges,omitempty"`
	ApplyFixes  bool     `json:"applyFixes,omitempty"`
}

// DefaultThreshold is applied when a SessionConfig doesn't set one.
const DefaultThreshold = 85

// Normalize fills in the documented defaults and clamps ApplyFixes to
// false — the core never applies diffs on the caller's behalf.
func (c *SessionConfig) Normalize() {
	if c.Threshold <= 0 || c.Threshold > 100 {
		c.Threshold = DefaultThreshold
	}
	if c.MaxCycles <= 0 {
		c.MaxCycles = 0 // informational only; hardStopLoops is the real ceiling
	}
	c.ApplyFixes = false
}

// Merge overlays non-zero fields of other onto c, implementing the "may be
// re-supplied on any call and merges over existing config" rule.
func (c *SessionConfig) Merge(other SessionConfig) {
	if other.Task != "" {
		c.Task = other.Task
	}
	if other.Scope != "" {
		c.Scope = other.Scope
	}
	if len(other.Paths) > 0 {
		c.Paths = other.Paths
	}
	if other.Threshold > 0 {
		c.Threshold = other.Threshold
	}
	if other.MaxCycles > 0 {
		c.MaxCycles = other.MaxCycles
	}
	if other.Candidates > 0 {
		c.Candidates = other.Candidates
	}
	if len(other.Judges) > 0 {
		c.Judges = other.Judges
	}
	c.ApplyFixes = false
}

// Verdict is the judge's classification of a candidate.
type Verdict string

const (
	VerdictPass   Verdict = "pass"
	VerdictRevise Verdict = "revise"
	VerdictReject Verdict = "reject"
)

// DimensionScore is one named rubric dimension the judge scored.
type DimensionScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// InlineComment anchors a judge remark to a file location.
type InlineComment struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Comment string `json:"comment"`
}

// JudgeCard is one judge model's individual scorecard, when the session
// configured more than one judge identifier.
type JudgeCard struct {
	Model string `json:"model"`
	Score int    `json:"score"`
	Notes string `json:"notes,omitempty"`
}

// Review is the judge's structured verdict on a single candidate.
type Review struct {
	Overall         int              `json:"overall"`
	Dimensions      []DimensionScore `json:"dimensions"`
	Verdict         Verdict          `json:"verdict"`
	Summary         string           `json:"summary"`
	InlineComments  []InlineComment  `json:"inlineComments"`
	Citations       []string         `json:"citations"`
	ProposedDiff    *string          `json:"proposedDiff"`
	Iterations      int              `json:"iterations"`
	JudgeCards      []JudgeCard      `json:"judgeCards"`
}

// Normalize clamps and defaults fields per the Review invariants in §3:
// overall in [0,100], verdict defaults to revise, lists default empty.
func (r *Review) Normalize() {
	if r.Overall < 0 {
		r.Overall = 0
	}
	if r.Overall > 100 {
		r.Overall = 100
	}
	if r.Verdict == "" {
		r.Verdict = VerdictRevise
	}
	if r.Dimensions == nil {
		r.Dimensions = []DimensionScore{}
	}
	if r.InlineComments == nil {
		r.InlineComments = []InlineComment{}
	}
	if r.Citations == nil {
		r.Citations = []string{}
	}
	if r.JudgeCards == nil {
		r.JudgeCards = []JudgeCard{}
	}
}

// Clone returns a deep-enough copy safe for a cache hit to hand back
// without aliasing the stored record's slices.
func (r Review) Clone() Review {
	out := r
	out.Dimensions = append([]DimensionScore(nil), r.Dimensions...)
	out.InlineComments = append([]InlineComment(nil), r.InlineComments...)
	out.Citations = append([]string(nil), r.Citations...)
	out.JudgeCards = append([]JudgeCard(nil), r.JudgeCards...)
	if r.ProposedDiff != nil {
		d := *r.ProposedDiff
		out.ProposedDiff = &d
	}
	return out
}

// Iteration is the tuple of (candidate, review, timestamp) for one thought
// inside a session.
type Iteration struct {
	ThoughtNumber int       `json:"thoughtNumber"`
	Code          string    `json:"code"`
	Review        Review    `json:"review"`
	Timestamp     time.Time `json:"timestamp"`
}

// ColdIteration is the persisted, gzip-compressed form of an Iteration
// evicted from HotIterations by internal/history's optimization pass, kept
// so a session can be fully replayed without holding every candidate and
// review in memory at once.
type ColdIteration struct {
	OriginalSize   int       `json:"originalSize"`
	CompressedSize int       `json:"compressedSize"`
	CompressedAt   time.Time `json:"compressedAt"`
	BlobBase64     string    `json:"blobBase64"`
}

// HistoryEntry is the legacy per-call audit trail record, retained
// alongside the iteration history for backward compatibility.
type HistoryEntry struct {
	Timestamp     time.Time     `json:"timestamp"`
	ThoughtNumber int           `json:"thoughtNumber"`
	Review        Review        `json:"review"`
	Config        SessionConfig `json:"config"`
}

// StagnationInfo records the outcome of the last stagnation check.
type StagnationInfo struct {
	Detected        bool    `json:"detected"`
	AverageSimilarity float64 `json:"averageSimilarity"`
}

// FailureLogEntry records a recoverable failure encountered while serving
// a thought, for diagnostics — never surfaced as a hard transport error.
type FailureLogEntry struct {
	Timestamp     time.Time         `json:"timestamp"`
	ThoughtNumber int               `json:"thoughtNumber"`
	ErrorKind     string            `json:"errorKind"`
	Message       string            `json:"message"`
	Context       map[string]string `json:"context,omitempty"`
}

// SessionState is the full persisted state of one session. It is owned by
// the session store and the history component; no other component mutates
// it directly.
type SessionState struct {
	ID        string    `json:"id"`
	LoopID    string    `json:"loopId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Config SessionConfig `json:"config"`

	History []HistoryEntry `json:"history"`

	// HotIterations is the in-memory-resident tail of the iteration list;
	// ColdIterations holds the compressed remainder keyed by thoughtNumber,
	// maintained by internal/history's optimization pass.
	HotIterations  []Iteration           `json:"iterations"`
	ColdIterations map[int]ColdIteration `json:"coldIterations,omitempty"`

	CurrentLoop        int             `json:"currentLoop"`
	IsComplete         bool            `json:"isComplete"`
	CompletionReason   string          `json:"completionReason,omitempty"`
	StagnationInfo     *StagnationInfo `json:"stagnationInfo,omitempty"`

	JudgeContextID     string `json:"judgeContextId,omitempty"`
	JudgeContextActive bool   `json:"judgeContextActive"`

	FailureLog []FailureLogEntry `json:"failureLog,omitempty"`
}

// MaxThoughtNumber returns the highest thoughtNumber across both the hot
// iteration list and the compressed cold map, used to enforce invariant 1
// of §8: currentLoop = max(iteration.thoughtNumber).
func (s *SessionState) MaxThoughtNumber() int {
	max := 0
	for _, it := range s.HotIterations {
		if it.ThoughtNumber > max {
			max = it.ThoughtNumber
		}
	}
	for n := range s.ColdIterations {
		if n > max {
			max = n
		}
	}
	return max
}

// LastIteration returns the most recently appended hot iteration, or nil
// if the session has no iterations (e.g. cold-only after compression, or
// genuinely empty).
func (s *SessionState) LastIteration() *Iteration {
	if len(s.HotIterations) == 0 {
		return nil
	}
	return &s.HotIterations[len(s.HotIterations)-1]
}

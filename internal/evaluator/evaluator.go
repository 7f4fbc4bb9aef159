// Package evaluator is a pure function over a session's recorded
// iterations: it decides tiered completion, the hard stop, and stagnation,
// returning a single Decision. It mutates nothing.
package evaluator

import (
	"math"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/ganaudit/ganauditd/internal/thought"
)

// Reason names why a Decision completed, or why it hasn't yet.
type Reason string

const (
	ReasonScore95At10      Reason = "score_95_at_10"
	ReasonScore90At15      Reason = "score_90_at_15"
	ReasonScore85At20      Reason = "score_85_at_20"
	ReasonMaxLoopsReached  Reason = "max_loops_reached"
	ReasonStagnation       Reason = "stagnation_detected"
	ReasonInProgressOrPass Reason = "in_progress_or_pass"
)

const hardStopLoops = 25

var tiers = []struct {
	minScore int
	maxLoop  int
	reason   Reason
}{
	{95, 10, ReasonScore95At10},
	{90, 15, ReasonScore90At15},
	{85, 20, ReasonScore85At20},
}

// Decision is the pure result of evaluating a session's state.
type Decision struct {
	Complete          bool
	Reason            Reason
	Recommendation    string
	NeedsMore         bool
	FailureRate       float64
	StagnationInfo    thought.StagnationInfo
	ProgressTrend     string // improving | stagnant | declining
}

// Evaluate is a pure function of session: same inputs always produce the
// same Decision.
func Evaluate(session *thought.SessionState, threshold int) Decision {
	loop := session.CurrentLoop
	last := session.LastIteration()

	score := 0
	verdict := thought.VerdictRevise
	if last != nil {
		score = last.Review.Overall
		verdict = last.Review.Verdict
	}

	if loop >= hardStopLoops {
		return Decision{
			Complete:       true,
			Reason:         ReasonMaxLoopsReached,
			Recommendation: "manual review required; iteration budget exhausted",
			FailureRate:    1 - float64(score)/100,
			ProgressTrend:  trend(session),
		}
	}

	for _, t := range tiers {
		if score >= t.minScore && loop <= t.maxLoop {
			return Decision{
				Complete:      true,
				Reason:        t.reason,
				FailureRate:   1 - float64(score)/100,
				ProgressTrend: trend(session),
			}
		}
	}

	if loop >= 10 {
		if info, stagnant := detectStagnation(session); stagnant {
			return Decision{
				Complete:       true,
				Reason:         ReasonStagnation,
				Recommendation: "alternative approach",
				StagnationInfo: info,
				FailureRate:    1 - float64(score)/100,
				ProgressTrend:  "stagnant",
			}
		}
	}

	complete := verdict == thought.VerdictPass && score >= threshold
	return Decision{
		Complete:      complete,
		Reason:        ReasonInProgressOrPass,
		NeedsMore:     !complete,
		ProgressTrend: trend(session),
	}
}

// trend classifies the last two scores as improving, stagnant, or
// declining; "stagnant" is the safe default with fewer than two samples.
func trend(session *thought.SessionState) string {
	its := session.HotIterations
	if len(its) < 2 {
		return "stagnant"
	}
	prev := its[len(its)-2].Review.Overall
	curr := its[len(its)-1].Review.Overall
	switch {
	case curr > prev:
		return "improving"
	case curr < prev:
		return "declining"
	default:
		return "stagnant"
	}
}

// detectStagnation computes pairwise similarity between the last 3
// submitted code strings. Stagnant iff the average similarity is ≥ 0.95
// and at least ceil(pairs/2) individual pairs exceed 0.90.
func detectStagnation(session *thought.SessionState) (thought.StagnationInfo, bool) {
	its := session.HotIterations
	if len(its) < 3 {
		return thought.StagnationInfo{}, false
	}
	last3 := its[len(its)-3:]

	var sims []float64
	for i := 0; i < len(last3); i++ {
		for j := i + 1; j < len(last3); j++ {
			sims = append(sims, similarity(last3[i].Code, last3[j].Code))
		}
	}

	var sum float64
	above90 := 0
	for _, s := range sims {
		sum += s
		if s > 0.90 {
			above90++
		}
	}
	avg := sum / float64(len(sims))
	need := int(math.Ceil(float64(len(sims)) / 2))

	stagnant := avg >= 0.95 && above90 >= need
	return thought.StagnationInfo{Detected: stagnant, AverageSimilarity: avg}, stagnant
}

// similarity returns a normalized edit-distance-style similarity in
// [0, 1]: 1 - distance/max(len(a), len(b)), using diffmatchpatch's diff
// segments as the distance measure rather than raw O(n^2) Levenshtein.
// sim(a, a) = 1; sim(a, "") = 0 for non-empty a.
func similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	distance := dmp.DiffLevenshtein(diffs)

	sim := 1 - float64(distance)/float64(maxLen)
	if sim < 0 {
		sim = 0
	}
	return sim
}

// Package engine is the top-level synchronous orchestrator: it resolves a
// session, builds a context pack, probes the cache, submits to the judge
// queue, records the iteration, asks the completion evaluator for a
// decision, and composes the response record. It is the one package that
// calls into every other package in this module.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ganaudit/ganauditd/internal/auditcache"
	"github.com/ganaudit/ganauditd/internal/auditqueue"
	"github.com/ganaudit/ganauditd/internal/config"
	"github.com/ganaudit/ganauditd/internal/contextpack"
	"github.com/ganaudit/ganauditd/internal/errkind"
	"github.com/ganaudit/ganauditd/internal/evaluator"
	"github.com/ganaudit/ganauditd/internal/history"
	"github.com/ganaudit/ganauditd/internal/judge"
	"github.com/ganaudit/ganauditd/internal/judgectx"
	"github.com/ganaudit/ganauditd/internal/obslog"
	"github.com/ganaudit/ganauditd/internal/rubric"
	"github.com/ganaudit/ganauditd/internal/scope"
	"github.com/ganaudit/ganauditd/internal/session"
	"github.com/ganaudit/ganauditd/internal/template"
	"github.com/ganaudit/ganauditd/internal/thought"
)

// Response is the response record returned to the caller for every call
// (see §6.3 of the external interface).
type Response struct {
	ThoughtNumber        int      `json:"thoughtNumber"`
	TotalThoughts        int      `json:"totalThoughts"`
	NextThoughtNeeded    bool     `json:"nextThoughtNeeded"`
	Branches             []string `json:"branches"`
	ThoughtHistoryLength int      `json:"thoughtHistoryLength"`
	SessionID            string   `json:"sessionId"`

	Review *ReviewBlock `json:"review,omitempty"`
}

// ReviewBlock is the embedded review payload emitted whenever an audit
// occurred (or a terminal idempotent response echoes the last one).
type ReviewBlock struct {
	Overall        int                       `json:"overall"`
	Verdict        thought.Verdict           `json:"verdict"`
	Dimensions     []thought.DimensionScore  `json:"dimensions"`
	Summary        string                    `json:"summary"`
	InlineComments []thought.InlineComment   `json:"inlineComments"`
	Citations      []string                  `json:"citations"`
	ProposedDiff   *string                   `json:"proposedDiff"`
	Iterations     int                       `json:"iterations"`
	JudgeCards     []thought.JudgeCard       `json:"judgeCards"`

	CompletionStatus CompletionStatus  `json:"completionStatus"`
	LoopInfo         LoopInfo          `json:"loopInfo"`
	TerminationInfo  *TerminationInfo  `json:"terminationInfo,omitempty"`
}

// CompletionStatus reports the evaluator's decision for this call.
type CompletionStatus struct {
	IsComplete  bool   `json:"isComplete"`
	Reason      string `json:"reason"`
	CurrentLoop int    `json:"currentLoop"`
	Score       int    `json:"score"`
	Threshold   int    `json:"threshold"`
}

// LoopInfo reports loop progress independent of completion.
type LoopInfo struct {
	CurrentLoop        int    `json:"currentLoop"`
	MaxLoops            int    `json:"maxLoops"`
	ProgressTrend       string `json:"progressTrend"`
	StagnationDetected  bool   `json:"stagnationDetected"`
}

// TerminationInfo is populated only on terminal outcomes.
type TerminationInfo struct {
	Reason          string  `json:"reason"`
	FailureRate     float64 `json:"failureRate"`
	CriticalIssues  []string `json:"criticalIssues"`
	FinalAssessment string  `json:"finalAssessment"`
}

const hardStopLoops = 25

var ganConfigFence = regexp.MustCompile("(?s)```gan-config\\s*(.*?)```")
var fencedCodeBlock = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\n.*?```")
var diffMarker = regexp.MustCompile(`(?m)^(---|\+\+\+|@@ )`)

// Engine ties every C1-C7 collaborator together behind the single
// synchronous entrypoint Process.
type Engine struct {
	cfg    *config.Config
	log    *obslog.Logger
	rubric string

	sessions *session.Store
	history  *history.Store
	cache    *auditcache.Cache
	queue    *auditqueue.Queue
	ctxmgr   *judgectx.Manager

	mu sync.Mutex
}

// New wires every collaborator from cfg. ctx bounds the audit queue's
// lifetime; cancel it to stop admitting new work.
func New(ctx context.Context, cfg *config.Config, logger *obslog.Logger) (*Engine, error) {
	store, err := session.NewStore(cfg.Session.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	rubricText, err := rubric.Load(cfg.Rubric.URL, time.Duration(cfg.Rubric.FetchTimeoutMillis)*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("load rubric: %w", err)
	}

	return &Engine{
		cfg:      cfg,
		log:      logger,
		rubric:   rubricText,
		sessions: store,
		history:  history.New(history.Limits{
			CompressionAge:        cfg.History.CompressionAge,
			CompressionThreshold:  cfg.History.CompressionThreshold,
			MaxIterationsInMemory: cfg.History.MaxIterationsInMemory,
			MaxMemoryUsage:        cfg.History.MaxMemoryUsageBytes,
		}),
		cache:  auditcache.New(cfg.Cache.Capacity, cfg.Cache.TTL),
		queue:  auditqueue.New(ctx, cfg.Queue.Concurrency),
		ctxmgr: judgectx.NewManager(cfg.Judge.Executable, log.Default(), cfg.Judge.ExtraArgs...),
	}, nil
}

// Close tears every collaborator down, terminating any judge contexts
// still active. Safe to call more than once.
func (e *Engine) Close() {
	e.ctxmgr.TerminateAll(context.Background(), judgectx.ReasonManual)
}

// Process runs the full step 1-12 sequence from a single inbound Thought
// and returns the response record.
func (e *Engine) Process(ctx context.Context, repoDir string, t thought.Thought) (Response, error) {
	if err := validate(t); err != nil {
		return Response{}, err
	}

	sessionID := t.BranchID
	if sessionID == "" {
		sessionID = e.sessions.GenerateID(repoDir, "default")
	}

	result, err := e.sessions.Load(sessionID)
	if err != nil {
		return Response{}, fmt.Errorf("load session: %w", err)
	}
	state := *result.State
	if result.Warning != "" {
		e.log.Warning("session %s loaded with warning: %s", sessionID, result.Warning)
	}
	state.LoopID = firstNonEmpty(t.LoopID, state.LoopID)

	if cfg, ok := extractGanConfig(t.Text); ok {
		state.Config.Merge(cfg)
	}
	state.Config.Normalize()

	if state.IsComplete {
		return e.terminalResponse(t, state), nil
	}

	contextPack, err := contextpack.BuildContextPack(ctx, state.Config, repoDir)
	if err != nil {
		e.log.Warning("context pack build failed for session %s: %v", sessionID, err)
		contextPack = ""
	}

	code, hasCode := extractCode(t.Text)
	if !hasCode {
		resp := e.buildResponse(t, sessionID, state, nil)
		return resp, nil
	}

	if state.Config.Scope == thought.ScopePaths && diffMarker.MatchString(code) {
		validator := scope.NewValidator(state.Config.Paths)
		if violation := validator.ValidateDiff(code); !violation.Valid {
			state.FailureLog = append(state.FailureLog, thought.FailureLogEntry{
				Timestamp:     time.Now().UTC(),
				ThoughtNumber: t.Number,
				ErrorKind:     string(errkind.ScopeViolation),
				Message:       validator.FormatViolation(violation),
			})
		}
	}

	configJSON, _ := json.Marshal(relevantConfig(state.Config))
	fp := auditcache.ComputeFingerprint(code, string(configJSON), contextPack)

	var review thought.Review
	if cached, hit := e.cache.Lookup(fp); hit {
		review = cached
	} else {
		if t.LoopID != "" {
			if _, err := e.ctxmgr.Start(ctx, t.LoopID); err != nil {
				e.log.Warning("judge context start failed for loop %s: %v", t.LoopID, err)
			}
			state.JudgeContextID = t.LoopID
			state.JudgeContextActive = true
		}

		prompt := buildPrompt(state.Config, e.rubric, contextPack, code)
		timeout := time.Duration(e.cfg.Judge.AuditTimeoutMillis) * time.Millisecond
		runner := judge.NewRunner(e.cfg.Judge.Executable, e.cfg.Judge.ExtraArgs...)

		runErr := e.queue.Enqueue(ctx, sessionID, func(runCtx context.Context) error {
			r, kindErr := runner.Run(runCtx, prompt, timeout)
			review = r
			if kindErr != nil {
				state.FailureLog = append(state.FailureLog, thought.FailureLogEntry{
					Timestamp:     time.Now().UTC(),
					ThoughtNumber: t.Number,
					ErrorKind:     string(kindErr.Kind),
					Message:       kindErr.Error(),
				})
				return kindErr
			}
			return nil
		}, nil)
		if runErr != nil {
			e.log.Warning("judge run for session %s returned an error: %v", sessionID, runErr)
		}
		review.Normalize()
		e.cache.Store(fp, review)
	}

	iteration := thought.Iteration{
		ThoughtNumber: t.Number,
		Code:          code,
		Review:        review,
		Timestamp:     time.Now().UTC(),
	}
	state.History = append(state.History, thought.HistoryEntry{
		Timestamp:     time.Now().UTC(),
		ThoughtNumber: t.Number,
		Review:        review,
		Config:        state.Config,
	})

	// state.HotIterations/ColdIterations are what's actually persisted;
	// e.history is the component that decides which iterations stay hot
	// and which get compressed into the cold map, per session, across
	// calls. Sync hydrates it with whatever was last persisted (a fresh
	// process has nothing cached yet), Append runs the optimization pass,
	// and Export writes the result back into the session record.
	e.history.Sync(sessionID, state.HotIterations, state.ColdIterations)
	e.history.Append(sessionID, iteration)
	state.HotIterations, state.ColdIterations = e.history.Export(sessionID)
	state.CurrentLoop = state.MaxThoughtNumber()

	decision := evaluator.Evaluate(&state, state.Config.Threshold)

	if decision.Complete {
		reason := string(decision.Reason)
		if t.LoopID != "" {
			e.ctxmgr.Terminate(ctx, t.LoopID, terminateReasonFor(decision.Reason))
			state.JudgeContextActive = false
		}
		state.IsComplete = true
		state.CompletionReason = reason
		if decision.StagnationInfo.Detected {
			info := decision.StagnationInfo
			state.StagnationInfo = &info
		}
	}

	if err := e.sessions.Save(&state); err != nil {
		return Response{}, fmt.Errorf("save session: %w", err)
	}

	resp := e.buildResponse(t, sessionID, state, &review)
	resp.Review.CompletionStatus = CompletionStatus{
		IsComplete:  decision.Complete,
		Reason:      string(decision.Reason),
		CurrentLoop: state.CurrentLoop,
		Score:       review.Overall,
		Threshold:   state.Config.Threshold,
	}
	resp.Review.LoopInfo = LoopInfo{
		CurrentLoop:        state.CurrentLoop,
		MaxLoops:           hardStopLoops,
		ProgressTrend:      decision.ProgressTrend,
		StagnationDetected: decision.StagnationInfo.Detected,
	}
	if decision.Complete {
		resp.Review.TerminationInfo = &TerminationInfo{
			Reason:          string(decision.Reason),
			FailureRate:     decision.FailureRate,
			FinalAssessment: decision.Recommendation,
		}
	}

	return resp, nil
}

func validate(t thought.Thought) error {
	if t.Number < 1 {
		return errkind.New(errkind.InvalidCodeFormat, "thoughtNumber must be >= 1", nil)
	}
	if t.TotalEstimate < 1 {
		return errkind.New(errkind.InvalidCodeFormat, "totalThoughts must be >= 1", nil)
	}
	return nil
}

func (e *Engine) terminalResponse(t thought.Thought, state thought.SessionState) Response {
	resp := e.buildResponse(t, state.ID, state, nil)
	var lastScore int
	if last := state.LastIteration(); last != nil {
		r := last.Review
		resp.Review = reviewBlockFrom(r)
		lastScore = r.Overall
	}
	if resp.Review == nil {
		resp.Review = &ReviewBlock{Verdict: thought.VerdictRevise}
	}
	resp.Review.CompletionStatus = CompletionStatus{
		IsComplete:  true,
		Reason:      state.CompletionReason,
		CurrentLoop: state.CurrentLoop,
		Score:       lastScore,
		Threshold:   state.Config.Threshold,
	}
	return resp
}

func (e *Engine) buildResponse(t thought.Thought, sessionID string, state thought.SessionState, review *thought.Review) Response {
	total := t.TotalEstimate
	if t.Number > total {
		total = t.Number
	}

	resp := Response{
		ThoughtNumber:        t.Number,
		TotalThoughts:        total,
		NextThoughtNeeded:    t.NextThoughtNeeded && !state.IsComplete,
		Branches:             []string{},
		ThoughtHistoryLength: len(state.HotIterations) + len(state.ColdIterations),
		SessionID:            sessionID,
	}
	if state.LoopID != "" {
		resp.Branches = append(resp.Branches, state.LoopID)
	}
	if review != nil {
		resp.Review = reviewBlockFrom(*review)
	}
	return resp
}

func reviewBlockFrom(r thought.Review) *ReviewBlock {
	return &ReviewBlock{
		Overall:        r.Overall,
		Verdict:        r.Verdict,
		Dimensions:     r.Dimensions,
		Summary:        r.Summary,
		InlineComments: r.InlineComments,
		Citations:      r.Citations,
		ProposedDiff:   r.ProposedDiff,
		Iterations:     r.Iterations,
		JudgeCards:     r.JudgeCards,
	}
}

// extractGanConfig pulls a fenced gan-config JSON block out of text, per
// §6.2: malformed JSON is ignored, falling back to the prior config.
func extractGanConfig(text string) (thought.SessionConfig, bool) {
	m := ganConfigFence.FindStringSubmatch(text)
	if m == nil {
		return thought.SessionConfig{}, false
	}
	var cfg thought.SessionConfig
	if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &cfg); err != nil {
		return thought.SessionConfig{}, false
	}
	return cfg, true
}

// extractCode detects whether text carries an audit-required candidate:
// a fenced code block, a diff marker sequence, or neither (skip audit).
func extractCode(text string) (string, bool) {
	if m := fencedCodeBlock.FindString(text); m != "" {
		lines := strings.SplitN(m, "\n", 2)
		if len(lines) == 2 {
			body := strings.TrimSuffix(lines[1], "```")
			return strings.TrimSpace(body), true
		}
	}
	if diffMarker.MatchString(text) {
		return text, true
	}
	return "", false
}

// fixedPromptTemplate is the controller template referenced in §6:
// contextPack, task, candidate, and rubric interpolated, plus a judges:
// hint line when SessionConfig.judges is non-empty.
const fixedPromptTemplate = `Review the candidate against the rubric below and respond with a single JSON object matching the Review schema.

task: {{task}}
{{judgesHint}}
rubric:
{{rubric}}

context:
{{context}}

candidate:
{{candidate}}`

// buildPrompt renders fixedPromptTemplate for one judge invocation.
func buildPrompt(cfg thought.SessionConfig, rubricText, contextPack, candidate string) string {
	judgesHint := ""
	if len(cfg.Judges) > 0 {
		judgesHint = fmt.Sprintf("judges: %s", strings.Join(cfg.Judges, ","))
	}
	return template.RenderPrompt(fixedPromptTemplate, map[string]string{
		"task":       cfg.Task,
		"judgesHint": judgesHint,
		"rubric":     rubricText,
		"context":    contextPack,
		"candidate":  candidate,
	})
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// relevantConfig strips task (a free-form descriptive field) from the
// fingerprint input, per §3's AuditFingerprint definition.
func relevantConfig(cfg thought.SessionConfig) thought.SessionConfig {
	cfg.Task = ""
	return cfg
}

// terminateReasonFor maps an evaluator outcome onto the judge context's
// three-way completion/stagnation/failure termination vocabulary.
func terminateReasonFor(reason evaluator.Reason) judgectx.TerminateReason {
	switch reason {
	case evaluator.ReasonMaxLoopsReached:
		return judgectx.ReasonFailure
	case evaluator.ReasonStagnation:
		return judgectx.ReasonStagnation
	default:
		return judgectx.ReasonCompletion
	}
}

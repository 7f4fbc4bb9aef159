// Package judgectx manages the judge's persistent context windows, keyed
// by a caller-supplied loop identifier. Each loopId moves through a
// one-way state machine: none -> active -> terminated.
package judgectx

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"

	"github.com/ganaudit/ganauditd/internal/errkind"
)

// TerminateReason names why a context was torn down.
type TerminateReason string

const (
	ReasonCompletion TerminateReason = "completion"
	ReasonTimeout    TerminateReason = "timeout"
	ReasonFailure    TerminateReason = "failure"
	ReasonStagnation TerminateReason = "stagnation"
	ReasonManual     TerminateReason = "manual"
)

type entry struct {
	contextID  string
	terminated bool
}

// Manager holds the in-process loopId -> contextId mapping and drives the
// judge's `context <verb>` subcommands.
type Manager struct {
	mu         sync.Mutex
	contexts   map[string]*entry
	executable string
	extraArgs  []string
	cmdRunner  func(ctx context.Context, name string, args ...string) *exec.Cmd
	logger     *log.Logger
}

// NewManager builds a Manager bound to the given judge executable.
func NewManager(executable string, logger *log.Logger, extraArgs ...string) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		contexts:   make(map[string]*entry),
		executable: executable,
		extraArgs:  extraArgs,
		cmdRunner:  exec.CommandContext,
		logger:     logger,
	}
}

// Start is idempotent: if a live mapping already exists for loopId it is
// returned unchanged. Otherwise it invokes `context start --loop-id
// <loopId>` and records the resulting contextId.
func (m *Manager) Start(ctx context.Context, loopID string) (string, *errkind.Error) {
	m.mu.Lock()
	if e, ok := m.contexts[loopID]; ok && !e.terminated {
		id := e.contextID
		m.mu.Unlock()
		return id, nil
	}
	m.mu.Unlock()

	out, _, err := m.run(ctx, "context", "start", "--loop-id", loopID)
	if err != nil {
		return "", errkind.New(errkind.JudgeUnavailable, "contextStartFailed", err, errkind.Suggestions(errkind.JudgeUnavailable)...)
	}
	contextID := strings.TrimSpace(string(out))
	if contextID == "" {
		return "", errkind.New(errkind.JudgeUnavailable, "contextStartFailed: empty context id", nil, errkind.Suggestions(errkind.JudgeUnavailable)...)
	}

	m.mu.Lock()
	m.contexts[loopID] = &entry{contextID: contextID}
	m.mu.Unlock()

	return contextID, nil
}

// KeepAlive is best-effort: a mismatched or missing mapping is logged and
// ignored, and a "context not found" response drops the mapping so future
// calls don't keep retrying a dead context.
func (m *Manager) KeepAlive(ctx context.Context, loopID, contextID string) {
	m.mu.Lock()
	e, ok := m.contexts[loopID]
	m.mu.Unlock()
	if !ok || e.contextID != contextID || e.terminated {
		m.logger.Printf("[judgectx] keepAlive: no live mapping for loopId=%s", loopID)
		return
	}

	_, stderr, err := m.run(ctx, "context", "maintain", "--context-id", contextID, "--loop-id", loopID)
	if err != nil {
		if strings.Contains(strings.ToLower(string(stderr)), "not found") {
			m.mu.Lock()
			delete(m.contexts, loopID)
			m.mu.Unlock()
			m.logger.Printf("[judgectx] keepAlive: context %s reported not found, dropping mapping", contextID)
			return
		}
		m.logger.Printf("[judgectx] keepAlive failed for loopId=%s: %v", loopID, err)
	}
}

// Terminate is idempotent. It always clears the in-memory mapping even if
// the subcommand itself fails, preventing context leaks under
// partial-failure; any subcommand error is fire-and-forget logged.
func (m *Manager) Terminate(ctx context.Context, loopID string, reason TerminateReason) {
	m.mu.Lock()
	e, ok := m.contexts[loopID]
	if ok {
		e.terminated = true
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	_, _, err := m.run(ctx, "context", "terminate", "--context-id", e.contextID, "--reason", string(reason))
	if err != nil {
		m.logger.Printf("[judgectx] terminate failed for loopId=%s reason=%s: %v", loopID, reason, err)
	}
}

// TerminateAll runs terminations for every known loopId in parallel and
// ignores individual errors. Used at shutdown and under emergency cleanup.
func (m *Manager) TerminateAll(ctx context.Context, reason TerminateReason) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.contexts))
	for loopID, e := range m.contexts {
		if !e.terminated {
			ids = append(ids, loopID)
		}
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, loopID := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.Terminate(ctx, id, reason)
		}(loopID)
	}
	wg.Wait()
}

// SweepStale probes each known live contextId via `context status` and
// drops the mapping when the probe fails.
func (m *Manager) SweepStale(ctx context.Context) {
	m.mu.Lock()
	type probe struct {
		loopID    string
		contextID string
	}
	var probes []probe
	for loopID, e := range m.contexts {
		if !e.terminated {
			probes = append(probes, probe{loopID: loopID, contextID: e.contextID})
		}
	}
	m.mu.Unlock()

	for _, p := range probes {
		_, _, err := m.run(ctx, "context", "status", "--context-id", p.contextID)
		if err != nil {
			m.mu.Lock()
			delete(m.contexts, p.loopID)
			m.mu.Unlock()
			m.logger.Printf("[judgectx] sweepStale: dropped stale context for loopId=%s", p.loopID)
		}
	}
}

// Active reports whether loopID currently has a live (non-terminated)
// context mapping.
func (m *Manager) Active(loopID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.contexts[loopID]
	return ok && !e.terminated
}

// Restore re-populates a mapping from a persisted session record, used on
// process restart to recover context manager state without re-invoking
// `context start`.
func (m *Manager) Restore(loopID, contextID string) {
	if loopID == "" || contextID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contexts[loopID]; !ok {
		m.contexts[loopID] = &entry{contextID: contextID}
	}
}

func (m *Manager) run(ctx context.Context, args ...string) (stdout, stderr []byte, err error) {
	fullArgs := append(append([]string{}, m.extraArgs...), args...)
	cmd := m.cmdRunner(ctx, m.executable, fullArgs...)
	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	if runErr := cmd.Run(); runErr != nil {
		return []byte(outBuf.String()), []byte(errBuf.String()), fmt.Errorf("%s: %w", strings.Join(fullArgs, " "), runErr)
	}
	return []byte(outBuf.String()), []byte(errBuf.String()), nil
}

package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ganaudit/ganauditd/internal/config"
	"github.com/ganaudit/ganauditd/internal/obslog"
	"github.com/ganaudit/ganauditd/internal/thought"
)

// writeFakeJudge drops a shell script masquerading as the judge binary: it
// answers `exec` with a canned review and any `context` subcommand with a
// stable ok/stdout, so the engine can run its full sequence without a real
// judge process.
func writeFakeJudge(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fakejudge.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func newTestEngine(t *testing.T, judgePath string, timeoutMillis int) *Engine {
	t.Helper()
	cfg := &config.Config{}
	cfg.Judge.Executable = judgePath
	cfg.Judge.AuditTimeoutMillis = timeoutMillis
	cfg.Cache.Capacity = 100
	cfg.Cache.TTL = time.Minute
	cfg.Queue.Concurrency = 4
	cfg.History.MaxIterationsInMemory = 100
	cfg.History.MaxMemoryUsageBytes = 10 * 1024 * 1024
	cfg.Session.StateDir = t.TempDir()
	cfg.Session.DefaultThreshold = 85

	logger := obslog.New("test")
	e, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	return e
}

func codeBlock(body string) string {
	return "```go\n" + body + "\n```"
}

func TestTierOneFastPass(t *testing.T) {
	judgePath := writeFakeJudge(t, `
if [ "$1" = "exec" ]; then
  case "$2" in
    *score80*) echo '{"overall":80,"verdict":"revise"}' ;;
    *score92*) echo '{"overall":92,"verdict":"revise"}' ;;
    *) echo '{"overall":96,"verdict":"pass"}' ;;
  esac
fi
`)
	e := newTestEngine(t, judgePath, 2000)
	ctx := context.Background()
	repoDir := t.TempDir()

	resp1, err := e.Process(ctx, repoDir, thought.Thought{
		Text: codeBlock("score80 body v1"), Number: 1, TotalEstimate: 1, NextThoughtNeeded: true, BranchID: "s1",
	})
	require.NoError(t, err)
	assert.False(t, resp1.Review.CompletionStatus.IsComplete)

	resp2, err := e.Process(ctx, repoDir, thought.Thought{
		Text: codeBlock("score92 body v2"), Number: 2, TotalEstimate: 2, NextThoughtNeeded: true, BranchID: "s1",
	})
	require.NoError(t, err)
	assert.False(t, resp2.Review.CompletionStatus.IsComplete)

	resp3, err := e.Process(ctx, repoDir, thought.Thought{
		Text: codeBlock("score96 body v3"), Number: 3, TotalEstimate: 3, NextThoughtNeeded: true, BranchID: "s1",
	})
	require.NoError(t, err)
	assert.True(t, resp3.Review.CompletionStatus.IsComplete)
	assert.Equal(t, "score_95_at_10", resp3.Review.CompletionStatus.Reason)
	assert.Equal(t, 3, resp3.Review.CompletionStatus.CurrentLoop)
}

func TestSessionCompleteIsIdempotent(t *testing.T) {
	judgePath := writeFakeJudge(t, `echo '{"overall":96,"verdict":"pass"}'`)
	e := newTestEngine(t, judgePath, 2000)
	ctx := context.Background()
	repoDir := t.TempDir()

	for i := 1; i <= 3; i++ {
		_, err := e.Process(ctx, repoDir, thought.Thought{
			Text: codeBlock(fmt.Sprintf("body v%d", i)), Number: i, TotalEstimate: i, NextThoughtNeeded: true, BranchID: "s2",
		})
		require.NoError(t, err)
	}

	resp, err := e.Process(ctx, repoDir, thought.Thought{
		Text: codeBlock("body v4"), Number: 4, TotalEstimate: 4, NextThoughtNeeded: true, BranchID: "s2",
	})
	require.NoError(t, err)
	assert.True(t, resp.Review.CompletionStatus.IsComplete)
	assert.Equal(t, 96, resp.Review.CompletionStatus.Score)
}

func TestNonCodeThoughtSkipsAudit(t *testing.T) {
	judgePath := writeFakeJudge(t, `echo 'should not be called'; exit 1`)
	e := newTestEngine(t, judgePath, 2000)
	ctx := context.Background()
	repoDir := t.TempDir()

	resp, err := e.Process(ctx, repoDir, thought.Thought{
		Text: "just thinking about the approach, no code yet", Number: 1, TotalEstimate: 1, NextThoughtNeeded: true, BranchID: "s3",
	})
	require.NoError(t, err)
	assert.Nil(t, resp.Review)
}

func TestValidateRejectsZeroThoughtNumber(t *testing.T) {
	judgePath := writeFakeJudge(t, `echo '{}'`)
	e := newTestEngine(t, judgePath, 2000)
	_, err := e.Process(context.Background(), t.TempDir(), thought.Thought{Number: 0, TotalEstimate: 1})
	assert.Error(t, err)
}

func TestGanConfigBlockOverridesThreshold(t *testing.T) {
	judgePath := writeFakeJudge(t, `echo '{"overall":88,"verdict":"pass"}'`)
	e := newTestEngine(t, judgePath, 2000)
	ctx := context.Background()
	repoDir := t.TempDir()

	text := "```gan-config\n{\"threshold\": 80}\n```\n" + codeBlock("body")
	resp, err := e.Process(ctx, repoDir, thought.Thought{
		Text: text, Number: 1, TotalEstimate: 1, NextThoughtNeeded: true, BranchID: "s4",
	})
	require.NoError(t, err)
	assert.Equal(t, 80, resp.Review.CompletionStatus.Threshold)
}

// Package judge invokes the external judge command-line process and
// parses its stdout into a structured review. The judge is an opaque
// oracle: this package fences time and isolates process lifecycle without
// being forgiving about output schema.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/ganaudit/ganauditd/internal/errkind"
	"github.com/ganaudit/ganauditd/internal/thought"
)

// Runner spawns the configured judge binary and parses its output.
type Runner struct {
	Executable string
	ExtraArgs  []string
}

// NewRunner builds a Runner for the given judge executable.
func NewRunner(executable string, extraArgs ...string) *Runner {
	return &Runner{Executable: executable, ExtraArgs: extraArgs}
}

// Run invokes `<executable> exec <prompt>`, enforces timeout, and returns a
// normalized Review. On any recoverable failure it returns a defaulted
// Review alongside an *errkind.Error describing what happened — callers
// decide whether to surface the error or just use the fallback review.
func (r *Runner) Run(ctx context.Context, prompt string, timeout time.Duration) (thought.Review, *errkind.Error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, r.ExtraArgs...), "exec", prompt)
	cmd := exec.CommandContext(runCtx, r.Executable, args...)
	cmd.Stdin = nil

	stdout, stderr, exitCode, spawnErr := executeAndCollect(cmd)
	if spawnErr != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			review := fallbackReview(stdout)
			return review, errkind.New(errkind.JudgeTimeout, "", spawnErr, errkind.Suggestions(errkind.JudgeTimeout)...)
		}
		review := fallbackReview(nil)
		return review, errkind.New(errkind.JudgeUnavailable, spawnErr.Error(), spawnErr, errkind.Suggestions(errkind.JudgeUnavailable)...)
	}

	if runCtx.Err() == context.DeadlineExceeded {
		review := fallbackReview(stdout)
		return review, errkind.New(errkind.JudgeTimeout, "", nil, errkind.Suggestions(errkind.JudgeTimeout)...)
	}

	if exitCode != 0 {
		detail := string(stderr)
		if len(detail) > 500 {
			detail = detail[:500]
		}
		review := fallbackReview(stdout)
		return review, errkind.New(errkind.JudgeUnavailable, detail, fmt.Errorf("exit code %d", exitCode), errkind.Suggestions(errkind.JudgeUnavailable)...)
	}

	review, ok := Parse(stdout)
	if !ok {
		fallback := fallbackReview(stdout)
		return fallback, errkind.New(errkind.JudgeUnparseable, "", nil, errkind.Suggestions(errkind.JudgeUnparseable)...)
	}
	review.Normalize()
	return review, nil
}

// Parse strictly parses raw as a single JSON Review object; on failure it
// falls back to greedy trailing-object extraction. Returns ok=false if no
// object could be extracted at all.
func Parse(raw []byte) (thought.Review, bool) {
	var rev thought.Review
	if err := json.Unmarshal(raw, &rev); err == nil {
		return rev, true
	}
	candidate := extractTrailingObject(raw)
	if candidate == nil {
		return thought.Review{}, false
	}
	if err := json.Unmarshal(candidate, &rev); err != nil {
		return thought.Review{}, false
	}
	return rev, true
}

// extractTrailingObject walks raw left to right, tracking every '{' that
// opens a candidate object and its matching brace depth, and keeps the
// last candidate whose braces balance by EOF. Braces inside string
// literals are ignored via a simple quote-tracking scan.
func extractTrailingObject(raw []byte) []byte {
	var starts []int
	depth := 0
	inString := false
	escaped := false
	var lastComplete []byte

	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				starts = append(starts, i)
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && len(starts) > 0 {
					start := starts[len(starts)-1]
					starts = starts[:len(starts)-1]
					lastComplete = raw[start : i+1]
				}
			}
		}
	}
	return lastComplete
}

// fallbackReview builds a minimal, schema-valid Review when the judge
// could not be run or its output could not be trusted. It best-effort
// recovers an overall score from whatever raw bytes were captured.
func fallbackReview(raw []byte) thought.Review {
	rev := thought.Review{Verdict: thought.VerdictRevise, Summary: "judge output unavailable or unparseable; defaulted review"}
	if candidate, ok := Parse(raw); ok {
		rev.Overall = candidate.Overall
		if candidate.Summary != "" {
			rev.Summary = candidate.Summary
		}
	}
	rev.Normalize()
	return rev
}

func executeAndCollect(cmd *exec.Cmd) (stdoutBytes, stderrBytes []byte, exitCode int, err error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, 0, fmt.Errorf("spawn: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(&stdoutBuf, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(&stderrBuf, stderrPipe)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.Bytes(), stderrBuf.Bytes(), 0, waitErr
		}
	}
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), exitCode, nil
}

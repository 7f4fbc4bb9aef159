// Package contextpack builds the repository excerpt string fed to the
// judge, scope-dependent on the session's SessionConfig.
package contextpack

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ganaudit/ganauditd/internal/thought"
)

// MaxWorkspaceBytes bounds the `workspace` scope's walk so a large
// repository doesn't blow the judge's prompt budget.
const MaxWorkspaceBytes = 64 * 1024

// BuildContextPack assembles the context string for cfg's scope, rooted
// at repoDir.
func BuildContextPack(ctx context.Context, cfg thought.SessionConfig, repoDir string) (string, error) {
	switch cfg.Scope {
	case thought.ScopePaths:
		return buildFromPaths(cfg.Paths, repoDir)
	case thought.ScopeWorkspace:
		return buildFromWorkspace(repoDir)
	case thought.ScopeDiff, "":
		return buildFromDiff(ctx, repoDir)
	default:
		return "", fmt.Errorf("unknown context pack scope %q", cfg.Scope)
	}
}

func buildFromDiff(ctx context.Context, repoDir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "HEAD")
	cmd.Dir = repoDir
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git diff: %w (%s)", err, stderr.String())
	}
	return out.String(), nil
}

func buildFromPaths(paths []string, repoDir string) (string, error) {
	if len(paths) == 0 {
		return "", fmt.Errorf("scope=paths requires at least one path")
	}
	var buf bytes.Buffer
	for _, p := range paths {
		full := filepath.Join(repoDir, p)
		data, err := os.ReadFile(full)
		if err != nil {
			fmt.Fprintf(&buf, "--- %s (unreadable: %v) ---\n", p, err)
			continue
		}
		fmt.Fprintf(&buf, "--- %s ---\n%s\n", p, data)
	}
	return buf.String(), nil
}

func buildFromWorkspace(repoDir string) (string, error) {
	var buf bytes.Buffer
	remaining := MaxWorkspaceBytes

	summary := verifyStackSummary(repoDir)
	buf.WriteString(summary)
	remaining -= len(summary)

	err := filepath.Walk(repoDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if remaining <= 0 {
			return nil
		}

		f, openErr := os.Open(path)
		if openErr != nil {
			return nil
		}
		defer f.Close()

		rel, _ := filepath.Rel(repoDir, path)
		header := fmt.Sprintf("--- %s ---\n", rel)
		buf.WriteString(header)
		remaining -= len(header)

		lineScanner := bufio.NewScanner(f)
		for lineScanner.Scan() && remaining > 0 {
			line := lineScanner.Text()
			buf.WriteString(line)
			buf.WriteByte('\n')
			remaining -= len(line) + 1
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk workspace: %w", err)
	}
	return buf.String(), nil
}

// verifyStack names the command a judge should cite when it claims a
// candidate's tests pass (or don't) for a given toolchain marker file.
type verifyStack struct {
	language    string
	testCommand string
}

// stackMarkers maps a toolchain's marker file to the stack whose presence
// it indicates. Checked in order; the first match wins, since a repo is
// rarely more than one primary toolchain at its root.
var stackMarkers = []struct {
	marker string
	stack  verifyStack
}{
	{"go.mod", verifyStack{"Go", "go test ./..."}},
	{"Cargo.toml", verifyStack{"Rust", "cargo test"}},
	{"pyproject.toml", verifyStack{"Python", "pytest"}},
	{"requirements.txt", verifyStack{"Python", "pytest"}},
	{"package.json", verifyStack{"JavaScript/TypeScript", "npm test"}},
	{"pom.xml", verifyStack{"Java", "mvn test"}},
	{"build.gradle", verifyStack{"Java/Kotlin", "./gradlew test"}},
	{"Gemfile", verifyStack{"Ruby", "bundle exec rspec"}},
}

// verifyStackSummary renders a one-line header naming the toolchain a judge
// should invoke to confirm a candidate's tests actually pass, rather than
// taking a claimed fix on faith. Empty if no recognized marker is present.
func verifyStackSummary(repoDir string) string {
	for _, m := range stackMarkers {
		if _, err := os.Stat(filepath.Join(repoDir, m.marker)); err == nil {
			return fmt.Sprintf("--- verification ---\nstack: %s\nto verify a fix: %s\n\n", m.stack.language, m.stack.testCommand)
		}
	}
	return ""
}

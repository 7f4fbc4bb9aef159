// Package scope checks that a candidate's unified diff only touches files
// within the paths a session's config allows.
package scope

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Validator checks diff hunks against an allow-list of paths.
type Validator struct {
	AllowedPaths []string
}

// NewValidator builds a Validator for the given allowed path prefixes.
func NewValidator(allowedPaths []string) *Validator {
	return &Validator{AllowedPaths: allowedPaths}
}

// Result reports which touched files fell outside the allowed paths.
type Result struct {
	Valid           bool
	OutOfScopeFiles []string
	TotalFiles      int
}

var diffFileHeader = regexp.MustCompile(`(?m)^\+\+\+ (?:b/)?(.+)$`)

// ValidateDiff extracts every file path touched by a unified diff and
// checks each one falls under an allowed path. An empty allow-list
// permits everything, matching the "scope not configured" case.
func (v *Validator) ValidateDiff(diff string) *Result {
	if len(v.AllowedPaths) == 0 {
		return &Result{Valid: true}
	}

	matches := diffFileHeader.FindAllStringSubmatch(diff, -1)
	result := &Result{Valid: true, TotalFiles: len(matches)}
	for _, m := range matches {
		file := strings.TrimSpace(m[1])
		if file == "" || file == "/dev/null" {
			continue
		}
		if !v.isInScope(file) {
			result.OutOfScopeFiles = append(result.OutOfScopeFiles, file)
			result.Valid = false
		}
	}
	return result
}

func (v *Validator) isInScope(file string) bool {
	file = filepath.Clean(file)
	for _, allowed := range v.AllowedPaths {
		allowed = filepath.Clean(allowed)
		if file == allowed || strings.HasPrefix(file, allowed+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// FormatViolation renders a human-readable summary of an out-of-scope
// result, used as a FailureLogEntry message.
func (v *Validator) FormatViolation(result *Result) string {
	if result.Valid {
		return ""
	}
	return fmt.Sprintf("candidate touches %d file(s) outside configured paths: %s",
		len(result.OutOfScopeFiles), strings.Join(result.OutOfScopeFiles, ", "))
}

// Package errkind classifies the recoverable failures the audit core can
// hit while serving a thought. Every kind carries a recoverability flag and
// a short list of human-actionable suggestions; none of them are meant to
// reach the transport as a raw error — C8 converts them into structured
// responses per the propagation policy.
package errkind

import "fmt"

// Kind names one classified failure mode.
type Kind string

const (
	JudgeUnavailable    Kind = "judgeUnavailable"
	JudgeTimeout        Kind = "judgeTimeout"
	JudgeUnparseable    Kind = "judgeUnparseable"
	JudgeSchemaInvalid  Kind = "judgeSchemaInvalid"
	InvalidCodeFormat   Kind = "invalidCodeFormat"
	SessionCorruption   Kind = "sessionCorruption"
	SessionNotFound     Kind = "sessionNotFound"
	QueueFull           Kind = "queueFull"
	ScopeViolation      Kind = "scopeViolation"
)

// recoverable reports whether the kind is ever handled without surfacing a
// hard transport failure. sessionNotFound is "n/a" in the table — it isn't
// an error at all, a fresh session is just created — so it's treated as
// recoverable here too.
var recoverable = map[Kind]bool{
	JudgeUnavailable:   true,
	JudgeTimeout:       true,
	JudgeUnparseable:   true,
	JudgeSchemaInvalid: true,
	InvalidCodeFormat:  true,
	SessionCorruption:  true,
	SessionNotFound:    true,
	QueueFull:          true,
	ScopeViolation:     true,
}

// Recoverable reports whether k is ever handled inline rather than
// propagated as a hard transport-level failure.
func (k Kind) Recoverable() bool {
	return recoverable[k]
}

// Error is the structured error value every component returns instead of a
// bare error string, carrying enough context for C8 to build a diagnostic
// note without re-deriving it.
type Error struct {
	Kind    Kind
	Detail  string // sub-kind or extra context, e.g. the corruption field
	Cause   error
	Suggest []string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind with the given suggestions.
func New(kind Kind, detail string, cause error, suggest ...string) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause, Suggest: suggest}
}

// Suggestions returns the default actionable guidance for a kind when the
// caller didn't supply anything more specific.
func Suggestions(kind Kind) []string {
	switch kind {
	case JudgeUnavailable:
		return []string{"verify the judge command is installed and on PATH", "retry the call"}
	case JudgeTimeout:
		return []string{"shrink the context pack scope", "raise auditTimeoutMillis"}
	case JudgeUnparseable, JudgeSchemaInvalid:
		return []string{"check the judge command's output format", "the audit continued with a defaulted review"}
	case InvalidCodeFormat:
		return []string{"resubmit the thought with a plain code block"}
	case SessionCorruption:
		return []string{"the session was repaired automatically", "resubmit if results look wrong"}
	case SessionNotFound:
		return []string{"a fresh session was created for this id"}
	case QueueFull:
		return []string{"retry shortly", "no state was mutated by this call"}
	case ScopeViolation:
		return []string{"keep changes within the configured paths", "the audit still ran against the full candidate"}
	default:
		return nil
	}
}

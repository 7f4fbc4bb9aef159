package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleDiff(files ...string) string {
	diff := ""
	for _, f := range files {
		diff += "--- a/" + f + "\n+++ b/" + f + "\n@@ -1 +1 @@\n-old\n+new\n"
	}
	return diff
}

func TestValidateDiffAllowsFilesUnderAllowedPath(t *testing.T) {
	v := NewValidator([]string{"packages/core"})
	result := v.ValidateDiff(sampleDiff("packages/core/src/index.ts"))
	assert.True(t, result.Valid)
	assert.Empty(t, result.OutOfScopeFiles)
}

func TestValidateDiffFlagsFilesOutsideAllowedPath(t *testing.T) {
	v := NewValidator([]string{"packages/core"})
	result := v.ValidateDiff(sampleDiff("packages/core/src/index.ts", "packages/other/x.go"))
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"packages/other/x.go"}, result.OutOfScopeFiles)
}

func TestValidateDiffWithNoAllowedPathsPermitsEverything(t *testing.T) {
	v := NewValidator(nil)
	result := v.ValidateDiff(sampleDiff("anywhere/file.go"))
	assert.True(t, result.Valid)
}

func TestFormatViolationDescribesOffendingFiles(t *testing.T) {
	v := NewValidator([]string{"packages/core"})
	result := v.ValidateDiff(sampleDiff("packages/other/x.go"))
	msg := v.FormatViolation(result)
	assert.Contains(t, msg, "packages/other/x.go")
}

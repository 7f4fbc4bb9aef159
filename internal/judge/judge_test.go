package judge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTrailingObjectFindsLastBalanced(t *testing.T) {
	raw := []byte(`garbage prefix {"a": 1} noise {"overall": 72, "verdict": "pass", "nested": {"x": 1}}`)
	got := extractTrailingObject(raw)
	require.NotNil(t, got)

	review, ok := Parse(got)
	require.True(t, ok)
	assert.Equal(t, 72, review.Overall)
}

func TestParsePrefersStrictWholeStdout(t *testing.T) {
	raw := []byte(`{"overall": 88, "verdict": "pass"}`)
	review, ok := Parse(raw)
	require.True(t, ok)
	assert.Equal(t, 88, review.Overall)
}

func TestParseReturnsFalseOnNoObject(t *testing.T) {
	_, ok := Parse([]byte("not json at all"))
	assert.False(t, ok)
}

func TestFallbackReviewDefaultsVerdictToRevise(t *testing.T) {
	rev := fallbackReview(nil)
	assert.Equal(t, "revise", string(rev.Verdict))
	assert.GreaterOrEqual(t, rev.Overall, 0)
	assert.LessOrEqual(t, rev.Overall, 100)
}

func TestRunnerTimeoutProducesRevisedFallback(t *testing.T) {
	r := NewRunner("sh", "-c", `printf '{"overall": 72, "verd'; sleep 2`)
	review, kerr := r.Run(context.Background(), "ignored", 50*time.Millisecond)
	require.NotNil(t, kerr)
	assert.Equal(t, "judgeTimeout", string(kerr.Kind))
	assert.Equal(t, "revise", string(review.Verdict))
}

func TestRunnerUnavailableOnMissingExecutable(t *testing.T) {
	r := NewRunner("ganaudit-nonexistent-binary-xyz")
	_, kerr := r.Run(context.Background(), "ignored", time.Second)
	require.NotNil(t, kerr)
	assert.Equal(t, "judgeUnavailable", string(kerr.Kind))
}

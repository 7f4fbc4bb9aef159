package obslog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogWritesOneJSONLine(t *testing.T) {
	var buf bytes.Buffer
	l := New("sess1")
	l.primary = &buf

	l.Info("hello %s", "world")

	var entry Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, SeverityInfo, entry.Severity)
	assert.Equal(t, "hello world", entry.Message)
	assert.Equal(t, "sess1", entry.SessionID)
}

func TestLogScrubsSecretsFromMessage(t *testing.T) {
	var buf bytes.Buffer
	l := New("sess1")
	l.primary = &buf

	l.Warning("found api_key=%s in context pack", "abcdefghijklmnopqrstuvwxyz012345")

	assert.NotContains(t, buf.String(), "abcdefghijklmnopqrstuvwxyz012345")
	assert.Contains(t, buf.String(), "REDACTED")
}

func TestLogAfterCloseIsNoop(t *testing.T) {
	var buf bytes.Buffer
	l := New("sess1")
	l.primary = &buf
	require.NoError(t, l.Close())

	l.Info("should not appear")
	assert.Empty(t, buf.Bytes())
}

func TestSecondarySinkMirrorsEntries(t *testing.T) {
	var primary, secondary bytes.Buffer
	l := New("sess1", WithSecondarySink(&secondary))
	l.primary = &primary

	l.Debug("mirrored")

	assert.NotEmpty(t, primary.String())
	assert.Equal(t, primary.String(), secondary.String())
}

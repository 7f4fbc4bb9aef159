package judgectx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return NewManager("sh", nil, "-c", `
case "$3" in
  start) echo ctx-"$5" ;;
  maintain) exit 0 ;;
  terminate) exit 0 ;;
  status) exit 0 ;;
esac`)
}

func TestStartIsIdempotent(t *testing.T) {
	m := newTestManager()
	id1, err1 := m.Start(context.Background(), "loop-1")
	require.Nil(t, err1)
	require.NotEmpty(t, id1)

	id2, err2 := m.Start(context.Background(), "loop-1")
	require.Nil(t, err2)
	assert.Equal(t, id1, id2)
}

func TestTerminateIsIdempotent(t *testing.T) {
	m := newTestManager()
	id, err := m.Start(context.Background(), "loop-2")
	require.Nil(t, err)
	require.NotEmpty(t, id)

	m.Terminate(context.Background(), "loop-2", ReasonCompletion)
	assert.False(t, m.Active("loop-2"))
	m.Terminate(context.Background(), "loop-2", ReasonCompletion)
	assert.False(t, m.Active("loop-2"))
}

func TestTerminateOnUnknownLoopIDIsNoop(t *testing.T) {
	m := newTestManager()
	assert.NotPanics(t, func() {
		m.Terminate(context.Background(), "never-started", ReasonManual)
	})
}

func TestRestoreDoesNotOverwriteExistingMapping(t *testing.T) {
	m := newTestManager()
	id, err := m.Start(context.Background(), "loop-3")
	require.Nil(t, err)

	m.Restore("loop-3", "some-other-id")
	assert.True(t, m.Active("loop-3"))
	_ = id
}

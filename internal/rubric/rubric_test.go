package rubric

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithEmptyURLReturnsEmbedded(t *testing.T) {
	text, err := Load("", time.Second)
	require.NoError(t, err)
	assert.Contains(t, text, "correctness")
}

func TestLoadFetchesRemoteOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("custom rubric: speed only"))
	}))
	defer srv.Close()

	text, err := Load(srv.URL, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "custom rubric: speed only", text)
}

func TestLoadFallsBackToEmbeddedOnFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	text, err := Load(srv.URL, time.Second)
	require.NoError(t, err)
	assert.Contains(t, text, "correctness")
}

func TestLoadFallsBackOnUnreachableURL(t *testing.T) {
	text, err := Load("http://127.0.0.1:1/unreachable", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Contains(t, text, "correctness")
}

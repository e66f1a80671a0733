package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTranscribeReturnsCompletedOutput(t *testing.T) {
	t.Parallel()

	var gotBody runRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/runsync", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"status":"COMPLETED","output":{"transcription":"hello world"}}`)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "key", nil, 1, zap.NewNop())
	out, err := client.Transcribe(context.Background(), "https://cdn.example.com/ep.mp3")
	require.NoError(t, err)
	require.Equal(t, "hello world", out)
	require.Equal(t, "https://cdn.example.com/ep.mp3", gotBody.Input.Audio)
}

func TestTranscribeRejectsUnfinishedRun(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"FAILED","error":"out of credits"}`)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "key", nil, 1, zap.NewNop())
	_, err := client.Transcribe(context.Background(), "https://cdn.example.com/ep.mp3")
	require.ErrorContains(t, err, "FAILED")
	require.ErrorContains(t, err, "out of credits")
}

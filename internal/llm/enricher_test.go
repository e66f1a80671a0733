package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quickdigest/collector/internal/store"
)

func TestEnricherClassifyDecodesStructuredOutput(t *testing.T) {
	t.Parallel()

	const structured = `{"scores":{"surprising":1,"current_event":4,"newsworthy":4.5,"world_impact":3,"fluff":0,"marketing":0,"ragebait":0,"clickbait":1,"disturbing":0},"category":"technology","keywords":"go, databases","paywall":false,"rewordedTitle":"A neutral title"}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionJSON(structured))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "k", 5*time.Second)
	enricher := NewEnricher(client, nil, "gpt-4o-mini", "gpt-4o", 1, zap.NewNop())

	result, err := enricher.Classify(context.Background(), "A title", "some body")
	require.NoError(t, err)
	require.Equal(t, store.ClassifyVersion, result.Version)
	require.Equal(t, 4.5, result.Scores["newsworthy"])
	require.NotNil(t, result.Category)
	require.Equal(t, "technology", *result.Category)
	require.Equal(t, "go, databases", result.Keywords)
	require.Equal(t, "A neutral title", result.RewordedTitle)
	require.False(t, result.Paywall)
}

func TestEnricherTruncatesLongContent(t *testing.T) {
	t.Parallel()

	var promptLen int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		promptLen = len(body.Messages[0].Content)
		fmt.Fprint(w, completionJSON("summary"))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "k", 5*time.Second)
	enricher := NewEnricher(client, nil, "m", "m", 1, zap.NewNop())

	long := strings.Repeat("x", 2*maxPromptContent)
	_, err := enricher.Summarize(context.Background(), "t", long)
	require.NoError(t, err)
	require.Less(t, promptLen, maxPromptContent+1024, "prompt body is capped")
}

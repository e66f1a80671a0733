package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quickdigest/collector/internal/llm"
	"github.com/quickdigest/collector/internal/snapshot"
	"github.com/quickdigest/collector/internal/source"
	"github.com/quickdigest/collector/internal/store"
)

// newTestCollector wires a collector against a temp store and a stub
// completion endpoint that answers classification requests with structured
// output and everything else with a fixed summary.
func newTestCollector(t *testing.T) *Collector {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ResponseFormat any `json:"response_format"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if body.ResponseFormat != nil {
			fmt.Fprintf(w, `{"choices":[{"message":{"content":"{\"scores\":{\"surprising\":0,\"current_event\":0,\"newsworthy\":4,\"world_impact\":0,\"fluff\":0,\"marketing\":0,\"ragebait\":0,\"clickbait\":0,\"disturbing\":0},\"category\":\"technology\",\"keywords\":\"\",\"paywall\":false,\"rewordedTitle\":\"t\"}"},"finish_reason":"stop"}]}`)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"a model summary"},"finish_reason":"stop"}]}`)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "digest.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := zap.NewNop()
	client := llm.NewClient(srv.URL, "k", 5*time.Second)
	enricher := llm.NewEnricher(client, nil, "m", "m", 1, log)
	uploader := snapshot.NewUploader(snapshot.NewNoopProvider(log), st, dir, time.Hour, log)

	return &Collector{
		log:      log,
		store:    st,
		enricher: enricher,
		uploader: uploader,
	}
}

func TestEnrichSummarizesAndClassifiesTopLevel(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)
	ctx := context.Background()

	row, err := c.store.AddContent(ctx, "hn", store.ContentData{
		URL: "https://example.com/a", Title: "Story", Content: "body",
	})
	require.NoError(t, err)

	c.enrich(ctx, row)

	summary, ok, err := c.store.GetSummary(ctx, row.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a model summary", summary)

	has, err := c.store.HasClassifyResult(ctx, row.ID)
	require.NoError(t, err)
	require.True(t, has)
}

func TestEnrichChildNeedsParentSummary(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)
	ctx := context.Background()

	parent, err := c.store.AddContent(ctx, "hn", store.ContentData{
		URL: "https://example.com/a", Title: "Story", Content: "body",
	})
	require.NoError(t, err)
	child, err := c.store.AddContent(ctx, "hn", store.ContentData{
		URL: "https://example.com/a#c", Title: "comments", Content: "chatter",
		Kind: store.KindComments, ParentContentID: &parent.ID,
	})
	require.NoError(t, err)

	// Without the parent summary the child is skipped, not failed.
	c.enrich(ctx, child)
	_, ok, err := c.store.GetSummary(ctx, child.ID)
	require.NoError(t, err)
	require.False(t, ok)

	c.enrich(ctx, parent)
	c.enrich(ctx, child)

	_, ok, err = c.store.GetSummary(ctx, child.ID)
	require.NoError(t, err)
	require.True(t, ok)

	// Comment threads are summarized but never classified.
	has, err := c.store.HasClassifyResult(ctx, child.ID)
	require.NoError(t, err)
	require.False(t, has)
}

func TestEnrichSkipsDigestAndErrorKinds(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)
	ctx := context.Background()

	for _, kind := range []store.Kind{store.KindDigest, store.KindError} {
		row, err := c.store.AddContent(ctx, "hn", store.ContentData{
			URL: fmt.Sprintf("https://example.com/%s", kind), Title: "t", Kind: kind,
		})
		require.NoError(t, err)

		c.enrich(ctx, row)
		_, ok, err := c.store.GetSummary(ctx, row.ID)
		require.NoError(t, err)
		require.False(t, ok)
	}
}

type stubSource struct {
	id  string
	err error
	fn  func(ctx context.Context, st source.Store) error
}

func (s *stubSource) ID() string { return s.id }

func (s *stubSource) Fetch(ctx context.Context, st source.Store) error {
	if s.fn != nil {
		return s.fn(ctx, st)
	}
	return s.err
}

func TestFetchSourceRecordsOutcome(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)
	ctx := context.Background()
	freshness := store.SourceFreshness{DeltaSuccess: time.Hour, DeltaRetry: time.Minute}

	c.fetchSource(ctx, c.log, &stubSource{id: "good"})
	fresh, err := c.store.IsSourceFresh(ctx, "good", freshness)
	require.NoError(t, err)
	require.True(t, fresh)

	c.fetchSource(ctx, c.log, &stubSource{id: "bad", err: errors.New("boom")})
	fresh, err = c.store.IsSourceFresh(ctx, "bad", store.SourceFreshness{
		DeltaSuccess: time.Hour, DeltaRetry: time.Nanosecond,
	})
	require.NoError(t, err)
	require.False(t, fresh, "a failed run only counts within the retry delta")
}

func TestFetchSourceRecoversFromPanic(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)
	ctx := context.Background()

	require.NotPanics(t, func() {
		c.fetchSource(ctx, c.log, &stubSource{
			id: "panicky",
			fn: func(context.Context, source.Store) error { panic("exploded") },
		})
	})

	// The panic run is still recorded, as an error.
	fresh, err := c.store.IsSourceFresh(ctx, "panicky", store.SourceFreshness{
		DeltaSuccess: time.Hour, DeltaRetry: time.Hour,
	})
	require.NoError(t, err)
	require.True(t, fresh)
}

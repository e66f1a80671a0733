package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quickdigest/collector/internal/fetch"
	"github.com/quickdigest/collector/internal/store"
)

func rssDoc(items string) string {
	return `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Example Blog</title>` + items + `</channel></rss>`
}

func rssItem(title, link, guid string, published time.Time) string {
	return fmt.Sprintf(
		`<item><title>%s</title><link>%s</link><guid>%s</guid><pubDate>%s</pubDate></item>`,
		title, link, guid, published.Format(time.RFC1123Z))
}

func TestFeedSourceIngestsRecentItems(t *testing.T) {
	t.Parallel()

	now := time.Now()
	var feedXML string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed.xml":
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprint(w, feedXML)
		case "/fresh-article":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><head><title>Page title</title></head><body>article body</body></html>")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	feedXML = rssDoc(
		rssItem("Fresh article", srv.URL+"/fresh-article", "guid-fresh", now.Add(-time.Hour)) +
			rssItem("Stale article", srv.URL+"/stale-article", "guid-stale", now.Add(-10*24*time.Hour)) +
			rssItem("Known article", srv.URL+"/known-article", "guid-known", now.Add(-time.Hour)) +
			`<item><title>No link</title><guid>guid-nolink</guid><pubDate>` + now.Add(-time.Hour).Format(time.RFC1123Z) + `</pubDate></item>`)

	client := fetch.NewClient(5*time.Second, "test-agent")
	queues := fetch.NewQueueSet(time.Millisecond)
	pages := fetch.NewPages(queues, client, zap.NewNop())

	st := newFakeStore()
	st.freshHash["guid-known"] = true

	src := NewFeedSource("Example Blog", srv.URL+"/feed.xml",
		queues, client, pages, 3*24*time.Hour, 100*365*24*time.Hour, zap.NewNop())
	require.Equal(t, "feed:example-blog", src.ID())
	require.NoError(t, src.Fetch(context.Background(), st))

	added := st.added()
	require.Len(t, added, 1, "stale, known and linkless items are all skipped")

	c := added[0]
	require.Equal(t, srv.URL+"/fresh-article", c.URL)
	require.Equal(t, "Fresh article", c.Title, "feed title wins over page title")
	require.Equal(t, "guid-fresh", c.Hash)
	require.Equal(t, "article body", c.Content)
	require.Equal(t, store.KindArticle, c.Kind)
	require.NotNil(t, c.ContentTimestamp)

	require.NotNil(t, st.sourceData)
	require.Equal(t, "Example Blog", st.sourceData.Name)
}

type fakeTranscriber struct {
	calls []string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audioURL string) (string, error) {
	f.calls = append(f.calls, audioURL)
	return "transcript of " + audioURL, nil
}

func TestPodcastSourceTranscribesFreshEpisodes(t *testing.T) {
	t.Parallel()

	now := time.Now()
	feedXML := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Example Pod</title>
<item>
  <title>Episode 12</title>
  <link>https://pod.example.com/ep12</link>
  <guid>ep-12</guid>
  <pubDate>` + now.Add(-2*time.Hour).Format(time.RFC1123Z) + `</pubDate>
  <enclosure url="https://cdn.example.com/ep12.mp3" type="audio/mpeg" length="1"/>
</item>
<item>
  <title>Episode 11</title>
  <guid>ep-11</guid>
  <pubDate>` + now.Add(-2*time.Hour).Format(time.RFC1123Z) + `</pubDate>
</item>
<item>
  <title>Old episode</title>
  <guid>ep-01</guid>
  <pubDate>` + now.Add(-30*24*time.Hour).Format(time.RFC1123Z) + `</pubDate>
  <enclosure url="https://cdn.example.com/ep01.mp3" type="audio/mpeg" length="1"/>
</item>
</channel></rss>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, feedXML)
	}))
	t.Cleanup(srv.Close)

	client := fetch.NewClient(5*time.Second, "test-agent")
	queues := fetch.NewQueueSet(time.Millisecond)
	transcriber := &fakeTranscriber{}

	st := newFakeStore()
	src := NewPodcastSource("Example Pod", srv.URL,
		queues, client, transcriber, 3*24*time.Hour, 100*365*24*time.Hour, zap.NewNop())
	require.Equal(t, "podcast:example-pod", src.ID())
	require.NoError(t, src.Fetch(context.Background(), st))

	require.Equal(t, []string{"https://cdn.example.com/ep12.mp3"}, transcriber.calls,
		"only the recent episode with an enclosure is transcribed")

	added := st.added()
	require.Len(t, added, 1)
	c := added[0]
	require.Equal(t, "https://cdn.example.com/ep12.mp3", c.URL)
	require.Equal(t, "ep-12", c.Hash)
	require.Equal(t, "Episode 12", c.Title)
	require.Equal(t, store.KindPodcast, c.Kind)
	require.Equal(t, "transcript of https://cdn.example.com/ep12.mp3", c.Content)
	require.Equal(t, "https://pod.example.com/ep12", c.SourceURL)

	require.NotNil(t, st.sourceData)
	require.Equal(t, "Example Pod", st.sourceData.Name)
}

// slowTranscriber fails fast for "bad" audio and answers everything else
// after a delay, honoring cancellation.
type slowTranscriber struct{}

func (slowTranscriber) Transcribe(ctx context.Context, audioURL string) (string, error) {
	if strings.Contains(audioURL, "bad") {
		return "", errors.New("transcoder boom")
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(300 * time.Millisecond):
		return "late transcript", nil
	}
}

func TestPodcastSourceFailedEpisodeDoesNotCancelSiblings(t *testing.T) {
	t.Parallel()

	now := time.Now()
	episode := func(title, guid, audioURL string) string {
		return fmt.Sprintf(
			`<item><title>%s</title><guid>%s</guid><pubDate>%s</pubDate><enclosure url="%s" type="audio/mpeg" length="1"/></item>`,
			title, guid, now.Add(-time.Hour).Format(time.RFC1123Z), audioURL)
	}
	feedXML := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Example Pod</title>` +
		episode("Broken episode", "ep-bad", "https://cdn.example.com/bad.mp3") +
		episode("Good episode", "ep-good", "https://cdn.example.com/good.mp3") +
		`</channel></rss>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, feedXML)
	}))
	t.Cleanup(srv.Close)

	client := fetch.NewClient(5*time.Second, "test-agent")
	queues := fetch.NewQueueSet(time.Millisecond)

	st := newFakeStore()
	src := NewPodcastSource("Example Pod", srv.URL,
		queues, client, slowTranscriber{}, 3*24*time.Hour, 100*365*24*time.Hour, zap.NewNop())

	err := src.Fetch(context.Background(), st)
	require.ErrorContains(t, err, "transcoder boom")

	c, ok := st.byURL("https://cdn.example.com/good.mp3")
	require.True(t, ok, "a sibling episode must still be ingested after one fails")
	require.Equal(t, "late transcript", c.Content)
}

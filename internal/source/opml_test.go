package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadOPML(t *testing.T) {
	t.Parallel()

	const doc = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>Subscriptions</title></head>
  <body>
    <outline text="Feeds" title="Feeds">
      <outline text="Example Blog" type="rss" xmlUrl="https://example.com/feed.xml"/>
      <outline title="Titled Only" type="rss" xmlUrl="https://example.com/other.xml"/>
    </outline>
    <outline text="Top Level" type="rss" xmlUrl="https://example.com/top.xml"/>
  </body>
</opml>`

	path := filepath.Join(t.TempDir(), "feeds.opml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	feeds, err := ReadOPML(path)
	require.NoError(t, err)
	require.Equal(t, []FeedInfo{
		{Name: "Example Blog", URL: "https://example.com/feed.xml"},
		{Name: "Titled Only", URL: "https://example.com/other.xml"},
		{Name: "Top Level", URL: "https://example.com/top.xml"},
	}, feeds)
}

func TestReadOPMLMissingFile(t *testing.T) {
	t.Parallel()
	_, err := ReadOPML(filepath.Join(t.TempDir(), "absent.opml"))
	require.Error(t, err)
}

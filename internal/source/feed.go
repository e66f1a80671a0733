package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gosimple/slug"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quickdigest/collector/internal/fetch"
	"github.com/quickdigest/collector/internal/store"
)

// FeedSource ingests articles from one RSS or Atom feed. Items are
// deduplicated by guid when the feed provides one, by link otherwise, and
// only items published within the window are considered at all.
type FeedSource struct {
	name       string
	slug       string
	feedURL    string
	queues     *fetch.QueueSet
	client     *fetch.Client
	pages      *fetch.Pages
	window     time.Duration
	freshDelta time.Duration
	log        *zap.Logger
}

// NewFeedSource builds a feed source. freshDelta is effectively forever:
// a feed item once ingested is never refetched.
func NewFeedSource(name, feedURL string, queues *fetch.QueueSet, client *fetch.Client, pages *fetch.Pages, window, freshDelta time.Duration, log *zap.Logger) *FeedSource {
	s := slug.Make(name)
	return &FeedSource{
		name:       name,
		slug:       s,
		feedURL:    feedURL,
		queues:     queues,
		client:     client,
		pages:      pages,
		window:     window,
		freshDelta: freshDelta,
		log:        log.With(zap.String("source", "feed:"+s)),
	}
}

func (f *FeedSource) ID() string { return "feed:" + f.slug }

func (f *FeedSource) Fetch(ctx context.Context, st Store) error {
	parsed, err := fetchFeed(ctx, f.queues, f.client, f.feedURL)
	if err != nil {
		return fmt.Errorf("fetch feed %s: %w", f.slug, err)
	}

	// Items settle independently: one failure never cancels a sibling,
	// and every spawned item finishes before Fetch returns.
	threshold := time.Now().Add(-f.window)
	var g errgroup.Group
	var loopErr error
	for _, item := range parsed.Items {
		if item.PublishedParsed == nil || item.PublishedParsed.Before(threshold) {
			continue
		}
		if item.Link == "" {
			continue
		}

		_, fresh, err := st.FreshContentID(ctx, itemIdentity(item, item.Link, f.freshDelta))
		if err != nil {
			loopErr = err
			break
		}
		if fresh {
			continue
		}

		item := item
		g.Go(func() error {
			return f.fetchItem(ctx, st, item)
		})
	}

	itemErr := g.Wait()
	if loopErr != nil {
		return loopErr
	}
	if err := st.UpdateSource(ctx, store.SourceData{Name: f.name}); err != nil {
		return err
	}
	return itemErr
}

func (f *FeedSource) fetchItem(ctx context.Context, st Store, item *gofeed.Item) error {
	f.log.Info("fetching feed item",
		zap.String("guid", item.GUID), zap.String("url", item.Link))

	page := f.pages.Fetch(ctx, item.Link)
	data := contentFromPage(page)
	data.SourceURL = item.Link
	data.Hash = item.GUID
	data.ContentTimestamp = itemTimestamp(item)
	if item.Title != "" {
		data.Title = item.Title
	} else if data.Title == "" {
		data.Title = "untitled"
	}
	if author := itemAuthor(item); author != "" {
		data.Author = author
	}

	_, err := st.AddContent(ctx, data)
	return err
}

// Transcriber converts an audio url to transcript text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

// PodcastSource ingests episodes from one podcast feed: each fresh
// enclosure is transcribed and stored as a podcast content row.
type PodcastSource struct {
	slug        string
	feedURL     string
	queues      *fetch.QueueSet
	client      *fetch.Client
	transcriber Transcriber
	window      time.Duration
	freshDelta  time.Duration
	log         *zap.Logger
}

func NewPodcastSource(name, feedURL string, queues *fetch.QueueSet, client *fetch.Client, transcriber Transcriber, window, freshDelta time.Duration, log *zap.Logger) *PodcastSource {
	s := slug.Make(name)
	return &PodcastSource{
		slug:        s,
		feedURL:     feedURL,
		queues:      queues,
		client:      client,
		transcriber: transcriber,
		window:      window,
		freshDelta:  freshDelta,
		log:         log.With(zap.String("source", "podcast:"+s)),
	}
}

func (p *PodcastSource) ID() string { return "podcast:" + p.slug }

func (p *PodcastSource) Fetch(ctx context.Context, st Store) error {
	parsed, err := fetchFeed(ctx, p.queues, p.client, p.feedURL)
	if err != nil {
		return fmt.Errorf("fetch podcast feed %s: %w", p.slug, err)
	}

	// Episodes settle independently: one failure never cancels a sibling,
	// and every spawned episode finishes before Fetch returns.
	threshold := time.Now().Add(-p.window)
	var g errgroup.Group
	var loopErr error
	for _, item := range parsed.Items {
		if item.PublishedParsed == nil || item.PublishedParsed.Before(threshold) {
			continue
		}
		if len(item.Enclosures) == 0 || item.Enclosures[0].URL == "" {
			continue
		}
		audioURL := item.Enclosures[0].URL

		_, fresh, err := st.FreshContentID(ctx, itemIdentity(item, audioURL, p.freshDelta))
		if err != nil {
			loopErr = err
			break
		}
		if fresh {
			continue
		}

		item := item
		g.Go(func() error {
			return p.fetchEpisode(ctx, st, item, audioURL)
		})
	}

	itemErr := g.Wait()
	if loopErr != nil {
		return loopErr
	}
	name := parsed.Title
	if name == "" {
		name = p.slug
	}
	if err := st.UpdateSource(ctx, store.SourceData{Name: name}); err != nil {
		return err
	}
	return itemErr
}

func (p *PodcastSource) fetchEpisode(ctx context.Context, st Store, item *gofeed.Item, audioURL string) error {
	p.log.Info("fetching podcast episode",
		zap.String("guid", item.GUID), zap.String("url", audioURL))

	text, err := p.transcriber.Transcribe(ctx, audioURL)
	if err != nil {
		return fmt.Errorf("transcribe %s: %w", audioURL, err)
	}

	title := item.Title
	if title == "" {
		title = "untitled"
	}
	_, err = st.AddContent(ctx, store.ContentData{
		URL:              audioURL,
		Hash:             item.GUID,
		Title:            title,
		Author:           itemAuthor(item),
		ContentTimestamp: itemTimestamp(item),
		Content:          text,
		Kind:             store.KindPodcast,
		SourceURL:        item.Link,
	})
	return err
}

// fetchFeed retrieves and parses a feed through the per-origin queue, so
// feeds on the same host as page fetches share the politeness interval.
func fetchFeed(ctx context.Context, queues *fetch.QueueSet, client *fetch.Client, feedURL string) (*gofeed.Feed, error) {
	resp, err := fetch.Do(ctx, queues.ForURL(feedURL), func(ctx context.Context) (*http.Response, error) {
		return client.Get(ctx, feedURL)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("feed %s: status %d", feedURL, resp.StatusCode)
	}
	return gofeed.NewParser().Parse(resp.Body)
}

// itemIdentity prefers the feed's guid for dedup; the url only identifies
// an item when no guid exists.
func itemIdentity(item *gofeed.Item, url string, delta time.Duration) store.FreshQuery {
	if item.GUID != "" {
		return store.FreshQuery{Hash: item.GUID, Delta: delta}
	}
	return store.FreshQuery{URL: url, Delta: delta}
}

func itemTimestamp(item *gofeed.Item) *time.Time {
	if item.PublishedParsed == nil {
		return nil
	}
	t := item.PublishedParsed.UTC()
	return &t
}

func itemAuthor(item *gofeed.Item) string {
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return item.Authors[0].Name
	}
	if item.Author != nil {
		return item.Author.Name
	}
	return ""
}

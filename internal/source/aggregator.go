package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quickdigest/collector/internal/fetch"
	"github.com/quickdigest/collector/internal/store"
)

// aggregatorItem is one story extracted from an aggregator front page.
// HasDiscussion distinguishes real stories from entries like hiring ads
// where no discussion metadata exists at all.
type aggregatorItem struct {
	URL              string
	Title            string
	ContentTimestamp *time.Time
	DiscussionURL    string
	DiscussionCount  int
	HasDiscussion    bool
}

// Site describes one aggregator: where its front page lives and how to
// pull items out of the markup.
type Site struct {
	ID        string
	Name      string
	ShortName string
	BaseURL   string
	Extract   func(doc *goquery.Document) []aggregatorItem
}

// Aggregator scrapes a Site's front page and ingests each fresh story,
// attaching the discussion thread as a child when the story has drawn
// enough comments to be worth summarizing.
type Aggregator struct {
	site          Site
	pages         *fetch.Pages
	minDiscussion int
	freshDelta    time.Duration
	log           *zap.Logger
}

// NewAggregator builds an aggregator source. freshDelta is how long an
// already-seen story url suppresses refetching.
func NewAggregator(site Site, pages *fetch.Pages, minDiscussion int, freshDelta time.Duration, log *zap.Logger) *Aggregator {
	return &Aggregator{
		site:          site,
		pages:         pages,
		minDiscussion: minDiscussion,
		freshDelta:    freshDelta,
		log:           log.With(zap.String("source", site.ID)),
	}
}

func (a *Aggregator) ID() string { return a.site.ID }

func (a *Aggregator) Fetch(ctx context.Context, st Store) error {
	doc, err := a.pages.Document(ctx, a.site.BaseURL)
	if err != nil {
		return fmt.Errorf("fetch %s front page: %w", a.site.ID, err)
	}

	// Items settle independently: one failure never cancels a sibling,
	// and every spawned item finishes before Fetch returns.
	var g errgroup.Group
	var loopErr error
	for _, item := range a.site.Extract(doc) {
		if item.URL == "" || !item.HasDiscussion {
			continue
		}
		_, fresh, err := st.FreshContentID(ctx, store.FreshQuery{URL: item.URL, Delta: a.freshDelta})
		if err != nil {
			loopErr = err
			break
		}
		if fresh {
			continue
		}

		item := item
		g.Go(func() error {
			return a.fetchItem(ctx, st, item)
		})
	}

	itemErr := g.Wait()
	if loopErr != nil {
		return loopErr
	}
	if err := st.UpdateSource(ctx, store.SourceData{Name: a.site.Name, ShortName: a.site.ShortName}); err != nil {
		return err
	}
	return itemErr
}

func (a *Aggregator) fetchItem(ctx context.Context, st Store, item aggregatorItem) error {
	page := a.pages.Fetch(ctx, item.URL)
	data := contentFromPage(page)
	data.Title = item.Title
	data.ContentTimestamp = item.ContentTimestamp
	data.SourceURL = item.DiscussionURL

	parent, err := st.AddContent(ctx, data)
	if err != nil {
		return err
	}

	// The discussion is only worth a child row once there is an actual
	// discussion to summarize.
	if item.DiscussionCount < a.minDiscussion ||
		item.DiscussionURL == "" || item.DiscussionURL == item.URL {
		return nil
	}

	commentsPage := a.pages.Fetch(ctx, item.DiscussionURL)
	childData := contentFromPage(commentsPage)
	childData.Title = "comments"
	childData.Kind = store.KindComments
	if !commentsPage.OK {
		childData.Kind = store.KindError
	}
	childData.ContentTimestamp = item.ContentTimestamp
	childData.SourceURL = item.DiscussionURL
	childData.ParentContentID = &parent.ID

	_, err = st.AddContent(ctx, childData)
	return err
}

// contentFromPage maps a page fetch result onto a content row. A failed
// fetch still produces a row, marked with the error kind, so the url is
// not retried every pass.
func contentFromPage(page fetch.Page) store.ContentData {
	kind := store.KindArticle
	if !page.OK {
		kind = store.KindError
	}
	return store.ContentData{
		URL:     page.URL,
		Title:   page.Title,
		Author:  page.Author,
		Content: page.Text,
		Kind:    kind,
	}
}

// parseDiscussionCount pulls the leading number out of link text like
// "128 comments". Text without a number ("discuss") counts as zero.
func parseDiscussionCount(text string) int {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(fields[0], ",", ""))
	if err != nil {
		return 0
	}
	return n
}

// HackerNewsSite scrapes news.ycombinator.com. Story rows are .athing
// elements; the age and comment link live in the following subtext row.
// Rows with no subline (hiring ads) are dropped.
func HackerNewsSite() Site {
	const baseURL = "https://news.ycombinator.com"
	return Site{
		ID:        "hn",
		Name:      "Hacker News",
		ShortName: "HN",
		BaseURL:   baseURL,
		Extract: func(doc *goquery.Document) []aggregatorItem {
			var items []aggregatorItem
			doc.Find(".athing").Each(func(_ int, el *goquery.Selection) {
				link := el.Find(".titleline a").First()
				href, _ := link.Attr("href")
				subline := el.Next().Find(".subline").First()
				if href == "" || subline.Length() == 0 {
					return
				}

				item := aggregatorItem{
					URL:           resolveURL(href, baseURL),
					Title:         strings.TrimSpace(link.Text()),
					HasDiscussion: true,
				}

				if age, ok := el.Next().Find(".age").First().Attr("title"); ok {
					if fields := strings.Fields(age); len(fields) > 0 {
						item.ContentTimestamp = tryDate(fields[0]+"Z", time.RFC3339)
					}
				}

				comments := subline.Find("a").Last()
				item.DiscussionURL = resolveURL(comments.AttrOr("href", ""), baseURL)
				item.DiscussionCount = parseDiscussionCount(comments.Text())
				items = append(items, item)
			})
			return items
		},
	}
}

// TildesSite scrapes tildes.net. Topics are article elements with the
// title link, time and comment counts all inside the same element.
func TildesSite() Site {
	const baseURL = "https://tildes.net"
	return Site{
		ID:        "tildes",
		Name:      "Tildes",
		ShortName: "Tildes",
		BaseURL:   baseURL,
		Extract: func(doc *goquery.Document) []aggregatorItem {
			var items []aggregatorItem
			doc.Find("article").Each(func(_ int, el *goquery.Selection) {
				link := el.Find(".topic-title a").First()
				href, _ := link.Attr("href")
				itemURL := resolveURL(href, baseURL)
				if itemURL == "" {
					return
				}

				item := aggregatorItem{
					URL:   itemURL,
					Title: strings.TrimSpace(link.Text()),
				}

				if datetime, ok := el.Find("time").First().Attr("datetime"); ok {
					item.ContentTimestamp = tryDate(datetime, time.RFC3339)
				}

				comments := el.Find(".topic-info-comments a").First()
				if comments.Length() > 0 {
					item.HasDiscussion = true
					item.DiscussionURL = resolveURL(comments.AttrOr("href", ""), baseURL)
					item.DiscussionCount = parseDiscussionCount(comments.Text())
				}
				items = append(items, item)
			})
			return items
		},
	}
}

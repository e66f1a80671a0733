package fetch

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/quickdigest/collector/internal/metrics"
)

// Page is the extracted text of one fetched URL. OK is false when the fetch
// failed or the response wasn't HTML; callers store such pages with an error
// kind and an empty body rather than dropping them.
type Page struct {
	URL    string
	Title  string
	Author string
	Text   string
	OK     bool
}

// Pages fetches and extracts article pages through the origin queues.
type Pages struct {
	queues *QueueSet
	client *Client
	log    *zap.Logger
}

// NewPages builds a Pages extractor.
func NewPages(queues *QueueSet, client *Client, log *zap.Logger) *Pages {
	return &Pages{queues: queues, client: client, log: log}
}

// Document fetches url through its origin queue and parses it as HTML.
func (p *Pages) Document(ctx context.Context, url string) (*goquery.Document, error) {
	doc, err := Do(ctx, p.queues.ForURL(url), func(ctx context.Context) (*goquery.Document, error) {
		p.log.Info("web fetch", zap.String("url", url))
		resp, err := p.client.Get(ctx, url)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("get %s: status %d", url, resp.StatusCode)
		}

		mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		if mediaType != "text/html" && mediaType != "application/xhtml+xml" {
			return nil, fmt.Errorf("get %s: unexpected content type %q", url, mediaType)
		}

		doc, err := goquery.NewDocumentFromReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", url, err)
		}
		return doc, nil
	})
	if err != nil {
		metrics.ObserveFetch(url, "error")
		return nil, err
	}
	metrics.ObserveFetch(url, "ok")
	return doc, nil
}

// Fetch retrieves url and extracts its readable text. It never fails: a
// fetch or parse error yields a Page with OK=false and empty text.
func (p *Pages) Fetch(ctx context.Context, url string) Page {
	doc, err := p.Document(ctx, url)
	if err != nil {
		p.log.Warn("page fetch failed", zap.String("url", url), zap.Error(err))
		return Page{URL: url, Title: "unknown"}
	}

	doc.Find("script, style").Remove()

	author := strings.TrimSpace(doc.Find("[itemprop=author]").First().Text())
	body := doc.Find("[itemprop=text]").First()
	if body.Length() == 0 {
		body = doc.Find("body").First()
	}

	return Page{
		URL:    url,
		Title:  strings.TrimSpace(doc.Find("title").First().Text()),
		Author: author,
		Text:   collapseSpace(body.Text()),
		OK:     true,
	}
}

// collapseSpace trims the text and squeezes runs of blank lines left behind
// by removed markup.
func collapseSpace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

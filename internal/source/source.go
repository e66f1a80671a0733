// Package source holds the content sources: aggregator site scrapes, feed
// and podcast subscriptions, and the synthesized digest. Each source only
// sees the narrow Store facade bound to its own id.
package source

import (
	"context"
	"net/url"
	"time"

	"github.com/quickdigest/collector/internal/store"
)

// Source is one fetchable origin of content. Fetch does a full pass over
// whatever the source currently offers; a nil return means the run counts
// as a success.
type Source interface {
	ID() string
	Fetch(ctx context.Context, st Store) error
}

// Store is the view of persistence a source works through. Satisfied by
// *store.SourceStore.
type Store interface {
	Log(ctx context.Context, text string)
	AddContent(ctx context.Context, data store.ContentData) (store.Content, error)
	AddSummary(ctx context.Context, contentID int64, summary string) error
	UpdateSource(ctx context.Context, data store.SourceData) error
	FreshContentID(ctx context.Context, q store.FreshQuery) (int64, bool, error)
	ContentWithChildSummaries(ctx context.Context, since time.Duration) ([]store.ContentWithChildren, error)
}

// resolveURL makes href absolute against base. Returns "" when href is
// empty or unparseable.
func resolveURL(href, base string) string {
	if href == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}

// tryDate parses v with the given layouts, returning nil when nothing
// matches. Sources treat timestamps as best effort.
func tryDate(v string, layouts ...string) *time.Time {
	if v == "" {
		return nil
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

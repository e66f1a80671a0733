package store

import (
	"context"
	"time"
)

// OnContent is invoked after a content row is persisted, before AddContent
// returns. Enrichment hangs off this hook.
type OnContent func(ctx context.Context, c Content)

// SourceStore is the narrow view of the store a single source works
// through. Every write is tagged with the source's id, and persisted
// content flows through the OnContent hook.
type SourceStore struct {
	store     *Store
	sourceID  string
	onContent OnContent
}

// WithSource binds the store to one source id. A nil hook disables
// per-content callbacks.
func (s *Store) WithSource(sourceID string, hook OnContent) *SourceStore {
	return &SourceStore{store: s, sourceID: sourceID, onContent: hook}
}

// Log records a diagnostic line. Errors are dropped: logging must never
// fail a fetch.
func (ss *SourceStore) Log(ctx context.Context, text string) {
	_ = ss.store.Log(ctx, ss.sourceID, text)
}

// AddContent persists one unit of content and runs the hook on the stored
// row.
func (ss *SourceStore) AddContent(ctx context.Context, data ContentData) (Content, error) {
	c, err := ss.store.AddContent(ctx, ss.sourceID, data)
	if err != nil {
		return Content{}, err
	}
	if ss.onContent != nil {
		ss.onContent(ctx, c)
	}
	return c, nil
}

// AddSummary stores a precomputed summary, bypassing enrichment. Digest
// generation uses this.
func (ss *SourceStore) AddSummary(ctx context.Context, contentID int64, summary string) error {
	return ss.store.AddSummary(ctx, contentID, summary)
}

// UpdateSource upserts the source's display metadata.
func (ss *SourceStore) UpdateSource(ctx context.Context, data SourceData) error {
	return ss.store.UpdateSource(ctx, ss.sourceID, data)
}

// FreshContentID reports an existing matching row within the freshness
// window, so sources can skip refetching.
func (ss *SourceStore) FreshContentID(ctx context.Context, q FreshQuery) (int64, bool, error) {
	return ss.store.FreshContentID(ctx, q)
}

// ContentWithChildSummaries exposes recent enriched content; the digest
// source reads its input through this.
func (ss *SourceStore) ContentWithChildSummaries(ctx context.Context, since time.Duration) ([]ContentWithChildren, error) {
	return ss.store.ContentWithChildSummaries(ctx, since)
}

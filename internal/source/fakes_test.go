package source

import (
	"context"
	"sync"
	"time"

	"github.com/quickdigest/collector/internal/store"
)

// fakeStore records everything a source writes and lets tests mark
// identities as already fresh or inject per-url failures.
type fakeStore struct {
	mu         sync.Mutex
	nextID     int64
	contents   []store.Content
	summaries  map[int64]string
	sourceData *store.SourceData
	freshURLs  map[string]bool
	freshHash  map[string]bool
	addErr     map[string]error
	freshErr   map[string]error
	recent     []store.ContentWithChildren
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		summaries: make(map[int64]string),
		freshURLs: make(map[string]bool),
		freshHash: make(map[string]bool),
		addErr:    make(map[string]error),
		freshErr:  make(map[string]error),
	}
}

func (f *fakeStore) Log(context.Context, string) {}

func (f *fakeStore) AddContent(_ context.Context, data store.ContentData) (store.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.addErr[data.URL]; err != nil {
		return store.Content{}, err
	}
	f.nextID++
	c := store.Content{ContentData: data, ID: f.nextID, Timestamp: time.Now()}
	f.contents = append(f.contents, c)
	return c, nil
}

func (f *fakeStore) AddSummary(_ context.Context, contentID int64, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries[contentID] = summary
	return nil
}

func (f *fakeStore) UpdateSource(_ context.Context, data store.SourceData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sourceData = &data
	return nil
}

func (f *fakeStore) FreshContentID(_ context.Context, q store.FreshQuery) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.freshErr[q.URL]; err != nil {
		return 0, false, err
	}
	if q.URL == "" && q.Hash == "" {
		return 0, false, nil
	}
	if q.URL != "" && !f.freshURLs[q.URL] {
		return 0, false, nil
	}
	if q.Hash != "" && !f.freshHash[q.Hash] {
		return 0, false, nil
	}
	return 1, true, nil
}

func (f *fakeStore) ContentWithChildSummaries(context.Context, time.Duration) ([]store.ContentWithChildren, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recent, nil
}

func (f *fakeStore) added() []store.Content {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Content, len(f.contents))
	copy(out, f.contents)
	return out
}

func (f *fakeStore) byURL(url string) (store.Content, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.contents {
		if c.URL == url {
			return c, true
		}
	}
	return store.Content{}, false
}

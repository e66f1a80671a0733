package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testPeriod = 7 * 24 * time.Hour

func TestShouldRotateOncePerPeriod(t *testing.T) {
	t.Parallel()
	st, clock := openTestStore(t)
	ctx := context.Background()

	due, err := st.ShouldRotate(ctx, testPeriod)
	require.NoError(t, err)
	require.True(t, due, "a fresh database has never rotated")

	_, err = st.LogRotate(ctx)
	require.NoError(t, err)

	due, err = st.ShouldRotate(ctx, testPeriod)
	require.NoError(t, err)
	require.False(t, due, "rotation just happened")

	clock.Advance(3 * 24 * time.Hour)
	due, err = st.ShouldRotate(ctx, testPeriod)
	require.NoError(t, err)
	require.False(t, due, "still within the period")

	clock.Advance(5 * 24 * time.Hour)
	due, err = st.ShouldRotate(ctx, testPeriod)
	require.NoError(t, err)
	require.True(t, due)
}

func TestLogRotateRecordsExtents(t *testing.T) {
	t.Parallel()
	st, _ := openTestStore(t)
	ctx := context.Background()

	// Works on an empty content table too.
	id, err := st.LogRotate(ctx)
	require.NoError(t, err)
	require.NotZero(t, id)

	_, err = st.AddContent(ctx, "hn", ContentData{
		URL: "https://example.com/a", Title: "t", Content: "c",
	})
	require.NoError(t, err)

	id2, err := st.LogRotate(ctx)
	require.NoError(t, err)
	require.Greater(t, id2, id)
}

func TestTruncateRemovesOldContentAndChildren(t *testing.T) {
	t.Parallel()
	st, clock := openTestStore(t)
	ctx := context.Background()
	exists := func(url string) bool {
		_, ok, err := st.FreshContentID(ctx, FreshQuery{URL: url, Delta: 1000 * 24 * time.Hour})
		require.NoError(t, err)
		return ok
	}

	// Old parent with an old child.
	oldParent, err := st.AddContent(ctx, "hn", ContentData{
		URL: "https://example.com/old", Title: "old", Content: "c",
	})
	require.NoError(t, err)
	_, err = st.AddContent(ctx, "hn", ContentData{
		URL: "https://example.com/old#c", Title: "comments", Content: "c",
		Kind: KindComments, ParentContentID: &oldParent.ID,
	})
	require.NoError(t, err)
	require.NoError(t, st.AddSummary(ctx, oldParent.ID, "old summary"))
	require.NoError(t, st.Log(ctx, "hn", "old log line"))
	require.NoError(t, st.AddSourceResult(ctx, "hn", 100, StatusSuccess))

	// An old parent whose child arrives after the horizon: the child goes
	// with its parent regardless of its own age.
	oldParent2, err := st.AddContent(ctx, "hn", ContentData{
		URL: "https://example.com/old2", Title: "old2", Content: "c",
	})
	require.NoError(t, err)

	clock.Advance(8 * 24 * time.Hour)

	_, err = st.AddContent(ctx, "hn", ContentData{
		URL: "https://example.com/old2#c", Title: "comments", Content: "c",
		Kind: KindComments, ParentContentID: &oldParent2.ID,
	})
	require.NoError(t, err)

	newParent, err := st.AddContent(ctx, "hn", ContentData{
		URL: "https://example.com/new", Title: "new", Content: "c",
	})
	require.NoError(t, err)
	require.NoError(t, st.Log(ctx, "hn", "recent log line"))

	require.NoError(t, st.Truncate(ctx, testPeriod))

	require.False(t, exists("https://example.com/old"))
	require.False(t, exists("https://example.com/old#c"))
	require.False(t, exists("https://example.com/old2"))
	require.False(t, exists("https://example.com/old2#c"), "orphaned child must go with its parent")
	require.True(t, exists("https://example.com/new"))

	// The summary cascade removed the old parent's summary row.
	_, ok, err := st.GetSummary(ctx, oldParent.ID)
	require.NoError(t, err)
	require.False(t, ok)

	// Recent rows survive untouched.
	rows, err := st.ContentWithChildSummaries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, newParent.ID, rows[0].ID)
}

func TestTruncateTrimsRunHistoryButKeepsRotateLog(t *testing.T) {
	t.Parallel()
	st, clock := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AddSourceResult(ctx, "hn", 100, StatusSuccess))
	_, err := st.LogRotate(ctx)
	require.NoError(t, err)

	clock.Advance(8 * 24 * time.Hour)
	require.NoError(t, st.AddSourceResult(ctx, "hn", 200, StatusSuccess))

	require.NoError(t, st.Truncate(ctx, testPeriod))

	// The old run record is gone, so the source only looks fresh via the
	// recent one.
	fresh, err := st.IsSourceFresh(ctx, "hn", SourceFreshness{
		DeltaSuccess: 30 * 24 * time.Hour, DeltaRetry: time.Minute,
	})
	require.NoError(t, err)
	require.True(t, fresh)

	// rotateLog is retention history and survives, so rotation stays
	// suppressed by period even across truncations.
	due, err := st.ShouldRotate(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	require.False(t, due)
}

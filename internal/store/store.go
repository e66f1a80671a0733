// Package store owns the embedded SQLite database: content persistence with
// url-keyed upserts, freshness queries, enrichment rows, run history and
// retention rotation. All schema access goes through this package; sources
// see only the narrow SourceStore facade.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is a fixed-width UTC layout, so lexicographic comparison in
// SQL matches chronological order.
const timeLayout = "2006-01-02 15:04:05.000"

// Clock supplies the store's notion of now; injectable for tests.
type Clock func() time.Time

// Store wraps the single shared database handle.
type Store struct {
	db  *sql.DB
	now Clock
}

// Open opens (creating if needed) the database file at path and applies the
// schema. A nil clock uses time.Now.
func Open(path string, clock Clock) (*Store, error) {
	if clock == nil {
		clock = time.Now
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: clock}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) formatNow() string {
	return s.now().UTC().Format(timeLayout)
}

func (s *Store) threshold(delta time.Duration) string {
	return s.now().UTC().Add(-delta).Format(timeLayout)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// Log appends a free-text diagnostic line for a source. Best effort: no
// core component reads these back.
func (s *Store) Log(ctx context.Context, sourceID, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO log (timestamp, sourceId, text) VALUES (?, ?, ?)`,
		s.formatNow(), sourceID, text,
	)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// AddContent upserts one content row keyed by url. A conflicting insert
// refreshes title, content, kind and hash and bumps the ingestion timestamp;
// the same url never yields a second row. The upsert is a single statement,
// so concurrent calls for the same url are safe. The returned Content is
// the stored row: on conflict, columns the update leaves alone (sourceId,
// sourceURL, author, contentTimestamp, parentContentId) keep their prior
// values, not the caller's.
func (s *Store) AddContent(ctx context.Context, sourceID string, data ContentData) (Content, error) {
	if data.Kind == "" {
		data.Kind = KindArticle
	}
	now := s.formatNow()

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO content (timestamp, sourceId, sourceURL, url, title, author, contentTimestamp, content, kind, hash, parentContentId)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			kind = excluded.kind,
			hash = excluded.hash,
			timestamp = excluded.timestamp
		RETURNING `+contentColumns+`
	`,
		now, sourceID, nullStr(data.SourceURL), data.URL, data.Title,
		nullStr(data.Author), nullTime(data.ContentTimestamp), data.Content,
		string(data.Kind), nullStr(data.Hash), data.ParentContentID,
	)

	c, err := scanContent(row)
	if err != nil {
		return Content{}, fmt.Errorf("upsert content %q: %w", data.URL, err)
	}
	return c, nil
}

// FreshContentID returns the id of an existing row matching q within its
// delta, or ok=false. URL and hash predicates are ANDed when both are
// supplied: a match means the same row carries both.
func (s *Store) FreshContentID(ctx context.Context, q FreshQuery) (int64, bool, error) {
	if q.URL == "" && q.Hash == "" {
		return 0, false, nil
	}
	delta := q.Delta
	if delta <= 0 {
		delta = DefaultFreshDelta
	}

	preds := []string{"timestamp > ?"}
	args := []any{s.threshold(delta)}
	if q.URL != "" {
		preds = append(preds, "url = ?")
		args = append(args, q.URL)
	}
	if q.Hash != "" {
		preds = append(preds, "hash = ?")
		args = append(args, q.Hash)
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT contentId FROM content WHERE `+strings.Join(preds, " AND ")+` LIMIT 1`,
		args...,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query fresh content: %w", err)
	}
	return id, true, nil
}

// IsSourceFresh reports whether sourceID ran recently enough to skip:
// a success within DeltaSuccess, or any outcome within DeltaRetry. Failed
// sources become eligible again sooner than successful ones.
func (s *Store) IsSourceFresh(ctx context.Context, sourceID string, f SourceFreshness) (bool, error) {
	if f.DeltaSuccess <= 0 {
		f.DeltaSuccess = DefaultSourceFreshness.DeltaSuccess
	}
	if f.DeltaRetry <= 0 {
		f.DeltaRetry = DefaultSourceFreshness.DeltaRetry
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM updateLog
		WHERE sourceId = ? AND ((status = ? AND timestamp > ?) OR timestamp > ?)
	`,
		sourceID, int(StatusSuccess),
		s.threshold(f.DeltaSuccess), s.threshold(f.DeltaRetry),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query source freshness: %w", err)
	}
	return count > 0, nil
}

// AddSourceResult appends one run record for a source (or SystemSource).
func (s *Store) AddSourceResult(ctx context.Context, sourceID string, durationMs int64, status Status) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO updateLog (timestamp, sourceId, durationMs, status) VALUES (?, ?, ?, ?)`,
		s.formatNow(), sourceID, durationMs, int(status),
	)
	if err != nil {
		return fmt.Errorf("insert source result: %w", err)
	}
	return nil
}

// UpdateSource upserts a source's display metadata. An empty short name
// falls back to the name.
func (s *Store) UpdateSource(ctx context.Context, sourceID string, data SourceData) error {
	shortName := data.ShortName
	if shortName == "" {
		shortName = data.Name
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source (sourceId, name, shortName) VALUES (?, ?, ?)
		ON CONFLICT(sourceId) DO UPDATE SET name = excluded.name, shortName = excluded.shortName
	`, sourceID, data.Name, shortName)
	if err != nil {
		return fmt.Errorf("upsert source %q: %w", sourceID, err)
	}
	return nil
}

// AddSummary upserts the single current summary for a content row.
func (s *Store) AddSummary(ctx context.Context, contentID int64, contentSummary string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summary (timestamp, contentId, contentSummary) VALUES (?, ?, ?)
		ON CONFLICT(contentId) DO UPDATE SET
			contentSummary = excluded.contentSummary,
			timestamp = excluded.timestamp
	`, s.formatNow(), contentID, contentSummary)
	if err != nil {
		return fmt.Errorf("upsert summary for content %d: %w", contentID, err)
	}
	return nil
}

// GetSummary returns the current summary for a content row, if any.
func (s *Store) GetSummary(ctx context.Context, contentID int64) (string, bool, error) {
	var summary string
	err := s.db.QueryRowContext(ctx,
		`SELECT contentSummary FROM summary WHERE contentId = ?`, contentID,
	).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query summary: %w", err)
	}
	return summary, true, nil
}

// AddClassifyResult upserts the single current classification for a content
// row, serialized as a versioned JSON value.
func (s *Store) AddClassifyResult(ctx context.Context, contentID int64, result ClassifyResult) error {
	if result.Version == 0 {
		result.Version = ClassifyVersion
	}
	blob, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal classify result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO classifyResult (timestamp, contentId, result) VALUES (?, ?, ?)
		ON CONFLICT(contentId) DO UPDATE SET
			result = excluded.result,
			timestamp = excluded.timestamp
	`, s.formatNow(), contentID, string(blob))
	if err != nil {
		return fmt.Errorf("upsert classify result for content %d: %w", contentID, err)
	}
	return nil
}

// HasClassifyResult reports whether a content row already has a
// classification.
func (s *Store) HasClassifyResult(ctx context.Context, contentID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM classifyResult WHERE contentId = ?`, contentID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query classify result: %w", err)
	}
	return count > 0, nil
}

const contentColumns = `contentId, timestamp, sourceId, sourceURL, url, title, author, contentTimestamp, content, kind, hash, parentContentId`

func scanContent(row interface{ Scan(...any) error }) (Content, error) {
	var c Content
	var ts string
	var sourceURL, author, contentTS, hash, url sql.NullString
	var parent sql.NullInt64

	err := row.Scan(&c.ID, &ts, &c.SourceID, &sourceURL, &url, &c.Title,
		&author, &contentTS, &c.Content, (*string)(&c.Kind), &hash, &parent)
	if err != nil {
		return Content{}, err
	}

	c.Timestamp = parseTime(ts)
	c.URL = url.String
	c.SourceURL = sourceURL.String
	c.Author = author.String
	c.Hash = hash.String
	if contentTS.Valid {
		t := parseTime(contentTS.String)
		c.ContentTimestamp = &t
	}
	if parent.Valid {
		c.ParentContentID = &parent.Int64
	}
	return c, nil
}

// ContentMissingSummary returns every content row with no summary yet, so
// enrichment can catch up after crashes or skipped items.
func (s *Store) ContentMissingSummary(ctx context.Context) ([]Content, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("c")+`
		FROM content c LEFT JOIN summary s ON s.contentId = c.contentId
		WHERE s.contentId IS NULL
		ORDER BY c.contentId
	`)
	if err != nil {
		return nil, fmt.Errorf("query content missing summary: %w", err)
	}
	defer rows.Close()

	var out []Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content rows: %w", err)
	}
	return out, nil
}

func prefixColumns(alias string) string {
	cols := strings.Split(contentColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// ContentWithChildSummaries returns top-level content newer than since
// (zero means all time), newest first, each joined with its summary,
// decoded classification and ordered children (with their summaries).
func (s *Store) ContentWithChildSummaries(ctx context.Context, since time.Duration) ([]ContentWithChildren, error) {
	thr := "0"
	if since > 0 {
		thr = s.threshold(since)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("c")+`,
			COALESCE(src.shortName, ''),
			COALESCE(sm.contentSummary, ''),
			cr.result
		FROM content c
		LEFT JOIN source src ON src.sourceId = c.sourceId
		LEFT JOIN summary sm ON sm.contentId = c.contentId
		LEFT JOIN classifyResult cr ON cr.contentId = c.contentId
		WHERE c.parentContentId IS NULL AND c.timestamp > ?
		ORDER BY c.timestamp DESC
	`, thr)
	if err != nil {
		return nil, fmt.Errorf("query content with summaries: %w", err)
	}
	defer rows.Close()

	var out []ContentWithChildren
	for rows.Next() {
		cws, err := scanContentWithSummary(rows, true)
		if err != nil {
			return nil, err
		}
		out = append(out, ContentWithChildren{ContentWithSummary: cws})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content rows: %w", err)
	}

	for i := range out {
		children, err := s.childSummaries(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Children = children
	}
	return out, nil
}

func (s *Store) childSummaries(ctx context.Context, parentID int64) ([]ContentWithSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("c")+`,
			COALESCE(src.shortName, ''),
			COALESCE(sm.contentSummary, '')
		FROM content c
		LEFT JOIN source src ON src.sourceId = c.sourceId
		LEFT JOIN summary sm ON sm.contentId = c.contentId
		WHERE c.parentContentId = ?
		ORDER BY c.timestamp
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("query child summaries: %w", err)
	}
	defer rows.Close()

	var out []ContentWithSummary
	for rows.Next() {
		cws, err := scanContentWithSummary(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, cws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate child rows: %w", err)
	}
	return out, nil
}

func scanContentWithSummary(rows *sql.Rows, withClassify bool) (ContentWithSummary, error) {
	var cws ContentWithSummary
	var ts string
	var sourceURL, author, contentTS, hash, url sql.NullString
	var parent sql.NullInt64
	var classifyBlob sql.NullString

	dest := []any{
		&cws.ID, &ts, &cws.SourceID, &sourceURL, &url, &cws.Title,
		&author, &contentTS, &cws.ContentData.Content, (*string)(&cws.Kind), &hash, &parent,
		&cws.SourceShortName, &cws.Summary,
	}
	if withClassify {
		dest = append(dest, &classifyBlob)
	}
	if err := rows.Scan(dest...); err != nil {
		return ContentWithSummary{}, fmt.Errorf("scan content row: %w", err)
	}

	cws.Timestamp = parseTime(ts)
	cws.URL = url.String
	cws.SourceURL = sourceURL.String
	cws.Author = author.String
	cws.Hash = hash.String
	if contentTS.Valid {
		t := parseTime(contentTS.String)
		cws.ContentTimestamp = &t
	}
	if parent.Valid {
		cws.ParentContentID = &parent.Int64
	}
	if classifyBlob.Valid {
		var cr ClassifyResult
		if err := json.Unmarshal([]byte(classifyBlob.String), &cr); err == nil {
			cws.Classify = &cr
		}
	}
	return cws, nil
}

// LastSystemRun returns the timestamp of the most recent whole-pass run
// record, if any.
func (s *Store) LastSystemRun(ctx context.Context) (time.Time, bool, error) {
	var ts string
	err := s.db.QueryRowContext(ctx,
		`SELECT timestamp FROM updateLog WHERE sourceId = ? ORDER BY timestamp DESC LIMIT 1`,
		SystemSource,
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last system run: %w", err)
	}
	return parseTime(ts), true, nil
}

// Snapshot writes a consistent copy of the database to path, suitable for
// uploading while the main handle stays open.
func (s *Store) Snapshot(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("vacuum into %s: %w", path, err)
	}
	return nil
}

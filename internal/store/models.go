package store

import "time"

// Kind classifies a content row.
type Kind string

const (
	KindArticle  Kind = "article"
	KindComments Kind = "comments"
	KindPodcast  Kind = "podcast"
	KindDigest   Kind = "digest"
	KindError    Kind = "error"
)

// Status is the outcome of one source fetch run. The integer values match
// what existing database files already hold.
type Status int

const (
	StatusError   Status = 0
	StatusSuccess Status = 1
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	return "error"
}

// SystemSource is the pseudo source id under which whole-pass run records
// and log lines are filed.
const SystemSource = "system"

// ContentData is what a source hands the store for one unit of content.
// Content and Kind are always present, even for failed fetches (KindError
// with an empty body).
type ContentData struct {
	URL              string
	Hash             string
	Title            string
	Author           string
	ContentTimestamp *time.Time
	Content          string
	Kind             Kind
	SourceURL        string
	ParentContentID  *int64
}

// Content is a persisted content row.
type Content struct {
	ContentData
	ID        int64
	SourceID  string
	Timestamp time.Time
}

// ContentWithSummary joins a content row with its current enrichment.
type ContentWithSummary struct {
	Content
	SourceShortName string
	Summary         string
	Classify        *ClassifyResult
}

// ContentWithChildren is a top-level row with its ordered child rows.
type ContentWithChildren struct {
	ContentWithSummary
	Children []ContentWithSummary
}

// ClassifyResult is the versioned structured classification stored as a
// JSON column. The score attribute set evolves, so it stays a map rather
// than fixed columns.
type ClassifyResult struct {
	Version       int                `json:"version"`
	Scores        map[string]float64 `json:"scores"`
	Category      *string            `json:"category"`
	Keywords      string             `json:"keywords,omitempty"`
	Paywall       bool               `json:"paywall,omitempty"`
	RewordedTitle string             `json:"rewordedTitle,omitempty"`
}

// ClassifyVersion is the current ClassifyResult schema version.
const ClassifyVersion = 1

// SourceData is a source's display metadata.
type SourceData struct {
	Name      string
	ShortName string
}

// FreshQuery identifies content by url and/or hash within a recency window.
// When both url and hash are given, both must match the same row.
type FreshQuery struct {
	URL   string
	Hash  string
	Delta time.Duration
}

// SourceFreshness holds the deltas deciding whether a source was fetched
// recently enough to skip: successes within DeltaSuccess, any outcome
// within DeltaRetry.
type SourceFreshness struct {
	DeltaSuccess time.Duration
	DeltaRetry   time.Duration
}

// DefaultSourceFreshness matches the collector's scheduling cadence:
// successful sources rest five minutes, failed ones may retry after one.
var DefaultSourceFreshness = SourceFreshness{
	DeltaSuccess: 5 * time.Minute,
	DeltaRetry:   time.Minute,
}

// DefaultFreshDelta is the content freshness window used when a FreshQuery
// doesn't specify one.
const DefaultFreshDelta = 7 * 24 * time.Hour

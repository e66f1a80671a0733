// Package collector wires every component together and runs collection
// passes: rotate, fetch all sources, catch up summaries, digest, snapshot.
package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quickdigest/collector/internal/config"
	"github.com/quickdigest/collector/internal/fetch"
	"github.com/quickdigest/collector/internal/llm"
	"github.com/quickdigest/collector/internal/metrics"
	"github.com/quickdigest/collector/internal/retry"
	"github.com/quickdigest/collector/internal/snapshot"
	"github.com/quickdigest/collector/internal/source"
	"github.com/quickdigest/collector/internal/store"
	"github.com/quickdigest/collector/internal/transcribe"
)

const dbFileName = "digest.db"

// Collector owns the full pipeline for one deployment: the store, the
// shared fetch and model queues, the configured sources and the snapshot
// uploader.
type Collector struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *store.Store
	client   *fetch.Client
	enricher *llm.Enricher
	uploader *snapshot.Uploader
	sources  []source.Source
	digest   *source.DigestSource
}

// New builds a collector from configuration: fetches the previous
// snapshot, opens the database and constructs every configured source.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Collector, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	provider, err := newProvider(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	dbPath := filepath.Join(cfg.OutputDir, dbFileName)
	if err := provider.Fetch(ctx, dbPath); err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}

	st, err := store.Open(dbPath, nil)
	if err != nil {
		return nil, err
	}

	client := fetch.NewClient(cfg.HTTPTimeout(), cfg.HTTP.UserAgent)
	queues := fetch.NewQueueSet(cfg.OriginInterval())
	pages := fetch.NewPages(queues, client, log)

	llmQueue := retry.NewCallQueue("llm",
		cfg.LLM.Concurrency, cfg.LLM.RateCount, cfg.LLMRateWindow(), log)
	llmClient := llm.NewClient(cfg.LLM.Endpoint, cfg.LLM.APIKey, 2*time.Minute)
	enricher := llm.NewEnricher(llmClient, llmQueue,
		cfg.LLM.Model, cfg.LLM.DigestModel, cfg.LLM.MaxAttempts, log)

	uploader := snapshot.NewUploader(provider, st, cfg.OutputDir,
		cfg.SnapshotMinInterval(), log)

	c := &Collector{
		cfg:      cfg,
		log:      log,
		store:    st,
		client:   client,
		enricher: enricher,
		uploader: uploader,
		digest: source.NewDigestSource(cfg.DigestInterval(), cfg.FeedFreshDelta(),
			enricher, nil, log),
	}

	if err := c.buildSources(queues, client, pages); err != nil {
		st.Close()
		return nil, err
	}
	return c, nil
}

func newProvider(ctx context.Context, cfg *config.Config, log *zap.Logger) (snapshot.Provider, error) {
	switch cfg.Snapshot.Provider {
	case "gcs":
		return snapshot.NewGCSProvider(ctx, cfg.Snapshot.GCSBucket, cfg.Snapshot.ObjectName, log)
	case "local":
		return snapshot.NewLocalProvider(cfg.Snapshot.LocalDir, cfg.Snapshot.ObjectName), nil
	default:
		return snapshot.NewNoopProvider(log), nil
	}
}

func (c *Collector) buildSources(queues *fetch.QueueSet, client *fetch.Client, pages *fetch.Pages) error {
	cfg := c.cfg

	for _, name := range cfg.Sources.Aggregators {
		var site source.Site
		switch name {
		case "hn":
			site = source.HackerNewsSite()
		case "tildes":
			site = source.TildesSite()
		default:
			c.log.Warn("unknown aggregator", zap.String("name", name))
			continue
		}
		c.sources = append(c.sources, source.NewAggregator(site, pages,
			cfg.Sources.MinDiscussion, cfg.AggregatorFreshDelta(), c.log))
	}

	if cfg.Sources.FeedsOPML != "" {
		feeds, err := source.ReadOPML(cfg.Sources.FeedsOPML)
		if err != nil {
			return err
		}
		for _, f := range feeds {
			c.sources = append(c.sources, source.NewFeedSource(f.Name, f.URL,
				queues, client, pages, cfg.FeedWindow(), cfg.FeedFreshDelta(), c.log))
		}
	}

	if cfg.Sources.PodcastsOPML != "" {
		transcribeQueue := retry.NewCallQueue("transcribe",
			cfg.Transcribe.Concurrency, cfg.Transcribe.RateCount,
			cfg.TranscribeRateWindow(), c.log)
		transcriber := transcribe.NewClient(cfg.Transcribe.Endpoint,
			cfg.Transcribe.APIKey, transcribeQueue, cfg.LLM.MaxAttempts, c.log)

		feeds, err := source.ReadOPML(cfg.Sources.PodcastsOPML)
		if err != nil {
			return err
		}
		for _, f := range feeds {
			c.sources = append(c.sources, source.NewPodcastSource(f.Name, f.URL,
				queues, client, transcriber, cfg.FeedWindow(), cfg.FeedFreshDelta(), c.log))
		}
	}

	return nil
}

// Close releases the database handle.
func (c *Collector) Close() error {
	return c.store.Close()
}

// Store exposes the underlying store for the ops server.
func (c *Collector) Store() *store.Store {
	return c.store
}

// Run executes one full collection pass. Individual source failures are
// recorded and do not fail the pass; only infrastructure errors surface.
func (c *Collector) Run(ctx context.Context) error {
	passID := uuid.NewString()
	log := c.log.With(zap.String("pass", passID))
	start := time.Now()
	log.Info("starting collection pass")

	uploadCtx, stopUploader := context.WithCancel(ctx)
	defer stopUploader()
	go c.uploader.Run(uploadCtx)

	if err := c.maybeRotate(ctx, log); err != nil {
		return err
	}

	c.fetchAll(ctx, log)
	c.summarizeAllMissing(ctx, log)
	c.fetchSource(ctx, log, c.digest)

	duration := time.Since(start)
	if err := c.store.AddSourceResult(ctx, store.SystemSource,
		duration.Milliseconds(), store.StatusSuccess); err != nil {
		return err
	}

	stopUploader()
	if err := c.uploader.Flush(ctx); err != nil {
		log.Error("final snapshot upload failed", zap.Error(err))
	}

	c.triggerBuild(ctx, log)

	metrics.ObservePassDuration(duration)
	log.Info("collection pass finished", zap.Duration("duration", duration))
	return nil
}

// maybeRotate truncates old rows at most once per retention period. The
// rotation is recorded before any deletion happens.
func (c *Collector) maybeRotate(ctx context.Context, log *zap.Logger) error {
	period := c.cfg.RetentionPeriod()
	due, err := c.store.ShouldRotate(ctx, period)
	if err != nil {
		return err
	}
	if !due {
		return nil
	}

	rotateID, err := c.store.LogRotate(ctx)
	if err != nil {
		return err
	}
	if err := c.store.Truncate(ctx, period); err != nil {
		return fmt.Errorf("truncate old content: %w", err)
	}

	log.Info("rotated content", zap.Int64("rotateId", rotateID))
	_ = c.store.Log(ctx, store.SystemSource, fmt.Sprintf("rotated content, rotateId=%d", rotateID))
	return nil
}

func (c *Collector) fetchAll(ctx context.Context, log *zap.Logger) {
	success, retryDelta := c.cfg.SourceFreshness()
	freshness := store.SourceFreshness{DeltaSuccess: success, DeltaRetry: retryDelta}

	var wg sync.WaitGroup
	for _, src := range c.sources {
		fresh, err := c.store.IsSourceFresh(ctx, src.ID(), freshness)
		if err != nil {
			log.Error("source freshness check failed",
				zap.String("source", src.ID()), zap.Error(err))
			continue
		}
		if fresh {
			continue
		}

		src := src
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.fetchSource(ctx, log, src)
		}()
	}
	wg.Wait()
}

// fetchSource runs one source to completion, recording its outcome. A
// panicking source counts as an error but never takes down the pass.
func (c *Collector) fetchSource(ctx context.Context, log *zap.Logger, src source.Source) {
	log.Info("fetching source", zap.String("source", src.ID()))

	sourceStore := c.store.WithSource(src.ID(), c.onContent)
	start := time.Now()
	status := store.StatusError

	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("source panicked",
					zap.String("source", src.ID()), zap.Any("panic", r))
			}
		}()
		if err := src.Fetch(ctx, sourceStore); err != nil {
			log.Error("source fetch failed",
				zap.String("source", src.ID()), zap.Error(err))
			sourceStore.Log(ctx, fmt.Sprintf("fetch failed: %v", err))
		} else {
			status = store.StatusSuccess
		}
	}()

	durationMs := time.Since(start).Milliseconds()
	if err := c.store.AddSourceResult(ctx, src.ID(), durationMs, status); err != nil {
		log.Error("recording source result failed",
			zap.String("source", src.ID()), zap.Error(err))
	}
	metrics.ObserveSourceRun(src.ID(), status.String())
	c.uploader.Signal()
}

// onContent enriches each stored row as it arrives. Failures here are
// logged and left for the catch-up phase of a later pass.
func (c *Collector) onContent(ctx context.Context, row store.Content) {
	metrics.ObserveContent(row.SourceID, string(row.Kind))
	c.enrich(ctx, row)
}

func (c *Collector) enrich(ctx context.Context, row store.Content) {
	switch row.Kind {
	case store.KindDigest, store.KindError:
		return
	}

	if _, ok, err := c.store.GetSummary(ctx, row.ID); err != nil {
		c.log.Error("summary lookup failed", zap.Int64("contentId", row.ID), zap.Error(err))
		return
	} else if ok {
		return
	}

	var summary string
	var err error
	if row.ParentContentID != nil {
		parentSummary, ok, perr := c.store.GetSummary(ctx, *row.ParentContentID)
		if perr != nil {
			c.log.Error("parent summary lookup failed",
				zap.Int64("contentId", row.ID), zap.Error(perr))
			return
		}
		if !ok {
			c.log.Warn("skipping summarizing child with missing parent summary",
				zap.Int64("contentId", row.ID))
			return
		}
		summary, err = c.enricher.SummarizeChild(ctx, row.Title, parentSummary, row.Content)
	} else {
		summary, err = c.enricher.Summarize(ctx, row.Title, row.Content)
	}
	if err != nil {
		c.log.Error("summarize failed", zap.Int64("contentId", row.ID), zap.Error(err))
		return
	}
	if err := c.store.AddSummary(ctx, row.ID, summary); err != nil {
		c.log.Error("storing summary failed", zap.Int64("contentId", row.ID), zap.Error(err))
		return
	}

	if row.ParentContentID == nil && row.Kind != store.KindComments {
		c.classify(ctx, row)
	}
}

func (c *Collector) classify(ctx context.Context, row store.Content) {
	has, err := c.store.HasClassifyResult(ctx, row.ID)
	if err != nil || has {
		return
	}

	result, err := c.enricher.Classify(ctx, row.Title, row.Content)
	if err != nil {
		c.log.Error("classify failed", zap.Int64("contentId", row.ID), zap.Error(err))
		return
	}
	if err := c.store.AddClassifyResult(ctx, row.ID, result); err != nil {
		c.log.Error("storing classification failed",
			zap.Int64("contentId", row.ID), zap.Error(err))
	}
}

// summarizeAllMissing retries enrichment for every row that still lacks a
// summary, covering rows skipped earlier in this pass or left over from a
// crashed one.
func (c *Collector) summarizeAllMissing(ctx context.Context, log *zap.Logger) {
	rows, err := c.store.ContentMissingSummary(ctx)
	if err != nil {
		log.Error("listing content missing summaries failed", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for _, row := range rows {
		row := row
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.enrich(ctx, row)
		}()
	}
	wg.Wait()
}

func (c *Collector) triggerBuild(ctx context.Context, log *zap.Logger) {
	if c.cfg.BuildHook == "" {
		return
	}
	if err := c.client.Post(ctx, c.cfg.BuildHook); err != nil {
		log.Error("build hook failed", zap.Error(err))
		return
	}
	log.Info("triggered site build")
}

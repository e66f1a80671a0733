package snapshot

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/quickdigest/collector/internal/store"
)

// Uploader debounces snapshot uploads. Signals arriving while an upload
// or its cooldown is in flight coalesce into at most one pending upload,
// so bursts of source completions produce one snapshot per interval
// instead of one each.
type Uploader struct {
	provider    Provider
	store       *store.Store
	dir         string
	minInterval time.Duration
	log         *zap.Logger
	signals     chan struct{}
}

// NewUploader builds an uploader writing snapshot temp files into dir.
func NewUploader(provider Provider, st *store.Store, dir string, minInterval time.Duration, log *zap.Logger) *Uploader {
	return &Uploader{
		provider:    provider,
		store:       st,
		dir:         dir,
		minInterval: minInterval,
		log:         log,
		signals:     make(chan struct{}, 1),
	}
}

// Signal requests an upload. Never blocks; a signal during a pending one
// is absorbed.
func (u *Uploader) Signal() {
	select {
	case u.signals <- struct{}{}:
	default:
	}
}

// Run processes signals until ctx is cancelled. Call from its own
// goroutine.
func (u *Uploader) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.signals:
		}

		if err := u.uploadOnce(ctx); err != nil {
			u.log.Error("snapshot upload failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(u.minInterval):
		}
	}
}

// Flush performs one synchronous upload, regardless of pending signals.
// The orchestrator calls this at the end of a pass.
func (u *Uploader) Flush(ctx context.Context) error {
	return u.uploadOnce(ctx)
}

func (u *Uploader) uploadOnce(ctx context.Context) error {
	tmp, err := os.CreateTemp(u.dir, "snapshot-*.db")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	// VACUUM INTO refuses to overwrite an existing file.
	os.Remove(tmpPath)
	defer os.Remove(tmpPath)

	if err := u.store.Snapshot(ctx, tmpPath); err != nil {
		return err
	}
	return u.provider.Upload(ctx, tmpPath)
}

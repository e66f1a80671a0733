// Package snapshot persists database snapshots to durable storage between
// runs: download on startup, debounced uploads while a pass runs.
package snapshot

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// Provider moves the database file to and from a storage backend. Fetch
// tolerates a missing remote object: the first run starts from nothing.
type Provider interface {
	Fetch(ctx context.Context, destPath string) error
	Upload(ctx context.Context, srcPath string) error
}

// GCSProvider stores the snapshot as a single gzip-compressed object in a
// Cloud Storage bucket.
type GCSProvider struct {
	client *gcs.Client
	bucket string
	object string
	log    *zap.Logger
}

func NewGCSProvider(ctx context.Context, bucket, object string, log *zap.Logger) (*GCSProvider, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSProvider{client: client, bucket: bucket, object: object, log: log}, nil
}

func (p *GCSProvider) Fetch(ctx context.Context, destPath string) error {
	reader, err := p.client.Bucket(p.bucket).Object(p.object).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		p.log.Warn("no remote snapshot, starting fresh", zap.String("object", p.object))
		return nil
	}
	if err != nil {
		return fmt.Errorf("open snapshot object: %w", err)
	}
	defer reader.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer f.Close()

	// The read side transparently decompresses when the object carries
	// Content-Encoding gzip.
	if _, err := io.Copy(f, reader); err != nil {
		return fmt.Errorf("download snapshot: %w", err)
	}
	p.log.Info("fetched snapshot", zap.String("object", p.object))
	return nil
}

func (p *GCSProvider) Upload(ctx context.Context, srcPath string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", srcPath, err)
	}
	defer f.Close()

	w := p.client.Bucket(p.bucket).Object(p.object).NewWriter(ctx)
	w.ContentType = "application/x-sqlite3"
	w.ContentEncoding = "gzip"

	gz := gzip.NewWriter(w)
	if _, err := io.Copy(gz, f); err != nil {
		w.Close()
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		w.Close()
		return fmt.Errorf("finish compression: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	p.log.Info("uploaded snapshot", zap.String("object", p.object))
	return nil
}

// LocalProvider copies snapshots into a directory. Useful for single-host
// deployments and tests.
type LocalProvider struct {
	dir    string
	object string
}

func NewLocalProvider(dir, object string) *LocalProvider {
	return &LocalProvider{dir: dir, object: object}
}

func (p *LocalProvider) path() string {
	return filepath.Join(p.dir, p.object)
}

func (p *LocalProvider) Fetch(_ context.Context, destPath string) error {
	src, err := os.Open(p.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open local snapshot: %w", err)
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		return fmt.Errorf("copy local snapshot: %w", err)
	}
	return nil
}

func (p *LocalProvider) Upload(_ context.Context, srcPath string) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", srcPath, err)
	}
	defer src.Close()

	tmp := p.path() + ".tmp"
	dest, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy snapshot: %w", err)
	}
	if err := dest.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, p.path())
}

// NoopProvider disables snapshot persistence.
type NoopProvider struct {
	log *zap.Logger
}

func NewNoopProvider(log *zap.Logger) *NoopProvider {
	return &NoopProvider{log: log}
}

func (p *NoopProvider) Fetch(context.Context, string) error {
	p.log.Warn("snapshot provider disabled, skipping fetch")
	return nil
}

func (p *NoopProvider) Upload(context.Context, string) error {
	p.log.Warn("snapshot provider disabled, skipping upload")
	return nil
}

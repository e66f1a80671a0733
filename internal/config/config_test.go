package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: test-key
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "./output", cfg.OutputDir)
	require.Equal(t, 500*time.Millisecond, cfg.OriginInterval())
	require.Equal(t, 30*time.Second, cfg.HTTPTimeout())
	require.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	require.Equal(t, "gpt-4o", cfg.LLM.DigestModel)
	require.Equal(t, 10, cfg.LLM.Concurrency)
	require.Equal(t, 10, cfg.LLM.RateCount)
	require.Equal(t, 5*time.Second, cfg.LLMRateWindow())
	require.Equal(t, 3, cfg.Transcribe.Concurrency)
	require.Equal(t, 2, cfg.Transcribe.RateCount)
	require.Equal(t, 10*time.Second, cfg.TranscribeRateWindow())
	require.Equal(t, []string{"hn", "tildes"}, cfg.Sources.Aggregators)
	require.Equal(t, 2, cfg.Sources.MinDiscussion)
	require.Equal(t, 3*24*time.Hour, cfg.FeedWindow())
	require.Equal(t, 7*24*time.Hour, cfg.AggregatorFreshDelta())
	require.Equal(t, 4*time.Hour, cfg.DigestInterval())
	require.Equal(t, 7*24*time.Hour, cfg.RetentionPeriod())
	require.Equal(t, 10*time.Second, cfg.SnapshotMinInterval())

	success, retry := cfg.SourceFreshness()
	require.Equal(t, 5*time.Minute, success)
	require.Equal(t, time.Minute, retry)
}

func TestLoadRequiresAPIKey(t *testing.T) {
	path := writeConfig(t, `
output_dir: ./out
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "llm.api_key")
}

func TestLoadRequiresTranscribeForPodcasts(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: test-key
sources:
  podcasts_opml: ./podcasts.opml
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "transcribe.endpoint")
}

func TestLoadRequiresGCSBucket(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: test-key
snapshot:
  provider: gcs
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "snapshot.gcs_bucket")
}

func TestLoadRejectsUnknownSnapshotProvider(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: test-key
snapshot:
  provider: ftp
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "unknown snapshot provider")
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DIGEST_LLM_API_KEY", "env-key")
	t.Setenv("DIGEST_OUTPUT_DIR", "/tmp/digest-out")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "env-key", cfg.LLM.APIKey)
	require.Equal(t, "/tmp/digest-out", cfg.OutputDir)
}

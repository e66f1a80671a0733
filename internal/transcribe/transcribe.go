// Package transcribe submits podcast audio to a hosted whisper endpoint
// and returns the transcription text. Calls run through their own queue
// with a much tighter budget than the text models.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quickdigest/collector/internal/metrics"
	"github.com/quickdigest/collector/internal/retry"
)

// Client drives a synchronous run endpoint: one POST per audio url,
// response carries the finished transcription.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	queue    *retry.CallQueue
	log      *zap.Logger
	opts     retry.Options
}

// NewClient builds a transcription client. Transcriptions run long, so
// the HTTP timeout here is generous compared to page fetches.
func NewClient(endpoint, apiKey string, queue *retry.CallQueue, maxAttempts int, log *zap.Logger) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 10 * time.Minute},
		queue:    queue,
		log:      log,
		opts:     retry.Options{MaxAttempts: maxAttempts},
	}
}

type runRequest struct {
	Input struct {
		Audio string `json:"audio"`
	} `json:"input"`
}

type runResponse struct {
	Status string `json:"status"`
	Output struct {
		Transcription string `json:"transcription"`
	} `json:"output"`
	Error string `json:"error"`
}

// Transcribe fetches the transcription for one audio url.
func (c *Client) Transcribe(ctx context.Context, audioURL string) (string, error) {
	out, err := retry.Do(ctx, c.queue, func(ctx context.Context) (string, error) {
		c.log.Info("transcribing audio", zap.String("url", audioURL))
		return c.runSync(ctx, audioURL)
	}, c.opts)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveRemoteCall("transcribe", outcome)
	return out, err
}

func (c *Client) runSync(ctx context.Context, audioURL string) (string, error) {
	var req runRequest
	req.Input.Audio = audioURL
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal transcribe request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/runsync", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build transcribe request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("transcribe request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("read transcribe response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &retry.RateLimitError{
			RetryAfter: 10 * time.Second,
			Err:        fmt.Errorf("transcribe: status 429"),
		}
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("transcribe: status %d", resp.StatusCode)
	}

	var parsed runResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode transcribe response: %w", err)
	}
	if parsed.Status != "COMPLETED" {
		if parsed.Error != "" {
			return "", fmt.Errorf("transcribe: status %s: %s", parsed.Status, parsed.Error)
		}
		return "", fmt.Errorf("transcribe: status %s", parsed.Status)
	}
	return parsed.Output.Transcription, nil
}

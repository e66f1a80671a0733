// Package llm talks to an OpenAI-compatible chat completions endpoint and
// layers the collector's enrichment operations (summaries, classification,
// digest) on top of it.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quickdigest/collector/internal/retry"
)

// Client is a minimal chat completions client. It reports rate limiting
// and refusals through the retry package's error types so callers can
// pause or give up appropriately.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewClient builds a client for the given base endpoint (scheme and host,
// no path).
func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string  `json:"content"`
			Refusal *string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Request is one chat completion call.
type Request struct {
	Model  string
	System string
	User   string
	// Schema, when set, requests structured output conforming to the
	// given JSON schema.
	Schema     json.RawMessage
	SchemaName string
}

// Complete performs one chat completion and returns the message text. A
// 429 response comes back as a *retry.RateLimitError carrying the server's
// requested delay; refusals are permanent. An empty completion is returned
// as an empty string, not an error.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	body := chatRequest{Model: req.Model, Messages: messages}
	if req.Schema != nil {
		format, err := json.Marshal(map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   req.SchemaName,
				"strict": true,
				"schema": req.Schema,
			},
		})
		if err != nil {
			return "", fmt.Errorf("marshal response format: %w", err)
		}
		body.ResponseFormat = format
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &retry.RateLimitError{
			RetryAfter: retryAfter(resp.Header),
			Err:        fmt.Errorf("chat completions: status 429"),
		}
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("chat completions: status %d: %s", resp.StatusCode, truncateBody(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat completions: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}

	choice := parsed.Choices[0]
	if choice.Message.Refusal != nil && *choice.Message.Refusal != "" {
		return "", retry.Permanent(fmt.Errorf("model refused: %s", *choice.Message.Refusal))
	}
	if choice.FinishReason == "content_filter" {
		return "", retry.Permanent(fmt.Errorf("completion blocked by content filter"))
	}
	return choice.Message.Content, nil
}

// retryAfter extracts the server's requested delay. Retry-After carries
// whole seconds, retry-after-ms milliseconds; absent or unparseable
// headers fall back to a flat five seconds.
func retryAfter(h http.Header) time.Duration {
	if v := h.Get("retry-after-ms"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 5 * time.Second
}

func truncateBody(raw []byte) string {
	s := string(raw)
	if len(s) > 256 {
		s = s[:256]
	}
	return strings.TrimSpace(s)
}

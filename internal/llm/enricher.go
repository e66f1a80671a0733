package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quickdigest/collector/internal/metrics"
	"github.com/quickdigest/collector/internal/retry"
	"github.com/quickdigest/collector/internal/store"
)

// maxPromptContent caps how much of a content body goes into a prompt.
const maxPromptContent = 50000

func summarizePrompt(title, content string) string {
	return fmt.Sprintf(`
Summarize the following content in a single sentence using 16 words or less. If the summary is similar to the title, omit the summary sentence. Also, extract 3 key bulleted points. Use active tense. Use markdown, but do not use bold or italic.

Article title: %s

Article content:

%s
`, title, content)
}

func summarizeChildPrompt(title, summary, content string) string {
	return fmt.Sprintf(`
Summarize the following discussion in 2 bulleted points. Use active tense. Use markdown, but do not use bold or italic. Do not repeat information from the title or summary.

Title: %s

Summary:

%s

Discussion:

%s
`, title, summary, content)
}

func classifyPrompt(title, content string) string {
	return fmt.Sprintf(`
Classify the following article. Score each attribute from 0 to 5. Pick the single best-fitting category. Extract up to 5 comma-separated keywords. Report whether the article body appears truncated by a paywall. Reword the title to be neutral and descriptive if it is clickbait, otherwise repeat it unchanged.

Article title: %s

Article content:

%s
`, title, content)
}

// classifySchema constrains the structured classification output.
var classifySchema = json.RawMessage(`{
	"type": "object",
	"additionalProperties": false,
	"required": ["scores", "category", "keywords", "paywall", "rewordedTitle"],
	"properties": {
		"scores": {
			"type": "object",
			"additionalProperties": false,
			"required": ["surprising", "current_event", "newsworthy", "world_impact", "fluff", "marketing", "ragebait", "clickbait", "disturbing"],
			"properties": {
				"surprising": {"type": "number"},
				"current_event": {"type": "number"},
				"newsworthy": {"type": "number"},
				"world_impact": {"type": "number"},
				"fluff": {"type": "number"},
				"marketing": {"type": "number"},
				"ragebait": {"type": "number"},
				"clickbait": {"type": "number"},
				"disturbing": {"type": "number"}
			}
		},
		"category": {
			"type": "string",
			"enum": ["technology", "science", "politics", "business", "sports", "culture", "health", "world", "other"]
		},
		"keywords": {"type": "string"},
		"paywall": {"type": "boolean"},
		"rewordedTitle": {"type": "string"}
	}
}`)

// Enricher runs all model calls through one shared queue, so the global
// concurrency and rate budget holds across sources.
type Enricher struct {
	client      *Client
	queue       *retry.CallQueue
	log         *zap.Logger
	model       string
	digestModel string
	opts        retry.Options
}

// NewEnricher wires a client to its call queue. digestModel may be a
// larger model than the per-item one.
func NewEnricher(client *Client, queue *retry.CallQueue, model, digestModel string, maxAttempts int, log *zap.Logger) *Enricher {
	return &Enricher{
		client:      client,
		queue:       queue,
		log:         log,
		model:       model,
		digestModel: digestModel,
		opts:        retry.Options{MaxAttempts: maxAttempts},
	}
}

func truncateContent(content string) string {
	if len(content) > maxPromptContent {
		return content[:maxPromptContent]
	}
	return content
}

func (e *Enricher) complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	out, err := retry.Do(ctx, e.queue, func(ctx context.Context) (string, error) {
		return e.client.Complete(ctx, req)
	}, e.opts)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveRemoteCall("llm", outcome)

	if err != nil {
		return "", err
	}
	e.log.Debug("completion finished",
		zap.String("model", req.Model),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

// Summarize produces the one-line summary plus key points for an article.
func (e *Enricher) Summarize(ctx context.Context, title, content string) (string, error) {
	return e.complete(ctx, Request{
		Model: e.model,
		User:  summarizePrompt(title, truncateContent(content)),
	})
}

// SummarizeChild summarizes a discussion thread in the context of its
// parent's summary.
func (e *Enricher) SummarizeChild(ctx context.Context, title, parentSummary, content string) (string, error) {
	return e.complete(ctx, Request{
		Model: e.model,
		User:  summarizeChildPrompt(title, parentSummary, truncateContent(content)),
	})
}

// Digest runs the cross-item digest prompt on the digest model.
func (e *Enricher) Digest(ctx context.Context, prompt string) (string, error) {
	return e.complete(ctx, Request{Model: e.digestModel, User: prompt})
}

// Classify scores an article against the structured classification schema.
func (e *Enricher) Classify(ctx context.Context, title, content string) (store.ClassifyResult, error) {
	raw, err := e.complete(ctx, Request{
		Model:      e.model,
		User:       classifyPrompt(title, truncateContent(content)),
		Schema:     classifySchema,
		SchemaName: "classification",
	})
	if err != nil {
		return store.ClassifyResult{}, err
	}
	if raw == "" {
		return store.ClassifyResult{}, fmt.Errorf("empty classification response")
	}

	var parsed struct {
		Scores        map[string]float64 `json:"scores"`
		Category      string             `json:"category"`
		Keywords      string             `json:"keywords"`
		Paywall       bool               `json:"paywall"`
		RewordedTitle string             `json:"rewordedTitle"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return store.ClassifyResult{}, fmt.Errorf("decode classification: %w", err)
	}

	result := store.ClassifyResult{
		Version:       store.ClassifyVersion,
		Scores:        parsed.Scores,
		Keywords:      parsed.Keywords,
		Paywall:       parsed.Paywall,
		RewordedTitle: parsed.RewordedTitle,
	}
	if parsed.Category != "" {
		result.Category = &parsed.Category
	}
	return result, nil
}

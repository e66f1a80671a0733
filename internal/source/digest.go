package source

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quickdigest/collector/internal/filter"
	"github.com/quickdigest/collector/internal/store"
)

// DigestID is the digest's own source id; digest rows never feed back
// into the next digest.
const DigestID = "digest"

func digestPrompt(summaries string) string {
	return fmt.Sprintf(`
Given the following list of news items, summarize most important news into a single short paragraph. Include specific titles and link them to the url using markdown syntax.
Links must wrap multiple words from the summary. Instead of putting links in parentheses, work them into the prose. Instead of linking the text "here" or the name of a source, link multiple words about the news item. Prefer linking more words where possible, ideally 5-6 words in the text of a link. Do not format with bold or italic. Use active tense.

For example:

Key news stories include the closure of [Game Informer](https://www.ign.com/articles/game-informer-to-shut-down-after-33-years) after 33 years, impacting the gaming journalism landscape amid financial struggles at GameStop. In legal news, the [US Fifth Circuit Court](https://www.nytimes.com/2024/08/02/us/texas-voting-rights-minorities.html?unlocked_article_code=1._00.ewqZ.lANUItcW1l_7) narrows the scope of the Voting Rights Act, affecting minority voting rights by ruling that minorities cannot jointly claim voting dilution. Additionally, a [Mercedes EV fire](https://koreajoongangdaily.joins.com/news/2024-08-02/business/industry/Mercedes-EV-fire-causes-power-outage-hospitalizations-with-140-cars-damaged/2104634) in Incheon results in significant damage, leading to power outages and hospitalizations. Finally, secret negotiations manage the release of journalist [Evan Gershkovich](https://www.wsj.com/world/europe/evan-gershkovich-prisoner-exchange-ccb39ad3) from Russian custody, underscoring ongoing geopolitical tensions.

News items:

%s
`, summaries)
}

// DigestLLM produces the digest paragraph from its prompt.
type DigestLLM interface {
	Digest(ctx context.Context, prompt string) (string, error)
}

// DigestSource synthesizes one summary paragraph per time bucket out of
// the recently ingested content. The bucket index is derived from wall
// time, so reruns within the same bucket build the same url, and the
// prompt hash keeps a rerun from paying for a second model call when the
// inputs have not changed.
type DigestSource struct {
	interval   time.Duration
	freshDelta time.Duration
	llm        DigestLLM
	now        func() time.Time
	log        *zap.Logger
}

// NewDigestSource builds the digest source. A nil clock uses time.Now.
func NewDigestSource(interval, freshDelta time.Duration, llm DigestLLM, clock func() time.Time, log *zap.Logger) *DigestSource {
	if clock == nil {
		clock = time.Now
	}
	return &DigestSource{
		interval:   interval,
		freshDelta: freshDelta,
		llm:        llm,
		now:        clock,
		log:        log.With(zap.String("source", DigestID)),
	}
}

func (d *DigestSource) ID() string { return DigestID }

func (d *DigestSource) Fetch(ctx context.Context, st Store) error {
	// Two intervals of lookback covers the early-bucket case where the
	// window reaches back before the bucket boundary.
	content, err := st.ContentWithChildSummaries(ctx, 2*d.interval)
	if err != nil {
		return err
	}

	digestURL, hash, prompt := d.buildPrompt(content)
	if prompt == "" {
		d.log.Info("nothing recent enough to digest")
		return nil
	}

	_, fresh, err := st.FreshContentID(ctx, store.FreshQuery{
		URL: digestURL, Hash: hash, Delta: d.freshDelta,
	})
	if err != nil {
		return err
	}
	if fresh {
		return nil
	}

	summary, err := d.llm.Digest(ctx, prompt)
	if err != nil {
		return fmt.Errorf("digest completion: %w", err)
	}

	c, err := st.AddContent(ctx, store.ContentData{
		URL:   digestURL,
		Hash:  hash,
		Title: "Digest",
		Kind:  store.KindDigest,
	})
	if err != nil {
		return err
	}
	if summary != "" {
		if err := st.AddSummary(ctx, c.ID, summary); err != nil {
			return err
		}
	}

	return st.UpdateSource(ctx, store.SourceData{Name: "Digest", ShortName: "Digest"})
}

// buildPrompt derives the current bucket's url and the prompt over the
// qualifying content, plus a hash identifying exactly those inputs. An
// empty prompt means nothing qualified.
func (d *DigestSource) buildPrompt(content []store.ContentWithChildren) (digestURL, hash, prompt string) {
	nowMs := d.now().UnixMilli()
	intervalMs := d.interval.Milliseconds()

	index := nowMs / intervalMs
	if nowMs%intervalMs != 0 {
		index++
	}
	startMs := (index - 1) * intervalMs
	if back := nowMs - intervalMs; back < startMs {
		startMs = back
	}
	start := time.UnixMilli(startMs)
	digestURL = fmt.Sprintf("digest://%d", index)

	var blocks []string
	for _, row := range content {
		if !row.Timestamp.After(start) || row.SourceID == DigestID {
			continue
		}
		if !filter.Include(row.SourceID, row.Classify) {
			continue
		}

		var comments []string
		for _, child := range row.Children {
			if child.Summary != "" {
				comments = append(comments, child.Summary)
			}
		}
		blocks = append(blocks, fmt.Sprintf("%s %s: %s\n%s",
			row.URL, row.Title, row.Summary, strings.Join(comments, "\n")))
	}
	if len(blocks) == 0 {
		return digestURL, "", ""
	}

	prompt = digestPrompt(strings.Join(blocks, "\n\n"))
	sum := sha256.Sum256([]byte(prompt))
	hash = base64.StdEncoding.EncodeToString(sum[:])
	return digestURL, hash, prompt
}

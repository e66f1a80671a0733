// Package filter decides which classified content is worth including in
// the digest.
package filter

import "github.com/quickdigest/collector/internal/store"

// aggregatorSources already come human-curated, so they pass without
// positive score validation. Could become a source capability flag if the
// source list grows.
var aggregatorSources = map[string]bool{
	"hn":     true,
	"tildes": true,
}

// Include reports whether one top-level content row belongs in the digest.
// Spammy or baity content is rejected outright; aggregator items then pass
// unconditionally; everything else needs at least one strong positive
// signal. Missing scores never trigger a rule.
func Include(sourceID string, classify *store.ClassifyResult) bool {
	var scores map[string]float64
	var category string
	if classify != nil {
		scores = classify.Scores
		if classify.Category != nil {
			category = *classify.Category
		}
	}

	atLeast := func(name string, min float64) bool {
		v, ok := scores[name]
		return ok && v >= min
	}
	above := func(name string, min float64) bool {
		v, ok := scores[name]
		return ok && v > min
	}
	below := func(name string, max float64) bool {
		v, ok := scores[name]
		return ok && v < max
	}
	atMost := func(name string, max float64) bool {
		v, ok := scores[name]
		return ok && v <= max
	}

	if atLeast("fluff", 3) || atLeast("marketing", 3) ||
		atLeast("ragebait", 3.5) || atLeast("clickbait", 3.5) ||
		(above("disturbing", 3) && below("world_impact", 3)) {
		return false
	}

	if aggregatorSources[sourceID] {
		return true
	}

	positive := atLeast("surprising", 4) || atLeast("current_event", 4) ||
		atLeast("newsworthy", 4) || atLeast("world_impact", 4)

	return positive && !(category == "sports" && atMost("world_impact", 3))
}

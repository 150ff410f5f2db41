package extractor

import (
	"strings"

	"github.com/tripcraft/planner/model"
)

// synonyms maps common free-text interest/constraint phrasing onto the
// canonical category/tag vocabulary the Catalog and Reranker operate on.
var synonyms = map[string]string{
	"eats":        "food",
	"eating":      "food",
	"dining":      "food",
	"restaurants": "food",
	"cuisine":     "food",
	"museums":     "culture",
	"history":     "culture",
	"historical":  "culture",
	"heritage":    "culture",
	"art":         "culture",
	"shopping":    "shopping",
	"markets":     "shopping",
	"nightlife":   "nightlife",
	"bars":        "nightlife",
	"nature":      "outdoors",
	"hiking":      "outdoors",
	"parks":       "outdoors",
	"scenery":     "outdoors",
	"relaxation":  "relaxed",
	"kids":        "family",
	"family-friendly": "family",
}

// normalizeTerms lower-cases and synonym-maps a set of free-text terms,
// deduplicating the result while preserving first-seen order for
// determinism.
func normalizeTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		n := strings.ToLower(strings.TrimSpace(t))
		if n == "" {
			continue
		}
		if mapped, ok := synonyms[n]; ok {
			n = mapped
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// classifyMustEntries resolves what a must_have/must_not entry refers to:
// a place id when it carries the "id:" discriminator prefix the Story
// schema's free-text entries use, otherwise a term matched against
// category/tag.
func classifyMustEntries(entries []string) []model.MustEntry {
	out := make([]model.MustEntry, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(e), "id:") {
			out = append(out, model.MustEntry{Kind: model.MustKindPlaceID, Value: strings.TrimSpace(e[3:])})
			continue
		}
		out = append(out, model.MustEntry{Kind: model.MustKindTerm, Value: strings.ToLower(e)})
	}
	return out
}

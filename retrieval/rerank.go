package retrieval

import (
	"math"
	"sort"
	"strings"

	"github.com/tripcraft/planner/model"
)

// Weights is the rerank score's coefficient table:
//
//	score = α·semantic + β·rating_norm + γ·distance_score + δ·tag_overlap
//	      + ε·pace_fit + ζ·must_have_bonus − η·must_not_penalty
type Weights struct {
	Alpha, Beta, Gamma, Delta, Epsilon, Zeta, Eta float64
}

// DefaultWeights is the pace-keyed weight table; these are the documented
// defaults, overridable through configuration.
func DefaultWeights() map[model.Pace]Weights {
	return map[model.Pace]Weights{
		model.PaceRelaxed: {
			Alpha: 0.25, Beta: 0.30, Gamma: 0.15, Delta: 0.10,
			Epsilon: 0.15, Zeta: 1.0, Eta: 1.0,
		},
		model.PaceModerate: {
			Alpha: 0.30, Beta: 0.20, Gamma: 0.20, Delta: 0.15,
			Epsilon: 0.10, Zeta: 1.0, Eta: 1.0,
		},
		model.PaceIntensive: {
			Alpha: 0.30, Beta: 0.15, Gamma: 0.20, Delta: 0.20,
			Epsilon: 0.15, Zeta: 1.0, Eta: 1.0,
		},
	}
}

// Rerank scores every candidate and returns them sorted by final score
// descending, tie-broken by higher rating, then shorter distance, then
// lexicographic place id, so that equal-scored inputs
// reproduce the same order every run.
func Rerank(candidates []model.Candidate, story *model.Story, w Weights) []model.Candidate {
	mustHave := make(map[string]struct{})
	mustHaveTerms := make(map[string]struct{})
	for _, m := range story.MustHave {
		if m.Kind == model.MustKindPlaceID {
			mustHave[m.Value] = struct{}{}
		} else {
			mustHaveTerms[m.Value] = struct{}{}
		}
	}
	mustNotTerms := make(map[string]struct{})
	mustNotIDs := make(map[string]struct{})
	for _, m := range story.MustNot {
		if m.Kind == model.MustKindPlaceID {
			mustNotIDs[m.Value] = struct{}{}
		} else {
			mustNotTerms[m.Value] = struct{}{}
		}
	}

	out := make([]model.Candidate, len(candidates))
	copy(out, candidates)

	for i := range out {
		c := &out[i]
		_, c.IsMustHave = mustHave[c.PlaceID]
		if !c.IsMustHave {
			c.IsMustHave = matchesAnyTerm(c.Place, mustHaveTerms)
		}
		_, byID := mustNotIDs[c.PlaceID]
		c.IsMustNot = byID || matchesAnyTerm(c.Place, mustNotTerms)

		ratingNorm := ratingNorm(c.Rating)
		distanceScore := distanceScore(c.DistanceM, story.RadiusM)
		paceFit := paceFit(story.Pace, c)

		mustHaveBonus := 0.0
		if c.IsMustHave {
			mustHaveBonus = 1.0
		}
		mustNotPenalty := 0.0
		if c.IsMustNot {
			mustNotPenalty = 1.0
		}

		semantic := 0.0
		if c.SemanticScore != nil {
			semantic = *c.SemanticScore
		}

		c.FinalScore = w.Alpha*semantic + w.Beta*ratingNorm + w.Gamma*distanceScore +
			w.Delta*c.TagOverlap + w.Epsilon*paceFit + w.Zeta*mustHaveBonus - w.Eta*mustNotPenalty
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		ar, br := ratingOrZero(a.Rating), ratingOrZero(b.Rating)
		if ar != br {
			return ar > br
		}
		if a.DistanceM != b.DistanceM {
			return a.DistanceM < b.DistanceM
		}
		return a.PlaceID < b.PlaceID
	})
	return out
}

func ratingNorm(rating *float64) float64 {
	if rating == nil {
		return 0.3
	}
	return *rating / 5.0
}

func ratingOrZero(rating *float64) float64 {
	if rating == nil {
		return 0
	}
	return *rating
}

func distanceScore(distanceM, radiusM float64) float64 {
	if radiusM <= 0 {
		return 0
	}
	v := 1 - distanceM/radiusM
	return math.Max(0, v)
}

// paceFit implements the per-pace tendency: relaxed up-weights
// higher rating and longer stays, intensive up-weights compact (short-stay,
// tag-dense) candidates, moderate sits between the two.
func paceFit(pace model.Pace, c *model.Candidate) float64 {
	const longStayMin = 180.0
	stayNorm := math.Min(1, float64(c.Place.DefaultStayMin)/longStayMin)
	tagDensity := math.Min(1, float64(len(c.Place.Tags))/5.0)

	switch pace {
	case model.PaceRelaxed:
		return 0.5*ratingNorm(c.Rating) + 0.5*stayNorm
	case model.PaceIntensive:
		return 0.5*(1-stayNorm) + 0.5*tagDensity
	default:
		return 0.5*ratingNorm(c.Rating) + 0.5*(1-stayNorm)
	}
}

func matchesAnyTerm(p model.Place, terms map[string]struct{}) bool {
	if len(terms) == 0 {
		return false
	}
	for _, t := range p.Tags {
		if _, ok := terms[strings.ToLower(t)]; ok {
			return true
		}
	}
	for _, cat := range p.Categories {
		if _, ok := terms[strings.ToLower(cat)]; ok {
			return true
		}
	}
	if _, ok := terms[strings.ToLower(p.Name)]; ok {
		return true
	}
	return false
}

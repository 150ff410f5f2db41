// Package retrieval implements the hybrid retriever and reranker:
// structured and semantic candidate retrieval run concurrently, are
// fused by place id, scored, and truncated to the top-K ranked candidates
// the Planner consumes.
package retrieval

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tripcraft/planner/apperr"
	"github.com/tripcraft/planner/catalog"
	"github.com/tripcraft/planner/log"
	"github.com/tripcraft/planner/model"
	"github.com/tripcraft/planner/vectorindex"
)

// Config tunes retrieval limits and branch timeouts.
type Config struct {
	N1             int           // structured branch result cap
	N2             int           // semantic branch result cap
	TopK           int           // final truncation after rerank
	BranchTimeout  time.Duration // per-branch timeout, default 3s
	WeightsByPace  map[model.Pace]Weights
}

// DefaultConfig carries the documented defaults.
func DefaultConfig() Config {
	return Config{
		N1:            128,
		N2:            128,
		TopK:          64,
		BranchTimeout: 3 * time.Second,
		WeightsByPace: DefaultWeights(),
	}
}

// Retriever is the Hybrid Retriever + Reranker's contract.
type Retriever interface {
	Retrieve(ctx context.Context, story *model.Story) (Result, error)
}

// Result is a ranked candidate set plus the degradation flags the
// orchestrator's RANK node needs to decide whether to surface a partial
// result or only a flag.
type Result struct {
	Candidates        []model.Candidate
	StructuredDegraded bool
	SemanticDegraded   bool
}

type hybridRetriever struct {
	catalog  catalog.Repository
	index    vectorindex.Index
	embedder vectorindex.EmbeddingService
	cfg      Config
}

// New constructs a Retriever over the given collaborators.
func New(cat catalog.Repository, index vectorindex.Index, embedder vectorindex.EmbeddingService, cfg Config) Retriever {
	return &hybridRetriever{catalog: cat, index: index, embedder: embedder, cfg: cfg}
}

func (r *hybridRetriever) Retrieve(ctx context.Context, story *model.Story) (Result, error) {
	var structured []model.Candidate
	var semantic []vectorindex.Result
	var structuredErr, semanticErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		branchCtx, cancel := context.WithTimeout(gctx, r.cfg.BranchTimeout)
		defer cancel()
		cands, err := r.structuredBranch(branchCtx, story)
		if err != nil {
			structuredErr = err
			log.Warnf(ctx, "retrieval: structured branch failed: %v", err)
			return nil // branch failure is not fatal to the group
		}
		structured = cands
		return nil
	})
	g.Go(func() error {
		branchCtx, cancel := context.WithTimeout(gctx, r.cfg.BranchTimeout)
		defer cancel()
		res, err := r.semanticBranch(branchCtx, story)
		if err != nil {
			semanticErr = err
			log.Warnf(ctx, "retrieval: semantic branch failed: %v", err)
			return nil
		}
		semantic = res
		return nil
	})
	_ = g.Wait() // branch errors are captured above, never fatal here

	structuredDegraded := structuredErr != nil || len(structured) == 0
	semanticDegraded := semanticErr != nil || len(semantic) == 0
	if structuredDegraded && semanticDegraded {
		return Result{}, apperr.New(apperr.KindNoCandidates, "retrieval.Retrieve", "both retrieval branches returned nothing", nil)
	}

	fused, err := r.fuse(ctx, story, structured, semantic)
	if err != nil {
		return Result{}, err
	}

	weights := r.cfg.WeightsByPace[story.Pace]
	ranked := Rerank(fused, story, weights)
	if len(ranked) > r.cfg.TopK {
		ranked = ranked[:r.cfg.TopK]
	}

	return Result{
		Candidates:         ranked,
		StructuredDegraded: structuredDegraded,
		SemanticDegraded:   semanticDegraded,
	}, nil
}

func (r *hybridRetriever) structuredBranch(ctx context.Context, story *model.Story) ([]model.Candidate, error) {
	weekday := int(story.StartDate.Weekday())
	q := catalog.FindPlacesQuery{
		Center:     story.Anchor,
		RadiusM:    story.RadiusM,
		Categories: story.Interests,
		Weekday:    weekday,
	}
	if story.BudgetTier > 0 {
		tier := story.BudgetTier
		q.MaxPrice = &tier
	}
	cands, err := r.catalog.FindPlaces(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(cands) > r.cfg.N1 {
		cands = cands[:r.cfg.N1]
	}
	for i := range cands {
		one := 1.0
		cands[i].StructuredScore = &one
	}
	return cands, nil
}

func (r *hybridRetriever) semanticBranch(ctx context.Context, story *model.Story) ([]vectorindex.Result, error) {
	vec, err := r.embedder.Embed(ctx, storyProjection(story))
	if err != nil {
		return nil, err
	}
	return r.index.Search(ctx, vec, r.cfg.N2, nil)
}

// fuse unions the two branch result sets by place id, imputing missing
// branch signals, and hydrates any semantic-only hit's
// Place/rating/distance fields from the catalog.
func (r *hybridRetriever) fuse(ctx context.Context, story *model.Story, structured []model.Candidate, semantic []vectorindex.Result) ([]model.Candidate, error) {
	byID := make(map[string]*model.Candidate, len(structured)+len(semantic))
	order := make([]string, 0, len(structured)+len(semantic))

	for i := range structured {
		c := structured[i]
		byID[c.PlaceID] = &c
		order = append(order, c.PlaceID)
	}

	var missingIDs []string
	for _, s := range semantic {
		sim := s.Similarity
		if existing, ok := byID[s.PlaceID]; ok {
			existing.SemanticScore = &sim
			continue
		}
		missingIDs = append(missingIDs, s.PlaceID)
		order = append(order, s.PlaceID)
		byID[s.PlaceID] = &model.Candidate{PlaceID: s.PlaceID, SemanticScore: &sim}
	}

	if len(missingIDs) > 0 {
		places, err := r.catalog.GetPlaces(ctx, missingIDs)
		if err != nil {
			return nil, err
		}
		for _, id := range missingIDs {
			p, ok := places[id]
			if !ok {
				continue // place vanished from the catalog since indexing; skip rather than ship an empty record
			}
			c := byID[id]
			c.Place = p
			c.Rating = p.Rating
			c.DistanceM = haversineM(story.Anchor, p.Point)
		}
	}

	out := make([]model.Candidate, 0, len(order))
	seen := make(map[string]struct{}, len(order))
	for _, id := range order {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		c := byID[id]
		if c.Place.ID == "" {
			continue // never hydrated (catalog lookup dropped it); exclude rather than rank a blank place
		}
		c.TagOverlap = tagOverlap(c.Place.Tags, story.Interests)
		c.ImputeMissing()
		out = append(out, *c)
	}

	// Sort by place id for determinism before scoring; Rerank's own sort
	// is stable, so ties in score resolve from this deterministic base
	// order rather than map iteration order.
	sort.Slice(out, func(i, j int) bool { return out[i].PlaceID < out[j].PlaceID })
	return out, nil
}

func tagOverlap(tags, interests []string) float64 {
	if len(interests) == 0 {
		return 0
	}
	interestSet := make(map[string]struct{}, len(interests))
	for _, i := range interests {
		interestSet[i] = struct{}{}
	}
	matches := 0
	for _, t := range tags {
		if _, ok := interestSet[t]; ok {
			matches++
		}
	}
	denom := len(interests)
	if denom < 1 {
		denom = 1
	}
	return float64(matches) / float64(denom)
}

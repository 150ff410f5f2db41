package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripcraft/planner/catalog"
	"github.com/tripcraft/planner/model"
	"github.com/tripcraft/planner/vectorindex"
)

type fakeCatalog struct {
	places     map[string]model.Candidate
	placeByID  map[string]model.Place
	findErr    error
	getErr     error
}

func (f *fakeCatalog) FindPlaces(ctx context.Context, q catalog.FindPlacesQuery) ([]model.Candidate, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	out := make([]model.Candidate, 0, len(f.places))
	for _, c := range f.places {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeCatalog) GetHours(ctx context.Context, placeIDs []string, weekday int) (map[string][]model.OpeningHours, error) {
	return nil, nil
}

func (f *fakeCatalog) GetPlaces(ctx context.Context, placeIDs []string) (map[string]model.Place, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := make(map[string]model.Place)
	for _, id := range placeIDs {
		if p, ok := f.placeByID[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type fakeIndex struct {
	results []vectorindex.Result
}

func (f *fakeIndex) Search(ctx context.Context, q []float32, k int, filter *vectorindex.Filter) ([]vectorindex.Result, error) {
	return f.results, nil
}
func (f *fakeIndex) Upsert(ctx context.Context, placeID string, vector []float32) error { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}
func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (fakeEmbedder) Dimensions() int { return 3 }

func rating(v float64) *float64 { return &v }

func testStory() *model.Story {
	return &model.Story{
		Destination: "Taipei",
		StartDate:   time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC),
		DayCount:    1,
		Daily:       model.DailyWindow{StartMin: 9 * 60, EndMin: 21 * 60},
		Pace:        model.PaceModerate,
		Interests:   []string{"food", "culture"},
		Anchor:      model.Point{Lat: 25.033, Lon: 121.565},
		RadiusM:     6000,
	}
}

func TestRetrieveFusesBothBranches(t *testing.T) {
	cat := &fakeCatalog{
		places: map[string]model.Candidate{
			"A": {PlaceID: "A", Place: model.Place{ID: "A", Name: "Night Market", Tags: []string{"food"}}, Rating: rating(4.5), DistanceM: 500},
		},
		placeByID: map[string]model.Place{
			"B": {ID: "B", Name: "Palace Museum", Tags: []string{"culture"}, Rating: rating(4.8)},
		},
	}
	idx := &fakeIndex{results: []vectorindex.Result{{PlaceID: "A", Similarity: 0.6}, {PlaceID: "B", Similarity: 0.9}}}

	r := New(cat, idx, fakeEmbedder{}, DefaultConfig())
	res, err := r.Retrieve(context.Background(), testStory())
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)

	byID := map[string]model.Candidate{}
	for _, c := range res.Candidates {
		byID[c.PlaceID] = c
	}
	assert.NotNil(t, byID["A"].SemanticScore)
	assert.InDelta(t, 0.6, *byID["A"].SemanticScore, 1e-9)
	assert.Equal(t, "Palace Museum", byID["B"].Place.Name, "semantic-only hit must be hydrated from the catalog")
}

func TestRetrieveNoCandidatesWhenBothBranchesEmpty(t *testing.T) {
	cat := &fakeCatalog{places: map[string]model.Candidate{}}
	idx := &fakeIndex{}
	r := New(cat, idx, fakeEmbedder{}, DefaultConfig())
	_, err := r.Retrieve(context.Background(), testStory())
	assert.Error(t, err)
}

func TestRerankDeterministicTieBreak(t *testing.T) {
	story := testStory()
	story.Interests = nil
	cands := []model.Candidate{
		{PlaceID: "z", Rating: rating(4.0), DistanceM: 100, SemanticScore: f(0), StructuredScore: f(0)},
		{PlaceID: "a", Rating: rating(4.0), DistanceM: 100, SemanticScore: f(0), StructuredScore: f(0)},
	}
	w := DefaultWeights()[model.PaceModerate]
	ranked := Rerank(cands, story, w)
	assert.Equal(t, "a", ranked[0].PlaceID, "equal score+rating+distance must tie-break lexicographically by id")
}

func f(v float64) *float64 { return &v }

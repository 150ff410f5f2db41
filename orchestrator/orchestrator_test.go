package orchestrator

import (
	stdctx "context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripcraft/planner/apperr"
	"github.com/tripcraft/planner/catalog"
	"github.com/tripcraft/planner/extractor"
	"github.com/tripcraft/planner/feedback"
	"github.com/tripcraft/planner/model"
	"github.com/tripcraft/planner/planner"
	"github.com/tripcraft/planner/retrieval"
	"github.com/tripcraft/planner/traveltime"
)

type fakeExtractor struct {
	story *model.Story
	err   error
}

func (f *fakeExtractor) Extract(ctx stdctx.Context, utterance string, sc extractor.SessionContext) (*model.Story, error) {
	return f.story, f.err
}

type fakeRetriever struct {
	result retrieval.Result
	err    error
}

func (f *fakeRetriever) Retrieve(ctx stdctx.Context, story *model.Story) (retrieval.Result, error) {
	return f.result, f.err
}

type fakePlanner struct {
	it       *model.Itinerary
	decision *planner.Decision
	err      error
}

func (f *fakePlanner) Plan(ctx stdctx.Context, story *model.Story, candidates []model.Candidate, hours planner.HoursRepository, oracle traveltime.Oracle) (*model.Itinerary, *planner.Decision, error) {
	return f.it, f.decision, f.err
}

type fakeGenerator struct {
	text string
	err  error
}

func (f *fakeGenerator) Present(ctx stdctx.Context, story *model.Story, it *model.Itinerary) (string, error) {
	return f.text, f.err
}

type fakeParser struct {
	ops []model.FeedbackOperation
	err error
}

func (f *fakeParser) Parse(ctx stdctx.Context, utterance string, it *model.Itinerary) ([]model.FeedbackOperation, error) {
	return f.ops, f.err
}

type fakeCatalog struct {
	places map[string]model.Place
}

func (f *fakeCatalog) FindPlaces(ctx stdctx.Context, q catalog.FindPlacesQuery) ([]model.Candidate, error) {
	var out []model.Candidate
	for _, p := range f.places {
		out = append(out, model.Candidate{PlaceID: p.ID, Place: p, Rating: p.Rating})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlaceID < out[j].PlaceID })
	return out, nil
}

func (f *fakeCatalog) GetHours(ctx stdctx.Context, placeIDs []string, weekday int) (map[string][]model.OpeningHours, error) {
	return map[string][]model.OpeningHours{}, nil
}

func (f *fakeCatalog) GetPlaces(ctx stdctx.Context, placeIDs []string) (map[string]model.Place, error) {
	out := make(map[string]model.Place)
	for _, id := range placeIDs {
		if p, ok := f.places[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type fakeOracle struct{}

func (f *fakeOracle) Duration(ctx stdctx.Context, origin, dest model.Point, profile traveltime.Profile) (traveltime.Result, error) {
	return traveltime.Result{Seconds: 300}, nil
}

func (f *fakeOracle) Table(ctx stdctx.Context, points []model.Point, profile traveltime.Profile) ([][]traveltime.Result, error) {
	n := len(points)
	t := make([][]traveltime.Result, n)
	for i := range t {
		t[i] = make([]traveltime.Result, n)
		for j := range t[i] {
			if i != j {
				t[i][j] = traveltime.Result{Seconds: 300}
			}
		}
	}
	return t, nil
}

func testStory() *model.Story {
	return &model.Story{
		Destination: "Taipei",
		StartDate:   time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
		DayCount:    1,
		Daily:       model.DailyWindow{StartMin: 540, EndMin: 1260},
		Pace:        model.PaceModerate,
		Anchor:      model.Point{Lat: 25.03, Lon: 121.56},
		RadiusM:     6000,
	}
}

func testItinerary() *model.Itinerary {
	return &model.Itinerary{
		Version: 1,
		Days: []model.DayPlan{{
			DayIndex: 0,
			Date:     time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
			Visits: []model.Visit{
				{PlaceID: "A", Name: "Place A", ETAMin: 545, ETDMin: 605, TravelMinIn: 5, StayMin: 60},
				{PlaceID: "B", Name: "Place B", ETAMin: 610, ETDMin: 670, TravelMinIn: 5, StayMin: 60},
			},
		}},
	}
}

func testPlaces() map[string]model.Place {
	r := 4.0
	return map[string]model.Place{
		"A": {ID: "A", Name: "Place A", Point: model.Point{Lat: 25.03, Lon: 121.56}, DefaultStayMin: 60, Rating: &r},
		"B": {ID: "B", Name: "Place B", Point: model.Point{Lat: 25.04, Lon: 121.57}, DefaultStayMin: 60, Rating: &r},
	}
}

func newOrchestrator(ext extractor.Extractor, ret retrieval.Retriever, pl planner.Planner, gen Generator, parser feedback.Parser) *Orchestrator {
	cat := &fakeCatalog{places: testPlaces()}
	engine := feedback.NewEngine(cat, &fakeOracle{}, parser, feedback.DefaultConfig())
	return New(ext, ret, pl, engine, gen, cat, &fakeOracle{}, nil, DefaultConfig())
}

func TestMessageHappyPath(t *testing.T) {
	it := testItinerary()
	o := newOrchestrator(
		&fakeExtractor{story: testStory()},
		&fakeRetriever{result: retrieval.Result{Candidates: []model.Candidate{{PlaceID: "A"}}}},
		&fakePlanner{it: it},
		&fakeGenerator{text: "here is your trip"},
		nil,
	)
	id := o.CreateSession()

	reply, err := o.Message(stdctx.Background(), id, "one day in taipei")
	require.NoError(t, err)
	assert.Equal(t, model.StateReady, reply.State)
	assert.Equal(t, "here is your trip", reply.Text)
	require.NotNil(t, reply.Itinerary)
	assert.Len(t, reply.Itinerary.Days, 1)

	snap, err := o.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, model.StateReady, snap.State)
	assert.Equal(t, 1, snap.TurnCounter)
	assert.NotNil(t, snap.Slots.Itinerary)
}

func TestMessageParseErrorPromptsClarification(t *testing.T) {
	o := newOrchestrator(
		&fakeExtractor{err: apperr.New(apperr.KindParseError, "extractor.Extract", "no destination", nil)},
		&fakeRetriever{},
		&fakePlanner{},
		&fakeGenerator{},
		nil,
	)
	id := o.CreateSession()

	reply, err := o.Message(stdctx.Background(), id, "???")
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, reply.State)
	assert.Contains(t, reply.Text, "where you're going")
}

func TestMessageNoCandidatesSuggestsLoosening(t *testing.T) {
	o := newOrchestrator(
		&fakeExtractor{story: testStory()},
		&fakeRetriever{err: apperr.New(apperr.KindNoCandidates, "retrieval.Retrieve", "both branches empty", nil)},
		&fakePlanner{},
		&fakeGenerator{},
		nil,
	)
	id := o.CreateSession()

	reply, err := o.Message(stdctx.Background(), id, "obscure request")
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, reply.State)
	assert.NotEmpty(t, reply.Suggestions)
}

func TestMessagePlannerDecisionPendsOnUser(t *testing.T) {
	partial := testItinerary()
	o := newOrchestrator(
		&fakeExtractor{story: testStory()},
		&fakeRetriever{result: retrieval.Result{Candidates: []model.Candidate{{PlaceID: "A"}}}},
		&fakePlanner{decision: &planner.Decision{Violations: []string{"X"}, Partial: []model.Itinerary{*partial}}},
		&fakeGenerator{},
		nil,
	)
	id := o.CreateSession()

	reply, err := o.Message(stdctx.Background(), id, "impossible trip")
	require.NoError(t, err)
	assert.Equal(t, model.StatePlanPendingDecision, reply.State)
	assert.Contains(t, reply.Text, "X")
	assert.NotEmpty(t, reply.Suggestions)
}

func TestMessageGeneratorFailureFallsBackToRenderer(t *testing.T) {
	o := newOrchestrator(
		&fakeExtractor{story: testStory()},
		&fakeRetriever{result: retrieval.Result{Candidates: []model.Candidate{{PlaceID: "A"}}}},
		&fakePlanner{it: testItinerary()},
		&fakeGenerator{err: errors.New("llm down")},
		nil,
	)
	id := o.CreateSession()

	reply, err := o.Message(stdctx.Background(), id, "one day in taipei")
	require.NoError(t, err)
	assert.Equal(t, model.StateReady, reply.State)
	assert.Contains(t, reply.Text, "Place A")
	assert.Contains(t, reply.Text, "Day 1")
}

func TestFeedbackWithoutItinerary(t *testing.T) {
	o := newOrchestrator(&fakeExtractor{}, &fakeRetriever{}, &fakePlanner{}, &fakeGenerator{}, nil)
	id := o.CreateSession()

	reply, err := o.Feedback(stdctx.Background(), id, "drop the museum")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "no itinerary")
}

func TestFeedbackDropCommitsNewVersion(t *testing.T) {
	parser := &fakeParser{ops: []model.FeedbackOperation{{Op: model.OpDrop, TargetPlaceID: "B"}}}
	o := newOrchestrator(
		&fakeExtractor{story: testStory()},
		&fakeRetriever{result: retrieval.Result{Candidates: []model.Candidate{{PlaceID: "A"}}}},
		&fakePlanner{it: testItinerary()},
		&fakeGenerator{text: "updated"},
		parser,
	)
	id := o.CreateSession()
	_, err := o.Message(stdctx.Background(), id, "one day in taipei")
	require.NoError(t, err)

	reply, err := o.Feedback(stdctx.Background(), id, "drop place B")
	require.NoError(t, err)
	assert.Equal(t, model.StateReady, reply.State)
	require.NotNil(t, reply.Itinerary)
	assert.Equal(t, 2, reply.Itinerary.Version)
	assert.Equal(t, []string{"A"}, reply.Itinerary.Days[0].PlaceIDs())
	require.Len(t, reply.AppliedOps, 1)

	snap, err := o.Snapshot(id)
	require.NoError(t, err)
	require.Len(t, snap.History, 1)
	assert.Equal(t, model.OpDrop, snap.History[0].Op)
}

func TestFeedbackViolationKeepsPriorItinerary(t *testing.T) {
	parser := &fakeParser{ops: []model.FeedbackOperation{{Op: model.OpDrop, TargetPlaceID: "nope"}}}
	o := newOrchestrator(
		&fakeExtractor{story: testStory()},
		&fakeRetriever{result: retrieval.Result{Candidates: []model.Candidate{{PlaceID: "A"}}}},
		&fakePlanner{it: testItinerary()},
		&fakeGenerator{text: "updated"},
		parser,
	)
	id := o.CreateSession()
	_, err := o.Message(stdctx.Background(), id, "one day in taipei")
	require.NoError(t, err)

	reply, err := o.Feedback(stdctx.Background(), id, "drop something unknown")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "unchanged")
	assert.Equal(t, 1, reply.Itinerary.Version)
	assert.Len(t, reply.Itinerary.Days[0].Visits, 2)
}

func TestResetClearsSlots(t *testing.T) {
	o := newOrchestrator(
		&fakeExtractor{story: testStory()},
		&fakeRetriever{result: retrieval.Result{Candidates: []model.Candidate{{PlaceID: "A"}}}},
		&fakePlanner{it: testItinerary()},
		&fakeGenerator{text: "trip"},
		nil,
	)
	id := o.CreateSession()
	_, err := o.Message(stdctx.Background(), id, "one day in taipei")
	require.NoError(t, err)

	require.NoError(t, o.Reset(id))
	snap, err := o.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, snap.State)
	assert.Nil(t, snap.Slots.Itinerary)
	assert.Nil(t, snap.Slots.Story)
}

func TestUnknownSessionErrors(t *testing.T) {
	o := newOrchestrator(&fakeExtractor{}, &fakeRetriever{}, &fakePlanner{}, &fakeGenerator{}, nil)
	_, err := o.Message(stdctx.Background(), "nope", "hello")
	assert.Error(t, err)
}

// Package extractor implements the Story Extractor: it calls an external
// LLM constrained to the Story JSON schema, validates and
// coerces the result, and normalizes interests/constraint terms through a
// synonym table and dates to ISO.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/tripcraft/planner/apperr"
	"github.com/tripcraft/planner/log"
	"github.com/tripcraft/planner/model"
)

// Config tunes extraction bounds and the LLM call's hard deadline.
type Config struct {
	MaxDayCount   int
	DefaultRadius float64 // meters, used when the model omits one
	Timeout       time.Duration
}

// DefaultConfig carries the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxDayCount:   14,
		DefaultRadius: 6000,
		Timeout:       5 * time.Second,
	}
}

// SessionContext carries conversation context the Extractor may use to
// disambiguate a follow-up utterance (e.g. a previously resolved
// destination). It is intentionally small; the Extractor never reads the
// full session slot map directly.
type SessionContext struct {
	PreviousDestination string
	Now                 time.Time
}

// Extractor is the Story Extractor's contract: extract(utterance,
// session_context) -> Story | StructuredError.
type Extractor interface {
	Extract(ctx context.Context, utterance string, sc SessionContext) (*model.Story, error)
}

type llmExtractor struct {
	genkit *genkit.Genkit
	model  ai.Model
	cfg    Config
}

// New constructs an Extractor backed by a genkit model reference. The model
// is expected to support structured JSON output via prompting; the
// extractor validates the shape itself rather than trusting the model.
func New(gk *genkit.Genkit, model ai.Model, cfg Config) Extractor {
	return &llmExtractor{genkit: gk, model: model, cfg: cfg}
}

// rawStory mirrors the Story JSON wire schema plus an internal
// destination-centroid extension: the schema itself has no field for it,
// but the Planner needs an anchor point and the Extractor is the only node
// with LLM access to resolve "Taipei" to a coordinate without a dedicated
// geocoding collaborator.
type rawStory struct {
	Destination string   `json:"destination"`
	StartDate   string   `json:"start_date"`
	DayCount    int      `json:"day_count"`
	DailyWindow struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"daily_window"`
	Pace      string   `json:"pace"`
	Interests []string `json:"interests"`
	MustHave  []string `json:"must_have"`
	MustNot   []string `json:"must_not"`
	Budget    int      `json:"budget"`
	Centroid  *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"centroid"`
	RadiusM float64 `json:"radius_m"`
}

const extractionPrompt = `You are a travel-planning request parser. Convert the user's message into
STRICT JSON matching exactly this shape, with no prose before or after it:

{
  "destination": string,
  "start_date": "YYYY-MM-DD",
  "day_count": integer >= 1,
  "daily_window": {"start": "HH:MM", "end": "HH:MM"},
  "pace": "relaxed" | "moderate" | "intensive",
  "interests": [string, ...],
  "must_have": [string, ...],
  "must_not": [string, ...],
  "budget": integer 1-5,
  "centroid": {"lat": number, "lon": number},
  "radius_m": number
}

Resolve relative dates ("next weekend", "in two weeks") against today's date,
%s. If day_count is unstated, infer the most natural reading of the
utterance (a single explicit day implies 1). If daily_window is unstated,
use {"start": "09:00", "end": "21:00"}. "centroid" is your best-effort
geographic center of "destination" in WGS84 decimal degrees; "radius_m" is a
sensible search radius for that place (a city center might use 6000-10000,
a specific district less). must_have entries may be place names or ids the
user explicitly named; must_not entries are categories/tags/names the user
explicitly excluded.

Previous destination in this conversation (empty if none): %q

User message: %s`

func (e *llmExtractor) Extract(ctx context.Context, utterance string, sc SessionContext) (*model.Story, error) {
	if strings.TrimSpace(utterance) == "" {
		return nil, apperr.New(apperr.KindParseError, "extractor.Extract", "empty utterance", nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	now := sc.Now
	if now.IsZero() {
		now = time.Now()
	}
	prompt := fmt.Sprintf(extractionPrompt, now.Format("2006-01-02 (Monday)"), sc.PreviousDestination, utterance)

	resp, err := genkit.Generate(callCtx, e.genkit, ai.WithModel(e.model), ai.WithPrompt(prompt))
	if err != nil {
		return nil, apperr.New(apperr.KindBackendUnavailable, "extractor.Extract", "LLM call failed", err)
	}

	text := extractJSONObject(resp.Text())
	var raw rawStory
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		log.Warnf(ctx, "extractor: schema violation, raw=%q err=%v", text, err)
		return nil, apperr.New(apperr.KindParseError, "extractor.Extract", "model output did not match the Story schema", err)
	}

	story, err := e.coerce(raw)
	if err != nil {
		return nil, err
	}
	if err := story.Validate(e.cfg.MaxDayCount); err != nil {
		return nil, apperr.New(apperr.KindParseError, "extractor.Extract", err.Error(), err)
	}
	return story, nil
}

func (e *llmExtractor) coerce(raw rawStory) (*model.Story, error) {
	startDate, err := time.Parse("2006-01-02", raw.StartDate)
	if err != nil {
		if resolved, relErr := resolveRelativeDate(raw.StartDate, time.Now()); relErr == nil {
			startDate = resolved
		} else {
			return nil, apperr.New(apperr.KindParseError, "extractor.coerce", "start_date is not ISO YYYY-MM-DD and not a resolvable expression", err)
		}
	}

	dayCount := raw.DayCount
	if dayCount < 1 {
		dayCount = 1
	}
	if dayCount > e.cfg.MaxDayCount {
		dayCount = e.cfg.MaxDayCount
	}

	startMin, err1 := parseHHMM(raw.DailyWindow.Start, 9*60)
	endMin, err2 := parseHHMM(raw.DailyWindow.End, 21*60)
	if err1 != nil || err2 != nil || endMin <= startMin {
		return nil, apperr.New(apperr.KindParseError, "extractor.coerce", "daily_window is not well-formed", nil)
	}

	pace := model.Pace(strings.ToLower(strings.TrimSpace(raw.Pace)))
	if !pace.Valid() {
		pace = model.PaceModerate
	}

	budget := raw.Budget
	if budget < 0 {
		budget = 0
	}
	if budget > 5 {
		budget = 5
	}

	radius := raw.RadiusM
	if radius <= 0 {
		radius = e.cfg.DefaultRadius
	}

	var anchor model.Point
	if raw.Centroid != nil {
		anchor = model.Point{Lat: raw.Centroid.Lat, Lon: raw.Centroid.Lon}
	}

	story := &model.Story{
		Destination: strings.TrimSpace(raw.Destination),
		StartDate:   startDate,
		DayCount:    dayCount,
		Daily:       model.DailyWindow{StartMin: startMin, EndMin: endMin},
		Pace:        pace,
		Interests:   normalizeTerms(raw.Interests),
		MustHave:    classifyMustEntries(raw.MustHave),
		MustNot:     classifyMustEntries(raw.MustNot),
		BudgetTier:  budget,
		Anchor:      anchor,
		RadiusM:     radius,
	}
	if story.Destination == "" {
		return nil, apperr.New(apperr.KindParseError, "extractor.coerce", "unsupported or missing destination", nil)
	}
	return story, nil
}

func parseHHMM(s string, fallback int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback, nil
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 24 || m < 0 || m > 59 {
		return 0, fmt.Errorf("out of range time %q", s)
	}
	return h*60 + m, nil
}

// extractJSONObject trims any prose the model wraps its JSON in.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end < start {
		return text
	}
	return text[start : end+1]
}

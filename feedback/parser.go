package feedback

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

// Parser turns a revision utterance into typed operations against the
// current itinerary.
type Parser interface {
	Parse(ctx context.Context, utterance string, it *model.Itinerary) ([]model.FeedbackOperation, error)
}

// ParserConfig bounds the LLM call.
type ParserConfig struct {
	Timeout time.Duration
	MaxOps  int
}

// DefaultParserConfig mirrors the extractor's call bounds.
func DefaultParserConfig() ParserConfig {
	return ParserConfig{Timeout: 5 * time.Second, MaxOps: 8}
}

type llmParser struct {
	genkit *genkit.Genkit
	model  ai.Model
	cfg    ParserConfig
}

// NewParser constructs a Parser backed by a genkit model reference.
func NewParser(gk *genkit.Genkit, model ai.Model, cfg ParserConfig) Parser {
	return &llmParser{genkit: gk, model: model, cfg: cfg}
}

type rawOperation struct {
	Op            string            `json:"op"`
	TargetPlaceID string            `json:"target_place_id"`
	TargetOrdinal int               `json:"target_ordinal"`
	DayIndex      int               `json:"day_index"`
	NewDayIndex   int               `json:"new_day_index"`
	NewTime       string            `json:"new_time"`
	SwapWith      string            `json:"swap_with"`
	Query         string            `json:"query"`
	Hints         map[string]string `json:"hints"`
}

type rawOperations struct {
	Operations []rawOperation `json:"operations"`
}

const parsePrompt = `You translate a traveler's revision request into STRICT JSON operations
against their current itinerary. Emit exactly this shape, no prose:

{"operations": [{
  "op": "DROP" | "REPLACE" | "MOVE" | "INSERT" | "SWAP" | "REORDER",
  "target_place_id": string,     // id from the itinerary below, if the user named a stop
  "target_ordinal": integer,     // 1-based position within day_index, if they said "the second stop"
  "day_index": integer,          // 0-based day the target is on (or insert into)
  "new_day_index": integer,      // MOVE only: 0-based destination day
  "new_time": "HH:MM",           // MOVE/INSERT only, when the user named a time
  "swap_with": string,           // SWAP only: the other stop's place id
  "query": string,               // INSERT only: the place id or description to add
  "hints": {"category": "...", "tag": "...", "radius_m": "..."}  // REPLACE only, optional
}]}

Current itinerary:
%s

User request: %s`

func (p *llmParser) Parse(ctx context.Context, utterance string, it *model.Itinerary) ([]model.FeedbackOperation, error) {
	if strings.TrimSpace(utterance) == "" {
		return nil, apperr.New(apperr.KindParseError, "feedback.Parse", "empty utterance", nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	prompt := fmt.Sprintf(parsePrompt, itinerarySummary(it), utterance)
	resp, err := genkit.Generate(callCtx, p.genkit, ai.WithModel(p.model), ai.WithPrompt(prompt))
	if err != nil {
		return nil, apperr.New(apperr.KindBackendUnavailable, "feedback.Parse", "LLM call failed", err)
	}

	text := resp.Text()
	if start, end := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}'); start >= 0 && end > start {
		text = text[start : end+1]
	}

	var raw rawOperations
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		log.Warnf(ctx, "feedback: parse produced non-conformant output: %v", err)
		return nil, apperr.New(apperr.KindParseError, "feedback.Parse", "model output did not match the operations schema", err)
	}
	if len(raw.Operations) == 0 {
		return nil, apperr.New(apperr.KindParseError, "feedback.Parse", "no operations recognized in the request", nil)
	}
	if p.cfg.MaxOps > 0 && len(raw.Operations) > p.cfg.MaxOps {
		raw.Operations = raw.Operations[:p.cfg.MaxOps]
	}

	ops := make([]model.FeedbackOperation, 0, len(raw.Operations))
	for _, r := range raw.Operations {
		op, err := coerceOperation(r)
		if err != nil {
			return nil, apperr.New(apperr.KindParseError, "feedback.Parse", err.Error(), err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func coerceOperation(r rawOperation) (model.FeedbackOperation, error) {
	kind := model.FeedbackOp(strings.ToUpper(strings.TrimSpace(r.Op)))
	switch kind {
	case model.OpDrop, model.OpReplace, model.OpMove, model.OpInsert, model.OpSwap, model.OpReorder:
	default:
		return model.FeedbackOperation{}, fmt.Errorf("unrecognized operation %q", r.Op)
	}

	newTime := 0
	if r.NewTime != "" {
		var h, m int
		if _, err := fmt.Sscanf(r.NewTime, "%d:%d", &h, &m); err != nil || h < 0 || h > 24 || m < 0 || m > 59 {
			return model.FeedbackOperation{}, fmt.Errorf("malformed time %q", r.NewTime)
		}
		newTime = h*60 + m
	}

	return model.FeedbackOperation{
		Op:            kind,
		TargetPlaceID: strings.TrimSpace(r.TargetPlaceID),
		TargetOrdinal: r.TargetOrdinal,
		DayIndex:      r.DayIndex,
		NewDayIndex:   r.NewDayIndex,
		NewTimeMin:    newTime,
		SwapWithID:    strings.TrimSpace(r.SwapWith),
		InsertQuery:   strings.TrimSpace(r.Query),
		Hints:         r.Hints,
	}, nil
}

// itinerarySummary renders the current plan compactly so the model can
// resolve names and ordinals to place ids.
func itinerarySummary(it *model.Itinerary) string {
	if it == nil || len(it.Days) == 0 {
		return "(empty)"
	}
	var b strings.Builder
	for _, day := range it.Days {
		fmt.Fprintf(&b, "day %d (%s):\n", day.DayIndex, day.Date.Format("2006-01-02"))
		for i, v := range day.Visits {
			fmt.Fprintf(&b, "  %d. %s [id=%s] %s-%s\n", i+1, v.Name, v.PlaceID, minuteHHMM(v.ETAMin), minuteHHMM(v.ETDMin))
		}
	}
	return b.String()
}

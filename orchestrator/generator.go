package orchestrator

import (
	stdctx "context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/tripcraft/planner/apperr"
	"github.com/tripcraft/planner/model"
)

// Generator produces the user-facing message for a finished itinerary.
// The PRESENT node degrades to RenderItinerary when it fails.
type Generator interface {
	Present(ctx stdctx.Context, story *model.Story, it *model.Itinerary) (string, error)
}

type llmGenerator struct {
	genkit *genkit.Genkit
	model  ai.Model
}

// NewGenerator constructs a Generator backed by a genkit model reference.
func NewGenerator(gk *genkit.Genkit, model ai.Model) Generator {
	return &llmGenerator{genkit: gk, model: model}
}

const presentPrompt = `You are a friendly travel concierge. Present the following finished
itinerary to the traveler. Keep every place, day, and time exactly as
given — do not invent, drop, or reorder stops. Write a short intro line,
then the days, then one closing line inviting changes.

Trip: %s, %d day(s), %s pace.

%s`

func (g *llmGenerator) Present(ctx stdctx.Context, story *model.Story, it *model.Itinerary) (string, error) {
	prompt := fmt.Sprintf(presentPrompt, story.Destination, story.DayCount, story.Pace, RenderItinerary(story, it))
	resp, err := genkit.Generate(ctx, g.genkit, ai.WithModel(g.model), ai.WithPrompt(prompt))
	if err != nil {
		return "", apperr.New(apperr.KindBackendUnavailable, "orchestrator.Present", "generator call failed", err)
	}
	return resp.Text(), nil
}

// RenderItinerary is the deterministic plain-text rendering used as prompt
// input for the generator and as the reply when the generator is down.
func RenderItinerary(story *model.Story, it *model.Itinerary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your %d-day %s itinerary:\n", len(it.Days), story.Destination)
	for _, day := range it.Days {
		fmt.Fprintf(&b, "\nDay %d — %s\n", day.DayIndex+1, day.Date.Format("Mon, Jan 2"))
		if len(day.Visits) == 0 {
			b.WriteString("  (free day)\n")
			continue
		}
		for _, v := range day.Visits {
			fmt.Fprintf(&b, "  %s–%s  %s", hhmm(v.ETAMin), hhmm(v.ETDMin), v.Name)
			if v.TravelMinIn > 0 {
				fmt.Fprintf(&b, " (%d min travel)", v.TravelMinIn)
			}
			b.WriteByte('\n')
		}
	}
	if it.Truncated {
		b.WriteString("\nThis plan was cut short by time; say \"continue\" for the rest.\n")
	}
	return b.String()
}

func hhmm(min int) string {
	min = ((min % 1440) + 1440) % 1440
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}

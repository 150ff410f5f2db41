package extractor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTermsSynonymsAndDedup(t *testing.T) {
	got := normalizeTerms([]string{"Food", "eats", "Culture", "museums", "food"})
	assert.Equal(t, []string{"food", "culture"}, got)
}

func TestClassifyMustEntries(t *testing.T) {
	out := classifyMustEntries([]string{"id:TAIPEI_101", "Seafood", ""})
	require.Len(t, out, 2)
	assert.Equal(t, "TAIPEI_101", out[0].Value)
	assert.Equal(t, "seafood", out[1].Value)
}

func TestResolveRelativeDate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := resolveRelativeDate("new Date(now + 86400000)", now)
	require.NoError(t, err)
	assert.Equal(t, 2026, got.Year())
	assert.Equal(t, time.January, got.Month())
	assert.Equal(t, 2, got.Day())
}

func TestResolveRelativeDateISOString(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := resolveRelativeDate(`"2026-03-05"`, now)
	require.NoError(t, err)
	assert.Equal(t, 2026, got.Year())
	assert.Equal(t, time.March, got.Month())
	assert.Equal(t, 5, got.Day())
}

func TestExtractJSONObjectTrimsProse(t *testing.T) {
	text := "Sure thing!\n```json\n{\"a\":1}\n```\nHope that helps."
	assert.Equal(t, `{"a":1}`, extractJSONObject(text))
}

func TestCoerceDefaultsAndClamps(t *testing.T) {
	e := &llmExtractor{cfg: Config{MaxDayCount: 5, DefaultRadius: 6000}}
	raw := rawStory{
		Destination: "Taipei",
		StartDate:   "2026-11-01",
		DayCount:    20,
		Pace:        "MODERATE",
		Budget:      9,
	}
	story, err := e.coerce(raw)
	require.NoError(t, err)
	assert.Equal(t, 5, story.DayCount, "day count must clip to configured max")
	assert.Equal(t, 5, story.BudgetTier, "budget must clip to 5")
	assert.Equal(t, 9*60, story.Daily.StartMin)
	assert.Equal(t, 21*60, story.Daily.EndMin)
	assert.Equal(t, 6000.0, story.RadiusM)
}

func TestCoerceRejectsEmptyDestination(t *testing.T) {
	e := &llmExtractor{cfg: DefaultConfig()}
	_, err := e.coerce(rawStory{Destination: "", StartDate: "2026-11-01", DayCount: 1})
	assert.Error(t, err)
}

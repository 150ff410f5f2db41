package traveltime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tripcraft/planner/model"
)

func TestCacheKeyRoundsToFiveDecimals(t *testing.T) {
	a := model.Point{Lat: 25.033000001, Lon: 121.565000002}
	b := model.Point{Lat: 25.033000009, Lon: 121.565000009}
	assert.Equal(t, cacheKey(a, model.Point{}, ProfileDriving), cacheKey(b, model.Point{}, ProfileDriving),
		"points within 1m after 5-decimal rounding must collide on the same cache key")
}

func TestPeakScaleAppliesOnlyInWindow(t *testing.T) {
	o := &oracle{
		cfg: Config{PeakMultiplier: 1.2, PeakHours: [][2]int{{7 * 60, 9 * 60}}},
		now: func() time.Time { return time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC) },
	}
	assert.Equal(t, 1.2, o.peakScale())

	o.now = func() time.Time { return time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC) }
	assert.Equal(t, 1.0, o.peakScale())
}

func TestFallbackEstimateFlagsResult(t *testing.T) {
	o := &oracle{cfg: DefaultConfig()}
	a := model.Point{Lat: 25.0330, Lon: 121.5654}
	b := model.Point{Lat: 25.0478, Lon: 121.5319}
	r := o.fallbackEstimate(a, b)
	assert.True(t, r.EstimateFlagged)
	assert.Greater(t, r.Seconds, 0)
}

func TestHaversineZeroForSamePoint(t *testing.T) {
	p := model.Point{Lat: 25.0, Lon: 121.0}
	assert.Equal(t, 0.0, haversineM(p, p))
}

package planner

import (
	"context"

	"github.com/tripcraft/planner/model"
	"github.com/tripcraft/planner/traveltime"
)

// matrix is the planner's private travel-time lookup: minutes between any
// two known points, already inflated for flagged (fallback-estimate)
// entries, which are lower bounds and get inflated by 1.3x.
type matrix struct {
	idxByID map[string]int
	points  []model.Point
	minutes [][]int
	flagged [][]bool
}

const flaggedInflation = 1.3

// resultMinutes converts one oracle result to ceiled minutes, inflating
// flagged fallback estimates.
func resultMinutes(r traveltime.Result) (int, bool) {
	sec := r.Seconds
	if r.EstimateFlagged {
		sec = int(float64(sec) * flaggedInflation)
	}
	return (sec + 59) / 60, r.EstimateFlagged
}

func buildMatrix(ctx context.Context, story *model.Story, candidates []model.Candidate, oracle traveltime.Oracle, profile traveltime.Profile) (*matrix, error) {
	points := make([]model.Point, 0, len(candidates)+1)
	ids := make([]string, 0, len(candidates)+1)
	points = append(points, story.Anchor)
	ids = append(ids, originID)
	for _, c := range candidates {
		points = append(points, c.Place.Point)
		ids = append(ids, c.PlaceID)
	}

	table, err := oracle.Table(ctx, points, profile)
	if err != nil && table == nil {
		return nil, err
	}

	n := len(points)
	minutes := make([][]int, n)
	flagged := make([][]bool, n)
	idxByID := make(map[string]int, n)
	for i := range minutes {
		minutes[i] = make([]int, n)
		flagged[i] = make([]bool, n)
		idxByID[ids[i]] = i
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			minutes[i][j], flagged[i][j] = resultMinutes(table[i][j])
		}
	}

	return &matrix{idxByID: idxByID, points: points, minutes: minutes, flagged: flagged}, nil
}

// addPoint grows the matrix by one place, filling the new row and column
// with single-pair lookups. Used when the repair ladder pulls in
// candidates retrieved after the batch table was built; the oracle's cache
// keeps the per-pair cost down.
func (m *matrix) addPoint(ctx context.Context, oracle traveltime.Oracle, profile traveltime.Profile, id string, pt model.Point) {
	if _, ok := m.idxByID[id]; ok {
		return
	}
	n := len(m.points)
	newRow := make([]int, n+1)
	newFlags := make([]bool, n+1)
	for i := 0; i < n; i++ {
		out, _ := oracle.Duration(ctx, m.points[i], pt, profile)
		m.minutes[i] = append(m.minutes[i], 0)
		m.flagged[i] = append(m.flagged[i], false)
		m.minutes[i][n], m.flagged[i][n] = resultMinutes(out)

		back, _ := oracle.Duration(ctx, pt, m.points[i], profile)
		newRow[i], newFlags[i] = resultMinutes(back)
	}
	m.minutes = append(m.minutes, newRow)
	m.flagged = append(m.flagged, newFlags)
	m.points = append(m.points, pt)
	m.idxByID[id] = n
}

// travelMinutes returns the travel time in minutes from fromID to toID, and
// whether that figure rests on a flagged fallback estimate. Unknown ids
// (never indexed) return 0, false; callers only ever pass ids that came
// from the same candidate set the matrix was built over.
func (m *matrix) travelMinutes(fromID, toID string) (int, bool) {
	if fromID == toID {
		return 0, false
	}
	i, ok1 := m.idxByID[fromID]
	j, ok2 := m.idxByID[toID]
	if !ok1 || !ok2 {
		return 0, false
	}
	return m.minutes[i][j], m.flagged[i][j]
}

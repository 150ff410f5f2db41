package retrieval

import (
	"math"
	"strings"

	"github.com/tripcraft/planner/model"
)

// storyProjection builds the text the semantic branch embeds: destination
// + interests + a pace descriptor.
func storyProjection(story *model.Story) string {
	var b strings.Builder
	b.WriteString(story.Destination)
	if len(story.Interests) > 0 {
		b.WriteString(" interests: ")
		b.WriteString(strings.Join(story.Interests, ", "))
	}
	b.WriteString(" pace: ")
	b.WriteString(paceDescriptor(story.Pace))
	return b.String()
}

func paceDescriptor(pace model.Pace) string {
	switch pace {
	case model.PaceRelaxed:
		return "relaxed, few unhurried stops, prefers lingering"
	case model.PaceIntensive:
		return "intensive, packed schedule, many compact stops"
	default:
		return "moderate, a balanced number of stops"
	}
}

func haversineM(a, b model.Point) float64 {
	const earthRadiusM = 6371000.0
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

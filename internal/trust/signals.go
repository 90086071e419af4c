package trust

import (
	"math"
	"time"
)

const (
	recencyHalfLife   = 30 * 24 * time.Hour
	proximityRadiusKm = 25.0
)

// ContextSignals describe how well a piece of content fits the viewer's
// current situation. Every field is optional.
type ContextSignals struct {
	PublishedAt *time.Time `json:"published_at,omitempty"`
	TopicalFit  *float64   `json:"topical_fit,omitempty"`
	DistanceKm  *float64   `json:"distance_km,omitempty"`
}

// contextualMatch averages whichever signals are present. No signals
// yields 0.
func contextualMatch(s ContextSignals, now time.Time) float64 {
	var sum float64
	var n int

	if s.PublishedAt != nil {
		age := now.Sub(*s.PublishedAt)
		if age < 0 {
			age = 0
		}
		sum += math.Pow(0.5, float64(age)/float64(recencyHalfLife))
		n++
	}
	if s.TopicalFit != nil {
		sum += clamp(*s.TopicalFit, 0, 1)
		n++
	}
	if s.DistanceKm != nil {
		d := math.Max(*s.DistanceKm, 0)
		sum += math.Max(0, 1-d/proximityRadiusKm)
		n++
	}

	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}

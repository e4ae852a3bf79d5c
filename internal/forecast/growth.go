package forecast

import (
	"github.com/sells-group/siting-cli/internal/geo"
	"github.com/sells-group/siting-cli/internal/model"
)

// GrowthSignal supplies an optional growth rate for a candidate location.
// ok is false when no signal exists, which disables the growth term.
type GrowthSignal interface {
	Growth(segment model.SegmentKey, at model.LatLng) (rate float64, ok bool)
}

// NoGrowth never reports a signal.
type NoGrowth struct{}

// Growth implements GrowthSignal.
func (NoGrowth) Growth(model.SegmentKey, model.LatLng) (float64, bool) { return 0, false }

// ForecastGrowth derives growth from the forecasts of entities in the same
// segment within RadiusMeters of a candidate.
type ForecastGrowth struct {
	RadiusMeters float64
	entities     []model.Entity
	forecasts    map[string]EntityForecast
}

// NewForecastGrowth indexes entity forecasts by entity ID.
func NewForecastGrowth(radiusMeters float64, entities []model.Entity, forecasts []EntityForecast) *ForecastGrowth {
	byID := make(map[string]EntityForecast, len(forecasts))
	for _, f := range forecasts {
		byID[f.EntityID] = f
	}
	return &ForecastGrowth{RadiusMeters: radiusMeters, entities: entities, forecasts: byID}
}

// Growth sums the prediction series of nearby entities and returns
// (last - first) / max(1, first).
func (g *ForecastGrowth) Growth(segment model.SegmentKey, at model.LatLng) (float64, bool) {
	var sum []float64
	for _, e := range g.entities {
		if e.Segment != segment {
			continue
		}
		f, ok := g.forecasts[e.ID]
		if !ok || f.Model.Method == MethodNone || len(f.Predictions) == 0 {
			continue
		}
		if geo.Haversine(at.Lat, at.Lng, e.Location.Lat, e.Location.Lng) > g.RadiusMeters {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(f.Predictions))
		}
		for i := 0; i < len(sum) && i < len(f.Predictions); i++ {
			sum[i] += f.Predictions[i]
		}
	}
	if len(sum) == 0 {
		return 0, false
	}
	first, last := sum[0], sum[len(sum)-1]
	return (last - first) / max(1, first), true
}

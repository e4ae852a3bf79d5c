package forecast

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/siting-cli/internal/model"
)

func TestNoGrowth(t *testing.T) {
	_, ok := NoGrowth{}.Growth(seg, model.LatLng{})
	assert.False(t, ok)
}

func TestForecastGrowth(t *testing.T) {
	center := model.LatLng{Lat: 10.70, Lng: 122.55}
	entities := []model.Entity{
		{ID: "near", Location: model.LatLng{Lat: 10.701, Lng: 122.55}, Segment: seg},
		{ID: "far", Location: model.LatLng{Lat: 10.90, Lng: 122.55}, Segment: seg},
		{ID: "other", Location: center, Segment: model.NewSegmentKey("Mineral", "DistrictA")},
	}
	opts := Options{HorizonPeriods: 3, MinRegressionPeriods: 3}
	forecasts := []EntityForecast{
		Forecast(series("near", jan, 10, 20, 30), opts),      // 40, 50, 60
		Forecast(series("far", jan, 1000, 2000, 3000), opts), // outside radius
		Forecast(series("other", jan, 5, 5, 5), opts),        // other segment
	}
	g := NewForecastGrowth(1000, entities, forecasts)

	rate, ok := g.Growth(seg, center)
	assert.True(t, ok)
	assert.InDelta(t, (60.0-40.0)/40.0, rate, 1e-9)

	_, ok = g.Growth(seg, model.LatLng{Lat: 0, Lng: 0})
	assert.False(t, ok)
}

func TestForecastGrowth_SmallFirstValue(t *testing.T) {
	entities := []model.Entity{{ID: "e", Location: model.LatLng{Lat: 1, Lng: 1}, Segment: seg}}
	f := EntityForecast{EntityID: "e", Model: Model{Method: MethodLinear}, Predictions: []float64{0.5, 3.5}}
	g := NewForecastGrowth(100, entities, []EntityForecast{f})

	rate, ok := g.Growth(seg, model.LatLng{Lat: 1, Lng: 1})
	assert.True(t, ok)
	assert.InDelta(t, 3.0, rate, 1e-9)
}

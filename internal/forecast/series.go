package forecast

import (
	"sort"
	"time"

	"github.com/sells-group/siting-cli/internal/aggregate"
	"github.com/sells-group/siting-cli/internal/model"
)

// BuildTrendSeries lays out monthly demand for a set of entities, from their
// earliest observed month through horizon months past now. Months before now
// carry actuals, the month of now carries the hybrid estimate, and later months
// carry forecasts. series must be the full observed series; forecasts are
// matched to them by entity ID.
func BuildTrendSeries(series []model.PeriodSeries, forecasts []EntityForecast, now time.Time, horizon int) []model.TrendPoint {
	current := aggregate.MonthStart(now, now.Location())

	actuals := make(map[time.Time]float64)
	var first time.Time
	for _, s := range series {
		if s.FirstPeriod.IsZero() {
			continue
		}
		for _, v := range s.Values {
			m := s.FirstPeriod.AddDate(0, v.Index, 0)
			m = aggregate.MonthStart(m, now.Location())
			actuals[m] += v.Value
			if first.IsZero() || m.Before(first) {
				first = m
			}
		}
	}
	if first.IsZero() || first.After(current) {
		first = current
	}

	forecastAt := func(m time.Time) float64 {
		var sum float64
		for _, f := range forecasts {
			sum += f.At(m)
		}
		return sum
	}

	var out []model.TrendPoint
	for m := first; m.Before(current); m = m.AddDate(0, 1, 0) {
		a := actuals[m]
		out = append(out, model.TrendPoint{Period: m.Format(aggregate.PeriodLayout), Kind: model.PeriodPast, Actual: a, Value: a})
	}

	full := forecastAt(current)
	a := actuals[current]
	out = append(out, model.TrendPoint{
		Period:   current.Format(aggregate.PeriodLayout),
		Kind:     model.PeriodCurrent,
		Actual:   a,
		Forecast: full,
		Value:    CurrentPeriodHybrid(a, full, now),
	})

	for h := 1; h <= horizon; h++ {
		m := current.AddDate(0, h, 0)
		f := forecastAt(m)
		out = append(out, model.TrendPoint{Period: m.Format(aggregate.PeriodLayout), Kind: model.PeriodFuture, Forecast: f, Value: f})
	}
	return out
}

// MergeTrendSeries sums several trend series month by month. Kinds agree
// across inputs built against the same now.
func MergeTrendSeries(all ...[]model.TrendPoint) []model.TrendPoint {
	byPeriod := make(map[string]*model.TrendPoint)
	for _, series := range all {
		for _, p := range series {
			acc, ok := byPeriod[p.Period]
			if !ok {
				cp := model.TrendPoint{Period: p.Period, Kind: p.Kind}
				acc = &cp
				byPeriod[p.Period] = acc
			}
			acc.Actual += p.Actual
			acc.Forecast += p.Forecast
			acc.Value += p.Value
		}
	}
	out := make([]model.TrendPoint, 0, len(byPeriod))
	for _, p := range byPeriod {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}

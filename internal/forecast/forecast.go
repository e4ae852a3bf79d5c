// Package forecast extrapolates per-entity demand series with a linear trend
// and classifies projected demand against history.
package forecast

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/siting-cli/internal/aggregate"
	"github.com/sells-group/siting-cli/internal/model"
)

// TrendPeriods is the horizon used for trend classification.
const TrendPeriods = 12

// Method names how a Model was fitted.
type Method string

const (
	MethodNone   Method = "none"
	MethodMean   Method = "mean"
	MethodLinear Method = "linear"
)

// Options configures forecasting.
type Options struct {
	HorizonPeriods int
	// MinRegressionPeriods is the number of distinct periods required before
	// a linear trend is fitted. Shorter series use their mean.
	MinRegressionPeriods int
}

// DefaultOptions returns a 12 period horizon with regression from 3 periods.
func DefaultOptions() Options {
	return Options{HorizonPeriods: 12, MinRegressionPeriods: 3}
}

// Model is a fitted demand curve over period indices.
type Model struct {
	Method    Method  `json:"method"`
	Intercept float64 `json:"intercept"`
	Slope     float64 `json:"slope"`
}

// Fit fits values by ordinary least squares when at least minRegression
// distinct periods exist and by their mean otherwise. Values sharing an index
// are summed first.
func Fit(values []model.PeriodValue, minRegression int) Model {
	xs, ys := collapse(values)
	switch {
	case len(xs) == 0:
		return Model{Method: MethodNone}
	case len(xs) < minRegression || len(xs) < 2:
		return Model{Method: MethodMean, Intercept: stat.Mean(ys, nil)}
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	return Model{Method: MethodLinear, Intercept: alpha, Slope: beta}
}

// Predict returns the demand at period index idx, clamped at zero.
func (m Model) Predict(idx int) float64 {
	if m.Method == MethodNone {
		return 0
	}
	return max(0, m.Intercept+m.Slope*float64(idx))
}

func collapse(values []model.PeriodValue) ([]float64, []float64) {
	byIdx := make(map[int]float64, len(values))
	for _, v := range values {
		byIdx[v.Index] += v.Value
	}
	idx := make([]int, 0, len(byIdx))
	for i := range byIdx {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	xs := make([]float64, len(idx))
	ys := make([]float64, len(idx))
	for i, k := range idx {
		xs[i] = float64(k)
		ys[i] = byIdx[k]
	}
	return xs, ys
}

// EntityForecast is the projection for one entity. An entity with no
// observations yields zero values, MethodNone and TrendUnknown.
type EntityForecast struct {
	EntityID     string           `json:"entity_id"`
	Segment      model.SegmentKey `json:"segment"`
	FirstPeriod  time.Time        `json:"first_period"`
	LastIndex    int              `json:"last_index"`
	Model        Model            `json:"model"`
	TotalHistory float64          `json:"total_history"`
	NextPeriod   float64          `json:"next_period"`
	Horizon      float64          `json:"horizon"`
	Horizon12    float64          `json:"horizon_12"`
	Predictions  []float64        `json:"predictions"`
	Trend        model.Trend      `json:"trend"`
}

// At returns the forecast for the calendar month starting at month.
func (f EntityForecast) At(month time.Time) float64 {
	if f.FirstPeriod.IsZero() {
		return 0
	}
	return f.Model.Predict(aggregate.MonthsBetween(f.FirstPeriod, month))
}

// Forecast projects a series HorizonPeriods past its last observed index.
func Forecast(s model.PeriodSeries, opts Options) EntityForecast {
	f := EntityForecast{
		EntityID:    s.EntityID,
		Segment:     s.Segment,
		FirstPeriod: s.FirstPeriod,
		Model:       Fit(s.Values, opts.MinRegressionPeriods),
		Predictions: make([]float64, max(0, opts.HorizonPeriods)),
	}
	for _, v := range s.Values {
		f.TotalHistory += v.Value
		f.LastIndex = max(f.LastIndex, v.Index)
	}
	if f.Model.Method == MethodNone {
		f.Trend = model.TrendUnknown
		return f
	}

	for h := range f.Predictions {
		p := f.Model.Predict(f.LastIndex + 1 + h)
		f.Predictions[h] = p
		f.Horizon += p
	}
	f.NextPeriod = f.Model.Predict(f.LastIndex + 1)
	for h := 1; h <= TrendPeriods; h++ {
		f.Horizon12 += f.Model.Predict(f.LastIndex + h)
	}
	f.Trend = Classify(f.TotalHistory, f.Horizon12)
	return f
}

// Classify labels projected demand against history. Ratios of exactly 1.2 and
// 0.8 fall in the Increasing and Decreasing bands.
func Classify(totalHistory, horizon12 float64) model.Trend {
	if totalHistory <= 0 {
		return model.TrendUnknown
	}
	ratio := horizon12 / totalHistory
	switch {
	case ratio >= 1.2:
		return model.TrendIncreasing
	case ratio <= 0.8:
		return model.TrendDecreasing
	default:
		return model.TrendStable
	}
}

// Totals sums entity forecasts into a segment or overall view.
type Totals struct {
	TotalHistory float64     `json:"total_history"`
	NextPeriod   float64     `json:"next_period"`
	Horizon      float64     `json:"horizon"`
	Horizon12    float64     `json:"horizon_12"`
	Trend        model.Trend `json:"trend"`
	Entities     int         `json:"entities"`
}

// Combine sums forecasts and classifies the combined trend.
func Combine(fs []EntityForecast) Totals {
	var t Totals
	for _, f := range fs {
		t.TotalHistory += f.TotalHistory
		t.NextPeriod += f.NextPeriod
		t.Horizon += f.Horizon
		t.Horizon12 += f.Horizon12
		t.Entities++
	}
	t.Trend = Classify(t.TotalHistory, t.Horizon12)
	return t
}

// SplitAt separates observations before the month of cutoff from the in-progress
// month. It returns the completed-period series and the actual demand of the
// month containing cutoff. Observations after that month are discarded.
func SplitAt(s model.PeriodSeries, cutoff time.Time) (model.PeriodSeries, float64) {
	if s.FirstPeriod.IsZero() {
		return s, 0
	}
	current := aggregate.MonthsBetween(s.FirstPeriod, cutoff)
	out := model.PeriodSeries{EntityID: s.EntityID, Segment: s.Segment, FirstPeriod: s.FirstPeriod}
	var actual float64
	for _, v := range s.Values {
		switch {
		case v.Index < current:
			out.Values = append(out.Values, v)
		case v.Index == current:
			actual += v.Value
		}
	}
	return out, actual
}

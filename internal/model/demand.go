package model

import "time"

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// RawEvent is a demand record after field mapping but before coercion. Values
// keep whatever type the source document stored; the aggregator validates them.
type RawEvent struct {
	ID         string
	Timestamp  any
	Status     string
	EntityIDs  []string
	CustomerID string
	Category   string
	Region     string
	Lat        any
	Lng        any
	Volume     any
	Revenue    any
}

// DemandEvent is a validated, geotagged transaction.
type DemandEvent struct {
	ID         string     `json:"id"`
	EntityIDs  []string   `json:"entity_ids,omitempty"`
	CustomerID string     `json:"customer_id,omitempty"`
	Segment    SegmentKey `json:"segment"`
	Timestamp  time.Time  `json:"timestamp"`
	Location   LatLng     `json:"location"`
	Volume     float64    `json:"volume"`
	Revenue    float64    `json:"revenue"`
}

// Entity is an existing facility.
type Entity struct {
	ID       string            `json:"id" yaml:"id"`
	Location LatLng            `json:"location" yaml:"location"`
	Segment  SegmentKey        `json:"segment" yaml:"segment"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata"`
}

// DemandPoint is one location's demand summed across every observed period.
type DemandPoint struct {
	Location       LatLng   `json:"location"`
	Orders         int      `json:"orders"`
	Volume         float64  `json:"volume"`
	Sales          float64  `json:"sales"`
	Periods        []string `json:"periods"`
	MonthsObserved int      `json:"months_observed"`
	Weight         float64  `json:"weight"`
}

// PeriodValue is one observation of a PeriodSeries.
type PeriodValue struct {
	Index int     `json:"index"`
	Value float64 `json:"value"`
}

// PeriodSeries is an entity's demand per month. Index 0 is the entity's first
// observed month (FirstPeriod).
type PeriodSeries struct {
	EntityID    string        `json:"entity_id"`
	Segment     SegmentKey    `json:"segment"`
	FirstPeriod time.Time     `json:"first_period"`
	Values      []PeriodValue `json:"values"`
}

// Total returns the summed demand of the series.
func (s PeriodSeries) Total() float64 {
	var t float64
	for _, v := range s.Values {
		t += v.Value
	}
	return t
}

// Cluster is a weighted group of demand points within one segment.
type Cluster struct {
	Segment        SegmentKey    `json:"segment"`
	Members        []DemandPoint `json:"-"`
	Centroid       LatLng        `json:"centroid"`
	Orders         int           `json:"orders"`
	Sales          float64       `json:"sales"`
	Weight         float64       `json:"weight"`
	MonthsObserved int           `json:"months_observed"`
}
